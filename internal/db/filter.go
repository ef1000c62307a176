package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rowjay/docmigrate/internal/document"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq            Op = "=="
	OpNe            Op = "!="
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
	OpIn            Op = "in"
	OpNotIn         Op = "not-in"
	OpArrayContains Op = "array-contains"
)

func validOp(op Op) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpNotIn, OpArrayContains:
		return true
	}
	return false
}

// Filter is a single field/operator/value predicate. Field may be a dotted
// path into nested maps.
type Filter struct {
	Field string
	Op    Op
	Value document.Value
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %s", f.Field, f.Op, f.Value.Text())
}

// ParseFilter parses "field operator value". Values are read as null, bool,
// int, float, a quoted string, or a bare string; in and not-in take a comma
// separated list, optionally wrapped in brackets.
func ParseFilter(expr string) (*Filter, error) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) < 3 {
		return nil, fmt.Errorf("query %q: expected \"field operator value\"", expr)
	}
	op := Op(parts[1])
	if !validOp(op) {
		return nil, fmt.Errorf("query %q: unsupported operator %s", expr, parts[1])
	}
	raw := strings.TrimSpace(expr)
	raw = strings.TrimSpace(raw[len(parts[0]):])
	raw = strings.TrimSpace(raw[len(parts[1]):])
	f := &Filter{Field: parts[0], Op: op}
	if op == OpIn || op == OpNotIn {
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		var items []document.Value
		for _, item := range strings.Split(raw, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			items = append(items, parseLiteral(item))
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("query %q: %s needs at least one value", expr, op)
		}
		f.Value = document.List(items...)
		return f, nil
	}
	f.Value = parseLiteral(raw)
	return f, nil
}

func parseLiteral(s string) document.Value {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return document.String(s[1 : len(s)-1])
	}
	switch s {
	case "null":
		return document.Null()
	case "true":
		return document.Bool(true)
	case "false":
		return document.Bool(false)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return document.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return document.Float(f)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return document.Time(t)
	}
	return document.String(s)
}

// Match evaluates the filter against a document. A missing field never
// matches.
func (f *Filter) Match(doc document.Document) bool {
	if f == nil {
		return true
	}
	v, ok := doc.Data.Lookup(strings.Split(f.Field, "."))
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return equalValues(v, f.Value)
	case OpNe:
		return !equalValues(v, f.Value)
	case OpLt, OpLte, OpGt, OpGte:
		c, ok := compareValues(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		return containsValue(f.Value.Items(), v)
	case OpNotIn:
		return !containsValue(f.Value.Items(), v)
	case OpArrayContains:
		return v.Kind() == document.KindList && containsValue(v.Items(), f.Value)
	}
	return false
}

func containsValue(items []document.Value, v document.Value) bool {
	for _, item := range items {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

// equalValues treats ints and floats as one numeric domain.
func equalValues(a, b document.Value) bool {
	if an, ok := a.Number(); ok {
		if bn, ok := b.Number(); ok {
			return an == bn
		}
	}
	return a.Equal(b)
}

func compareValues(a, b document.Value) (int, bool) {
	if an, ok := a.Number(); ok {
		bn, ok := b.Number()
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.StringValue(); ok {
		bs, ok := b.StringValue()
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if at, ok := a.TimeValue(); ok {
		bt, ok := b.TimeValue()
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	return 0, false
}
