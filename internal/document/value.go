// Package document models schemaless documents as a recursive tagged value,
// so code that rewrites documents can switch on the kind of every node
// instead of type-asserting arbitrary interfaces.
package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindBytes
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable document node. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	raw  []byte
	list []Value
	m    Map
}

// Map is an object node: field name to value.
type Map map[string]Value

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: append([]byte(nil), b...)} }
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}
func Object(m Map) Value {
	if m == nil {
		m = Map{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) IntValue() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) FloatValue() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) StringValue() (string, bool) { return v.s, v.kind == KindString }
func (v Value) TimeValue() (time.Time, bool) { return v.t, v.kind == KindTime }
func (v Value) BytesValue() ([]byte, bool) { return v.raw, v.kind == KindBytes }
func (v Value) Items() []Value { return v.list }
func (v Value) Fields() Map { return v.m }

// Number returns the value as float64 for int and float kinds.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Text renders scalars as text; used when a rule must treat any scalar as a
// string (a phone number stored as an int, for example).
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.raw)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Equal reports deep equality. Int and float values are never equal to each
// other, so a round trip that changes a number's kind is detected.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		return Bytes(v.raw)
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		return Object(v.m.Clone())
	default:
		return v
	}
}

// Equal reports deep equality of two maps.
func (m Map) Equal(o Map) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Keys returns the field names in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup resolves a dotted path such as "address.city".
func (m Map) Lookup(path []string) (Value, bool) {
	if len(path) == 0 {
		return Value{}, false
	}
	v, ok := m[path[0]]
	if !ok {
		return Value{}, false
	}
	if len(path) == 1 {
		return v, true
	}
	if v.kind != KindMap {
		return Value{}, false
	}
	return v.m.Lookup(path[1:])
}

// FromAny converts plain Go values (as produced by encoding/json, database
// drivers, or literals in tests) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Float(float64(t)), nil
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		return fromNumber(t)
	case string:
		return String(t), nil
	case time.Time:
		return Time(t), nil
	case []byte:
		return Bytes(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		m, err := MapFromAny(t)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	case Map:
		return Object(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// MapFromAny converts a plain map into a Map.
func MapFromAny(src map[string]any) (Map, error) {
	out := make(Map, len(src))
	for k, item := range src {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// MustMap is MapFromAny for literals in tests and fixtures.
func MustMap(src map[string]any) Map {
	m, err := MapFromAny(src)
	if err != nil {
		panic(err)
	}
	return m
}

// Any converts back to plain Go values.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindBytes:
		return append([]byte(nil), v.raw...)
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		return v.m.Any()
	default:
		return nil
	}
}

// Any converts the map back to plain Go values.
func (m Map) Any() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

func fromNumber(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return Int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", n.String(), err)
	}
	return Float(f), nil
}
