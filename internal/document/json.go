package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Reserved single-key wrappers used to keep time and binary values distinct
// from strings inside snapshot files.
const (
	dateKey   = "$date"
	binaryKey = "$binary"
)

// MarshalJSON encodes the value. Ints and floats stay distinguishable: a float
// with an integral value is written with a trailing ".0".
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("cannot encode %v as JSON", v.f)
		}
		b, err := json.Marshal(v.f)
		if err != nil {
			return nil, err
		}
		if !bytes.ContainsAny(b, ".eE") {
			b = append(b, '.', '0')
		}
		return b, nil
	case KindString:
		return json.Marshal(v.s)
	case KindTime:
		return json.Marshal(map[string]string{dateKey: v.t.Format(time.RFC3339Nano)})
	case KindBytes:
		return json.Marshal(map[string]string{binaryKey: base64.StdEncoding.EncodeToString(v.raw)})
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]Value(v.m))
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes a value written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromJSON(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// UnmarshalJSON decodes an object node.
func (m *Map) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	switch v.kind {
	case KindNull:
		*m = nil
	case KindMap:
		*m = v.m
	default:
		return fmt.Errorf("expected object, got %s", v.kind)
	}
	return nil
}

func fromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case json.Number:
		s := t.String()
		if bytes.ContainsAny([]byte(s), ".eE") {
			f, err := t.Float64()
			if err != nil {
				return Value{}, err
			}
			return Float(f), nil
		}
		return fromNumber(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := fromJSON(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		if special, ok := decodeSpecial(t); ok {
			return special, nil
		}
		m := make(Map, len(t))
		for k, item := range t {
			v, err := fromJSON(item)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = v
		}
		return Object(m), nil
	default:
		return FromAny(t)
	}
}

func decodeSpecial(m map[string]any) (Value, bool) {
	if len(m) != 1 {
		return Value{}, false
	}
	if s, ok := m[dateKey].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err == nil {
			return Time(t), true
		}
	}
	if s, ok := m[binaryKey].(string); ok {
		b, err := base64.StdEncoding.DecodeString(s)
		if err == nil {
			return Bytes(b), true
		}
	}
	return Value{}, false
}
