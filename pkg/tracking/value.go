package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	default:
		return "invalid"
	}
}

// Value is a property value: either text or a number. The zero Value is
// invalid and refuses to encode.
type Value struct {
	kind Kind
	s    string
	n    float64
}

// String returns a text Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }

// Int returns a numeric Value holding i.
func Int(i int64) Value { return Value{kind: KindNumber, n: float64(i)} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsValid() bool  { return v.kind != KindInvalid }
func (v Value) Text() string   { return v.s }
func (v Value) Float() float64 { return v.n }

// Any returns the held value as a string or float64, nil when invalid.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes v as a JSON string or JSON number.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, v.n)
		}
		return json.Marshal(v.n)
	default:
		return nil, fmt.Errorf("%w: zero value", ErrUnsupportedValue)
	}
}

// UnmarshalJSON accepts a JSON string or number and nothing else.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrUnsupportedValue)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*v = Number(f)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, data)
	}
}

// Properties is the flat key/value bag attached to an event.
type Properties map[string]Value

// Set stores v under key and returns p. Last write wins.
func (p Properties) Set(key string, v Value) Properties {
	p[key] = v
	return p
}

// PropertiesFrom converts a loosely typed map. Strings, integers, floats and
// json.Number are accepted; any other value type fails with
// ErrUnsupportedValue. A nil map yields nil Properties.
func PropertiesFrom(m map[string]any) (Properties, error) {
	if m == nil {
		return nil, nil
	}
	props := make(Properties, len(m))
	for k, raw := range m {
		v, err := valueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = v
	}
	return props, nil
}

func valueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case Value:
		if !x.IsValid() {
			return Value{}, fmt.Errorf("%w: zero value", ErrUnsupportedValue)
		}
		return x, nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, x)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}
