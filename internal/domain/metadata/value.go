package metadata

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ValueKind represents the type of a property value
type ValueKind string

const (
	KindInt    ValueKind = "INT"
	KindDouble ValueKind = "DOUBLE"
	KindString ValueKind = "STRING"
	KindBool   ValueKind = "BOOL"
	KindStruct ValueKind = "STRUCT"
)

// Value is a typed property value stored on executions, artifacts and contexts
type Value struct {
	Kind        ValueKind   `json:"kind"`
	IntValue    int64       `json:"intValue,omitempty"`
	DoubleValue float64     `json:"doubleValue,omitempty"`
	StringValue string      `json:"stringValue,omitempty"`
	BoolValue   bool        `json:"boolValue,omitempty"`
	StructValue interface{} `json:"structValue,omitempty"`
}

// Properties maps property names to typed values
type Properties map[string]Value

func IntValue(v int64) Value { return Value{Kind: KindInt, IntValue: v} }
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, DoubleValue: v} }
func StringValue(v string) Value { return Value{Kind: KindString, StringValue: v} }
func BoolValue(v bool) Value { return Value{Kind: KindBool, BoolValue: v} }
func StructValue(v interface{}) Value { return Value{Kind: KindStruct, StructValue: v} }

// NewValue converts a plain Go value into a typed Value.
// Maps and slices become STRUCT values; they must be JSON encodable.
func NewValue(v interface{}) (Value, error) {
	switch val := v.(type) {
	case Value:
		return val, nil
	case int:
		return IntValue(int64(val)), nil
	case int32:
		return IntValue(int64(val)), nil
	case int64:
		return IntValue(val), nil
	case uint32:
		return IntValue(int64(val)), nil
	case float32:
		return DoubleValue(float64(val)), nil
	case float64:
		return DoubleValue(val), nil
	case string:
		return StringValue(val), nil
	case bool:
		return BoolValue(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return DoubleValue(f), nil
	case nil:
		return Value{}, fmt.Errorf("nil property value")
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		if _, err := json.Marshal(v); err != nil {
			return Value{}, fmt.Errorf("property value is not JSON encodable: %w", err)
		}
		return StructValue(v), nil
	}

	return Value{}, fmt.Errorf("unsupported property value type %T", v)
}

// Interface returns the value as a plain Go value
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindInt:
		return v.IntValue
	case KindDouble:
		return v.DoubleValue
	case KindString:
		return v.StringValue
	case KindBool:
		return v.BoolValue
	case KindStruct:
		return v.StructValue
	}
	return nil
}

// Clone returns a copy of the properties map. A nil map stays nil.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
