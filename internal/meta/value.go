// Package meta defines the typed value model and entity metadata used by the
// persistence engine. Mapped scalar values are represented as a small sealed
// set of Value types so that snapshots, change sets, and trace output compare
// and serialize deterministically. Entity shape is described by descriptors
// whose property access goes through registered closures rather than runtime
// reflection.
package meta

import (
	"bytes"
	"fmt"
	"time"
)

// Value is the interface implemented by all mapped scalar value types.
// The set is closed: Null, String, Int, Float, Bool, Time, and Bytes.
type Value interface {
	metaValue()
}

// Null represents an explicit null column value.
type Null struct{}

func (Null) metaValue() {}

// String is a text value.
type String string

func (String) metaValue() {}

// Int is a 64-bit integer value.
type Int int64

func (Int) metaValue() {}

// Float is a 64-bit floating point value.
type Float float64

func (Float) metaValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) metaValue() {}

// Time is an instant value. Comparisons use time.Time.Equal, so values that
// denote the same instant compare equal regardless of location.
type Time time.Time

func (Time) metaValue() {}

// Bytes is an opaque binary value.
type Bytes []byte

func (Bytes) metaValue() {}

// NewTime builds a Time value from a time.Time.
func NewTime(t time.Time) Time {
	return Time(t)
}

// NewBytes builds a Bytes value from a copy of b.
func NewBytes(b []byte) Bytes {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Bytes(cp)
}

// IsNull reports whether v is nil or the explicit Null value.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports whether two values are equal. Values of different concrete
// types are never equal; nil is treated as Null.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Time:
		bv, ok := b.(Time)
		return ok && time.Time(av).Equal(time.Time(bv))
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	default:
		return false
	}
}

// FromAny converts a plain Go value (as produced by YAML or CUE decoding)
// into a Value. Integers of any width become Int, float32/float64 become
// Float, and nil becomes Null. Values pass through unchanged.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("uint64 value %d overflows Int", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time(val), nil
	case []byte:
		return Bytes(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// AsString extracts the underlying string, failing on any other type.
func AsString(v Value) (string, error) {
	s, ok := v.(String)
	if !ok {
		return "", fmt.Errorf("value is %s, not string", TypeName(v))
	}
	return string(s), nil
}

// AsInt extracts the underlying int64, failing on any other type.
func AsInt(v Value) (int64, error) {
	n, ok := v.(Int)
	if !ok {
		return 0, fmt.Errorf("value is %s, not int", TypeName(v))
	}
	return int64(n), nil
}

// AsFloat extracts the underlying float64, failing on any other type.
func AsFloat(v Value) (float64, error) {
	f, ok := v.(Float)
	if !ok {
		return 0, fmt.Errorf("value is %s, not float", TypeName(v))
	}
	return float64(f), nil
}

// AsBool extracts the underlying bool, failing on any other type.
func AsBool(v Value) (bool, error) {
	b, ok := v.(Bool)
	if !ok {
		return false, fmt.Errorf("value is %s, not bool", TypeName(v))
	}
	return bool(b), nil
}

// AsTime extracts the underlying time.Time, failing on any other type.
func AsTime(v Value) (time.Time, error) {
	t, ok := v.(Time)
	if !ok {
		return time.Time{}, fmt.Errorf("value is %s, not time", TypeName(v))
	}
	return time.Time(t), nil
}

// AsBytes extracts the underlying byte slice, failing on any other type.
func AsBytes(v Value) ([]byte, error) {
	b, ok := v.(Bytes)
	if !ok {
		return nil, fmt.Errorf("value is %s, not bytes", TypeName(v))
	}
	return []byte(b), nil
}

// TypeName returns a short name for the concrete type of v, for error
// messages and logging.
func TypeName(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("%T", v)
	}
}
