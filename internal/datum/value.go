package datum

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the primitive type carried by a Value.
type Kind string

// Supported kinds.
const (
	KindBool  Kind = "bool"
	KindInt   Kind = "int"
	KindFloat Kind = "float"
)

// ParseKind validates a kind selector such as the one sent in a GET /datum request.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBool, KindInt, KindFloat:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Value is a typed scalar. The zero Value is the float 0.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
}

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int wraps an integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float wraps a floating point number.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Kind reports the primitive type of v.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindFloat
	}
	return v.kind
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, error) {
	if v.Kind() != KindBool {
		return false, fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, v.Kind(), KindBool)
	}
	return v.b, nil
}

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, error) {
	if v.Kind() != KindInt {
		return 0, fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, v.Kind(), KindInt)
	}
	return v.i, nil
}

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, error) {
	if v.Kind() != KindFloat {
		return 0, fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, v.Kind(), KindFloat)
	}
	return v.f, nil
}

// Number returns v as a float64 for either numeric kind.
func (v Value) Number() (float64, bool) {
	switch v.Kind() {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// String renders the text form used on the wire. Floats always carry a
// decimal point so that "42.0" never reads back as an int.
func (v Value) String() string {
	switch v.Kind() {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	default:
		s := strconv.FormatFloat(v.f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".NI") {
			s += ".0"
		}
		return s
	}
}

// ParseValue reads the text form back. Parsing tries bool, then int, then float.
func ParseValue(s string) (Value, error) {
	switch s {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f), nil
	}
	return Value{}, fmt.Errorf("%w: cannot parse %q as a value", ErrMalformed, s)
}
