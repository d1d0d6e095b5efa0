// Package value defines the tagged scalar type carried by signals.
//
// A Value is one of Bool, Int (signed 64-bit), Float (IEEE-754 double) or
// String. Equality is structural. Ordering is defined within a variant and
// between Int and Float (Int promotes to Float). Floats compare with
// total-ordering semantics: NaN equals itself and sorts above +Inf, so
// change detection on float signals is deterministic.
package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrTypeMismatch is returned when a Value is used as a variant it does not
// hold, or when two Values of incompatible variants are combined.
var ErrTypeMismatch = errors.New("type mismatch")

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses a kind name as it appears in configuration files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return KindBool, nil
	case "int", "integer":
		return KindInt, nil
	case "float", "double", "real":
		return KindFloat, nil
	case "string":
		return KindString, nil
	default:
		return 0, fmt.Errorf("unknown signal type %q", s)
	}
}

// Value is a tagged scalar. The zero Value is Bool(false).
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func Bool(b bool) Value    { return Value{kind: KindBool, b: b} }
func Int(i int64) Value    { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// Zero returns the zero value for a kind: false, 0, 0.0 or "".
func Zero(k Kind) Value {
	return Value{kind: k}
}

func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean payload, or ErrTypeMismatch for other variants.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("want bool, got %s: %w", v.kind, ErrTypeMismatch)
	}
	return v.b, nil
}

// AsInt returns the integer payload, or ErrTypeMismatch for other variants.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, fmt.Errorf("want int, got %s: %w", v.kind, ErrTypeMismatch)
	}
	return v.i, nil
}

// AsFloat returns the float payload, or ErrTypeMismatch for other variants.
func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, fmt.Errorf("want float, got %s: %w", v.kind, ErrTypeMismatch)
	}
	return v.f, nil
}

// AsString returns the string payload, or ErrTypeMismatch for other variants.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("want string, got %s: %w", v.kind, ErrTypeMismatch)
	}
	return v.s, nil
}

// Numeric returns the value as a float64, promoting Int to Float.
// Bool and String are rejected with ErrTypeMismatch.
func (v Value) Numeric() (float64, error) {
	switch v.kind {
	case KindInt:
		return float64(v.i), nil
	case KindFloat:
		return v.f, nil
	default:
		return 0, fmt.Errorf("want numeric, got %s: %w", v.kind, ErrTypeMismatch)
	}
}

// CoerceTo converts the value to another kind.
//
// Supported conversions: identity, Bool↔Int/Float (false=0, true=1, nonzero
// is true), Int↔Float (Float→Int truncates toward zero). Everything else,
// including String conversions, requires an explicit convert block and
// returns ErrTypeMismatch.
func (v Value) CoerceTo(k Kind) (Value, error) {
	if v.kind == k {
		return v, nil
	}
	switch {
	case v.kind == KindBool && k == KindInt:
		if v.b {
			return Int(1), nil
		}
		return Int(0), nil
	case v.kind == KindBool && k == KindFloat:
		if v.b {
			return Float(1), nil
		}
		return Float(0), nil
	case v.kind == KindInt && k == KindBool:
		return Bool(v.i != 0), nil
	case v.kind == KindFloat && k == KindBool:
		return Bool(v.f != 0), nil
	case v.kind == KindInt && k == KindFloat:
		return Float(float64(v.i)), nil
	case v.kind == KindFloat && k == KindInt:
		if math.IsNaN(v.f) || v.f >= math.MaxInt64 || v.f < math.MinInt64 {
			return Value{}, fmt.Errorf("float %v not representable as int: %w", v.f, ErrTypeMismatch)
		}
		return Int(int64(v.f)), nil
	default:
		return Value{}, fmt.Errorf("cannot coerce %s to %s: %w", v.kind, k, ErrTypeMismatch)
	}
}

// Equal reports structural equality. Values of different variants are never
// equal, except Int↔Float which compare numerically. Float equality follows
// total ordering: NaN equals NaN.
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	if err != nil {
		return false
	}
	return c == 0
}

// Compare orders two values. It returns a negative, zero or positive result,
// or ErrTypeMismatch when the variants are incomparable. Bool orders
// false < true. Strings order lexicographically. Int and Float compare
// numerically; Float uses total ordering (NaN == NaN, NaN > +Inf).
func (v Value) Compare(o Value) (int, error) {
	if v.kind == o.kind {
		switch v.kind {
		case KindBool:
			return boolCompare(v.b, o.b), nil
		case KindInt:
			return intCompare(v.i, o.i), nil
		case KindFloat:
			return totalOrderFloat(v.f, o.f), nil
		case KindString:
			return strings.Compare(v.s, o.s), nil
		}
	}
	// Int and Float are mutually comparable via promotion.
	if (v.kind == KindInt || v.kind == KindFloat) && (o.kind == KindInt || o.kind == KindFloat) {
		a, _ := v.Numeric()
		b, _ := o.Numeric()
		return totalOrderFloat(a, b), nil
	}
	return 0, fmt.Errorf("cannot compare %s with %s: %w", v.kind, o.kind, ErrTypeMismatch)
}

func boolCompare(a, b bool) int {
	switch {
	case a == b:
		return 0
	case b:
		return -1
	default:
		return 1
	}
}

func intCompare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// totalOrderFloat compares floats so that NaN equals itself and sorts above
// +Inf. Negative and positive zero compare equal.
func totalOrderFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Interface returns the payload as a plain Go value, suitable for JSON
// encoding and MQTT payloads.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	default:
		return v.s
	}
}

// String renders the payload for logs and the CLI.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// FromInterface builds a Value of the declared kind from a dynamically typed
// input (YAML initial values, JSON request bodies, MQTT payloads).
// Numeric inputs convert between int and float; strings are parsed for
// bool, int and float targets. Returns ErrTypeMismatch when the input
// cannot represent the declared kind.
func FromInterface(k Kind, raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Zero(k), nil
	case bool:
		if k == KindBool {
			return Bool(x), nil
		}
	case int:
		return fromInt(k, int64(x))
	case int64:
		return fromInt(k, x)
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d out of range: %w", x, ErrTypeMismatch)
		}
		return fromInt(k, int64(x))
	case float64:
		switch k {
		case KindFloat:
			return Float(x), nil
		case KindInt:
			if x == math.Trunc(x) && !math.IsInf(x, 0) {
				return Int(int64(x)), nil
			}
		}
	case string:
		return parseString(k, x)
	}
	return Value{}, fmt.Errorf("cannot use %T as %s: %w", raw, k, ErrTypeMismatch)
}

func fromInt(k Kind, i int64) (Value, error) {
	switch k {
	case KindInt:
		return Int(i), nil
	case KindFloat:
		return Float(float64(i)), nil
	}
	return Value{}, fmt.Errorf("cannot use int as %s: %w", k, ErrTypeMismatch)
}

func parseString(k Kind, s string) (Value, error) {
	switch k {
	case KindString:
		return String(s), nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("cannot parse %q as bool: %w", s, ErrTypeMismatch)
		}
		return Bool(b), nil
	case KindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("cannot parse %q as int: %w", s, ErrTypeMismatch)
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("cannot parse %q as float: %w", s, ErrTypeMismatch)
		}
		return Float(f), nil
	}
	return Value{}, fmt.Errorf("cannot use string as %s: %w", k, ErrTypeMismatch)
}
