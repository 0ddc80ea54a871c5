// Package coerce converts raw mapped values into the representation a local
// field type expects.
//
// Coercion is deterministic: the same input always produces the same output,
// independent of the host clock or time zone.
package coerce

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// Type is a local field type tag.
type Type string

const (
	TypeText   Type = "text"
	TypeBool   Type = "bool"
	TypeDate   Type = "date"
	TypeInt    Type = "int"
	TypeNumber Type = "number"
)

// ErrCoercion is matched by every coercion failure.
var ErrCoercion = errors.New("coercion failed")

// Error reports a value that could not be converted to a field type.
type Error struct {
	Type  Type
	Value any
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot coerce %q to %s: %v", ir.FormatScalar(e.Value), e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrCoercion so callers can match without a type assertion.
func (e *Error) Is(target error) bool {
	return target == ErrCoercion
}

// ParseType validates a type tag from a definition. The empty tag is text.
func ParseType(tag string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(tag))); t {
	case "", TypeText:
		return TypeText, nil
	case TypeBool, "boolean":
		return TypeBool, nil
	case TypeDate, "datetime":
		return TypeDate, nil
	case TypeInt, "integer":
		return TypeInt, nil
	case TypeNumber, "float", "decimal":
		return TypeNumber, nil
	default:
		return "", fmt.Errorf("unknown field type %q", tag)
	}
}

// Value converts raw to the representation for t. Unknown types pass the
// value through unchanged.
func Value(raw any, t Type) (any, error) {
	switch t {
	case TypeBool:
		return Truthy(raw), nil
	case TypeDate:
		return Date(raw)
	case TypeInt:
		return toInt(raw)
	case TypeNumber:
		return toNumber(raw)
	default:
		return raw, nil
	}
}

// Truthy interprets raw as a boolean. nil, false, zero, "", "0", "false",
// "no" and "off" are false; everything else is true.
func Truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "no", "off":
			return false
		}
		return true
	default:
		if f, ok := ir.Number(v); ok {
			return f != 0
		}
		return true
	}
}

func toInt(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.(bool); ok {
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	}
	f, ok := ir.Number(raw)
	if !ok {
		return nil, &Error{Type: TypeInt, Value: raw, Err: errors.New("not a number")}
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return nil, &Error{Type: TypeInt, Value: raw, Err: errors.New("not an integer")}
	}
	return int64(f), nil
}

func toNumber(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, ok := ir.Number(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &Error{Type: TypeNumber, Value: raw, Err: errors.New("not a number")}
	}
	return f, nil
}
