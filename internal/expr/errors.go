package expr

import (
	"errors"
	"fmt"
)

// Sentinel errors for expression failures.
var (
	ErrSyntax      = errors.New("syntax error")
	ErrUnsupported = errors.New("unsupported construct")
	ErrReference   = errors.New("reference error")
	ErrType        = errors.New("type error")
	ErrStepLimit   = errors.New("step limit exceeded")

	// ErrResourceLimit is returned when a string or array grows past the
	// configured value size.
	ErrResourceLimit = errors.New("resource limit exceeded")
)

// Error describes a failure to compile or evaluate an expression.
type Error struct {
	Phase   string // "compile" or "eval"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("expression %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("expression %s: %v: %s", e.Phase, e.Err, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func compileError(kind error, format string, args ...any) *Error {
	return &Error{Phase: "compile", Err: kind, Message: fmt.Sprintf(format, args...)}
}

func evalError(kind error, format string, args ...any) *Error {
	return &Error{Phase: "eval", Err: kind, Message: fmt.Sprintf(format, args...)}
}

// IsStepLimit reports whether err was caused by exhausting the step budget.
func IsStepLimit(err error) bool {
	return errors.Is(err, ErrStepLimit)
}

// IsResourceLimit reports whether err was caused by a value outgrowing the
// size limit.
func IsResourceLimit(err error) bool {
	return errors.Is(err, ErrResourceLimit)
}
