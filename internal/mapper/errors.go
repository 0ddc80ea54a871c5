package mapper

import (
	"errors"
	"fmt"
)

// RuleError reports an expression rule that failed for one record. The
// target field is left unset and mapping continues.
type RuleError struct {
	Record int
	Rule   int
	To     string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("record %d: rule %d (%s): %v", e.Record, e.Rule, e.To, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// IsRuleError reports whether err is a RuleError.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}
