package reconcile

import (
	"errors"
	"fmt"
)

// RecordError reports a record dropped because a field could not be
// coerced. The batch continues.
type RecordError struct {
	Index int
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: field %s: %v", e.Index, e.Field, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// PersistError reports a sink failure while storing a record.
type PersistError struct {
	Index int
	PK    int64
	Err   error
}

func (e *PersistError) Error() string {
	if e.PK == 0 {
		return fmt.Sprintf("record %d: insert: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("record %d: update %d: %v", e.Index, e.PK, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistError reports whether err is a PersistError.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// IsRecordError reports whether err is a RecordError.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}
