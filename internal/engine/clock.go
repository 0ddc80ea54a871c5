package engine

import "time"

// Clock supplies wall-clock time for run timestamps. Tests inject a
// deterministic clock so run history is reproducible.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
