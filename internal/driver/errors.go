package driver

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every error raised while resolving a
// service configuration to a driver.
var ErrConfiguration = errors.New("driver configuration error")

// UnknownDriverError reports a driver name with no registered factory.
type UnknownDriverError struct {
	Name string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown driver: %s", e.Name)
}

// Is reports ErrConfiguration.
func (e *UnknownDriverError) Is(target error) bool {
	return target == ErrConfiguration
}

// DriverInitError reports a factory that failed to construct a driver.
type DriverInitError struct {
	Driver string
	Err    error
}

func (e *DriverInitError) Error() string {
	return fmt.Sprintf("init driver %s: %v", e.Driver, e.Err)
}

func (e *DriverInitError) Unwrap() error {
	return e.Err
}

// Is reports ErrConfiguration.
func (e *DriverInitError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsUnknownDriver reports whether err is an UnknownDriverError.
func IsUnknownDriver(err error) bool {
	var ue *UnknownDriverError
	return errors.As(err, &ue)
}

// IsInitError reports whether err is a DriverInitError.
func IsInitError(err error) bool {
	var ie *DriverInitError
	return errors.As(err, &ie)
}
