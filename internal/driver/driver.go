// Package driver defines the pluggable data source interface, the static
// constructor table drivers register into, and the identity cache that
// hands out one driver instance per distinct service configuration.
package driver

import (
	"context"
	"fmt"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// FetchRequest describes one call against a source.
type FetchRequest struct {
	// Method names the remote operation: a path, file, table or object key.
	Method string
	// Options are filter parameters passed to the source.
	Options map[string]any
	// StartPoint is a dotted path to the record list inside the response.
	StartPoint string
	// ResultSelector is a driver specific selector applied to the result.
	ResultSelector string
}

// Driver fetches raw records from an external source.
type Driver interface {
	Fetch(ctx context.Context, req FetchRequest) ([]ir.Record, error)
}

// Factory constructs a driver from a normalised service configuration.
type Factory func(cfg ir.ServiceConfig) (Driver, error)

// FetchError reports a failed fetch.
type FetchError struct {
	Driver string
	Method string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %q: %v", e.Driver, e.Method, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err unless it already is a FetchError.
func NewFetchError(driverName, method string, err error) error {
	if _, ok := err.(*FetchError); ok {
		return err
	}
	return &FetchError{Driver: driverName, Method: method, Err: err}
}
