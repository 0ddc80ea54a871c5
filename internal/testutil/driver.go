package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// StaticDriver returns a fixed record list and remembers every request.
type StaticDriver struct {
	mu       sync.Mutex
	records  []ir.Record
	requests []driver.FetchRequest
	closed   bool

	// Err, when set, is returned from every Fetch.
	Err error
}

// NewStaticDriver creates a driver that serves records.
func NewStaticDriver(records ...ir.Record) *StaticDriver {
	return &StaticDriver{records: records}
}

// SetRecords replaces the records served by later fetches.
func (d *StaticDriver) SetRecords(records ...ir.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = records
}

// Fetch returns the configured records.
func (d *StaticDriver) Fetch(ctx context.Context, req driver.FetchRequest) ([]ir.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if d.Err != nil {
		return nil, d.Err
	}
	return slices.Clone(d.records), nil
}

// Requests returns every request received.
func (d *StaticDriver) Requests() []driver.FetchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.requests)
}

// Close marks the driver closed.
func (d *StaticDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *StaticDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// StaticFactory returns a driver factory that always yields d.
func StaticFactory(d driver.Driver) driver.Factory {
	return func(ir.ServiceConfig) (driver.Driver, error) {
		return d, nil
	}
}
