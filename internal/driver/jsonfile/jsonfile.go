// Package jsonfile implements the "json" driver, which reads records from
// JSON documents in a local directory.
package jsonfile

import (
	"context"
	"fmt"
	"os"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// Name is the registered driver name.
const Name = "json"

// Driver serves files below one directory. Fetch methods are file names
// relative to that directory and cannot escape it.
type Driver struct {
	dir string
}

// New builds a driver rooted at the service endpoint, or at the working
// directory when no endpoint is given.
func New(cfg ir.ServiceConfig) (*Driver, error) {
	dir := cfg.EndpointValue()
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("endpoint %q is not a directory", dir)
	}
	return &Driver{dir: dir}, nil
}

// Fetch decodes the file named by req.Method and selects req.StartPoint.
// Fetch options are ignored.
func (d *Driver) Fetch(ctx context.Context, req driver.FetchRequest) ([]ir.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, driver.NewFetchError(Name, req.Method, fmt.Errorf("file name is required"))
	}

	f, err := os.OpenInRoot(d.dir, req.Method)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	defer f.Close()

	doc, err := driver.DecodeJSON(f)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	records, err := driver.Select(doc, req.StartPoint)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	return records, nil
}
