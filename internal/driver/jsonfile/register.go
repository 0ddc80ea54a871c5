package jsonfile

import (
	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// init registers the json factory with the default driver registry.
func init() {
	driver.Register(Name, func(cfg ir.ServiceConfig) (driver.Driver, error) {
		d, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
