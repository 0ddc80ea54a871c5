package jsonfile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

func newDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := New(ir.ServiceConfig{Driver: Name, Endpoint: ir.StringPtr("testdata")})
	require.NoError(t, err)
	return d
}

func TestFetchList(t *testing.T) {
	records, err := newDriver(t).Fetch(context.Background(), driver.FetchRequest{
		Method:     "events.json",
		StartPoint: "response.events",
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, json.Number("1"), records[0]["EventId"])
	name, ok := ir.LookupPath(records[0], "Venue.Name")
	require.True(t, ok)
	assert.Equal(t, "Paradiso", name)
	assert.Nil(t, records[1]["Venue"])
}

func TestFetchSingleObject(t *testing.T) {
	records, err := newDriver(t).Fetch(context.Background(), driver.FetchRequest{Method: "single.json"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Solo", records[0]["Title"])
}

func TestFetchErrors(t *testing.T) {
	d := newDriver(t)
	tests := []struct {
		name string
		req  driver.FetchRequest
	}{
		{"missing file", driver.FetchRequest{Method: "nope.json"}},
		{"escapes root", driver.FetchRequest{Method: "../jsonfile.go"}},
		{"empty method", driver.FetchRequest{}},
		{"scalar start point", driver.FetchRequest{Method: "single.json", StartPoint: "Title"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Fetch(context.Background(), tt.req)
			require.Error(t, err)
			var fe *driver.FetchError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestNewRejectsFile(t *testing.T) {
	_, err := New(ir.ServiceConfig{Driver: Name, Endpoint: ir.StringPtr("testdata/single.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	_, err = New(ir.ServiceConfig{Driver: Name, Endpoint: ir.StringPtr("testdata/missing")})
	require.Error(t, err)
}
