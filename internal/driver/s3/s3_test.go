package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// fakeS3 serves path-style GET requests for a fixed set of objects.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	paths   []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	body, ok := f.objects[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key></Error>`, r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.Header().Set("Last-Modified", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat))
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	_, _ = w.Write([]byte(body))
}

func testConfig(endpoint string) ir.ServiceConfig {
	return ir.ServiceConfig{
		Driver:   Name,
		Endpoint: ir.StringPtr(endpoint),
		Options: map[string]any{
			"bucket":     "feeds",
			"prefix":     "exports/",
			"region":     "us-east-1",
			"access_key": "AKIAEXAMPLE",
			"secret_key": "secret",
		},
	}
}

func TestFetchObject(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"/feeds/exports/events.json": `{"events":[{"EventId":1,"Title":"Gig"},{"EventId":2,"Title":"Open Air"}]}`,
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	records, err := d.Fetch(context.Background(), driver.FetchRequest{Method: "events.json", StartPoint: "events"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, json.Number("1"), records[0]["EventId"])
	assert.Equal(t, "Open Air", records[1]["Title"])
}

func TestFetchMissingObject(t *testing.T) {
	srv := httptest.NewServer(&fakeS3{objects: map[string]string{}})
	defer srv.Close()

	d, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = d.Fetch(context.Background(), driver.FetchRequest{Method: "missing.json"})
	require.Error(t, err)
	var fe *driver.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "missing.json", fe.Method)
}

func TestFetchRequiresKey(t *testing.T) {
	d, err := New(testConfig("localhost:9000"))
	require.NoError(t, err)
	_, err = d.Fetch(context.Background(), driver.FetchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object key is required")
}

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig(testConfig("https://s3.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", c.Host)
	assert.True(t, c.Secure)
	assert.Equal(t, "exports/events.json", c.ObjectKey("/events.json"))

	c, err = ParseConfig(testConfig("minio:9000"))
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", c.Host)
	assert.False(t, c.Secure)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ir.ServiceConfig)
		want   string
	}{
		{"no endpoint", func(c *ir.ServiceConfig) { c.Endpoint = nil }, "endpoint is required"},
		{"no bucket", func(c *ir.ServiceConfig) { delete(c.Options, "bucket") }, "bucket is required"},
		{"no secret", func(c *ir.ServiceConfig) { delete(c.Options, "secret_key") }, "secret_key are required"},
		{"empty host", func(c *ir.ServiceConfig) { c.Endpoint = ir.StringPtr("http://") }, "has no host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("localhost:9000")
			tt.mutate(&cfg)
			_, err := ParseConfig(cfg)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
