package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/driver/jsonfile"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/testutil"
)

const eventsJSON = `{
  "data": {
    "events": [
      {"EventId": "ev-1", "Title": "Opening Night", "Status": "ON_SALE", "Seats": "120"},
      {"EventId": "ev-2", "Title": "Matinee", "Status": "SOLD_OUT", "Seats": "80"}
    ]
  }
}`

// fixture is a temporary workspace with a json service directory and a
// place for definition files.
type fixture struct {
	dir     string
	service string
	defs    string
	db      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		service: filepath.Join(dir, "service"),
		defs:    filepath.Join(dir, "definitions"),
		db:      filepath.Join(dir, "fabsync.db"),
	}
	require.NoError(t, os.MkdirAll(f.service, 0755))
	require.NoError(t, os.MkdirAll(f.defs, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.service, "events.json"), []byte(eventsJSON), 0644))
	return f
}

// write stores a definition file and returns its path.
func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.defs, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// eventsCUE returns a CUE definition reading events.json from the fixture.
func (f *fixture) eventsCUE(allowUpdate bool) string {
	return fmt.Sprintf(`package definitions

definition: events: {
	service: {
		driver:   "json"
		endpoint: %q
	}
	fetch: {
		method:      "events.json"
		start_point: "data.events"
	}
	target: {
		table:        "events"
		foreign_key:  "fk"
		allow_update: %t
		fields: {
			fk:    "text"
			seats: "int"
		}
	}
	map: [
		{from: "{EventId}", to: "fk"},
		{from: "{Title}", to: "name"},
		{from: "{Seats}", to: "seats"},
		{from: "{Status}", to: "soldout", match: "SOLD_OUT", value: 1},
	]
}
`, f.service, allowUpdate)
}

// eventsYAML returns a single YAML definition without a name.
func (f *fixture) eventsYAML() string {
	return fmt.Sprintf(`service:
  driver: json
  endpoint: %q
fetch:
  method: events.json
  start_point: data.events
target:
  table: shows
  foreign_key: fk
  fields:
    fk: text
map:
  - from: "{EventId}"
    to: fk
  - from: "{Title}"
    to: title
    match: "return from.toUpperCase()"
    expression: true
`, f.service)
}

// eventsTOML returns a TOML file holding one named definition.
func (f *fixture) eventsTOML() string {
	return fmt.Sprintf(`[[definitions]]
name = "tickets"

[definitions.service]
driver = "json"
endpoint = %q

[definitions.fetch]
method = "events.json"
start_point = "data.events"

[definitions.target]
table = "tickets"
foreign_key = "fk"

[[definitions.map]]
from = "{EventId}"
to = "fk"
`, f.service)
}

func testRegistry() *driver.Registry {
	reg := driver.NewRegistry()
	reg.Register(jsonfile.Name, func(cfg ir.ServiceConfig) (driver.Driver, error) {
		d, err := jsonfile.New(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	return reg
}

func (f *fixture) rootOptions(format string) *RootOptions {
	return &RootOptions{
		Format:   format,
		DB:       f.db,
		Registry: testRegistry(),
		RunIDs:   testutil.NewSequenceRunIDGenerator("run"),
		Clock:    testutil.NewDeterministicClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), time.Second),
	}
}

// execute runs cmd with args and returns what it wrote to stdout and
// stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	if args == nil {
		args = []string{} // nil makes cobra fall back to os.Args
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
