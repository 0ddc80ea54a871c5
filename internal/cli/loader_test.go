package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/compiler"
)

func TestLoadDefinitionsFormats(t *testing.T) {
	f := newFixture(t)
	f.write(t, "events.cue", f.eventsCUE(true))
	f.write(t, "shows.yml", f.eventsYAML())
	f.write(t, "tickets.toml", f.eventsTOML())
	f.write(t, "README.md", "# not a definition")

	result, errs := LoadDefinitions([]string{f.defs}, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 3, result.FileCount)

	events, ok := result.Lookup("events")
	require.True(t, ok)
	assert.Equal(t, "json", events.Service.Driver)
	assert.Equal(t, "data.events", events.Fetch.StartPoint)
	assert.True(t, events.Target.AllowUpdate)
	assert.Equal(t, "int", events.Target.Fields["seats"])
	require.Len(t, events.Rules, 4)
	assert.Equal(t, "SOLD_OUT", events.Rules[3].Match)
	assert.Equal(t, 1, events.Rules[3].Value)

	shows, ok := result.Lookup("shows")
	require.True(t, ok, "unnamed definition takes the file name")
	assert.True(t, shows.Rules[1].Expression)

	tickets, ok := result.Lookup("tickets")
	require.True(t, ok)
	assert.Equal(t, "tickets", tickets.Target.Table)
	assert.Equal(t, "{EventId}", tickets.Rules[0].From)

	_, ok = result.Lookup("nope")
	assert.False(t, ok)
}

func TestLoadDefinitionsSingleFile(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "events.cue", f.eventsCUE(false))

	result, errs := LoadDefinitions([]string{path}, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, result.Definitions, 1)
	assert.Equal(t, 1, result.FileCount)
	assert.Equal(t, "events", result.Definitions[0].Name)
}

func TestLoadDefinitionsSkipsNestedDirectories(t *testing.T) {
	f := newFixture(t)
	f.write(t, "shows.yaml", f.eventsYAML())
	nested := filepath.Join(f.defs, "nested")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "other.yaml"), []byte("name: other\n"+f.eventsYAML()), 0644))

	result, errs := LoadDefinitions([]string{f.defs}, LoadModeCollectAll)
	require.Empty(t, errs)
	require.Len(t, result.Definitions, 1)
	assert.Equal(t, "shows", result.Definitions[0].Name)
}

func TestLoadDefinitionsFailFastStopsAtFirstError(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.yaml", "name: a\nfetch: {method: \"\"}\ntarget: {table: a}\n")

	_, errs := LoadDefinitions([]string{f.defs}, LoadModeFailFast)
	require.Len(t, errs, 1)

	_, errs = LoadDefinitions([]string{f.defs}, LoadModeCollectAll)
	assert.Len(t, errs, 2, "method and foreign key")
}

func TestLoadDefinitionsValidationFieldsCarryName(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.yaml", "name: a\nfetch: {method: x}\ntarget: {table: a}\n")

	_, errs := LoadDefinitions([]string{f.defs}, LoadModeCollectAll)
	require.Len(t, errs, 1)

	var ve compiler.ValidationError
	require.True(t, errors.As(errs[0], &ve))
	assert.Equal(t, "a.target.foreign_key", ve.Field)
}

func TestLoadDefinitionsErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		code    string
	}{
		{
			name:    "yaml unknown field",
			file:    "x.yaml",
			content: "name: x\ntable: nope\n",
			code:    ErrCodeDecodeFailed,
		},
		{
			name:    "toml syntax error",
			file:    "x.toml",
			content: "name = \n",
			code:    ErrCodeDecodeFailed,
		},
		{
			name:    "yaml bad definitions list",
			file:    "x.yaml",
			content: "definitions:\n  - name: x\n    bogus: 1\n",
			code:    ErrCodeDecodeFailed,
		},
		{
			name:    "cue syntax error",
			file:    "x.cue",
			content: "definition: x: {\n",
			code:    ErrCodeBuildFailed,
		},
		{
			name:    "cue rule not a struct",
			file:    "x.cue",
			content: "definition: x: {\n\tfetch: method: \"m\"\n\ttarget: {table: \"t\", foreign_key: \"fk\"}\n\tmap: [\"{A}\"]\n}\n",
			code:    ErrCodeBadRule,
		},
		{
			name:    "cue without definitions",
			file:    "x.cue",
			content: "other: 1\n",
			code:    ErrCodeGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, errs := LoadDefinitions([]string{path}, LoadModeCollectAll)
			require.NotEmpty(t, errs)

			var le *LoadError
			require.True(t, errors.As(errs[0], &le), "error: %v", errs[0])
			assert.Equal(t, tt.code, le.Code, "message: %s", le.Message)
		})
	}
}

func TestLoadDefinitionsMissingPath(t *testing.T) {
	_, errs := LoadDefinitions([]string{filepath.Join(t.TempDir(), "missing")}, LoadModeCollectAll)
	require.Len(t, errs, 1)

	var le *LoadError
	require.True(t, errors.As(errs[0], &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestFindDefinitionFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.cue", "c.TOML", "d.json", "e.yml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	files, err := FindDefinitionFiles(dir)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"a.cue", "b.yaml", "c.TOML", "e.yml"}, names)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		code  string
	}{
		{"fetch", ErrCodeBadFetch},
		{"fetch.option_types", ErrCodeBadFetch},
		{"target.fields", ErrCodeBadTarget},
		{"service.endpoint", ErrCodeBadService},
		{"map[2].value", ErrCodeBadRule},
		{"cue", ErrCodeBuildFailed},
		{"name", ErrCodeGeneric},
		{"fetcher", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.code, MapFieldToErrorCode(tt.field))
		})
	}
}

func TestLoadErrorFormat(t *testing.T) {
	err := &LoadError{Code: ErrCodeNoFiles, Message: "no definition files found in x"}
	assert.Contains(t, err.Error(), "no definition files found in x")
}
