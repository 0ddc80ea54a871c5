package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/compiler"
)

func TestValidateValidDefinitions(t *testing.T) {
	f := newFixture(t)
	f.write(t, "events.cue", f.eventsCUE(false))
	f.write(t, "shows.yaml", f.eventsYAML())
	f.write(t, "tickets.toml", f.eventsTOML())

	out, _, err := execute(NewValidateCommand(f.rootOptions("text")), f.defs)
	require.NoError(t, err)
	assert.Contains(t, out, "\u2713 3 definition(s) valid")
}

func TestValidateValidDefinitionsJSON(t *testing.T) {
	f := newFixture(t)
	f.write(t, "events.cue", f.eventsCUE(false))
	f.write(t, "shows.yaml", f.eventsYAML())

	out, _, err := execute(NewValidateCommand(f.rootOptions("json")), f.defs)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.ElementsMatch(t, []string{"events", "shows"}, resp.Data.Definitions)
}

func TestValidateNonExistentPath(t *testing.T) {
	f := newFixture(t)

	_, _, err := execute(NewValidateCommand(f.rootOptions("text")), filepath.Join(f.dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestValidateEmptyDirectory(t *testing.T) {
	f := newFixture(t)

	out, _, err := execute(NewValidateCommand(f.rootOptions("text")), f.defs)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoFiles)
}

func TestValidateInvalidDefinition(t *testing.T) {
	f := newFixture(t)
	f.write(t, "bad.yaml", `name: bad
fetch:
  method: ""
target:
  table: "bad table"
  foreign_key: fk
map:
  - from: "{A}"
    to: a
    match: "while (true) {}"
    expression: true
`)

	out, _, err := execute(NewValidateCommand(f.rootOptions("text")), f.defs)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "\u2717 Validation failed")
	assert.Contains(t, out, compiler.ErrMethodEmpty+": bad.fetch.method")
	assert.Contains(t, out, compiler.ErrInvalidIdentifier+": bad.target.table")
	assert.Contains(t, out, compiler.ErrRuleExpression+": bad.map[0].match")
}

func TestValidateInvalidDefinitionJSON(t *testing.T) {
	f := newFixture(t)
	f.write(t, "bad.yaml", `name: bad
fetch:
  method: /events
target:
  table: events
`)

	out, _, err := execute(NewValidateCommand(f.rootOptions("json")), f.defs)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "bad.target.foreign_key", resp.Data.Errors[0].Field)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrInvalidIdentifier, resp.Error.Code)
}

func TestValidateCUEShapeErrorHasLine(t *testing.T) {
	f := newFixture(t)
	f.write(t, "broken.cue", `package definitions

definition: broken: {
	fetch: "events"
	target: {
		table:       "events"
		foreign_key: "fk"
	}
}
`)

	out, _, err := execute(NewValidateCommand(f.rootOptions("text")), f.defs)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeBadFetch)
	assert.Contains(t, out, "line 4")
}

func TestValidateCollectsErrorsAcrossFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.yaml", "name: a\nfetch: {method: x}\ntarget: {table: a}\n")
	f.write(t, "b.yaml", "name: b\nfetch: {method: x}\ntarget: {table: b}\n")
	f.write(t, "c.yaml", "name: c\nunknown_key: 1\n")

	out, _, err := execute(NewValidateCommand(f.rootOptions("json")), f.defs)
	require.Error(t, err)

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	var codes []string
	for _, e := range resp.Data.Errors {
		codes = append(codes, e.Code)
	}
	// File errors come before validation of the definitions that loaded
	assert.Equal(t, []string{ErrCodeDecodeFailed, compiler.ErrInvalidIdentifier, compiler.ErrInvalidIdentifier}, codes)
}

func TestValidateDuplicateNames(t *testing.T) {
	f := newFixture(t)
	one := f.write(t, "one.yaml", "name: shows\n"+f.eventsYAML())
	two := f.write(t, "two.yaml", "name: shows\n"+f.eventsYAML())

	out, _, err := execute(NewValidateCommand(f.rootOptions("text")), one, two)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeDuplicate)
}

func TestValidateVerboseOutput(t *testing.T) {
	f := newFixture(t)
	f.write(t, "events.cue", f.eventsCUE(false))

	opts := f.rootOptions("text")
	opts.Verbose = true
	_, errOut, err := execute(NewValidateCommand(opts), f.defs)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Read 1 definition file(s)")
	assert.Contains(t, errOut, "Validated definition: events")
}
