package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

const inlineDefinition = `definition:
  name: members
  service: { driver: crm }
  fetch: { method: /members }
  target:
    table: members
    foreign_key: member_ref
    fields: { member_ref: text }
  map:
    - { from: "{Id}", to: member_ref }
`

// writeScenario writes content to dir/name and returns the path.
func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_InlineDefinition(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "s.yaml", `name: inline
description: "Inline definition"
`+inlineDefinition+`passes:
  - records:
      - { Id: "m-1" }
    expect:
      status: ok
      counts: { added: 1, updated: 0, skipped: 0, failed: 0 }
      rule_errors: 0
assertions:
  - type: row_count
    count: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "inline", scenario.Name)
	require.NotNil(t, scenario.Definition)
	assert.Equal(t, "members", scenario.Definition.Name)
	assert.Equal(t, "member_ref", scenario.Definition.Target.ForeignKey)
	require.Len(t, scenario.Passes, 1)
	assert.Equal(t, "m-1", scenario.Passes[0].Records[0]["Id"])
	require.NotNil(t, scenario.Passes[0].Expect)
	assert.Equal(t, store.RunOK, scenario.Passes[0].Expect.Status)
	assert.Equal(t, 1, scenario.Passes[0].Expect.Counts.Added)
	require.NotNil(t, scenario.Passes[0].Expect.RuleErrors)
	assert.Equal(t, 0, *scenario.Passes[0].Expect.RuleErrors)
}

func TestLoadScenario_DefinitionFileRelative(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/sync_and_update.yaml")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("testdata", "definitions", "events.yaml"), scenario.DefinitionFile)
	require.NotNil(t, scenario.Definition)
	assert.Equal(t, "events", scenario.Definition.Name)
	assert.True(t, scenario.Definition.Target.AllowUpdate)
	assert.Len(t, scenario.Definition.Rules, 4)
}

func TestLoadScenario_CUEDefinitionFile(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/failures.yaml")
	require.NoError(t, err)

	require.NotNil(t, scenario.Definition)
	assert.Equal(t, "albums", scenario.Definition.Name)
	assert.Equal(t, "catalog", scenario.Definition.Service.Driver)
	require.Len(t, scenario.Definition.Rules, 3)
	assert.True(t, scenario.Definition.Rules[2].Expression)
	assert.Equal(t, 2, scenario.Options.MapWorkers)
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	dir := t.TempDir()
	defDir := filepath.Join(dir, "defs")
	require.NoError(t, os.MkdirAll(defDir, 0755))
	writeScenario(t, defDir, "members.yaml", `fetch: { method: /members }
target: { table: members, foreign_key: ref }
`)
	path := writeScenario(t, t.TempDir(), "s.yaml", `name: based
description: "Definition resolved against a base path"
definition_file: members.yaml
passes:
  - records: []
`)

	scenario, err := LoadScenarioWithBasePath(path, defDir)
	require.NoError(t, err)
	assert.Equal(t, "members", scenario.Definition.Name, "name defaults to the file name")
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\n" + inlineDefinition + "passes: [{records: []}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\n" + inlineDefinition + "passes: [{records: []}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing definition",
			content: "name: n\ndescription: d\npasses: [{records: []}]\n",
			wantErr: "definition or definition_file is required",
		},
		{
			name:    "both definitions",
			content: "name: n\ndescription: d\ndefinition_file: x.yaml\n" + inlineDefinition + "passes: [{records: []}]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "definition file not found",
			content: "name: n\ndescription: d\ndefinition_file: nope.yaml\npasses: [{records: []}]\n",
			wantErr: "definition file not found",
		},
		{
			name:    "no passes",
			content: "name: n\ndescription: d\n" + inlineDefinition,
			wantErr: "passes list is required",
		},
		{
			name:    "records and fetch error",
			content: "name: n\ndescription: d\n" + inlineDefinition + "passes: [{records: [{Id: x}], fetch_error: boom}]\n",
			wantErr: "passes[0]: records and fetch_error are mutually exclusive",
		},
		{
			name:    "unknown status",
			content: "name: n\ndescription: d\n" + inlineDefinition + "passes: [{records: [], expect: {status: done}}]\n",
			wantErr: "passes[0].expect: status must be one of",
		},
		{
			name:    "unknown assertion type",
			content: "name: n\ndescription: d\n" + inlineDefinition + "passes: [{records: []}]\nassertions: [{type: trace}]\n",
			wantErr: `unknown assertion type "trace"`,
		},
		{
			name:    "row without expect",
			content: "name: n\ndescription: d\n" + inlineDefinition + "passes: [{records: []}]\nassertions: [{type: row, where: {member_ref: x}}]\n",
			wantErr: "expect is required for row",
		},
		{
			name:    "negative row count",
			content: "name: n\ndescription: d\n" + inlineDefinition + "passes: [{records: []}]\nassertions: [{type: row_count, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "unknown run status",
			content: "name: n\ndescription: d\n" + inlineDefinition + "passes: [{records: []}]\nassertions: [{type: run_count, status: done}]\n",
			wantErr: `unknown run status "done"`,
		},
		{
			name:    "unknown field",
			content: "name: n\ndescription: d\n" + inlineDefinition + "passes: [{records: []}]\nassertion: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "negative map workers",
			content: "name: n\ndescription: d\n" + inlineDefinition + "options: {map_workers: -2}\npasses: [{records: []}]\n",
			wantErr: "map_workers must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), "s.yaml", tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDefinitionFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDefinitionFile(writeScenario(t, dir, "d.json", "{}"))
	assert.ErrorContains(t, err, "unsupported definition file")

	_, err = LoadDefinitionFile(writeScenario(t, dir, "two.cue", `definition: a: {fetch: method: "x", target: {table: "a", foreign_key: "k"}}
definition: b: {fetch: method: "x", target: {table: "b", foreign_key: "k"}}
`))
	assert.ErrorContains(t, err, "expected one definition, found 2")

	_, err = LoadDefinitionFile(writeScenario(t, dir, "none.cue", "other: 1\n"))
	assert.ErrorContains(t, err, "no definition struct")
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "row", AssertRow)
	assert.Equal(t, "row_count", AssertRowCount)
	assert.Equal(t, "run_count", AssertRunCount)
}

func TestLoadExampleScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			_, err := LoadScenario(f)
			require.NoError(t, err)
		})
	}
}
