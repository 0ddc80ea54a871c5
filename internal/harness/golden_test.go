package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

func TestSnapshot(t *testing.T) {
	result := NewResult()
	result.Passes = []PassResult{
		{Status: store.RunFailed, ErrorCode: "INVALID_DEFINITION", Error: "bad rule"},
		{RunID: "run-0001", Status: store.RunPartial, Fetched: 2, Counts: ir.Counts{Added: 1, Failed: 1}, RuleErrors: 2, RecordErrors: 1},
	}
	result.Rows = []ir.MappedRecord{
		{"id": int64(1), "name": "a", "note": nil},
	}

	got, err := Snapshot("demo", result)
	require.NoError(t, err)
	assert.Equal(t, "scenario: demo\n"+
		"pass 1: run=none status=failed fetched=0 added=0 updated=0 skipped=0 failed=0 rule_errors=0 record_errors=0 error=INVALID_DEFINITION\n"+
		"pass 2: run=run-0001 status=partial fetched=2 added=1 updated=0 skipped=0 failed=1 rule_errors=2 record_errors=1\n"+
		`row: {"id":1,"name":"a","note":null}`+"\n", string(got))
}

func TestSnapshot_Empty(t *testing.T) {
	got, err := Snapshot("nothing", NewResult())
	require.NoError(t, err)
	assert.Equal(t, "scenario: nothing\n", string(got))
}

func TestAssertGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/dedupe_batch.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, scenario.Name, result))
}
