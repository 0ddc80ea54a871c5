package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// Snapshot renders a result as stable text: one line per pass, then one
// canonical JSON line per row of the final table.
//
// Error messages are left out; the error code is enough to tell passes
// apart and stays stable when wording changes.
func Snapshot(name string, result *Result) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for i, p := range result.Passes {
		fmt.Fprintf(&buf, "pass %d: run=%s status=%s fetched=%d added=%d updated=%d skipped=%d failed=%d rule_errors=%d record_errors=%d",
			i+1, orNone(p.RunID), p.Status, p.Fetched,
			p.Counts.Added, p.Counts.Updated, p.Counts.Skipped, p.Counts.Failed,
			p.RuleErrors, p.RecordErrors)
		if p.ErrorCode != "" {
			fmt.Fprintf(&buf, " error=%s", p.ErrorCode)
		}
		buf.WriteByte('\n')
	}
	for _, row := range result.Rows {
		line, err := ir.MarshalCanonical(row)
		if err != nil {
			return nil, fmt.Errorf("row: %w", err)
		}
		buf.WriteString("row: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	// Compare with golden file using goldie
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)

	return nil
}
