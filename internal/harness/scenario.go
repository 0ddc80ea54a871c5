package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/mengxiangmengyuan/fabrik/internal/compiler"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

// Scenario defines a reconciliation scenario.
// Scenarios run one definition through several sync passes and assert on
// the resulting table and run history.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definition is an inline definition. Exactly one of Definition and
	// DefinitionFile must be set.
	Definition *ir.Definition `yaml:"definition,omitempty"`

	// DefinitionFile is a YAML or CUE file holding the definition.
	// Relative paths are resolved against the scenario file location.
	DefinitionFile string `yaml:"definition_file,omitempty"`

	// Options configures the engine for every pass.
	Options Options `yaml:"options,omitempty"`

	// Seed rows are inserted into the target table before the first pass.
	Seed []map[string]any `yaml:"seed,omitempty"`

	// Passes are run in order against the same store.
	Passes []Pass `yaml:"passes"`

	// Assertions validate the final table and run history.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Options mirrors the run command flags.
type Options struct {
	Dedupe          bool `yaml:"dedupe,omitempty"`
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
	MapWorkers      int  `yaml:"map_workers,omitempty"`
}

// Pass is one sync run.
type Pass struct {
	// Records are served by the static driver for this pass.
	Records []map[string]any `yaml:"records"`

	// FetchError makes the driver fail with this message instead.
	FetchError string `yaml:"fetch_error,omitempty"`

	// Expect is checked against the run outcome. If nil, only the run
	// itself has to complete.
	Expect *PassExpect `yaml:"expect,omitempty"`
}

// PassExpect specifies the expected outcome of a pass.
type PassExpect struct {
	// Status is the expected run status (ok, partial or failed).
	Status store.RunStatus `yaml:"status"`

	// Counts, when set, must match exactly.
	Counts *ir.Counts `yaml:"counts,omitempty"`

	// RuleErrors, when set, is the expected number of failed expressions.
	RuleErrors *int `yaml:"rule_errors,omitempty"`

	// ErrorCode, when set, is the expected engine error category.
	ErrorCode string `yaml:"error_code,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "row": exactly one row matches Where and holds Expect
	// - "row_count": Count rows match Where
	// - "run_count": Count runs were recorded, with Status if set
	Type string `yaml:"type"`

	// Where filters rows of the target table (row, row_count).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (row).
	// Subset match - only specified columns are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of rows or runs.
	Count int `yaml:"count,omitempty"`

	// Status restricts run_count to one run status.
	Status store.RunStatus `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertRow      = "row"
	AssertRowCount = "row_count"
	AssertRunCount = "run_count"
)

var runStatuses = []store.RunStatus{store.RunOK, store.RunPartial, store.RunFailed}

// LoadScenario reads and parses a scenario YAML file. A definition_file is
// resolved relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the definition file relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.DefinitionFile != "" && !filepath.IsAbs(scenario.DefinitionFile) && basePath != "" {
		scenario.DefinitionFile = filepath.Join(basePath, scenario.DefinitionFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	if scenario.Definition == nil {
		def, err := LoadDefinitionFile(scenario.DefinitionFile)
		if err != nil {
			return nil, err
		}
		scenario.Definition = def
	}
	return &scenario, nil
}

// LoadDefinitionFile reads a single definition from a YAML or CUE file. A
// CUE file must hold exactly one field under its top-level "definition".
func LoadDefinitionFile(path string) (*ir.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		root := v.LookupPath(cue.ParsePath("definition"))
		if !root.Exists() {
			return nil, fmt.Errorf("%s: no definition struct", path)
		}
		iter, err := root.Fields()
		if err != nil {
			return nil, fmt.Errorf("%s: no definition struct: %w", path, err)
		}
		var defs []*ir.Definition
		for iter.Next() {
			def, err := compiler.CompileDefinition(iter.Value())
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
		if len(defs) != 1 {
			return nil, fmt.Errorf("%s: expected one definition, found %d", path, len(defs))
		}
		return defs[0], nil
	case ".yaml", ".yml":
		var def ir.Definition
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if def.Name == "" {
			def.Name = trimExt(filepath.Base(path))
		}
		return &def, nil
	default:
		return nil, fmt.Errorf("unsupported definition file %s", path)
	}
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Definition == nil && s.DefinitionFile == "":
		return fmt.Errorf("definition or definition_file is required")
	case s.Definition != nil && s.DefinitionFile != "":
		return fmt.Errorf("definition and definition_file are mutually exclusive")
	}
	if s.DefinitionFile != "" {
		if _, err := os.Stat(s.DefinitionFile); os.IsNotExist(err) {
			return fmt.Errorf("definition file not found: %s", s.DefinitionFile)
		}
	}

	if s.Options.MapWorkers < 0 {
		return fmt.Errorf("options.map_workers must be non-negative")
	}

	if len(s.Passes) == 0 {
		return fmt.Errorf("passes list is required and must be non-empty")
	}

	for i, p := range s.Passes {
		if p.FetchError != "" && len(p.Records) > 0 {
			return fmt.Errorf("passes[%d]: records and fetch_error are mutually exclusive", i)
		}
		if p.Expect != nil && !slices.Contains(runStatuses, p.Expect.Status) {
			return fmt.Errorf("passes[%d].expect: status must be one of %v, got %q", i, runStatuses, p.Expect.Status)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRow:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row", index)
		}
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRunCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for run_count", index)
		}
		if a.Status != "" && !slices.Contains(runStatuses, a.Status) {
			return fmt.Errorf("assertions[%d]: unknown run status %q", index, a.Status)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
