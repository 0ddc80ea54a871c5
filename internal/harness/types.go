package harness

import (
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

// PassResult is the outcome of one pass.
type PassResult struct {
	RunID        string          `json:"run_id,omitempty"`
	Status       store.RunStatus `json:"status"`
	Fetched      int             `json:"fetched"`
	Counts       ir.Counts       `json:"counts"`
	RuleErrors   int             `json:"rule_errors"`
	RecordErrors int             `json:"record_errors"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success.
	// True if every pass expectation and assertion held.
	Pass bool `json:"pass"`

	// Passes holds one entry per executed pass, in order.
	Passes []PassResult `json:"passes"`

	// Rows is the final content of the target table ordered by primary key.
	Rows []ir.MappedRecord `json:"rows"`

	// Errors contains failed expectations and assertions.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Passes: []PassResult{},
		Rows:   []ir.MappedRecord{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
