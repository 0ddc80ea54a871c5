package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mengxiangmengyuan/fabrik/internal/compiler"
	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/engine"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
	"github.com/mengxiangmengyuan/fabrik/internal/store"
	"github.com/mengxiangmengyuan/fabrik/internal/testutil"
)

// Epoch is the first instant of the scenario clock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution engine.
// It runs passes with a static driver, deterministic clock and run ids.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	driver *testutil.StaticDriver
	def    ir.Definition
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Validate the definition
// 2. Create fresh in-memory database and seed the target table
// 3. Run every pass through the engine and check its expectations
// 4. Read the final table and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	if scenario.Definition == nil {
		def, err := LoadDefinitionFile(scenario.DefinitionFile)
		if err != nil {
			return nil, err
		}
		scenario.Definition = def
	}
	def := *scenario.Definition
	if err := compiler.Check(&def); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	// Create fresh in-memory SQLite database
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, def, scenario.Options)
	defer h.engine.Close()

	ctx := context.Background()

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	result := NewResult()
	for i, pass := range scenario.Passes {
		pr := h.runPass(ctx, pass)
		result.Passes = append(result.Passes, pr)
		for _, msg := range checkPass(i, pass.Expect, pr) {
			result.AddError(msg)
		}
	}

	rows, err := h.rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", def.Target.Table, err)
	}
	result.Rows = rows

	// Evaluate assertions against the final state
	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
		Table: def.Target.Table,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func newHarness(st *store.Store, def ir.Definition, opts Options) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	// The static driver stands in for whatever service the definition names.
	drv := testutil.NewStaticDriver()
	reg := driver.NewRegistry()
	reg.Register(driver.Normalize(def.Service).Driver, testutil.StaticFactory(drv))

	workers := opts.MapWorkers
	if workers == 0 {
		workers = 1
	}

	eng := engine.New(st,
		engine.WithLogger(logger),
		engine.WithCache(driver.NewCache(reg, driver.WithLogger(logger))),
		engine.WithRunIDGenerator(testutil.NewSequenceRunIDGenerator("run")),
		engine.WithClock(testutil.NewDeterministicClock(Epoch, time.Second)),
		engine.WithMapWorkers(workers),
		engine.WithDedupeBatch(opts.Dedupe),
		engine.WithContinueOnPersistError(opts.ContinueOnError),
	)

	return &Harness{store: st, engine: eng, driver: drv, def: def, logger: logger}
}

// seed creates the target table and inserts rows as given.
func (h *Harness) seed(ctx context.Context, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := schema.FromTarget(h.def.Target)
	if err != nil {
		return err
	}
	if err := h.store.EnsureTable(ctx, tbl); err != nil {
		return err
	}
	sink := h.store.Table(tbl.Name)
	for i, row := range rows {
		if _, err := sink.Upsert(ctx, ir.MappedRecord(row), 0); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}
	return nil
}

// runPass serves the pass records and runs one sync.
func (h *Harness) runPass(ctx context.Context, pass Pass) PassResult {
	records := make([]ir.Record, len(pass.Records))
	for i, r := range pass.Records {
		records[i] = ir.Record(r)
	}
	h.driver.SetRecords(records...)
	h.driver.Err = nil
	if pass.FetchError != "" {
		h.driver.Err = errors.New(pass.FetchError)
	}

	report, err := h.engine.Sync(ctx, h.def)

	pr := PassResult{Status: store.RunFailed}
	if report != nil {
		pr.RunID = report.RunID
		pr.Status = report.Status
		pr.Fetched = report.Fetched
		pr.Counts = report.Counts
		pr.RuleErrors = len(report.RuleErrors)
		pr.RecordErrors = len(report.RecordErrors)
	}
	if err != nil {
		pr.Status = store.RunFailed
		pr.ErrorCode = string(engine.ErrorCode(err))
		pr.Error = err.Error()
	}

	h.logger.Info("pass completed",
		"run", pr.RunID,
		"status", pr.Status,
		"fetched", pr.Fetched,
	)
	return pr
}

// rows returns the target table, or nothing when no pass created it.
func (h *Harness) rows(ctx context.Context) ([]ir.MappedRecord, error) {
	exists, err := h.store.TableExists(ctx, h.def.Target.Table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []ir.MappedRecord{}, nil
	}
	return h.store.Table(h.def.Target.Table).Rows(ctx)
}

// checkPass compares a pass outcome with its expect clause.
func checkPass(index int, want *PassExpect, got PassResult) []string {
	if want == nil {
		return nil
	}
	var errs []string
	if got.Status != want.Status {
		msg := fmt.Sprintf("pass %d: status = %s, expected %s", index+1, got.Status, want.Status)
		if got.Error != "" {
			msg += " (" + got.Error + ")"
		}
		errs = append(errs, msg)
	}
	if want.Counts != nil && got.Counts != *want.Counts {
		errs = append(errs, fmt.Sprintf("pass %d: counts = %+v, expected %+v", index+1, got.Counts, *want.Counts))
	}
	if want.RuleErrors != nil && got.RuleErrors != *want.RuleErrors {
		errs = append(errs, fmt.Sprintf("pass %d: rule errors = %d, expected %d", index+1, got.RuleErrors, *want.RuleErrors))
	}
	if want.ErrorCode != "" && got.ErrorCode != want.ErrorCode {
		errs = append(errs, fmt.Sprintf("pass %d: error code = %q, expected %q", index+1, got.ErrorCode, want.ErrorCode))
	}
	return errs
}
