package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mengxiangmengyuan/fabrik/internal/coerce"
	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/expr"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/mapper"
	"github.com/mengxiangmengyuan/fabrik/internal/reconcile"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

// RunIDGenerator generates unique run ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type RunIDGenerator interface {
	Generate() string
}

// SinkFactory prepares the sink for a target table.
type SinkFactory func(ctx context.Context, t *schema.Table) (reconcile.Sink, error)

// Engine runs definitions against a driver cache and a local store.
//
// Thread-safety: Sync and Preview may be called concurrently; the driver
// cache serialises construction and the store serialises writes.
type Engine struct {
	store   *store.Store
	cache   *driver.Cache
	runIDs  RunIDGenerator
	clock   Clock
	logger  *slog.Logger
	sinkFor SinkFactory

	mapWorkers             int
	maxSteps               int
	dedupeBatch            bool
	continueOnPersistError bool
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCache sets the driver cache. Default: a cache over the default
// driver registry.
func WithCache(c *driver.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithRunIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithClock sets the clock used for run timestamps.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithMapWorkers maps up to n records in parallel.
func WithMapWorkers(n int) Option {
	return func(e *Engine) {
		e.mapWorkers = n
	}
}

// WithMaxSteps sets the evaluation step budget of expression rules.
// Default: expr.DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithSinkFactory replaces the store-backed sink. Run history is still
// recorded when a store is configured.
func WithSinkFactory(f SinkFactory) Option {
	return func(e *Engine) {
		e.sinkFor = f
	}
}

// WithDedupeBatch makes repeated foreign keys within one batch update the
// row inserted earlier in the batch.
func WithDedupeBatch(on bool) Option {
	return func(e *Engine) {
		e.dedupeBatch = on
	}
}

// WithContinueOnPersistError keeps a run going after a write failure.
func WithContinueOnPersistError(on bool) Option {
	return func(e *Engine) {
		e.continueOnPersistError = on
	}
}

// New creates an Engine. s may be nil when a sink factory is supplied and
// no run history is wanted.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		runIDs:   UUIDv7Generator{},
		clock:    SystemClock{},
		maxSteps: expr.DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.cache == nil {
		e.cache = driver.NewCache(driver.DefaultRegistry(), driver.WithLogger(e.logger))
	}
	if e.sinkFor == nil && s != nil {
		e.sinkFor = storeSink(s)
	}
	return e
}

// Cache returns the engine's driver cache.
func (e *Engine) Cache() *driver.Cache {
	return e.cache
}

// Close releases every cached driver.
func (e *Engine) Close() error {
	e.cache.Reset()
	return nil
}

func storeSink(s *store.Store) SinkFactory {
	return func(ctx context.Context, t *schema.Table) (reconcile.Sink, error) {
		if err := s.EnsureTable(ctx, t); err != nil {
			return nil, err
		}
		return s.Table(t.Name), nil
	}
}

// Report is the outcome of one run.
type Report struct {
	RunID            string          `json:"run_id"`
	Definition       string          `json:"definition"`
	DefinitionHash   string          `json:"definition_hash"`
	ServiceSignature string          `json:"service_signature"`
	Table            string          `json:"table"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Fetched          int             `json:"fetched"`
	Counts           ir.Counts       `json:"counts"`
	Status           store.RunStatus `json:"status"`

	// RuleErrors are expression failures; the affected fields were left
	// unset.
	RuleErrors []error `json:"-"`

	// RecordErrors are records that were not stored.
	RecordErrors []error `json:"-"`
}

// Preview is the mapped output of a definition, without any writes.
type Preview struct {
	Definition string            `json:"definition"`
	Fetched    int               `json:"fetched"`
	Records    []ir.MappedRecord `json:"records"`
	RuleErrors []error           `json:"-"`
}

// prepared holds everything resolved before records are fetched.
type prepared struct {
	table     *schema.Table
	mapper    *mapper.Mapper
	driver    driver.Driver
	request   driver.FetchRequest
	signature string
	hash      string
}

func (e *Engine) prepare(def ir.Definition) (*prepared, error) {
	tbl, err := schema.FromTarget(def.Target)
	if err != nil {
		return nil, newSyncError(ErrCodeDefinition, def.Name, "", fmt.Errorf("target: %w", err))
	}

	m := mapper.New(def.Rules,
		mapper.WithConcurrency(e.mapWorkers),
		mapper.WithExprOptions(expr.WithMaxSteps(e.maxSteps)))
	if errs := m.CompileErrors(); len(errs) > 0 {
		return nil, newSyncError(ErrCodeDefinition, def.Name, "", errs[0])
	}

	req, err := fetchRequest(def.Fetch)
	if err != nil {
		return nil, newSyncError(ErrCodeDefinition, def.Name, "", err)
	}

	hash, err := ir.DefinitionHash(def)
	if err != nil {
		return nil, newSyncError(ErrCodeDefinition, def.Name, "", err)
	}
	sig, err := driver.Key(def.Service)
	if err != nil {
		return nil, newSyncError(ErrCodeDefinition, def.Name, "", err)
	}

	drv, err := e.cache.GetOrCreate(def.Service)
	if err != nil {
		return nil, newSyncError(ErrCodeDriver, def.Name, "", err)
	}

	return &prepared{table: tbl, mapper: m, driver: drv, request: req, signature: sig, hash: hash}, nil
}

// fetchRequest builds the driver request, coercing options that declare a
// type.
func fetchRequest(f ir.FetchSpec) (driver.FetchRequest, error) {
	opts := make(map[string]any, len(f.Options))
	for k, v := range f.Options {
		opts[k] = v
	}
	for _, k := range ir.SortedKeys(f.OptionTypes) {
		typ, err := coerce.ParseType(f.OptionTypes[k])
		if err != nil {
			return driver.FetchRequest{}, fmt.Errorf("fetch option %s: %w", k, err)
		}
		raw, ok := opts[k]
		if !ok {
			continue
		}
		v, err := coerce.Value(raw, typ)
		if err != nil {
			return driver.FetchRequest{}, fmt.Errorf("fetch option %s: %w", k, err)
		}
		opts[k] = v
	}
	return driver.FetchRequest{
		Method:         f.Method,
		Options:        opts,
		StartPoint:     f.StartPoint,
		ResultSelector: f.Result,
	}, nil
}

func (e *Engine) fetchAndMap(ctx context.Context, def ir.Definition, p *prepared) (int, []ir.MappedRecord, []error, error) {
	records, err := p.driver.Fetch(ctx, p.request)
	if err != nil {
		return 0, nil, nil, newSyncError(classify(ErrCodeFetch, err), def.Name, "", driver.NewFetchError(driver.Normalize(def.Service).Driver, p.request.Method, err))
	}
	mapped, ruleErrs := p.mapper.MapBatch(records)
	for _, re := range ruleErrs {
		e.logger.Warn("rule failed", "definition", def.Name, "error", re)
	}
	return len(records), mapped, ruleErrs, nil
}

// Preview fetches and maps without touching the store.
func (e *Engine) Preview(ctx context.Context, def ir.Definition) (*Preview, error) {
	p, err := e.prepare(def)
	if err != nil {
		return nil, err
	}
	fetched, mapped, ruleErrs, err := e.fetchAndMap(ctx, def, p)
	if err != nil {
		return nil, err
	}
	return &Preview{Definition: def.Name, Fetched: fetched, Records: mapped, RuleErrors: ruleErrs}, nil
}

// Sync runs def to completion and records the run. On failure after the
// run has started, the partial report is returned with the error.
func (e *Engine) Sync(ctx context.Context, def ir.Definition) (*Report, error) {
	if e.sinkFor == nil {
		return nil, newSyncError(ErrCodeStore, def.Name, "", fmt.Errorf("no store configured"))
	}
	p, err := e.prepare(def)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:            e.runIDs.Generate(),
		Definition:       def.Name,
		DefinitionHash:   p.hash,
		ServiceSignature: p.signature,
		Table:            p.table.Name,
		StartedAt:        e.clock.Now(),
	}
	logger := e.logger.With("definition", def.Name, "run", report.RunID)
	logger.Info("sync started", "driver", driver.Normalize(def.Service).Driver, "table", p.table.Name)

	runErr := e.run(ctx, def, p, report, logger)

	report.FinishedAt = e.clock.Now()
	switch {
	case runErr != nil:
		report.Status = store.RunFailed
	case len(report.RecordErrors) > 0:
		report.Status = store.RunPartial
	default:
		report.Status = store.RunOK
	}

	if err := e.recordRun(ctx, report, runErr); err != nil {
		if runErr == nil {
			return report, newSyncError(ErrCodeStore, def.Name, report.RunID, err)
		}
		logger.Error("record run failed", "error", err)
	}

	if runErr != nil {
		var se *SyncError
		if errors.As(runErr, &se) {
			se.RunID = report.RunID
		}
		logger.Error("sync failed", "error", runErr)
		return report, runErr
	}

	logger.Info("sync finished",
		"fetched", report.Fetched,
		"added", report.Counts.Added,
		"updated", report.Counts.Updated,
		"skipped", report.Counts.Skipped,
		"failed", report.Counts.Failed)
	return report, nil
}

func (e *Engine) run(ctx context.Context, def ir.Definition, p *prepared, report *Report, logger *slog.Logger) error {
	fetched, mapped, ruleErrs, err := e.fetchAndMap(ctx, def, p)
	if err != nil {
		return err
	}
	report.Fetched = fetched
	report.RuleErrors = ruleErrs

	sink, err := e.sinkFor(ctx, p.table)
	if err != nil {
		return newSyncError(classify(ErrCodeStore, err), def.Name, "", fmt.Errorf("prepare table %s: %w", p.table.Name, err))
	}

	res, err := reconcile.Run(ctx, mapped, reconcile.Options{
		ForeignKey:             p.table.ForeignKey,
		PrimaryKey:             p.table.PrimaryKey,
		AllowUpdate:            def.Target.AllowUpdate,
		DedupeBatch:            e.dedupeBatch,
		ContinueOnPersistError: e.continueOnPersistError,
		Logger:                 logger,
	}, p.table, sink)
	report.Counts = res.Counts
	report.RecordErrors = res.Errors
	for _, re := range res.Errors {
		logger.Warn("record not stored", "error", re)
	}
	if err != nil {
		return newSyncError(classify(ErrCodeStore, err), def.Name, "", err)
	}
	return nil
}

func (e *Engine) recordRun(ctx context.Context, r *Report, runErr error) error {
	if e.store == nil {
		return nil
	}
	run := store.Run{
		ID:               r.RunID,
		Definition:       r.Definition,
		DefinitionHash:   r.DefinitionHash,
		ServiceSignature: r.ServiceSignature,
		Table:            r.Table,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		Fetched:          r.Fetched,
		Counts:           r.Counts,
		Status:           r.Status,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// History survives a cancelled run.
	return e.store.RecordRun(context.WithoutCancel(ctx), run)
}
