package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// RunStatus summarises the outcome of a sync run.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Run is one row of sync history.
type Run struct {
	ID               string    `json:"id"`
	Definition       string    `json:"definition"`
	DefinitionHash   string    `json:"definition_hash"`
	ServiceSignature string    `json:"service_signature"`
	Table            string    `json:"table"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Fetched          int       `json:"fetched"`
	Counts           ir.Counts `json:"counts"`
	Status           RunStatus `json:"status"`
	Error            string    `json:"error,omitempty"`
}

// RunQuery filters ListRuns. Zero values mean no filter and no limit.
type RunQuery struct {
	Definition string
	Limit      int
}

// RecordRun appends a run to the history.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("record run: empty id")
	}
	if run.Status == "" {
		run.Status = RunOK
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs
		(id, definition, definition_hash, service_signature, target_table, started_at, finished_at,
		 fetched, added, updated, skipped, failed, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Definition,
		run.DefinitionHash,
		run.ServiceSignature,
		run.Table,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Fetched,
		run.Counts.Added,
		run.Counts.Updated,
		run.Counts.Skipped,
		run.Counts.Failed,
		string(run.Status),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first. Ties on start time are broken by id
// so the order is stable.
func (s *Store) ListRuns(ctx context.Context, q RunQuery) ([]Run, error) {
	query := `
		SELECT id, definition, definition_hash, service_signature, target_table, started_at, finished_at,
		       fetched, added, updated, skipped, failed, status, error
		FROM sync_runs`
	var args []any
	if q.Definition != "" {
		query += " WHERE definition = ?"
		args = append(args, q.Definition)
	}
	query += " ORDER BY started_at DESC, id COLLATE BINARY DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			status            string
		)
		if err := rows.Scan(&r.ID, &r.Definition, &r.DefinitionHash, &r.ServiceSignature, &r.Table,
			&started, &finished, &r.Fetched,
			&r.Counts.Added, &r.Counts.Updated, &r.Counts.Skipped, &r.Counts.Failed,
			&status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Timestamps are stored as fixed-width UTC text so that lexical order in
// SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
