// Package reconcile merges mapped records into a local store.
//
// Each record is classified against a foreign-key index loaded once before
// the batch starts: a match is an update of the existing row, anything else
// is an insert. Values are coerced to the local field types on the way.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
)

// Sink stores reconciled records.
type Sink interface {
	// LoadExistingIndex returns foreign key -> primary key for every row
	// whose foreign key is non-empty.
	LoadExistingIndex(ctx context.Context, fkField string) (ir.Index, error)

	// Upsert inserts rec when pk is 0 and updates row pk otherwise. It
	// returns the primary key of the stored row.
	Upsert(ctx context.Context, rec ir.MappedRecord, pk int64) (int64, error)
}

// Schema resolves local field types. Fields it does not know pass through
// uncoerced.
type Schema interface {
	Lookup(name string) (schema.Field, bool)
}

// Options configures one reconcile pass.
type Options struct {
	ForeignKey  string
	PrimaryKey  string
	AllowUpdate bool

	// DedupeBatch makes a repeated foreign key within one batch update the
	// row inserted earlier in the same batch instead of inserting again.
	DedupeBatch bool

	// ContinueOnPersistError keeps going after a sink failure. The failed
	// record is reported and not counted.
	ContinueOnPersistError bool

	Logger *slog.Logger
}

// Result is the outcome of a reconcile pass.
type Result struct {
	Counts ir.Counts
	Errors []error
}

// Run loads the existing index from sink once and reconciles mapped.
func Run(ctx context.Context, mapped []ir.MappedRecord, opts Options, sch Schema, sink Sink) (Result, error) {
	index, err := sink.LoadExistingIndex(ctx, opts.ForeignKey)
	if err != nil {
		return Result{}, fmt.Errorf("load existing index: %w", err)
	}
	return Reconcile(ctx, mapped, opts, index, sch, sink)
}

// Reconcile classifies and stores each record. index is a snapshot and is
// never refreshed during the pass. On an aborting error the counts gathered
// so far are returned with it.
func Reconcile(ctx context.Context, mapped []ir.MappedRecord, opts Options, index ir.Index, sch Schema, sink Sink) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pkField := opts.PrimaryKey
	if pkField == "" {
		pkField = ir.DefaultPrimaryKey
	}

	var res Result
	var inserted map[string]int64
	if opts.DedupeBatch {
		inserted = make(map[string]int64)
	}

	for i, in := range mapped {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, field, err := coerceRecord(in, sch)
		if err != nil {
			res.Counts.Failed++
			res.Errors = append(res.Errors, &RecordError{Index: i, Field: field, Err: err})
			logger.Debug("record skipped", "index", i, "field", field, "error", err)
			continue
		}

		fk := ""
		if v, ok := rec[opts.ForeignKey]; ok {
			fk = ir.FormatScalar(v)
		}
		pk, found := index.Lookup(fk)
		if !found && inserted != nil {
			pk, found = inserted[fk]
		}

		if found && !opts.AllowUpdate {
			res.Counts.Skipped++
			continue
		}

		if found {
			rec[pkField] = pk
		} else {
			pk = 0
			delete(rec, pkField)
		}

		id, err := sink.Upsert(ctx, rec, pk)
		if err != nil {
			perr := &PersistError{Index: i, PK: pk, Err: err}
			if !opts.ContinueOnPersistError {
				return res, perr
			}
			res.Errors = append(res.Errors, perr)
			logger.Warn("record not stored", "index", i, "error", err)
			continue
		}

		if found {
			res.Counts.Updated++
		} else {
			res.Counts.Added++
			if inserted != nil && fk != "" {
				inserted[fk] = id
			}
		}
	}

	logger.Debug("reconciled",
		"added", res.Counts.Added,
		"updated", res.Counts.Updated,
		"skipped", res.Counts.Skipped,
		"failed", res.Counts.Failed)
	return res, nil
}

// coerceRecord returns a copy of in with every known field converted. The
// first failing field, in canonical order, is reported.
func coerceRecord(in ir.MappedRecord, sch Schema) (ir.MappedRecord, string, error) {
	out := in.Clone()
	if sch == nil {
		return out, "", nil
	}
	for _, name := range ir.SortedKeys(in) {
		f, ok := sch.Lookup(name)
		if !ok {
			continue
		}
		v, err := f.FromExternalFormat(in[name])
		if err != nil {
			return nil, name, err
		}
		out[name] = v
	}
	return out, "", nil
}
