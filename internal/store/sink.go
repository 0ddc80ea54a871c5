package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TableSink stores reconciled records in one table. Its column set is read
// from the database on first use; record fields with no matching column
// are dropped.
type TableSink struct {
	db   *sql.DB
	name string

	mu   sync.Mutex
	cols map[string]string // column name to declared type
	pk   string
}

// Table returns a sink for the named table. The table must exist by the
// time the sink is first used (see EnsureTable).
func (s *Store) Table(name string) *TableSink {
	return &TableSink{db: s.db, name: name}
}

// Name returns the table name.
func (t *TableSink) Name() string {
	return t.name
}

// load reads the column set once it is available; failures are not
// cached so a sink created before EnsureTable still works afterwards.
func (t *TableSink) load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cols != nil {
		return nil
	}
	if !schema.ValidIdentifier(t.name) {
		return fmt.Errorf("invalid table name %q", t.name)
	}
	cols, pk, err := tableColumns(ctx, t.db, t.name)
	if err != nil {
		return err
	}
	if pk == "" {
		return fmt.Errorf("table %s has no primary key", t.name)
	}
	t.cols, t.pk = cols, pk
	return nil
}

// LoadExistingIndex maps every non-empty foreign key value to its primary
// key. When several rows share a foreign key the highest primary key wins.
func (t *TableSink) LoadExistingIndex(ctx context.Context, fkField string) (ir.Index, error) {
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	if _, ok := t.cols[fkField]; fkField == "" || !ok {
		return ir.Index{}, nil
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL ORDER BY %s ASC",
		quoteIdent(t.pk), quoteIdent(fkField), quoteIdent(t.name), quoteIdent(fkField), quoteIdent(t.pk))
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	idx := make(ir.Index)
	for rows.Next() {
		var pk int64
		var fk any
		if err := rows.Scan(&pk, &fk); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if key := ir.FormatScalar(unmarshalValue(fk)); key != "" {
			idx[key] = pk
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return idx, nil
}

// Upsert inserts rec when pk is 0, otherwise updates row pk. The primary
// key of the stored row is returned.
func (t *TableSink) Upsert(ctx context.Context, rec ir.MappedRecord, pk int64) (int64, error) {
	if err := t.load(ctx); err != nil {
		return 0, err
	}

	cols := make([]string, 0, len(rec))
	for _, k := range ir.SortedKeys(rec) {
		if _, ok := t.cols[k]; ok && k != t.pk {
			cols = append(cols, k)
		}
	}
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		raw := rec[c]
		if textAffinity(t.cols[c]) {
			raw = textValue(raw)
		}
		v, err := marshalValue(raw)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", c, err)
		}
		args = append(args, v)
	}

	if pk == 0 {
		return t.insert(ctx, cols, args)
	}
	return pk, t.update(ctx, pk, cols, args)
}

func (t *TableSink) insert(ctx context.Context, cols []string, args []any) (int64, error) {
	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteIdent(t.name))
	} else {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(t.name), strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	}

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.name, err)
	}
	return id, nil
}

func (t *TableSink) update(ctx context.Context, pk int64, cols []string, args []any) error {
	if len(cols) == 0 {
		return t.mustExist(ctx, pk)
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(t.name), strings.Join(sets, ", "), quoteIdent(t.pk))

	res, err := t.db.ExecContext(ctx, query, append(slices.Clone(args), pk)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: row %d not found", t.name, pk)
	}
	return nil
}

func (t *TableSink) mustExist(ctx context.Context, pk int64) error {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", quoteIdent(t.name), quoteIdent(t.pk))
	if err := t.db.QueryRowContext(ctx, query, pk).Scan(&n); err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: row %d not found", t.name, pk)
	}
	return nil
}

// Rows returns every row of the table ordered by primary key.
func (t *TableSink) Rows(ctx context.Context) ([]ir.MappedRecord, error) {
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s ORDER BY %s ASC", quoteIdent(t.name), quoteIdent(t.pk)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.name, err)
	}
	out := []ir.MappedRecord{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		rec := make(ir.MappedRecord, len(cols))
		for i, c := range cols {
			rec[c] = unmarshalValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", t.name, err)
	}
	return out, nil
}
