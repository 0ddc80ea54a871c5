package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/mengxiangmengyuan/fabrik/internal/coerce"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
)

// affinity maps a field type to the SQLite column type.
func affinity(t coerce.Type) string {
	switch t {
	case coerce.TypeBool, coerce.TypeInt:
		return "INTEGER"
	case coerce.TypeNumber:
		return "REAL"
	default:
		return "TEXT"
	}
}

// textAffinity reports whether SQLite gives a column of the declared type
// TEXT affinity.
func textAffinity(ctype string) bool {
	return strings.Contains(ctype, "CHAR") || strings.Contains(ctype, "CLOB") || strings.Contains(ctype, "TEXT")
}

// quoteIdent quotes a validated identifier for use in SQL text.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EnsureTable creates the table for t if it does not exist and adds any
// declared field missing from an existing table. Columns are never dropped
// or retyped. An index on the foreign key column is created as well.
func (s *Store) EnsureTable(ctx context.Context, t *schema.Table) error {
	if t == nil {
		return fmt.Errorf("ensure table: nil table")
	}
	if !schema.ValidIdentifier(t.Name) || !schema.ValidIdentifier(t.PrimaryKey) {
		return fmt.Errorf("ensure table %q: invalid identifier", t.Name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", t.Name, err)
	}
	defer tx.Rollback()

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s INTEGER PRIMARY KEY AUTOINCREMENT",
		quoteIdent(t.Name), quoteIdent(t.PrimaryKey))
	for _, name := range t.FieldNames() {
		fmt.Fprintf(&b, ",\n\t%s %s", quoteIdent(name), affinity(t.Fields[name].Type))
	}
	b.WriteString("\n)")
	if _, err := tx.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("ensure table %s: create: %w", t.Name, err)
	}

	existing, _, err := tableColumns(ctx, tx, t.Name)
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", t.Name, err)
	}
	for _, name := range t.FieldNames() {
		if _, ok := existing[name]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			quoteIdent(t.Name), quoteIdent(name), affinity(t.Fields[name].Type))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table %s: add column %s: %w", t.Name, name, err)
		}
	}

	if t.ForeignKey != "" {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			quoteIdent("idx_"+t.Name+"_"+t.ForeignKey), quoteIdent(t.Name), quoteIdent(t.ForeignKey))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure table %s: index: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ensure table %s: commit: %w", t.Name, err)
	}
	return nil
}

// TableExists reports whether a table named name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("table exists: %w", err)
	}
	return n > 0, nil
}

// tableColumns returns the declared type of every column of a table and its
// primary key column, or an error when the table does not exist.
func tableColumns(ctx context.Context, q querier, table string) (map[string]string, string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, "", fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	pk := ""
	for rows.Next() {
		var (
			cid, notNull, pkPos int
			name, ctype         string
			dflt                any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pkPos); err != nil {
			return nil, "", fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = strings.ToUpper(ctype)
		if pkPos == 1 {
			pk = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("table info: %w", err)
	}
	if len(cols) == 0 {
		return nil, "", fmt.Errorf("no such table: %s", table)
	}
	return cols, pk, nil
}
