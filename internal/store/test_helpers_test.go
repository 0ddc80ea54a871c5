package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createEventsTable builds and creates the events table used by most tests.
func createEventsTable(t *testing.T, s *Store) *schema.Table {
	t.Helper()
	tbl, err := schema.FromTarget(ir.TargetSpec{
		Table:      "events",
		ForeignKey: "fk",
		Fields: map[string]string{
			"fk":      "text",
			"name":    "text",
			"start":   "date",
			"price":   "number",
			"seats":   "int",
			"soldout": "bool",
		},
	})
	if err != nil {
		t.Fatalf("FromTarget() failed: %v", err)
	}
	if err := s.EnsureTable(t.Context(), tbl); err != nil {
		t.Fatalf("EnsureTable() failed: %v", err)
	}
	return tbl
}

// columnTypes returns the declared type of every column of table.
func columnTypes(t *testing.T, s *Store, table string) map[string]string {
	t.Helper()
	cols, _, err := tableColumns(t.Context(), s.db, table)
	if err != nil {
		t.Fatalf("tableColumns(%s) failed: %v", table, err)
	}
	return cols
}

func pragmaValue(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func indexNames(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
	if err != nil {
		t.Fatalf("list indexes: %v", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index: %v", err)
		}
		names[name] = true
	}
	return names
}
