package sqlsource

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE events (
			event_id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			venue TEXT,
			price REAL
		);
		INSERT INTO events VALUES (1, 'Gig', 'Paradiso', 12.5);
		INSERT INTO events VALUES (2, 'Open Air', NULL, NULL);
		INSERT INTO events VALUES (3, 'Late Show', 'Paradiso', 20);
	`)
	require.NoError(t, err)
	return path
}

func openDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := New(ir.ServiceConfig{Driver: Name, Endpoint: ir.StringPtr(seedDB(t))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Ping(context.Background()))
	return d
}

func TestFetchTable(t *testing.T) {
	d := openDriver(t)
	records, err := d.Fetch(context.Background(), driver.FetchRequest{
		Method:         "events",
		ResultSelector: "event_id",
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, int64(1), records[0]["event_id"])
	assert.Equal(t, "Gig", records[0]["title"])
	assert.Equal(t, 12.5, records[0]["price"])
	assert.Nil(t, records[1]["venue"])
}

func TestFetchTableWithFilters(t *testing.T) {
	d := openDriver(t)
	records, err := d.Fetch(context.Background(), driver.FetchRequest{
		Method:         "events",
		Options:        map[string]any{"venue": "Paradiso"},
		ResultSelector: "event_id DESC",
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Late Show", records[0]["title"])

	records, err = d.Fetch(context.Background(), driver.FetchRequest{
		Method:  "events",
		Options: map[string]any{"venue": nil},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Open Air", records[0]["title"])
}

func TestFetchSelectStatement(t *testing.T) {
	d := openDriver(t)
	records, err := d.Fetch(context.Background(), driver.FetchRequest{
		Method:         "SELECT event_id AS id, upper(title) AS title, venue FROM events;",
		Options:        map[string]any{"venue": "Paradiso"},
		ResultSelector: "id",
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "GIG", records[0]["title"])
	assert.Equal(t, "LATE SHOW", records[1]["title"])
}

func TestFetchEmptyResult(t *testing.T) {
	d := openDriver(t)
	records, err := d.Fetch(context.Background(), driver.FetchRequest{
		Method:  "events",
		Options: map[string]any{"title": "nothing"},
	})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFetchRejectsBadInput(t *testing.T) {
	d := openDriver(t)
	tests := []struct {
		name string
		req  driver.FetchRequest
		want string
	}{
		{"statement", driver.FetchRequest{Method: "DELETE FROM events"}, "table name or a SELECT"},
		{"filter column", driver.FetchRequest{Method: "events", Options: map[string]any{"a;b": 1}}, "invalid filter column"},
		{"selector", driver.FetchRequest{Method: "events", ResultSelector: "title; DROP"}, "invalid result selector"},
		{"direction", driver.FetchRequest{Method: "events", ResultSelector: "title sideways"}, "invalid result selector"},
		{"missing table", driver.FetchRequest{Method: "nope"}, "no such table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Fetch(context.Background(), tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			var fe *driver.FetchError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestBuildQueryPostgresPlaceholders(t *testing.T) {
	d := &Driver{dialect: DialectPostgres}
	query, args, err := d.buildQuery(driver.FetchRequest{
		Method:         "events",
		Options:        map[string]any{"venue": "Paradiso", "city": "Amsterdam", "deleted_at": nil},
		ResultSelector: "event_id",
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM "events" WHERE "city" = $1 AND "deleted_at" IS NULL AND "venue" = $2 ORDER BY "event_id"`,
		query)
	assert.Equal(t, []any{"Amsterdam", "Paradiso"}, args)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(ir.ServiceConfig{Driver: Name})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")

	_, err = New(ir.ServiceConfig{Driver: Name, Endpoint: ir.StringPtr("x.db"), Options: map[string]any{"dialect": "oracle"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported dialect "oracle"`)
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{
		"sqlite3":    DialectSQLite,
		"SQLite":     DialectSQLite,
		"postgres":   DialectPostgres,
		"postgresql": DialectPostgres,
		"pgx":        DialectPgx,
	} {
		got, err := parseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
