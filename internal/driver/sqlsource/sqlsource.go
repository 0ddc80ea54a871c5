// Package sqlsource implements the "sql" driver, which reads records from a
// database/sql source.
//
// The endpoint is the data source name and the "dialect" option picks the
// database/sql driver: sqlite3 (default), postgres or pgx. A fetch method is
// either a table name, read with its fetch options as equality filters, or a
// SELECT statement, whose result is filtered the same way.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
)

// Name is the registered driver name.
const Name = "sql"

// Dialect names a database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
	DialectPgx      Dialect = "pgx"
)

func parseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case DialectSQLite, DialectPostgres, DialectPgx:
		return d, nil
	case "sqlite":
		return DialectSQLite, nil
	case "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", s)
	}
}

// placeholder returns the bind marker for the n-th argument (1-based).
func (d Dialect) placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Driver is an open database handle.
type Driver struct {
	db      *sql.DB
	dialect Dialect
}

// New opens the database named by the service endpoint.
func New(cfg ir.ServiceConfig) (*Driver, error) {
	dsn := cfg.EndpointValue()
	if dsn == "" {
		return nil, fmt.Errorf("endpoint (data source name) is required")
	}
	dialect, err := parseDialect(driver.StringOption(cfg, string(DialectSQLite), "dialect"))
	if err != nil {
		return nil, err
	}
	maxOpen, err := driver.IntOption(cfg, "max_open_conns", 4)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(maxOpen, 2))
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Driver{db: db, dialect: dialect}, nil
}

// Close releases the database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}

// Ping checks that the database is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Fetch runs the query described by req and returns one record per row.
func (d *Driver) Fetch(ctx context.Context, req driver.FetchRequest) ([]ir.Record, error) {
	query, args, err := d.buildQuery(req)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	records, err := d.query(ctx, query, args)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	return records, nil
}

func (d *Driver) buildQuery(req driver.FetchRequest) (string, []any, error) {
	method := strings.TrimSpace(req.Method)
	var b strings.Builder
	switch {
	case isSelect(method):
		b.WriteString("SELECT * FROM (")
		b.WriteString(strings.TrimSuffix(method, ";"))
		b.WriteString(") AS src")
	case schema.ValidIdentifier(method):
		b.WriteString("SELECT * FROM ")
		b.WriteString(quoteIdent(method))
	default:
		return "", nil, fmt.Errorf("method must be a table name or a SELECT statement")
	}

	var args []any
	for i, col := range ir.SortedKeys(req.Options) {
		if !schema.ValidIdentifier(col) {
			return "", nil, fmt.Errorf("invalid filter column %q", col)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		v := req.Options[col]
		if v == nil {
			b.WriteString(quoteIdent(col) + " IS NULL")
			continue
		}
		args = append(args, filterArg(v))
		b.WriteString(quoteIdent(col) + " = " + d.dialect.placeholder(len(args)))
	}

	if sel := strings.TrimSpace(req.ResultSelector); sel != "" {
		col, dir, _ := strings.Cut(sel, " ")
		if !schema.ValidIdentifier(col) {
			return "", nil, fmt.Errorf("invalid result selector %q", sel)
		}
		b.WriteString(" ORDER BY " + quoteIdent(col))
		switch strings.ToUpper(strings.TrimSpace(dir)) {
		case "":
		case "ASC":
			b.WriteString(" ASC")
		case "DESC":
			b.WriteString(" DESC")
		default:
			return "", nil, fmt.Errorf("invalid result selector %q", sel)
		}
	}
	return b.String(), args, nil
}

func (d *Driver) query(ctx context.Context, query string, args []any) ([]ir.Record, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	records := []ir.Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make(ir.Record, len(cols))
		for i, col := range cols {
			rec[col] = columnValue(values[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// columnValue normalises driver values to the JSON-like shapes the mapper
// works with.
func columnValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case int32:
		return int64(val)
	default:
		return val
	}
}

func filterArg(v any) any {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return v
	default:
		return ir.FormatScalar(v)
	}
}

func isSelect(s string) bool {
	return len(s) > 6 && strings.EqualFold(s[:6], "select") && (s[6] == ' ' || s[6] == '\n' || s[6] == '\t')
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
