package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/schema"
	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string            // Assertion type for categorization
	Expected string            // Human-readable expected outcome
	Actual   string            // Human-readable actual outcome
	Rows     []ir.MappedRecord // Final table for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Rows) > 0 {
		fmt.Fprintf(&buf, "\nTable rows:\n")
		for i, row := range e.Rows {
			line, err := ir.MarshalCanonical(row)
			if err != nil {
				fmt.Fprintf(&buf, "  [%d] %v\n", i+1, map[string]any(row))
				continue
			}
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}

	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Table string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if actx == nil || actx.Store == nil {
			err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
		} else {
			switch assertion.Type {
			case AssertRow:
				err = assertRow(actx, assertion, result.Rows)
			case AssertRowCount:
				err = assertRowCount(actx, assertion, result.Rows)
			case AssertRunCount:
				err = assertRunCount(actx, assertion)
			default:
				err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
			}
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertRow checks that exactly one row matches Where and holds the
// Expect values (subset semantics).
//
// Table and column names are validated before they are interpolated; values
// are always bound as parameters.
func assertRow(actx *AssertionContext, assertion Assertion, all []ir.MappedRecord) error {
	rows, err := queryRows(actx, assertion.Where)
	if err != nil {
		return err
	}

	whereDesc := formatWhereClause(assertion.Where)
	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("row in %s where %s", actx.Table, whereDesc),
			Actual:   "row not found",
			Rows:     all,
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("exactly one row in %s where %s", actx.Table, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(rows)),
			Rows:     all,
		}
	}

	actualRow := rows[0]
	for _, key := range ir.SortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("columns are %v", ir.SortedKeys(actualRow)),
				Rows:     all,
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actualValue, actualValue),
				Rows:     all,
			}
		}
	}

	return nil
}

// assertRowCount checks how many rows match Where.
func assertRowCount(actx *AssertionContext, assertion Assertion, all []ir.MappedRecord) error {
	rows, err := queryRows(actx, assertion.Where)
	if err != nil {
		return err
	}
	if len(rows) != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, actx.Table, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
			Rows:     all,
		}
	}
	return nil
}

// assertRunCount checks the run history.
func assertRunCount(actx *AssertionContext, assertion Assertion) error {
	runs, err := actx.Store.ListRuns(actx.Ctx, store.RunQuery{})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	count := 0
	for _, r := range runs {
		if assertion.Status == "" || r.Status == assertion.Status {
			count++
		}
	}
	if count != assertion.Count {
		what := "runs"
		if assertion.Status != "" {
			what = fmt.Sprintf("%s runs", assertion.Status)
		}
		return &AssertionError{
			Type:     AssertRunCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
		}
	}
	return nil
}

// queryRows selects the rows of the target table matching where. A missing
// table has no rows.
func queryRows(actx *AssertionContext, where map[string]any) ([]map[string]any, error) {
	if !schema.ValidIdentifier(actx.Table) {
		return nil, fmt.Errorf("invalid table name %q", actx.Table)
	}
	exists, err := actx.Store.TableExists(actx.Ctx, actx.Table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %q", actx.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := actx.Store.Query(actx.Ctx, query, whereArgs...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", actx.Table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// A nil value matches NULL.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	// Sort keys for deterministic query generation
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		// Validate column name to prevent SQL injection
		if !schema.ValidIdentifier(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause", key)
		}
		if where[key] == nil {
			clauses = append(clauses, fmt.Sprintf("%q IS NULL", key))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%q = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64:
		return val
	case bool:
		// Booleans are stored as integers
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		// For other types, convert to string
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from the table.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual any) bool {
	// Handle nil cases
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case float64:
		switch a := actual.(type) {
		case float64:
			return exp == a
		case int64:
			return exp == float64(a)
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	// Fallback to DeepEqual for complex types
	return reflect.DeepEqual(expected, actual)
}
