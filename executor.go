package mssqlgrid

import (
	"context"
	"fmt"
	"time"
)

// RowSet is a tabular result whose column set is only known after the
// statement ran. Row values line up with Columns.
type RowSet struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Value returns the value of column name in row i.
func (rs *RowSet) Value(i int, name string) (interface{}, bool) {
	for j, c := range rs.Columns {
		if c == name {
			return rs.Rows[i][j], true
		}
	}
	return nil, false
}

// Records converts the rows to column-keyed maps.
func (rs *RowSet) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, rs.Len())
	if rs == nil {
		return out
	}
	for _, r := range rs.Rows {
		rec := make(map[string]interface{}, len(rs.Columns))
		for j, c := range rs.Columns {
			rec[c] = r[j]
		}
		out = append(out, rec)
	}
	return out
}

// Conn is the externally owned, already authenticated connection handle.
// Implementations must honour ctx cancellation.
type Conn interface {
	Query(ctx context.Context, sqlText string) (*RowSet, error)
}

// Execution is the normalized outcome of one statement.
type Execution struct {
	SQL      string
	Rows     *RowSet
	Duration time.Duration
}

// Seconds returns the elapsed time in seconds.
func (e *Execution) Seconds() float64 { return e.Duration.Seconds() }

// DurationMS returns the elapsed time in milliseconds.
func (e *Execution) DurationMS() int64 { return e.Duration.Milliseconds() }

// RowCount returns the number of rows returned.
func (e *Execution) RowCount() int { return e.Rows.Len() }

// Execute runs sqlText on conn and times it.
func Execute(ctx context.Context, conn Conn, sqlText string) (*Execution, error) {
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	start := time.Now()
	rs, err := conn.Query(ctx, sqlText)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	if rs == nil {
		rs = &RowSet{}
	}
	return &Execution{SQL: sqlText, Rows: rs, Duration: elapsed}, nil
}

// countValue extracts COUNT(*) from the first cell of a count query result.
func countValue(rs *RowSet) (int, error) {
	if rs.Len() == 0 || len(rs.Rows[0]) == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	switch v := rs.Rows[0][0].(type) {
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case []byte:
		var n int
		if _, err := fmt.Sscanf(string(v), "%d", &n); err != nil {
			return 0, fmt.Errorf("parsing count %q: %w", v, err)
		}
		return n, nil
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, fmt.Errorf("parsing count %q: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
