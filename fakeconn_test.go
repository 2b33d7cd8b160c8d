package mssqlgrid

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// fakeConn answers the statements a panel issues against one in-memory table.
type fakeConn struct {
	mu      sync.Mutex
	columns []ColumnMetadata
	rows    [][]interface{}
	queries []string

	metaErr  error
	countErr error
	dataErr  error

	// blockNext makes the next count or data query wait for cancellation.
	blockNext bool
	blocked   chan struct{}
}

func newFakeConn(columns []ColumnMetadata, rows [][]interface{}) *fakeConn {
	return &fakeConn{columns: columns, rows: rows, blocked: make(chan struct{}, 1)}
}

// customers builds the three-column, n-row Customers fixture.
func customers(n int) *fakeConn {
	cols := []ColumnMetadata{
		{Name: "id", DataType: "int"},
		{Name: "name", DataType: "nvarchar", MaxLength: intPtr(100), IsNullable: true},
		{Name: "city", DataType: "nvarchar", MaxLength: intPtr(50), IsNullable: true},
	}
	cities := []string{"Berlin", "Paris", "Budapest"}
	rows := make([][]interface{}, n)
	for i := range rows {
		rows[i] = []interface{}{int64(i + 1), fmt.Sprintf("Customer %03d", i+1), cities[i%len(cities)]}
	}
	return newFakeConn(cols, rows)
}

func intPtr(n int) *int { return &n }

func (f *fakeConn) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

var (
	topRe    = regexp.MustCompile(`TOP \((\d+)\)`)
	offsetRe = regexp.MustCompile(`OFFSET (\d+) ROWS FETCH NEXT (\d+) ROWS ONLY`)
	likeRe   = regexp.MustCompile(`LIKE N'%(.*?)%'(?: OR|\))`)
	orderRe  = regexp.MustCompile(`ORDER BY \[([^\]]+)\](?: (ASC|DESC))?`)
	selectRe = regexp.MustCompile(`^SELECT (?:TOP \(\d+\) )?(.+?) FROM `)
	identRe  = regexp.MustCompile(`\[([^\]]+)\]`)
)

func (f *fakeConn) Query(ctx context.Context, sqlText string) (*RowSet, error) {
	f.mu.Lock()
	f.queries = append(f.queries, sqlText)
	block := false
	if !strings.Contains(sqlText, "INFORMATION_SCHEMA") && f.blockNext {
		f.blockNext = false
		block = true
	}
	f.mu.Unlock()

	if block {
		f.blocked <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(sqlText, "INFORMATION_SCHEMA.COLUMNS"):
		if f.metaErr != nil {
			return nil, f.metaErr
		}
		return f.metadata(), nil
	case strings.HasPrefix(sqlText, "SELECT COUNT(*)"):
		if f.countErr != nil {
			return nil, f.countErr
		}
		return &RowSet{Columns: []string{""}, Rows: [][]interface{}{{int64(len(f.filter(sqlText)))}}}, nil
	default:
		if f.dataErr != nil {
			return nil, f.dataErr
		}
		return f.data(sqlText)
	}
}

func (f *fakeConn) metadata() *RowSet {
	rs := &RowSet{Columns: []string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "CHARACTER_MAXIMUM_LENGTH", "COLUMN_DEFAULT"}}
	for _, c := range f.columns {
		nullable := "NO"
		if c.IsNullable {
			nullable = "YES"
		}
		var length interface{}
		if c.MaxLength != nil {
			length = int64(*c.MaxLength)
		}
		var def interface{}
		if c.DefaultValue != nil {
			def = *c.DefaultValue
		}
		rs.Rows = append(rs.Rows, []interface{}{c.Name, c.DataType, nullable, length, def})
	}
	return rs
}

func (f *fakeConn) columnIndex(name string) int {
	for i, c := range f.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// filter applies the search predicate, if any.
func (f *fakeConn) filter(sqlText string) [][]interface{} {
	if strings.Contains(sqlText, "(1 = 0)") {
		return nil
	}
	m := likeRe.FindStringSubmatch(sqlText)
	if m == nil {
		return f.rows
	}
	term := strings.NewReplacer("''", "'", "[[]", "[", "[%]", "%", "[_]", "_").Replace(m[1])
	term = strings.ToLower(term)
	var out [][]interface{}
	for _, r := range f.rows {
		for _, v := range r {
			if strings.Contains(strings.ToLower(FormatValue(v)), term) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func (f *fakeConn) data(sqlText string) (*RowSet, error) {
	rows := append([][]interface{}(nil), f.filter(sqlText)...)

	if m := orderRe.FindStringSubmatch(sqlText); m != nil {
		idx := f.columnIndex(m[1])
		if idx < 0 {
			return nil, fmt.Errorf("Invalid column name '%s'", m[1])
		}
		desc := m[2] == "DESC"
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := FormatValue(rows[i][idx]), FormatValue(rows[j][idx])
			if x, ok := rows[i][idx].(int64); ok {
				y := rows[j][idx].(int64)
				if desc {
					return x > y
				}
				return x < y
			}
			if desc {
				return a > b
			}
			return a < b
		})
	}

	offset, limit := 0, len(rows)
	if m := topRe.FindStringSubmatch(sqlText); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}
	if m := offsetRe.FindStringSubmatch(sqlText); m != nil {
		offset, _ = strconv.Atoi(m[1])
		limit, _ = strconv.Atoi(m[2])
	}
	if offset > len(rows) {
		offset = len(rows)
	}
	end := min(offset+limit, len(rows))
	rows = rows[offset:end]

	sel := selectRe.FindStringSubmatch(sqlText)
	if sel == nil {
		return nil, errors.New("unsupported statement")
	}
	idx := make([]int, 0, len(f.columns))
	names := make([]string, 0, len(f.columns))
	if sel[1] == "*" {
		for i, c := range f.columns {
			idx = append(idx, i)
			names = append(names, c.Name)
		}
	} else {
		for _, m := range identRe.FindAllStringSubmatch(sel[1], -1) {
			i := f.columnIndex(m[1])
			if i < 0 {
				return nil, fmt.Errorf("Invalid column name '%s'", m[1])
			}
			idx = append(idx, i)
			names = append(names, m[1])
		}
	}

	rs := &RowSet{Columns: names, Rows: make([][]interface{}, 0, len(rows))}
	for _, r := range rows {
		out := make([]interface{}, len(idx))
		for j, i := range idx {
			out[j] = r[i]
		}
		rs.Rows = append(rs.Rows, out)
	}
	return rs, nil
}
