// Package mssqlgrid implements a paginated, searchable grid over SQL Server
// tables and views: SQL generation, query execution, view state, rendering
// and the per-object panel controllers that tie them together.
package mssqlgrid

import (
	"errors"
	"fmt"
	"strings"
)

// Grid defaults
const (
	DefaultPageSize      = 100
	DefaultMaxCellLength = 100
)

// PageSizes lists the page sizes a panel accepts.
var PageSizes = []int{50, 100, 200, 500}

var (
	ErrUnknownColumn    = errors.New("unknown column")
	ErrInvalidPageSize  = errors.New("invalid page size")
	ErrInvalidDirection = errors.New("invalid sort direction")
	ErrDisposed         = errors.New("panel disposed")
	ErrSuperseded       = errors.New("superseded by a newer request")
	ErrPanelNotFound    = errors.New("panel not found")
	ErrInvalidMessage   = errors.New("invalid panel message")
)

// ObjectKind distinguishes tables from views.
type ObjectKind string

const (
	KindTable ObjectKind = "table"
	KindView  ObjectKind = "view"
)

// TableRef identifies a schema-qualified table or view within a database.
type TableRef struct {
	Database string     `json:"database" yaml:"database"`
	Schema   string     `json:"schema" yaml:"schema"`
	Object   string     `json:"object" yaml:"object"`
	Kind     ObjectKind `json:"kind" yaml:"kind"`
}

// Key is the registry key of the panel browsing this object.
func (r TableRef) Key() string {
	return r.Database + "." + r.Schema + "." + r.Object
}

// String returns the same dotted form as Key.
func (r TableRef) String() string { return r.Key() }

// QualifiedName renders the three-part bracket-quoted object name.
func (r TableRef) QualifiedName() string {
	return QuoteIdent(r.Database) + "." + QuoteIdent(r.Schema) + "." + QuoteIdent(r.Object)
}

// ColumnMetadata describes one column of the browsed object, in ordinal order.
type ColumnMetadata struct {
	Name         string  `json:"name"`
	DataType     string  `json:"dataType"`
	MaxLength    *int    `json:"maxLength,omitempty"`
	IsNullable   bool    `json:"isNullable"`
	DefaultValue *string `json:"defaultValue,omitempty"`
}

// Searchable reports whether the column can take part in a LIKE predicate.
func (c ColumnMetadata) Searchable() bool {
	switch strings.ToLower(c.DataType) {
	case "image", "xml", "binary", "varbinary", "timestamp", "rowversion",
		"geography", "geometry", "hierarchyid", "sql_variant":
		return false
	}
	return true
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts asc/desc in any case; empty input yields "".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Toggle flips the direction.
func (d Direction) Toggle() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// OrderBy is a structured sort specification.
type OrderBy struct {
	Column    string    `json:"column"`
	Direction Direction `json:"direction"`
}

// ViewState is the query and display configuration of one panel.
type ViewState struct {
	SelectedColumns []string `json:"selectedColumns"`
	OrderBy         *OrderBy `json:"orderBy,omitempty"`
	CurrentPage     int      `json:"currentPage"`
	PageSize        int      `json:"pageSize"`
	SearchTerm      string   `json:"searchTerm"`
}

// Clone returns a deep copy.
func (s ViewState) Clone() ViewState {
	out := s
	out.SelectedColumns = append([]string(nil), s.SelectedColumns...)
	if s.OrderBy != nil {
		ob := *s.OrderBy
		out.OrderBy = &ob
	}
	return out
}

// Options are the initial or overriding view settings passed to Open and
// UpdateTarget. Zero values mean "keep what is there".
type Options struct {
	SelectedColumns []string `json:"selectedColumns,omitempty" yaml:"selected_columns"`
	OrderBy         *OrderBy `json:"orderBy,omitempty" yaml:"order_by"`
	PageSize        int      `json:"pageSize,omitempty" yaml:"page_size"`
	SearchTerm      string   `json:"searchTerm,omitempty" yaml:"search_term"`
}

// QueryResult is the outcome of one refresh.
type QueryResult struct {
	Columns              []string        `json:"columns"`
	Rows                 [][]interface{} `json:"rows"`
	TotalRowCount        int             `json:"totalRowCount"`
	ExecutedSQL          string          `json:"executedSql"`
	CountSQL             string          `json:"countSql"`
	ExecutionTimeSeconds float64         `json:"executionTimeSeconds"`
	Error                string          `json:"error,omitempty"`
}

// Failed reports whether the refresh ended in an executor error.
func (r QueryResult) Failed() bool { return r.Error != "" }

func validPageSize(n int) bool {
	for _, s := range PageSizes {
		if s == n {
			return true
		}
	}
	return false
}
