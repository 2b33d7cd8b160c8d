package mssqlgrid

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// defaultOrderConstant orders by nothing in particular; OFFSET/FETCH still
// requires an ORDER BY clause.
const defaultOrderConstant = "(SELECT NULL)"

// QueryPlan is the input of the SQL Text Builder.
type QueryPlan struct {
	Table TableRef
	// Columns to select; empty selects all.
	Columns []string
	// SearchColumns take part in the search predicate. Nil falls back to
	// Columns.
	SearchColumns []string
	SearchTerm    string
	OrderBy       *OrderBy
	Page          int
	PageSize      int
}

// Statements is the output of the SQL Text Builder. Count and Data share the
// same predicate text.
type Statements struct {
	Count     string
	Data      string
	Predicate string
	Offset    int
	Limit     int
}

// QuoteIdent wraps an identifier in brackets, doubling embedded closing
// brackets.
func QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QuoteLiteral renders a Unicode string literal with quotes doubled.
func QuoteLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// likeEscaper turns LIKE wildcards into bracket classes so the term matches
// literally.
var likeEscaper = strings.NewReplacer("[", "[[]", "%", "[%]", "_", "[_]")

// SearchPredicate builds (col LIKE '%term%' OR ...) over columns. An empty
// term yields "". A term with no searchable columns matches nothing.
func SearchPredicate(columns []string, term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return ""
	}
	if len(columns) == 0 {
		return "(1 = 0)"
	}
	pattern := QuoteLiteral("%" + likeEscaper.Replace(term) + "%")
	conds := make([]string, len(columns))
	for i, c := range columns {
		conds[i] = fmt.Sprintf("%s LIKE %s", QuoteIdent(c), pattern)
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

// orderClause renders the ORDER BY expression. Without an explicit order the
// first column is used so that paging stays deterministic.
func orderClause(ob *OrderBy, columns []string) string {
	if ob != nil && ob.Column != "" {
		dir := "ASC"
		if ob.Direction == Desc {
			dir = "DESC"
		}
		return QuoteIdent(ob.Column) + " " + dir
	}
	if len(columns) > 0 {
		return QuoteIdent(columns[0])
	}
	return defaultOrderConstant
}

// BuildStatements renders the count and data statements for plan.
func BuildStatements(p QueryPlan) (Statements, error) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	searchCols := p.SearchColumns
	if searchCols == nil {
		searchCols = p.Columns
	}
	pred := SearchPredicate(searchCols, p.SearchTerm)
	object := p.Table.QualifiedName()

	countQ := sq.Select("COUNT(*)").From(object)
	if pred != "" {
		countQ = countQ.Where(pred)
	}
	countSQL, _, err := countQ.ToSql()
	if err != nil {
		return Statements{}, fmt.Errorf("building count query: %w", err)
	}

	cols := []string{"*"}
	if len(p.Columns) > 0 {
		cols = make([]string, len(p.Columns))
		for i, c := range p.Columns {
			cols[i] = QuoteIdent(c)
		}
	}

	offset := (page - 1) * size
	dataQ := sq.Select(cols...).From(object)
	if page == 1 {
		dataQ = dataQ.Options(fmt.Sprintf("TOP (%d)", size))
	}
	if pred != "" {
		dataQ = dataQ.Where(pred)
	}
	dataQ = dataQ.OrderBy(orderClause(p.OrderBy, p.Columns))
	if page > 1 {
		dataQ = dataQ.Suffix(fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, size))
	}
	dataSQL, _, err := dataQ.ToSql()
	if err != nil {
		return Statements{}, fmt.Errorf("building data query: %w", err)
	}

	return Statements{
		Count:     countSQL,
		Data:      dataSQL,
		Predicate: pred,
		Offset:    offset,
		Limit:     size,
	}, nil
}
