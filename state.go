package mssqlgrid

import (
	"fmt"
	"strings"
)

// NewViewState returns the default state for a freshly opened panel.
func NewViewState(pageSize int) ViewState {
	if !validPageSize(pageSize) {
		pageSize = DefaultPageSize
	}
	return ViewState{CurrentPage: 1, PageSize: pageSize}
}

// columnSet validates names against the known columns. Duplicates are
// dropped, first occurrence wins.
func columnSet(names []string, known []ColumnMetadata) ([]string, error) {
	idx := make(map[string]struct{}, len(known))
	for _, c := range known {
		idx[c.Name] = struct{}{}
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := idx[n]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, n)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func knownColumn(name string, known []ColumnMetadata) bool {
	for _, c := range known {
		if c.Name == name {
			return true
		}
	}
	return false
}

// SetSelectedColumns replaces the selected columns and returns to page 1.
func (s *ViewState) SetSelectedColumns(cols []string, known []ColumnMetadata) error {
	set, err := columnSet(cols, known)
	if err != nil {
		return err
	}
	s.SelectedColumns = set
	s.CurrentPage = 1
	return nil
}

// SetOrderBy sorts by column. An empty direction toggles when the same column
// is clicked again and otherwise starts ascending. The page is kept.
func (s *ViewState) SetOrderBy(column string, dir Direction, known []ColumnMetadata) error {
	if column == "" {
		s.OrderBy = nil
		return nil
	}
	if !knownColumn(column, known) {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	switch dir {
	case Asc, Desc:
	case "":
		if s.OrderBy != nil && s.OrderBy.Column == column {
			dir = s.OrderBy.Direction.Toggle()
		} else {
			dir = Asc
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	s.OrderBy = &OrderBy{Column: column, Direction: dir}
	return nil
}

// SetPage moves to page n, never below 1.
func (s *ViewState) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	s.CurrentPage = n
}

// SetPageSize changes the page size and returns to page 1.
func (s *ViewState) SetPageSize(n int) error {
	if !validPageSize(n) {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, n)
	}
	s.PageSize = n
	s.CurrentPage = 1
	return nil
}

// SearchRequest is the consistent bundle of state sent with a search.
type SearchRequest struct {
	Term            string   `json:"searchTerm"`
	SelectedColumns []string `json:"selectedColumns"`
	OrderBy         *OrderBy `json:"orderBy,omitempty"`
	Page            int      `json:"currentPage"`
	PageSize        int      `json:"pageSize"`
}

// SetSearch atomically replaces the search term and the accompanying
// snapshot of the other fields. Nothing changes when validation fails.
func (s *ViewState) SetSearch(req SearchRequest, known []ColumnMetadata) error {
	next := s.Clone()

	set, err := columnSet(req.SelectedColumns, known)
	if err != nil {
		return err
	}
	next.SelectedColumns = set

	next.OrderBy = nil
	if req.OrderBy != nil && req.OrderBy.Column != "" {
		if !knownColumn(req.OrderBy.Column, known) {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, req.OrderBy.Column)
		}
		dir := req.OrderBy.Direction
		if dir == "" {
			dir = Asc
		}
		if dir != Asc && dir != Desc {
			return fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
		}
		next.OrderBy = &OrderBy{Column: req.OrderBy.Column, Direction: dir}
	}

	size := req.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	if !validPageSize(size) {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, size)
	}
	next.PageSize = size
	next.SetPage(req.Page)
	next.SearchTerm = strings.TrimSpace(req.Term)

	*s = next
	return nil
}

// Apply merges overrides into the state. Used by Open and UpdateTarget; any
// override returns the panel to page 1.
func (s *ViewState) Apply(o Options) {
	changed := false
	if len(o.SelectedColumns) > 0 {
		s.SelectedColumns = append([]string(nil), o.SelectedColumns...)
		changed = true
	}
	if o.OrderBy != nil {
		ob := *o.OrderBy
		s.OrderBy = &ob
		changed = true
	}
	if validPageSize(o.PageSize) {
		s.PageSize = o.PageSize
		changed = true
	}
	if term := strings.TrimSpace(o.SearchTerm); term != "" {
		s.SearchTerm = term
		changed = true
	}
	if changed || s.CurrentPage < 1 {
		s.CurrentPage = 1
	}
}

// EffectiveColumns is the selected set, or every known column when nothing
// is selected.
func (s ViewState) EffectiveColumns(known []ColumnMetadata) []string {
	if len(s.SelectedColumns) > 0 {
		return s.SelectedColumns
	}
	out := make([]string, len(known))
	for i, c := range known {
		out[i] = c.Name
	}
	return out
}

// SearchColumns narrows the effective columns to those LIKE can compare.
func (s ViewState) SearchColumns(known []ColumnMetadata) []string {
	meta := make(map[string]ColumnMetadata, len(known))
	for _, c := range known {
		meta[c.Name] = c
	}
	cols := s.EffectiveColumns(known)
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if m, ok := meta[c]; ok && !m.Searchable() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Plan turns the state into builder input.
func (s ViewState) Plan(ref TableRef, known []ColumnMetadata) QueryPlan {
	cols := s.EffectiveColumns(known)
	return QueryPlan{
		Table:         ref,
		Columns:       cols,
		SearchColumns: s.SearchColumns(known),
		SearchTerm:    s.SearchTerm,
		OrderBy:       s.OrderBy,
		Page:          s.CurrentPage,
		PageSize:      s.PageSize,
	}
}
