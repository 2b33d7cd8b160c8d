package mssqlgrid

import (
	"encoding/hex"
	"fmt"
	"html/template"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	ellipsis       = "…"
	highlightOpen  = `<span class="search-highlight">`
	highlightClose = `</span>`
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML neutralizes & < > " and '.
func EscapeHTML(s string) string { return htmlEscaper.Replace(s) }

// HeaderCell is one column header with its sort indicator.
type HeaderCell struct {
	Name      string    `json:"name"`
	Sorted    Direction `json:"sorted,omitempty"`
	Indicator string    `json:"indicator"`
}

// Cell is one rendered value. Full keeps the untruncated text for
// click-to-expand.
type Cell struct {
	Display   template.HTML `json:"display"`
	Full      string        `json:"full"`
	Truncated bool          `json:"truncated"`
}

// Grid is the display-ready table.
type Grid struct {
	Headers []HeaderCell `json:"headers"`
	Rows    [][]Cell     `json:"rows"`
}

// Empty reports whether there is nothing to show.
func (g *Grid) Empty() bool { return g == nil || len(g.Rows) == 0 }

// Pagination is the page display metadata.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	TotalRows  int  `json:"totalRows"`
	TotalPages int  `json:"totalPages"`
	StartRow   int  `json:"startRow"`
	EndRow     int  `json:"endRow"`
	HasPrev    bool `json:"hasPrev"`
	HasNext    bool `json:"hasNext"`
}

// NewPagination computes page metadata. An empty result still has one page.
func NewPagination(page, pageSize, totalRows int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if totalRows < 0 {
		totalRows = 0
	}
	totalPages := (totalRows + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	p := Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalRows:  totalRows,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
	if start := (page-1)*pageSize + 1; start <= totalRows {
		p.StartRow = start
		p.EndRow = min(page*pageSize, totalRows)
	}
	return p
}

// Renderer turns query results into grids.
type Renderer struct {
	MaxCellLength int
}

// NewRenderer returns a renderer truncating cells at maxCellLength runes.
func NewRenderer(maxCellLength int) *Renderer {
	if maxCellLength <= 0 {
		maxCellLength = DefaultMaxCellLength
	}
	return &Renderer{MaxCellLength: maxCellLength}
}

// Render builds the grid for res under st. Failed or empty results render
// as an empty grid.
func (r *Renderer) Render(res QueryResult, st ViewState) *Grid {
	g := &Grid{}
	if res.Failed() || len(res.Rows) == 0 {
		return g
	}

	g.Headers = make([]HeaderCell, len(res.Columns))
	for i, c := range res.Columns {
		h := HeaderCell{Name: c, Indicator: "↕"}
		if st.OrderBy != nil && st.OrderBy.Column == c {
			h.Sorted = st.OrderBy.Direction
			h.Indicator = "▲"
			if h.Sorted == Desc {
				h.Indicator = "▼"
			}
		}
		g.Headers[i] = h
	}

	re := searchMatcher(st.SearchTerm)
	g.Rows = make([][]Cell, len(res.Rows))
	for i, row := range res.Rows {
		cells := make([]Cell, len(res.Columns))
		for j := range res.Columns {
			var v interface{}
			if j < len(row) {
				v = row[j]
			}
			cells[j] = r.renderCell(FormatValue(v), re)
		}
		g.Rows[i] = cells
	}
	return g
}

// RenderCell truncates, escapes and highlights one value.
func (r *Renderer) RenderCell(text, term string) Cell {
	return r.renderCell(text, searchMatcher(term))
}

func (r *Renderer) renderCell(text string, re *regexp.Regexp) Cell {
	limit := r.MaxCellLength
	if limit <= 0 {
		limit = DefaultMaxCellLength
	}
	shown, truncated := Truncate(text, limit)
	display := highlight(shown, re)
	if truncated {
		display += ellipsis
	}
	return Cell{Display: template.HTML(display), Full: text, Truncated: truncated}
}

// Truncate cuts text to limit runes and reports whether it did.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	return string([]rune(text)[:limit]), true
}

// Highlight escapes text and wraps case-insensitive literal occurrences of
// term in highlight markers. Matching runs on the raw text so entities
// produced by escaping are never split.
func Highlight(text, term string) string {
	return highlight(text, searchMatcher(term))
}

// searchMatcher compiles a case-insensitive literal matcher, nil for an
// empty term.
func searchMatcher(term string) *regexp.Regexp {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))
}

func highlight(text string, re *regexp.Regexp) string {
	if re == nil || text == "" {
		return EscapeHTML(text)
	}
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return EscapeHTML(text)
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(EscapeHTML(text[last:m[0]]))
		b.WriteString(highlightOpen)
		b.WriteString(EscapeHTML(text[m[0]:m[1]]))
		b.WriteString(highlightClose)
		last = m[1]
	}
	b.WriteString(EscapeHTML(text[last:]))
	return b.String()
}

// FormatValue renders a driver value as display text. NULL is empty.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return "0x" + strings.ToUpper(hex.EncodeToString(x))
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05.999")
	case decimal.Decimal:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
