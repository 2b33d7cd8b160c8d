package mssqlgrid

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighlightIsCaseInsensitive(t *testing.T) {
	got := Highlight("Robert Downey", "down")
	assert.Equal(t, `Robert <span class="search-highlight">Down</span>ey`, got)
}

func TestHighlightEscapesMarkup(t *testing.T) {
	got := Highlight(`<b>"Tom" & 'Jerry'</b>`, "tom")
	assert.Equal(t, `&lt;b&gt;&quot;<span class="search-highlight">Tom</span>&quot; &amp; &#39;Jerry&#39;&lt;/b&gt;`, got)
	assert.NotContains(t, got, "<b>")
}

func TestHighlightNeverSplitsEntities(t *testing.T) {
	got := Highlight("a < b", "lt")
	assert.Equal(t, "a &lt; b", got)

	got = Highlight("fish & chips", "&")
	assert.Equal(t, `fish <span class="search-highlight">&amp;</span> chips`, got)
}

func TestHighlightTreatsTermLiterally(t *testing.T) {
	got := Highlight("price (USD) 1.5", "(usd)")
	assert.Equal(t, `price <span class="search-highlight">(USD)</span> 1.5`, got)
	assert.Equal(t, "a.b", Highlight("a.b", ""))
}

func TestRenderCellTruncates(t *testing.T) {
	r := NewRenderer(0)
	long := strings.Repeat("é", 150)

	c := r.RenderCell(long, "")
	assert.True(t, c.Truncated)
	assert.Equal(t, long, c.Full)
	assert.Equal(t, strings.Repeat("é", 100)+"…", string(c.Display))

	short := r.RenderCell("short", "")
	assert.False(t, short.Truncated)
	assert.Equal(t, "short", string(short.Display))
}

func TestRenderMarksSortedHeader(t *testing.T) {
	res := QueryResult{Columns: []string{"id", "name"}, Rows: [][]interface{}{{int64(1), nil}}}
	st := ViewState{OrderBy: &OrderBy{Column: "name", Direction: Asc}}

	g := NewRenderer(100).Render(res, st)
	require.Len(t, g.Headers, 2)
	assert.Equal(t, "↕", g.Headers[0].Indicator)
	assert.Equal(t, "▲", g.Headers[1].Indicator)
	assert.Equal(t, Asc, g.Headers[1].Sorted)
	assert.Equal(t, "1", string(g.Rows[0][0].Display))
	assert.Equal(t, "", string(g.Rows[0][1].Display))
}

func TestRenderFailedResultIsEmpty(t *testing.T) {
	g := NewRenderer(100).Render(QueryResult{Columns: []string{"a"}, Rows: [][]interface{}{{1}}, Error: "boom"}, ViewState{})
	assert.True(t, g.Empty())
	assert.True(t, NewRenderer(100).Render(QueryResult{}, ViewState{}).Empty())
}

func TestPagination(t *testing.T) {
	p := NewPagination(1, 100, 250)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 1, p.StartRow)
	assert.Equal(t, 100, p.EndRow)
	assert.False(t, p.HasPrev)
	assert.True(t, p.HasNext)

	p = NewPagination(3, 100, 250)
	assert.Equal(t, 201, p.StartRow)
	assert.Equal(t, 250, p.EndRow)
	assert.False(t, p.HasNext)

	empty := NewPagination(1, 100, 0)
	assert.Equal(t, 1, empty.TotalPages)
	assert.Equal(t, 0, empty.StartRow)
	assert.Equal(t, "db.s.t (Page 1/1, 0 total rows)", PanelTitle(TableRef{Database: "db", Schema: "s", Object: "t"}, empty))
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{int64(42), "42"},
		{3.5, "3.5"},
		{true, "true"},
		{[]byte("text"), "text"},
		{[]byte{0xde, 0xad, 0xff}, "0xDEADFF"},
		{decimal.RequireFromString("12.3400"), "12.34"},
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01"},
		{time.Date(2024, 3, 1, 13, 4, 5, 0, time.UTC), "2024-03-01 13:04:05"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatValue(c.in), "%#v", c.in)
	}
}
