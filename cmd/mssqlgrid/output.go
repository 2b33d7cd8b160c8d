package main

import (
	"fmt"
	"io"

	"github.com/gnemet/mssqlgrid"
	"github.com/jedib0t/go-pretty/v6/table"
)

const cellWidth = 40

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderRows prints a row set with long cells cut at cellWidth.
func renderRows(w io.Writer, rs *mssqlgrid.RowSet) {
	if rs.Len() == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	t := newTable(w)
	header := make(table.Row, len(rs.Columns))
	for i, c := range rs.Columns {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, row := range rs.Rows {
		out := make(table.Row, len(row))
		for i, v := range row {
			out[i] = plainCell(mssqlgrid.FormatValue(v))
		}
		t.AppendRow(out)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", rs.Len())
}

// renderPanel prints the rendered grid with its sort indicators.
func renderPanel(w io.Writer, p *mssqlgrid.Panel) {
	_, _ = fmt.Fprintln(w, p.Title)
	if p.MetadataError != "" {
		_, _ = fmt.Fprintf(w, "column metadata unavailable: %s\n", p.MetadataError)
	}
	if p.Result.Failed() {
		_, _ = fmt.Fprintf(w, "error: %s\n", p.Result.Error)
		return
	}
	if p.Grid.Empty() {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	t := newTable(w)
	header := make(table.Row, len(p.Grid.Headers))
	for i, h := range p.Grid.Headers {
		header[i] = h.Name + " " + h.Indicator
	}
	t.AppendHeader(header)
	for _, row := range p.Grid.Rows {
		out := make(table.Row, len(row))
		for i, c := range row {
			out[i] = plainCell(c.Full)
		}
		t.AppendRow(out)
	}
	t.Render()
	pg := p.Pagination
	_, _ = fmt.Fprintf(w, "rows %d-%d of %d, %.3fs\n", pg.StartRow, pg.EndRow, pg.TotalRows, p.Result.ExecutionTimeSeconds)
	if verbose {
		_, _ = fmt.Fprintln(w, p.Result.ExecutedSQL)
	}
}

func plainCell(text string) string {
	if s, cut := mssqlgrid.Truncate(text, cellWidth); cut {
		return s + "…"
	}
	return text
}
