package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/johan-st/dbconsole/internal/backend"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatCSV   = "csv"
	formatYAML  = "yaml"
)

// outputFormat returns the --format flag, defaulting to a table.
func outputFormat(ctx *CommandContext) (string, bool) {
	switch f := ctx.GetFlag("format"); f {
	case "":
		return formatTable, true
	case formatTable, formatJSON, formatCSV, formatYAML:
		return f, true
	case "yml":
		return formatYAML, true
	default:
		ctx.Fail("Unknown format %q (want table, json, csv or yaml)", f)
		return "", false
	}
}

// listing is tabular output together with its structured form for json and
// yaml.
type listing struct {
	columns []string
	rows    [][]any
	value   any
	empty   string
}

func (l listing) render(w io.Writer, format string) error {
	switch format {
	case formatJSON:
		return printJSON(w, l.value)
	case formatYAML:
		return printYAML(w, l.value)
	}

	if len(l.rows) == 0 && format == formatTable && l.empty != "" {
		_, err := fmt.Fprintln(w, l.empty)
		return err
	}

	t := table.NewWriter()
	header := make(table.Row, len(l.columns))
	for i, c := range l.columns {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, r := range l.rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = backend.FormatValue(v)
		}
		t.AppendRow(row)
	}

	if format == formatCSV {
		_, err := fmt.Fprintln(w, t.RenderCSV())
		return err
	}
	t.SetStyle(table.StyleLight)
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// resultListing renders a result set in wire column order.
func resultListing(res *backend.Result) listing {
	rows := make([][]any, res.RowCount())
	for i := range rows {
		rows[i] = res.Values(i)
	}
	data := res.Rows
	if data == nil {
		data = []backend.Row{}
	}
	return listing{
		columns: res.Columns,
		rows:    rows,
		value:   map[string]any{"columns": res.Columns, "data": data},
	}
}

func renderResult(ctx *CommandContext, res *backend.Result, format string) {
	if res == nil {
		res = &backend.Result{}
	}
	if err := resultListing(res).render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
		return
	}
	if format == formatTable {
		fmt.Fprintf(ctx.Out, "(%d rows)\n", res.RowCount())
	}
}

// printJSON writes indented JSON to a writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// highlightSQL colors sql for a 256 color terminal, or returns it unchanged.
func highlightSQL(sql string) string {
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, sql, "sql", "terminal256", "monokai"); err != nil {
		return sql
	}
	return buf.String()
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
