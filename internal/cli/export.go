package cli

import (
	"fmt"

	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/history"
)

// exportPageSize is the page size used to walk a table during export.
const exportPageSize = 500

// cmdExport exports table data to stdout.
func (h *Handler) cmdExport(ctx *CommandContext) {
	args := ctx.GetPositionalArgs()
	if len(args) < 2 {
		fmt.Fprintln(ctx.Err, "Usage: export <database> <table> [--format=csv|json|yaml] [--limit=N]")
		ctx.Exit(1)
		return
	}

	dbName, tableName := args[0], args[1]
	if !ctx.Console.Level(dbName).CanExport() {
		ctx.Fail("Access denied: no export access to %s", dbName)
		return
	}

	format := ctx.GetFlag("format")
	if format == "" {
		format = formatCSV
	}
	switch format {
	case formatCSV, formatJSON, formatYAML:
	default:
		ctx.Fail("Unknown format: %s (use csv, json or yaml)", format)
		return
	}
	limit := ctx.GetIntFlag("limit", 0)

	result := &backend.Result{}
	for page := 1; ; page++ {
		p, err := ctx.Console.TableData(ctx.Ctx, dbName, tableName, page, exportPageSize)
		if err != nil {
			ctx.Fail("Export error: %s", backend.ErrorMessage(err))
			return
		}
		if result.Columns == nil {
			result.Columns = p.Columns
		}
		result.Rows = append(result.Rows, p.Rows...)

		if limit > 0 && len(result.Rows) >= limit {
			result.Rows = result.Rows[:limit]
			break
		}
		if len(p.Rows) == 0 || page >= p.Pages() {
			break
		}
	}

	if err := resultListing(result).render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
		return
	}

	ctx.Console.Audit(history.ActionExport, dbName, tableName, map[string]any{
		"format": format,
		"rows":   result.RowCount(),
	})
}
