package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/router"
)

// cmdQuery routes and executes a SQL statement.
func (h *Handler) cmdQuery(ctx *CommandContext) {
	sql := strings.Join(ctx.GetPositionalArgs(), " ")
	if strings.TrimSpace(sql) == "" {
		fmt.Fprintln(ctx.Err, "Usage: query \"<sql>\" [--db=NAME] [--format=table|json|csv|yaml]")
		ctx.Exit(1)
		return
	}
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}
	if err := h.refresh(ctx); err != nil {
		ctx.Fail("Failed to load databases: %v", err)
		return
	}
	if !useDatabase(ctx) {
		return
	}

	out, err := ctx.Console.Execute(ctx.Ctx, sql)
	switch {
	case errors.Is(err, console.ErrNoDatabase):
		ctx.Fail("No database selected. Pass --db=NAME or reference a known table.")
		return
	case console.IsAccessDenied(err):
		ctx.Fail("Error: %v", err)
		return
	case err != nil:
		ctx.Fail("Query error: %v", err)
		return
	}

	if !ctx.HasFlag("quiet") {
		fmt.Fprintln(ctx.Err, describeRoute(out.Decision))
	}
	if !out.Success() {
		ctx.Fail("Query error: %s", out.Message())
		return
	}

	renderResult(ctx, out.Result, format)
	if out.PendingSync != nil && format == formatTable {
		fmt.Fprintf(ctx.Out, "Pending sync: %d\n", *out.PendingSync)
	}
}

// cmdRoute shows where a statement would run without executing it.
func (h *Handler) cmdRoute(ctx *CommandContext) {
	sql := strings.Join(ctx.GetPositionalArgs(), " ")
	if strings.TrimSpace(sql) == "" {
		fmt.Fprintln(ctx.Err, "Usage: route \"<sql>\" [--db=NAME]")
		ctx.Exit(1)
		return
	}
	if err := h.refresh(ctx); err != nil {
		ctx.Fail("Failed to load databases: %v", err)
		return
	}
	if !useDatabase(ctx) {
		return
	}

	d := ctx.Console.Route(sql)
	if ctx.GetFlag("format") == formatJSON {
		printJSON(ctx.Out, map[string]any{
			"database": d.Database,
			"tables":   d.Tables,
			"anchor":   d.Anchor,
			"matched":  d.Matched,
		})
		return
	}
	fmt.Fprintln(ctx.Out, describeRoute(d))
}

// useDatabase applies --db to the console.
func useDatabase(ctx *CommandContext) bool {
	db := ctx.GetFlag("db")
	if db == "" {
		return true
	}
	if err := ctx.Console.SetCurrent(db); err != nil {
		ctx.Fail("Cannot use %s: %v", db, err)
		return false
	}
	return true
}

func describeRoute(d router.Decision) string {
	switch {
	case d.Database == "":
		return "-> no database"
	case d.Matched:
		return fmt.Sprintf("-> %s (table %s)", d.Database, d.Anchor)
	case d.Anchor != "":
		return fmt.Sprintf("-> %s (table %s not found, using current database)", d.Database, d.Anchor)
	default:
		return fmt.Sprintf("-> %s (current database)", d.Database)
	}
}
