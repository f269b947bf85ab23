package cli

import (
	"fmt"

	"github.com/johan-st/dbconsole/internal/backend"
)

// cmdData shows one page of table rows.
func (h *Handler) cmdData(ctx *CommandContext) {
	args := ctx.GetPositionalArgs()
	if len(args) < 2 {
		fmt.Fprintln(ctx.Err, "Usage: data <database> <table> [--page=N] [--size=N] [--format=...]")
		ctx.Exit(1)
		return
	}
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}

	page := ctx.GetIntFlag("page", backend.DefaultPage)
	size := ctx.GetIntFlag("size", backend.DefaultPageSize)

	p, err := ctx.Console.TableData(ctx.Ctx, args[0], args[1], page, size)
	if err != nil {
		ctx.Fail("Error: %s", backend.ErrorMessage(err))
		return
	}

	if err := resultListing(p.Result()).render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
		return
	}
	if format == formatTable {
		fmt.Fprintf(ctx.Out, "Page %d of %d (%d rows)\n", p.Page, p.Pages(), p.Total)
	}
}

// cmdDelete deletes one row by id.
func (h *Handler) cmdDelete(ctx *CommandContext) {
	args := ctx.GetPositionalArgs()
	if len(args) < 3 {
		fmt.Fprintln(ctx.Err, "Usage: delete <database> <table> <id> --confirm")
		ctx.Exit(1)
		return
	}

	if !ctx.HasFlag("confirm") && !ctx.HasFlag("force") {
		ctx.Fail("Error: --confirm flag is required for delete operations")
		return
	}

	dbName, tableName, id := args[0], args[1], args[2]
	if err := ctx.Console.DeleteRow(ctx.Ctx, dbName, tableName, id); err != nil {
		ctx.Fail("Delete error: %s", backend.ErrorMessage(err))
		return
	}
	fmt.Fprintf(ctx.Out, "Deleted row %s from %s.%s\n", id, dbName, tableName)
}
