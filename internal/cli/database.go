package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/johan-st/dbconsole/internal/backend"
)

// cmdDatabases lists accessible databases.
func (h *Handler) cmdDatabases(ctx *CommandContext) {
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}
	if err := h.refresh(ctx); err != nil {
		ctx.Fail("Failed to load databases: %v", err)
		return
	}

	snap := ctx.Console.Snapshot()
	current := ctx.Console.Current()

	type dbInfo struct {
		Name   string `json:"name" yaml:"name"`
		Tables int    `json:"tables" yaml:"tables"`
		Access string `json:"access" yaml:"access"`
	}
	var infos []dbInfo
	var rows [][]any
	for _, db := range snap.Databases() {
		info := dbInfo{Name: db, Tables: len(snap.Tables(db)), Access: ctx.Console.Level(db).String()}
		infos = append(infos, info)

		marker := ""
		if db == current {
			marker = "*"
		}
		rows = append(rows, []any{marker, db, info.Tables, info.Access})
	}

	l := listing{
		columns: []string{"", "DATABASE", "TABLES", "ACCESS"},
		rows:    rows,
		value:   infos,
		empty:   "No accessible databases found.",
	}
	if err := l.render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
	}
}

// cmdTables lists the tables of a database.
func (h *Handler) cmdTables(ctx *CommandContext) {
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}
	if err := h.refresh(ctx); err != nil {
		ctx.Fail("Failed to load tables: %v", err)
		return
	}

	dbName := ctx.Console.Current()
	if args := ctx.GetPositionalArgs(); len(args) > 0 {
		dbName = args[0]
	}
	if dbName == "" {
		ctx.Fail("No accessible databases found.")
		return
	}
	if !ctx.RequireRead(dbName) {
		return
	}
	if ctx.HasFlag("refresh") {
		if c, ok := h.env.Catalog.(databaseRefresher); ok {
			if err := c.RefreshDatabase(ctx.Ctx, dbName); err != nil {
				ctx.Fail("Failed to reload tables: %s", backend.ErrorMessage(err))
				return
			}
		}
	}

	tables := ctx.Console.Snapshot().Tables(dbName)
	if tables == nil {
		tables = []backend.TableDescriptor{}
	}
	rows := make([][]any, len(tables))
	for i, t := range tables {
		count := "?"
		if t.HasRowCount() {
			count = "~" + humanize.Comma(*t.RowCount)
		}
		rows[i] = []any{t.Name, count}
	}

	l := listing{
		columns: []string{"TABLE", "ROWS"},
		rows:    rows,
		value:   tables,
		empty:   fmt.Sprintf("No tables in %s", dbName),
	}
	if err := l.render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
	}
}

// cmdStructure shows the columns of a table.
func (h *Handler) cmdStructure(ctx *CommandContext) {
	args := ctx.GetPositionalArgs()
	if len(args) < 2 {
		fmt.Fprintln(ctx.Err, "Usage: structure <database> <table> [--format=...]")
		ctx.Exit(1)
		return
	}
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}

	res, err := ctx.Console.TableStructure(ctx.Ctx, args[0], args[1])
	if err != nil {
		ctx.Fail("Error: %s", backend.ErrorMessage(err))
		return
	}
	renderResult(ctx, res, format)
}

type databaseRefresher interface {
	RefreshDatabase(ctx context.Context, name string) error
}

type registryLoader interface {
	Loaded() bool
	Refresh(ctx context.Context) error
}

// refresh loads the registry when no background refresh has filled it yet.
func (h *Handler) refresh(ctx *CommandContext) error {
	c, ok := h.env.Catalog.(registryLoader)
	if !ok || c.Loaded() {
		return nil
	}
	return c.Refresh(ctx.Ctx)
}
