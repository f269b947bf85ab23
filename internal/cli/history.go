package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/johan-st/dbconsole/internal/history"
)

// cmdHistory lists the user's past executions, optionally filtered.
func (h *Handler) cmdHistory(ctx *CommandContext) {
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}
	term := strings.Join(ctx.GetPositionalArgs(), " ")
	limit := ctx.GetIntFlag("limit", history.MaxHistory)
	color := ctx.HasFlag("color")

	var entries []history.Entry
	for e := range ctx.Console.Log().Search(term) {
		if limit > 0 && len(entries) >= limit {
			break
		}
		entries = append(entries, e)
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		sql := truncate(oneLine(e.SQL), 60)
		if color {
			sql = highlightSQL(sql)
		}
		rows[i] = []any{e.ID, humanize.Time(e.Timestamp), e.Database, status, sql}
	}

	empty := "No query history"
	if term != "" {
		empty = fmt.Sprintf("No history matching %q", term)
	}
	l := listing{
		columns: []string{"ID", "WHEN", "DATABASE", "STATUS", "QUERY"},
		rows:    rows,
		value:   entries,
		empty:   empty,
	}
	if err := l.render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
	}
}

// cmdFavorites lists pinned statements.
func (h *Handler) cmdFavorites(ctx *CommandContext) {
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}
	favorites := ctx.Console.Log().Favorites()
	color := ctx.HasFlag("color")

	rows := make([][]any, len(favorites))
	for i, f := range favorites {
		sql := truncate(oneLine(f.SQL), 70)
		if color {
			sql = highlightSQL(sql)
		}
		rows[i] = []any{f.ID, humanize.Time(f.Timestamp), sql}
	}

	l := listing{
		columns: []string{"ID", "ADDED", "QUERY"},
		rows:    rows,
		value:   favorites,
		empty:   "No favorites",
	}
	if err := l.render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
	}
}

// cmdFav toggles a statement in the favorites.
func (h *Handler) cmdFav(ctx *CommandContext) {
	sql := strings.Join(ctx.GetPositionalArgs(), " ")
	if strings.TrimSpace(sql) == "" {
		fmt.Fprintln(ctx.Err, "Usage: fav \"<sql>\"")
		ctx.Exit(1)
		return
	}

	if ctx.Console.Log().ToggleFavorite(sql) {
		fmt.Fprintln(ctx.Out, "Added to favorites")
	} else {
		fmt.Fprintln(ctx.Out, "Removed from favorites")
	}
}

// cmdClearHistory empties the user's history. Favorites are kept.
func (h *Handler) cmdClearHistory(ctx *CommandContext) {
	if !ctx.HasFlag("confirm") && !ctx.HasFlag("force") {
		ctx.Fail("Error: --confirm flag is required to clear history")
		return
	}
	ctx.Console.Log().Clear()
	fmt.Fprintln(ctx.Out, "History cleared")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
