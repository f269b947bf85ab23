package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/history"
	"github.com/johan-st/dbconsole/internal/jobs"
)

// cmdSync runs a sync job and streams its progress.
func (h *Handler) cmdSync(ctx *CommandContext) {
	args := ctx.GetPositionalArgs()
	if len(args) < 1 {
		fmt.Fprintln(ctx.Err, "Usage: sync <job> [--db=NAME] [--corp-id=ID] [--ids=ID,ID]")
		fmt.Fprintln(ctx.Err, "Jobs:")
		for _, k := range jobs.Kinds {
			fmt.Fprintf(ctx.Err, "  %-18s %s\n", strings.ReplaceAll(string(k), "_", "-"), k.Title())
		}
		ctx.Exit(1)
		return
	}
	if h.jobs == nil {
		ctx.Fail("Sync jobs are not available")
		return
	}

	kind, ok := jobs.ParseKind(args[0])
	if !ok {
		ctx.Fail("Unknown job: %s", args[0])
		return
	}

	db := ctx.GetFlag("db")
	if db == "" {
		if err := h.refresh(ctx); err != nil {
			ctx.Fail("Failed to load databases: %v", err)
			return
		}
		db = ctx.Console.Current()
	}
	corpID := ctx.GetFlag("corp-id")
	if corpID == "" {
		corpID = h.corpID
	}

	runner := jobs.NewRunner(h.jobs, ctx.Console, h.pollInterval, h.env.Logger)
	report, err := runner.Run(ctx.Ctx, jobs.Request{
		Job:      kind,
		Database: db,
		CorpID:   corpID,
		AADIDs:   jobs.ParseAADIDs(ctx.GetFlag("ids")),
	}, func(e jobs.Event) {
		fmt.Fprintf(ctx.Out, "[%s] %s\n", e.Time.Format("15:04:05"), e.Message)
	})
	if err != nil {
		ctx.Exit(1)
		return
	}

	switch {
	case report.Rows != nil:
		renderRows(ctx, report.Rows)
	case report.SFE != nil && ctx.HasFlag("verbose"):
		fmt.Fprintln(ctx.Out, "Departments:")
		renderRows(ctx, report.SFE.Departments)
		fmt.Fprintln(ctx.Out, "Employees:")
		renderRows(ctx, report.SFE.Employees)
	}
}

// renderRows renders loosely shaped rows with their keys sorted as columns.
func renderRows(ctx *CommandContext, rows []backend.Row) {
	keys := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			keys[k] = true
		}
	}
	res := &backend.Result{Columns: slices.Sorted(maps.Keys(keys)), Rows: rows}
	renderResult(ctx, res, formatTable)
}

// cmdSessions lists recorded sessions.
func (h *Handler) cmdSessions(ctx *CommandContext) {
	if !ctx.RequireAdmin("list sessions") {
		return
	}
	if h.env.Store == nil {
		ctx.Fail("Sessions are not available without a data directory")
		return
	}
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}

	sessions, err := h.env.Store.ListSessions(!ctx.HasFlag("all"), ctx.GetIntFlag("limit", 50))
	if err != nil {
		ctx.Fail("Error fetching sessions: %v", err)
		return
	}

	type sessionInfo struct {
		ID         string    `json:"id" yaml:"id"`
		User       string    `json:"user" yaml:"user"`
		RemoteAddr string    `json:"remote_addr" yaml:"remote_addr"`
		CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
		LastActive time.Time `json:"last_active_at" yaml:"last_active_at"`
		Active     bool      `json:"active" yaml:"active"`
	}
	infos := make([]sessionInfo, len(sessions))
	rows := make([][]any, len(sessions))
	for i, s := range sessions {
		infos[i] = sessionInfo{s.ID, s.DisplayName(), s.RemoteAddr, s.CreatedAt, s.LastActiveAt, s.IsActive}
		rows[i] = []any{shortID(s.ID), s.DisplayName(), s.RemoteAddr, humanize.Time(s.CreatedAt), humanize.Time(s.LastActiveAt)}
	}

	l := listing{
		columns: []string{"ID", "USER", "REMOTE", "STARTED", "LAST ACTIVE"},
		rows:    rows,
		value:   infos,
		empty:   "No active sessions",
	}
	if err := l.render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
	}
}

// cmdAudit shows the audit log.
func (h *Handler) cmdAudit(ctx *CommandContext) {
	if !ctx.RequireAdmin("view audit log") {
		return
	}
	if h.env.Store == nil {
		ctx.Fail("Audit log is not available without a data directory")
		return
	}
	format, ok := outputFormat(ctx)
	if !ok {
		return
	}

	filter := history.AuditFilter{
		Actor:    ctx.GetFlag("actor"),
		Action:   ctx.GetFlag("action"),
		Database: ctx.GetFlag("db"),
		Limit:    ctx.GetIntFlag("limit", 50),
	}
	if since := ctx.GetFlag("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			ctx.Fail("Invalid --since: %v", err)
			return
		}
		filter.Since = time.Now().Add(-d)
	}

	entries, err := h.env.Store.ListAuditLog(filter)
	if err != nil {
		ctx.Fail("Error fetching audit log: %v", err)
		return
	}
	if entries == nil {
		entries = []*history.AuditRecord{}
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.CreatedAt.Format("2006-01-02 15:04:05"), e.Actor, e.Action, e.Database, e.Table, truncate(e.Details, 60)}
	}

	l := listing{
		columns: []string{"TIME", "ACTOR", "ACTION", "DATABASE", "TABLE", "DETAILS"},
		rows:    rows,
		value:   entries,
		empty:   "No audit log entries",
	}
	if err := l.render(ctx.Out, format); err != nil {
		ctx.Fail("Error writing output: %v", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
