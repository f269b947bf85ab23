package cli

import (
	"fmt"
)

// cmdWhoami shows current user information.
func (h *Handler) cmdWhoami(ctx *CommandContext) {
	user := ctx.Console.User()

	if ctx.GetFlag("format") == formatJSON {
		info := map[string]any{
			"name":       user.DisplayName(),
			"admin":      user.IsAdmin,
			"anonymous":  user.IsAnonymous,
			"level":      ctx.Console.GlobalLevel().String(),
			"session_id": ctx.GetSessionID(),
		}
		if user.PublicKeyFP != "" {
			info["public_key_fp"] = user.PublicKeyFP
		}
		printJSON(ctx.Out, info)
		return
	}

	fmt.Fprintf(ctx.Out, "User:\t%s\n", user.DisplayName())
	fmt.Fprintf(ctx.Out, "Admin:\t%v\n", user.IsAdmin)
	fmt.Fprintf(ctx.Out, "Anonymous:\t%v\n", user.IsAnonymous)
	fmt.Fprintf(ctx.Out, "Level:\t%s\n", ctx.Console.GlobalLevel())
	if user.PublicKeyFP != "" {
		fmt.Fprintf(ctx.Out, "Key:\t%s\n", user.PublicKeyFP)
	}
	if id := ctx.GetSessionID(); id != "" {
		fmt.Fprintf(ctx.Out, "Session:\t%s\n", id)
	}
}

// cmdHelp shows help information.
func (h *Handler) cmdHelp(ctx *CommandContext) {
	args := ctx.GetPositionalArgs()

	if len(args) > 0 {
		h.showCommandHelp(ctx, args[0])
		return
	}

	fmt.Fprintln(ctx.Out, `dbconsole - admin console for backend databases

USAGE:
  dbconsole command [arguments] [options]
  ssh host command [arguments] [options]

DATABASE COMMANDS:
  ls, databases                    List accessible databases
  tables [database] [--refresh]    List tables with approximate row counts
  structure <database> <table>     Show table columns

QUERY COMMANDS:
  query "<sql>"                    Route and execute a statement
  route "<sql>"                    Show where a statement would run

DATA COMMANDS:
  data <database> <table>          Browse table rows page by page
  delete <database> <table> <id>   Delete a row (requires --confirm)
  export <database> <table>        Export table data

QUERY LOG COMMANDS:
  history [term]                   Search your query history
  favorites                        List favorite statements
  fav "<sql>"                      Add or remove a favorite
  clear-history                    Clear your history (requires --confirm)

ADMIN COMMANDS (requires admin access):
  sync <job>                       Run a sync job
  sessions                         List sessions
  audit                            View audit log

UTILITY COMMANDS:
  whoami                           Show current user info
  help [command]                   Show help
  version                          Show version

COMMON OPTIONS:
  --format=table|json|csv|yaml     Output format
  --db=NAME                        Database used when routing finds no table

Run 'help <command>' for detailed help on a specific command.`)
}

// showCommandHelp shows help for a specific command.
func (h *Handler) showCommandHelp(ctx *CommandContext, command string) {
	help := map[string]string{
		"query": `query - Route and execute a statement

USAGE:
  query "<sql>" [options]

The statement runs on the first database, in registry order, that has the
first table named after FROM or JOIN. Otherwise it runs on --db or the
current database. Successful and failed executions are recorded in history.

OPTIONS:
  --db=NAME        Fallback database
  --format=...     table (default), json, csv or yaml
  --quiet          Do not print the routing decision

EXAMPLES:
  query "SELECT * FROM users"
  query "select count(*) as cnt from us_user where sync_status=0" --db=crm`,

		"history": `history - Search your query history

USAGE:
  history [term] [options]

Entries are most recent first. The term matches anywhere in the statement,
ignoring case.

OPTIONS:
  --limit=N        Show at most N entries
  --color          Highlight SQL
  --format=...     table (default), json, csv or yaml`,

		"data": `data - Browse table rows

USAGE:
  data <database> <table> [options]

OPTIONS:
  --page=N         Page number (default: 1)
  --size=N         Rows per page (default: 20)
  --format=...     table (default), json, csv or yaml`,

		"export": `export - Export table data

USAGE:
  export <database> <table> [options]

OPTIONS:
  --format=csv     Export as CSV (default)
  --format=json    Export as JSON
  --format=yaml    Export as YAML
  --limit=N        Export at most N rows

OUTPUT:
  Data is written to stdout. Redirect to a file:
  ssh host export crm users --format=csv > users.csv`,

		"delete": `delete - Delete a row

USAGE:
  delete <database> <table> <id> --confirm

The --confirm or --force flag is required to prevent accidental deletes.`,

		"sync": `sync - Run a sync job

USAGE:
  sync <job> [options]

JOBS:
  sync-aad            AAD manual sync
  sync-users          User sync for a corp (--corp-id, optional --ids)
  sync-departments    Department sync
  init-users          Init users (--ids required)
  sfe-fetch           Show SFE data (--verbose to list it)
  sfe-execute         Trigger the SFE fetch task
  sfe-departments     List SFE departments
  sfe-employees       List SFE employees

The pending sync count of --db (or the current database) is polled while
user sync, department sync and init users run.

OPTIONS:
  --db=NAME           Database to poll
  --corp-id=ID        Corp id for user sync
  --ids=ID,ID         Comma separated aad ids`,

		"audit": `audit - View audit log

USAGE:
  audit [options]

OPTIONS:
  --actor=NAME     Filter by actor
  --action=NAME    Filter by action
  --db=NAME        Filter by database
  --since=DUR      Only entries newer than DUR (e.g. 24h)
  --limit=N        Show at most N entries (default: 50)`,
	}

	if text, ok := help[command]; ok {
		fmt.Fprintln(ctx.Out, text)
	} else {
		fmt.Fprintf(ctx.Out, "No detailed help available for '%s'\n", command)
	}
}

// cmdVersion shows version information.
func (h *Handler) cmdVersion(ctx *CommandContext) {
	if ctx.GetFlag("format") == formatJSON {
		printJSON(ctx.Out, map[string]string{"version": h.version})
		return
	}
	fmt.Fprintf(ctx.Out, "dbconsole %s\n", h.version)
}
