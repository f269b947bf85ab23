// Package cli implements the command-line interface for both SSH and local modes.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/jobs"
	"github.com/johan-st/dbconsole/internal/server"
)

// Options are the dependencies of a Handler.
type Options struct {
	Env *console.Env
	// Jobs runs sync jobs. Without it the sync command is unavailable.
	Jobs         jobs.Backend
	PollInterval time.Duration
	// CorpID is the default corp id for user sync.
	CorpID  string
	Version string
}

// Handler handles CLI commands over SSH or locally.
type Handler struct {
	env          *console.Env
	jobs         jobs.Backend
	pollInterval time.Duration
	corpID       string
	version      string
}

// NewHandler creates a new CLI handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		env:          opts.Env,
		jobs:         opts.Jobs,
		pollInterval: opts.PollInterval,
		corpID:       opts.CorpID,
		version:      opts.Version,
	}
}

// LocalContext wraps command execution for local (non-SSH) mode.
type LocalContext struct {
	Ctx  context.Context
	User *access.UserInfo
	// Database is selected before the command runs when set.
	Database string
	Args     []string
	Out      io.Writer
	Err      io.Writer
}

// NewLocalContext creates a context for local CLI execution.
func NewLocalContext(ctx context.Context, user *access.UserInfo, args []string, out, errOut io.Writer) *LocalContext {
	return &LocalContext{
		Ctx:  ctx,
		User: user,
		Args: args,
		Out:  out,
		Err:  errOut,
	}
}

// HandleLocal processes a CLI command in local mode (no SSH session).
func (h *Handler) HandleLocal(lctx *LocalContext) error {
	if len(lctx.Args) == 0 {
		fmt.Fprintln(lctx.Out, "No command specified. Run 'help' for usage.")
		return nil
	}

	user := lctx.User
	if user == nil {
		user = access.LocalUser()
	}
	ctx := &CommandContext{
		Ctx:     lctx.Ctx,
		User:    user,
		Console: h.env.Open(user, ""),
		Args:    lctx.Args[1:],
		Out:     lctx.Out,
		Err:     lctx.Err,
	}
	if ctx.Ctx == nil {
		ctx.Ctx = context.Background()
	}
	if lctx.Database != "" {
		if err := h.refresh(ctx); err != nil {
			return fmt.Errorf("failed to load databases: %w", err)
		}
		if err := ctx.Console.SetCurrent(lctx.Database); err != nil {
			return err
		}
	}

	h.routeCommand(lctx.Args[0], ctx)

	if ctx.exitCode != 0 {
		return &ExitError{Code: ctx.exitCode}
	}
	return nil
}

// ExitError reports a command that failed after printing its own error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed with exit code %d", e.Code)
}

// Handle processes an SSH session with a CLI command.
func (h *Handler) Handle(s ssh.Session) {
	cmd := s.Command()
	if len(cmd) == 0 {
		fmt.Fprintln(s, "No command specified. Run 'help' for usage.")
		return
	}

	user := server.GetUserFromContext(s.Context())
	session := server.GetSessionFromSSH(s)
	sessionID := ""
	if session != nil {
		sessionID = session.ID
	}

	ctx := &CommandContext{
		Ctx:         s.Context(),
		Session:     s,
		User:        user,
		SessionInfo: session,
		Console:     h.env.Open(user, sessionID),
		Args:        cmd[1:],
		Out:         s,
		Err:         s.Stderr(),
	}

	h.routeCommand(cmd[0], ctx)
	if session != nil {
		session.Touch()
	}

	if ctx.exitCode != 0 {
		s.Exit(ctx.exitCode)
	}
}

// routeCommand routes a command to its handler.
func (h *Handler) routeCommand(cmd string, ctx *CommandContext) {
	switch cmd {
	// Database commands
	case "ls", "databases":
		h.cmdDatabases(ctx)
	case "tables":
		h.cmdTables(ctx)
	case "structure", "schema":
		h.cmdStructure(ctx)

	// Query commands
	case "query", "exec":
		h.cmdQuery(ctx)
	case "route":
		h.cmdRoute(ctx)

	// Data commands
	case "data", "select":
		h.cmdData(ctx)
	case "delete":
		h.cmdDelete(ctx)
	case "export":
		h.cmdExport(ctx)

	// Query log commands
	case "history":
		h.cmdHistory(ctx)
	case "favorites", "favs":
		h.cmdFavorites(ctx)
	case "fav":
		h.cmdFav(ctx)
	case "clear-history":
		h.cmdClearHistory(ctx)

	// Admin commands
	case "sync":
		h.cmdSync(ctx)
	case "sessions":
		h.cmdSessions(ctx)
	case "audit":
		h.cmdAudit(ctx)

	// Utility commands
	case "whoami":
		h.cmdWhoami(ctx)
	case "help":
		h.cmdHelp(ctx)
	case "version":
		h.cmdVersion(ctx)

	default:
		fmt.Fprintf(ctx.Err, "Unknown command: %s\n", cmd)
		fmt.Fprintln(ctx.Err, "Run 'help' for usage.")
		ctx.Exit(1)
	}
}

// CommandContext provides context for command execution.
type CommandContext struct {
	Ctx         context.Context
	Session     ssh.Session // nil in local mode
	User        *access.UserInfo
	SessionInfo *server.Session
	Console     *console.Console
	Args        []string
	Out         io.Writer
	Err         io.Writer
	exitCode    int
}

// Exit sets the exit code (used instead of calling Session.Exit directly).
func (c *CommandContext) Exit(code int) {
	c.exitCode = code
}

// Fail reports err on stderr and sets a non-zero exit code.
func (c *CommandContext) Fail(format string, args ...any) {
	fmt.Fprintf(c.Err, format+"\n", args...)
	c.Exit(1)
}

// GetSessionID returns the session ID or empty string.
func (c *CommandContext) GetSessionID() string {
	if c.SessionInfo != nil {
		return c.SessionInfo.ID
	}
	return ""
}

// GetFlag returns a flag value from args (e.g., --format=json).
func (c *CommandContext) GetFlag(name string) string {
	prefix := "--" + name + "="
	shortPrefix := "-" + name + "="
	for _, arg := range c.Args {
		if v, ok := strings.CutPrefix(arg, prefix); ok {
			return v
		}
		if v, ok := strings.CutPrefix(arg, shortPrefix); ok {
			return v
		}
	}
	return ""
}

// GetIntFlag returns an integer flag value, or def when absent or invalid.
func (c *CommandContext) GetIntFlag(name string, def int) int {
	if v := c.GetFlag(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// HasFlag checks if a boolean flag is present.
func (c *CommandContext) HasFlag(name string) bool {
	flag := "--" + name
	shortFlag := "-" + name
	for _, arg := range c.Args {
		if arg == flag || arg == shortFlag {
			return true
		}
	}
	return false
}

// GetPositionalArgs returns args that are not flags.
func (c *CommandContext) GetPositionalArgs() []string {
	var result []string
	for _, arg := range c.Args {
		if !strings.HasPrefix(arg, "-") {
			result = append(result, arg)
		}
	}
	return result
}

// RequireRead checks if user has read access to a database.
func (c *CommandContext) RequireRead(db string) bool {
	if !c.Console.Level(db).CanRead() {
		c.Fail("Access denied: no read access to %s", db)
		return false
	}
	return true
}

// RequireAdmin checks if user has admin access.
func (c *CommandContext) RequireAdmin(action string) bool {
	if err := c.Console.RequireAdmin(action); err != nil {
		c.Fail("Access denied: admin access required")
		return false
	}
	return true
}
