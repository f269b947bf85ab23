// Package console is a user's working session against the backend databases:
// it routes and executes statements, records them in the query log and
// enforces access levels.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/catalog"
	"github.com/johan-st/dbconsole/internal/history"
	"github.com/johan-st/dbconsole/internal/router"
)

// Backend executes statements and serves table data.
type Backend interface {
	ExecuteSQL(ctx context.Context, dbName, sql string) (*backend.Result, error)
	TableStructure(ctx context.Context, dbName, tableName string) (*backend.Result, error)
	TableData(ctx context.Context, dbName, tableName string, page, size int) (*backend.Page, error)
	DeleteRow(ctx context.Context, dbName, tableName, id string) error
}

// Registry provides the current table registry.
type Registry interface {
	Snapshot() catalog.Snapshot
}

// Auditor appends to the audit log.
type Auditor interface {
	RecordAuditSimple(sessionID, actor, action, database, table string, details map[string]any) error
}

// Options are the collaborators of a Console.
type Options struct {
	Backend   Backend
	Catalog   Registry
	Policy    *Policy
	Log       *history.QueryLog
	Audit     Auditor // optional
	User      *access.UserInfo
	SessionID string
	Logger    *slog.Logger
}

// Console is one user's session. At most one execution drives the query log
// and result display at a time: starting a new one supersedes the previous.
type Console struct {
	backend   Backend
	catalog   Registry
	policy    *Policy
	log       *history.QueryLog
	audit     Auditor
	user      *access.UserInfo
	sessionID string
	logger    *slog.Logger

	mu          sync.Mutex
	current     string
	pendingSync int64
	hasPending  bool
	generation  uint64
	cancel      context.CancelFunc
}

// Outcome describes a completed execution. A backend failure is reported in
// Err, not as an error from Execute.
type Outcome struct {
	SQL      string
	Database string
	Decision router.Decision
	Result   *backend.Result
	Err      error
	Duration time.Duration
	Entry    history.Entry
	// PendingSync is set when the statement read the pending sync count.
	PendingSync *int64
}

// Success reports whether the backend accepted the statement.
func (o *Outcome) Success() bool {
	return o.Err == nil
}

// Message returns the failure text shown to the user.
func (o *Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return backend.ErrorMessage(o.Err)
}

// New creates a console. The query log should already be loaded.
func New(opts Options) *Console {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	user := opts.User
	if user == nil {
		user = access.LocalUser()
	}
	policy := opts.Policy
	if policy == nil {
		policy = NewPolicy(nil, router.Router{})
	}
	log := opts.Log
	if log == nil {
		log = history.NewQueryLog(history.NewMemoryKV(), history.WithLogger(logger))
	}

	return &Console{
		backend:   opts.Backend,
		catalog:   opts.Catalog,
		policy:    policy,
		log:       log,
		audit:     opts.Audit,
		user:      user,
		sessionID: opts.SessionID,
		logger:    logger.With("user", user.DisplayName()),
	}
}

// User returns the console's user.
func (c *Console) User() *access.UserInfo {
	return c.user
}

// Log returns the user's query log.
func (c *Console) Log() *history.QueryLog {
	return c.log
}

// Snapshot returns the registry restricted to databases the user can read.
func (c *Console) Snapshot() catalog.Snapshot {
	resolver := c.policy.Resolver()
	return c.catalog.Snapshot().Filter(func(db string) bool {
		return resolver.CanAccess(c.user, db)
	})
}

// Level returns the user's access level on database.
func (c *Console) Level(database string) access.Level {
	return c.policy.Resolver().Resolve(c.user, database)
}

// GlobalLevel returns the user's level for actions not tied to a database.
func (c *Console) GlobalLevel() access.Level {
	return c.policy.Resolver().ResolveGlobal(c.user)
}

// Current returns the selected database. Until one is selected it is the
// first readable database in the registry.
func (c *Console) Current() string {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	snap := c.Snapshot()
	if current != "" && snap.Has(current) {
		return current
	}
	return snap.First()
}

// SetCurrent selects database.
func (c *Console) SetCurrent(database string) error {
	if !c.Snapshot().Has(database) {
		if c.catalog.Snapshot().Has(database) {
			return &AccessError{User: c.user.DisplayName(), Database: database, Action: "read", Level: c.Level(database)}
		}
		return fmt.Errorf("unknown database %q", database)
	}
	c.mu.Lock()
	c.current = database
	c.mu.Unlock()
	return nil
}

// PendingSync returns the last pending sync count read by a statement.
func (c *Console) PendingSync() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSync, c.hasPending
}

// Route returns where sql would run without executing it.
func (c *Console) Route(sql string) router.Decision {
	return c.policy.Router().Explain(sql, c.Snapshot(), c.Current())
}

// Cancel abandons the in-flight execution, if any. Its result is dropped.
func (c *Console) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Execute routes sql, checks access and runs it. Every request sent to the
// backend is recorded exactly once in the query log, unless the execution was
// superseded, in which case ErrSuperseded is returned and nothing is recorded.
func (c *Console) Execute(ctx context.Context, sql string) (*Outcome, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, ErrEmptyQuery
	}

	decision := c.Route(sql)
	db := decision.Database
	if db == "" {
		return nil, ErrNoDatabase
	}

	readOnly := access.IsReadOnlyStatement(sql)
	if err := c.authorize(db, readOnly); err != nil {
		c.logger.Warn("statement denied", "database", db, "error", err)
		c.recordAudit(history.ActionDeniedQuery, db, "", map[string]any{"sql": sql})
		return nil, err
	}

	execCtx, generation := c.begin(ctx)
	start := time.Now()
	result, err := c.backend.ExecuteSQL(execCtx, db, sql)
	elapsed := time.Since(start)

	if !c.finish(generation) {
		c.logger.Debug("dropping superseded result", "database", db, "duration", elapsed)
		return nil, ErrSuperseded
	}

	out := &Outcome{
		SQL:      sql,
		Database: db,
		Decision: decision,
		Result:   result,
		Err:      err,
		Duration: elapsed,
	}
	out.Entry = c.log.RecordExecution(sql, db, err == nil)

	if err != nil {
		c.logger.Info("statement failed", "database", db, "duration", elapsed, "error", err)
		return out, nil
	}

	c.logger.Debug("statement executed", "database", db, "rows", result.RowCount(), "duration", elapsed)

	if IsPendingSyncQuery(sql) {
		if n, ok := FirstInt(result); ok {
			c.mu.Lock()
			c.pendingSync, c.hasPending = n, true
			c.mu.Unlock()
			out.PendingSync = &n
		}
	}
	if !readOnly {
		c.recordAudit(history.ActionExecute, db, decision.Anchor, map[string]any{"sql": sql})
	}
	return out, nil
}

// begin registers a new execution, cancelling the previous one.
func (c *Console) begin(ctx context.Context) (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	execCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return execCtx, c.generation
}

// finish reports whether generation is still the latest execution.
func (c *Console) finish(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != generation {
		return false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return true
}

func (c *Console) authorize(db string, readOnly bool) error {
	level := c.Level(db)
	switch {
	case !level.CanRead():
		return &AccessError{User: c.user.DisplayName(), Database: db, Action: "read", Level: level}
	case !readOnly && !level.CanWrite():
		return &AccessError{User: c.user.DisplayName(), Database: db, Action: "write", Level: level}
	}
	return nil
}

// TableStructure returns the columns of table.
func (c *Console) TableStructure(ctx context.Context, db, table string) (*backend.Result, error) {
	if err := c.authorize(db, true); err != nil {
		return nil, err
	}
	return c.backend.TableStructure(ctx, db, table)
}

// TableData returns one page of table rows.
func (c *Console) TableData(ctx context.Context, db, table string, page, size int) (*backend.Page, error) {
	if err := c.authorize(db, true); err != nil {
		return nil, err
	}
	return c.backend.TableData(ctx, db, table, page, size)
}

// DeleteRow deletes the row with id from table.
func (c *Console) DeleteRow(ctx context.Context, db, table, id string) error {
	if err := c.authorize(db, false); err != nil {
		return err
	}
	if err := c.backend.DeleteRow(ctx, db, table, id); err != nil {
		return fmt.Errorf("failed to delete row %s from %s.%s: %w", id, db, table, err)
	}
	c.recordAudit(history.ActionDeleteRow, db, table, map[string]any{"id": id})
	c.logger.Info("row deleted", "database", db, "table", table, "id", id)
	return nil
}

// RequireAdmin returns an *AccessError unless the user may run admin actions.
func (c *Console) RequireAdmin(action string) error {
	if level := c.GlobalLevel(); !level.CanAdmin() {
		return &AccessError{User: c.user.DisplayName(), Action: action, Level: level}
	}
	return nil
}

// Audit appends an entry for the console's user. Failures are logged.
func (c *Console) Audit(action, db, table string, details map[string]any) {
	c.recordAudit(action, db, table, details)
}

func (c *Console) recordAudit(action, db, table string, details map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordAuditSimple(c.sessionID, history.Actor(c.user), action, db, table, details); err != nil {
		c.logger.Warn("failed to record audit entry", "action", action, "error", err)
	}
}

// IsCancelled reports whether err comes from a cancelled context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrSuperseded)
}
