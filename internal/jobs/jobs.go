// Package jobs runs backend sync jobs, polling the pending sync count while
// they run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/history"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidCorpID is returned when user sync is started without a corp id.
	ErrInvalidCorpID = errors.New("please enter a valid corp id")
	// ErrNoAADIDs is returned when init users is started without aad ids.
	ErrNoAADIDs = errors.New("no aad ids given")
)

// Kind identifies a job.
type Kind string

const (
	SyncAAD        Kind = "sync_aad"
	SyncUsers      Kind = "sync_users"
	SyncDepartment Kind = "sync_departments"
	InitUsers      Kind = "init_users"
	SFEFetch       Kind = "sfe_fetch"
	SFEExecute     Kind = "sfe_execute"
	SFEDepartments Kind = "sfe_departments"
	SFEEmployees   Kind = "sfe_employees"
)

// Kinds lists every job in display order.
var Kinds = []Kind{SyncAAD, SyncUsers, SyncDepartment, InitUsers, SFEFetch, SFEExecute, SFEDepartments, SFEEmployees}

// Title returns a human readable job name.
func (k Kind) Title() string {
	switch k {
	case SyncAAD:
		return "AAD manual sync"
	case SyncUsers:
		return "User sync"
	case SyncDepartment:
		return "Department sync"
	case InitUsers:
		return "Init users"
	case SFEFetch:
		return "SFE fetch"
	case SFEExecute:
		return "SFE execute fetch"
	case SFEDepartments:
		return "SFE departments"
	case SFEEmployees:
		return "SFE employees"
	default:
		return string(k)
	}
}

// ParseKind parses a job name, accepting dashes for underscores.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// pollQueries are the pending count queries for jobs that poll.
var pollQueries = map[Kind]string{
	SyncUsers:      console.PendingSyncQuery,
	SyncDepartment: console.PendingSyncQuery + " and deleted=0",
	InitUsers:      console.PendingSyncQuery + " and deleted=0",
}

// Backend is the subset of the backend client jobs use.
type Backend interface {
	ExecuteSQL(ctx context.Context, dbName, sql string) (*backend.Result, error)
	ManualSyncAAD(ctx context.Context) error
	StartUserSync(ctx context.Context, corpID string, aadIDs []string) (string, error)
	SyncDepartments(ctx context.Context) error
	InitUsers(ctx context.Context, aadIDs []string) error
	SFEFetch(ctx context.Context) (*backend.SFEData, error)
	SFEExecuteFetch(ctx context.Context) (*backend.SFEExecuteResult, error)
	SFEDepartments(ctx context.Context) ([]backend.Row, error)
	SFEEmployees(ctx context.Context) ([]backend.Row, error)
}

// Caller is the console a job runs for: it authorizes the run and records
// the outcome.
type Caller interface {
	RequireAdmin(action string) error
	Audit(action, db, table string, details map[string]any)
}

// Event is a progress update from a running job.
type Event struct {
	Job     Kind
	RunID   string
	Time    time.Time
	Message string
	// Pending is set when the event carries a polled pending sync count.
	Pending *int64
	Done    bool
	Err     error
}

// Request describes a job to run.
type Request struct {
	Job Kind
	// Database the pending count is polled against.
	Database string
	CorpID   string
	AADIDs   []string
}

// Report is the outcome of a run.
type Report struct {
	Job      Kind
	RunID    string
	Started  time.Time
	Finished time.Time
	BatchNo  string
	Pending  *int64
	SFE      *backend.SFEData
	Executed *backend.SFEExecuteResult
	Rows     []backend.Row
	Err      error
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Runner runs jobs.
type Runner struct {
	backend  Backend
	caller   Caller
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a runner polling every interval. A nil caller skips
// authorization and auditing.
func NewRunner(b Backend, caller Caller, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{backend: b, caller: caller, interval: interval, logger: logger}
}

type run struct {
	id       string
	job      Kind
	progress func(Event)
	logger   *slog.Logger
}

func (r *run) emit(msg string, pending *int64) {
	r.logger.Info(msg, "pending", derefOr(pending, -1))
	if r.progress != nil {
		r.progress(Event{Job: r.job, RunID: r.id, Time: time.Now(), Message: msg, Pending: pending})
	}
}

// Run validates req, runs the job and reports progress to progress, which
// may be nil. The returned report is never nil; its Err matches the error.
func (r *Runner) Run(ctx context.Context, req Request, progress func(Event)) (*Report, error) {
	id := uuid.NewString()
	rn := &run{
		id:       id,
		job:      req.Job,
		progress: progress,
		logger:   r.logger.With("job", string(req.Job), "run_id", id),
	}
	report := &Report{Job: req.Job, RunID: id, Started: time.Now()}

	err := r.validate(&req)
	if err == nil && r.caller != nil {
		err = r.caller.RequireAdmin(req.Job.Title())
	}
	if err == nil {
		err = r.execute(ctx, rn, req, report)
	}

	report.Finished = time.Now()
	report.Err = err
	r.finish(rn, req, report)
	return report, err
}

func (r *Runner) validate(req *Request) error {
	if _, ok := ParseKind(string(req.Job)); !ok {
		return fmt.Errorf("unknown job %q", req.Job)
	}
	switch req.Job {
	case SyncUsers:
		req.CorpID = strings.TrimSpace(req.CorpID)
		if req.CorpID == "" {
			return ErrInvalidCorpID
		}
	case InitUsers:
		if len(req.AADIDs) == 0 {
			return ErrNoAADIDs
		}
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, rn *run, req Request, report *Report) error {
	switch req.Job {
	case SyncAAD:
		rn.emit("Starting AAD manual sync...", nil)
		return r.backend.ManualSyncAAD(ctx)

	case SyncUsers:
		msg := fmt.Sprintf("Starting sync for corp id %s...", req.CorpID)
		if len(req.AADIDs) > 0 {
			msg = fmt.Sprintf("Starting sync for corp id %s, %d selected users...", req.CorpID, len(req.AADIDs))
		}
		rn.emit(msg, nil)
		return r.withPolling(ctx, rn, req, report, func(ctx context.Context) error {
			batch, err := r.backend.StartUserSync(ctx, req.CorpID, req.AADIDs)
			if err != nil {
				return err
			}
			report.BatchNo = batch
			rn.emit("Sync started with batch number: "+batch, nil)
			return nil
		})

	case SyncDepartment:
		rn.emit("Starting sync departments...", nil)
		return r.withPolling(ctx, rn, req, report, r.backend.SyncDepartments)

	case InitUsers:
		rn.emit(fmt.Sprintf("Starting init of %d users...", len(req.AADIDs)), nil)
		return r.withPolling(ctx, rn, req, report, func(ctx context.Context) error {
			return r.backend.InitUsers(ctx, req.AADIDs)
		})

	case SFEFetch:
		rn.emit("Fetching SFE data...", nil)
		data, err := r.backend.SFEFetch(ctx)
		if err != nil {
			return err
		}
		report.SFE = data
		rn.emit(fmt.Sprintf("Fetched %d departments, %d employees", len(data.Departments), len(data.Employees)), nil)
		return nil

	case SFEExecute:
		rn.emit("Executing SFE fetch...", nil)
		res, err := r.backend.SFEExecuteFetch(ctx)
		if err != nil {
			return err
		}
		report.Executed = res
		rn.emit(fmt.Sprintf("Fetch executed: %d succeeded, %d failed", res.Success, res.Failed), nil)
		data, err := r.backend.SFEFetch(ctx)
		if err != nil {
			return fmt.Errorf("failed to refresh SFE data: %w", err)
		}
		report.SFE = data
		return nil

	case SFEDepartments:
		rows, err := r.backend.SFEDepartments(ctx)
		if err != nil {
			return err
		}
		report.Rows = rows
		rn.emit(fmt.Sprintf("Loaded %d departments", len(rows)), nil)
		return nil

	case SFEEmployees:
		rows, err := r.backend.SFEEmployees(ctx)
		if err != nil {
			return err
		}
		report.Rows = rows
		rn.emit(fmt.Sprintf("Loaded %d employees", len(rows)), nil)
		return nil
	}
	return fmt.Errorf("unknown job %q", req.Job)
}

// withPolling runs job while polling the pending count, then polls once more
// after it succeeds.
func (r *Runner) withPolling(ctx context.Context, rn *run, req Request, report *Report, job func(context.Context) error) error {
	query := pollQueries[req.Job]
	if req.Database == "" {
		rn.logger.Debug("no database selected, pending count not polled")
		return job(ctx)
	}

	pollCtx, stop := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return nil
			case <-ticker.C:
				if n, ok := r.poll(pollCtx, rn, req.Database, query); ok {
					report.Pending = &n
					rn.emit(fmt.Sprintf("Pending sync: %d", n), &n)
				}
			}
		}
	})

	err := job(ctx)
	stop()
	_ = g.Wait()
	if err != nil {
		return err
	}

	if n, ok := r.poll(ctx, rn, req.Database, query); ok {
		report.Pending = &n
		rn.emit(fmt.Sprintf("Pending sync after completion: %d", n), &n)
	}
	return nil
}

func (r *Runner) poll(ctx context.Context, rn *run, database, query string) (int64, bool) {
	result, err := r.backend.ExecuteSQL(ctx, database, query)
	if err != nil {
		if ctx.Err() == nil {
			rn.logger.Warn("failed to poll sync count", "database", database, "error", err)
		}
		return 0, false
	}
	return console.FirstInt(result)
}

func (r *Runner) finish(rn *run, req Request, report *Report) {
	details := map[string]any{
		"run_id":      report.RunID,
		"duration_ms": report.Duration().Milliseconds(),
		"status":      "ok",
	}
	if req.CorpID != "" {
		details["corp_id"] = req.CorpID
	}
	if len(req.AADIDs) > 0 {
		details["aad_ids"] = req.AADIDs
	}
	if report.BatchNo != "" {
		details["batch_no"] = report.BatchNo
	}
	if report.Pending != nil {
		details["pending"] = *report.Pending
	}

	if report.Err != nil {
		details["status"] = "failed"
		details["error"] = backend.ErrorMessage(report.Err)
		rn.logger.Warn("job failed", "error", report.Err, "duration", report.Duration())
	} else {
		rn.logger.Info("job completed", "duration", report.Duration())
	}

	if r.caller != nil && !console.IsAccessDenied(report.Err) {
		r.caller.Audit(auditAction(req.Job), req.Database, "", details)
	}

	if rn.progress != nil {
		msg := req.Job.Title() + " completed successfully!"
		if report.Err != nil {
			msg = "Error: " + backend.ErrorMessage(report.Err)
		}
		rn.progress(Event{Job: req.Job, RunID: rn.id, Time: report.Finished, Message: msg, Pending: report.Pending, Done: true, Err: report.Err})
	}
}

func auditAction(k Kind) string {
	switch k {
	case SyncAAD:
		return history.ActionSyncAAD
	case SyncUsers:
		return history.ActionSyncUsers
	case SyncDepartment:
		return history.ActionSyncDept
	case InitUsers:
		return history.ActionInitUsers
	case SFEFetch, SFEDepartments, SFEEmployees:
		return history.ActionSFEFetch
	case SFEExecute:
		return history.ActionSFEExecute
	default:
		return string(k)
	}
}

// ParseAADIDs splits a comma separated list, dropping blanks. It returns nil
// when no ids remain.
func ParseAADIDs(s string) []string {
	var ids []string
	for part := range strings.SplitSeq(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func derefOr(n *int64, def int64) int64 {
	if n == nil {
		return def
	}
	return *n
}
