package tui

import (
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/jobs"
)

// Messages for async operations

// DatabasesLoadedMsg is sent when the registry has been read.
type DatabasesLoadedMsg struct {
	Databases []string
	Error     error
}

// DataLoadedMsg is sent when a page of table data is loaded.
type DataLoadedMsg struct {
	Database string
	Table    string
	Page     *backend.Page
	Error    error
}

// StructureLoadedMsg is sent when table columns are loaded.
type StructureLoadedMsg struct {
	Table  string
	Result *backend.Result
	Error  error
}

// QueryExecutedMsg is sent when a statement finishes.
type QueryExecutedMsg struct {
	Outcome *console.Outcome
	Error   error
}

// RowDeletedMsg is sent when a row delete finishes.
type RowDeletedMsg struct {
	ID    string
	Error error
}

// JobEventMsg carries progress from a running job.
type JobEventMsg struct {
	Event jobs.Event
}

// JobFinishedMsg is sent after a job run returns.
type JobFinishedMsg struct {
	Report *jobs.Report
	Error  error
}

// ErrorMsg is sent when an error occurs.
type ErrorMsg struct {
	Error error
}

// tickMsg refreshes the registry view and the status bar counters.
type tickMsg struct{}
