// Package tui is the interactive terminal console: database and table panes,
// a routed SQL bar with history and favorites, and the sync job panel.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/jobs"
	"github.com/johan-st/dbconsole/internal/logger"
)

// Focus represents which pane is focused
type Focus int

const (
	FocusDatabases Focus = iota
	FocusTables
	FocusData
)

// overlay is a modal drawn over the panes.
type overlay int

const (
	overlayNone overlay = iota
	overlayHelp
	overlayStructure
	overlayHistory
	overlayJobs
	overlayLogs
)

const (
	pageSize     = 50 // rows per page
	tickInterval = 2 * time.Second
)

// LogSource exposes captured warnings and errors for the status bar.
type LogSource interface {
	Counts() (warn, err int)
	ClearCounts()
	Recent() []logger.Entry
}

// Options configure an App.
type Options struct {
	Console *console.Console
	// Context bounds every backend call; the session context over SSH.
	Context context.Context
	// Jobs enables the sync job panel.
	Jobs         jobs.Backend
	PollInterval time.Duration
	CorpID       string
	// Refresh reloads the table registry.
	Refresh func(ctx context.Context) error
	Logs    LogSource
	Logger  *slog.Logger
	// Activity is called for every statement run, to keep the session alive.
	Activity func()

	Width, Height int
}

// App is the main TUI application model.
type App struct {
	// Dependencies
	console      *console.Console
	ctx          context.Context
	jobs         jobs.Backend
	pollInterval time.Duration
	refresh      func(ctx context.Context) error
	logs         LogSource
	logger       *slog.Logger
	activity     func()

	// Window size
	width, height int

	// State
	focus         Focus
	databases     []string
	selectedDB    int
	tables        []backend.TableDescriptor
	selectedTable int

	// Data state. The pane shows either a table page or a statement result.
	dataTable   table.Model
	dataTitle   string
	dataColumns []string
	dataRows    [][]any
	totalRows   int64
	page        int
	pages       int
	selectedRow int
	showsResult bool

	// Column scrolling
	colOffset   int // first visible column index
	visibleCols int // number of columns that fit in viewport

	// Table viewport
	tableDataRows int // number of data rows visible in table (excludes header)

	// Query input
	queryInput   textinput.Model
	queryActive  bool
	queryRunning bool
	queryError   error
	queryNotice  string

	// Query history navigation in the query bar
	queryHistoryIdx   int    // -1 = current input, 0+ = history index
	queryHistoryDraft string // saves current input when navigating history

	// Structure overlay
	structure      *backend.Result
	structureTable string

	// Row pending delete confirmation
	confirmDelete string

	overlay  overlay
	history  historyView
	jobPanel jobPanel
	spinner  spinner.Model

	notice string
	err    error

	// Key bindings
	keys KeyMap
}

// NewApp creates a new TUI application.
func NewApp(opts Options) *App {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	dataTable := table.New(
		table.WithColumns([]table.Column{}),
		table.WithRows([]table.Row{}),
		table.WithFocused(false),
		table.WithHeight(max(opts.Height-10, 1)),
	)
	dataTable.SetStyles(table.Styles{
		Header:   tableHeaderStyle,
		Cell:     tableCellStyle,
		Selected: tableSelectedRowStyle,
	})

	queryInput := textinput.New()
	queryInput.Prompt = ""
	queryInput.Placeholder = "SELECT * FROM ..."
	queryInput.TextStyle = queryInputStyle
	queryInput.PlaceholderStyle = dimItemStyle

	a := &App{
		console:         opts.Console,
		ctx:             ctx,
		jobs:            opts.Jobs,
		pollInterval:    opts.PollInterval,
		refresh:         opts.Refresh,
		logs:            opts.Logs,
		logger:          log.With("component", "tui"),
		activity:        opts.Activity,
		width:           opts.Width,
		height:          opts.Height,
		focus:           FocusDatabases,
		dataTable:       dataTable,
		queryInput:      queryInput,
		queryHistoryIdx: -1,
		jobPanel:        jobPanel{corpID: opts.CorpID},
		spinner:         spinner.New(spinner.WithSpinner(spinner.Dot)),
		keys:            DefaultKeyMap(),
	}
	if a.width > 0 && a.height > 0 {
		a.updateSizes()
	}
	return a
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadDatabases, a.tick())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (a *App) loadDatabases() tea.Msg {
	if a.refresh != nil && a.console.Snapshot().Len() == 0 {
		if err := a.refresh(a.ctx); err != nil {
			return DatabasesLoadedMsg{Error: err}
		}
	}
	return DatabasesLoadedMsg{Databases: a.console.Snapshot().Databases()}
}

func (a *App) refreshRegistry() tea.Msg {
	if a.refresh != nil {
		if err := a.refresh(a.ctx); err != nil {
			return DatabasesLoadedMsg{Error: err}
		}
	}
	return DatabasesLoadedMsg{Databases: a.console.Snapshot().Databases()}
}

// currentDB returns the database selected in the databases pane.
func (a *App) currentDB() string {
	if a.selectedDB < len(a.databases) {
		return a.databases[a.selectedDB]
	}
	return ""
}

// currentTable returns the table selected in the tables pane.
func (a *App) currentTable() string {
	if a.selectedTable < len(a.tables) {
		return a.tables[a.selectedTable].Name
	}
	return ""
}

// selectDatabase makes the highlighted database current and lists its
// tables from the registry.
func (a *App) selectDatabase() tea.Cmd {
	db := a.currentDB()
	if db == "" {
		a.tables = nil
		return nil
	}
	if err := a.console.SetCurrent(db); err != nil {
		a.err = err
		return nil
	}
	a.tables = a.console.Snapshot().Tables(db)
	a.selectedTable = 0
	a.updateSizes()
	if len(a.tables) == 0 {
		a.clearData()
		return nil
	}
	return a.loadPage(1)
}

func (a *App) loadPage(page int) tea.Cmd {
	db, tbl := a.currentDB(), a.currentTable()
	if db == "" || tbl == "" {
		return nil
	}
	return func() tea.Msg {
		p, err := a.console.TableData(a.ctx, db, tbl, page, pageSize)
		return DataLoadedMsg{Database: db, Table: tbl, Page: p, Error: err}
	}
}

func (a *App) loadStructure() tea.Msg {
	db, tbl := a.currentDB(), a.currentTable()
	res, err := a.console.TableStructure(a.ctx, db, tbl)
	return StructureLoadedMsg{Table: db + "." + tbl, Result: res, Error: err}
}

func (a *App) executeQuery(sql string) tea.Cmd {
	activity := a.activity
	return func() tea.Msg {
		if activity != nil {
			activity()
		}
		out, err := a.console.Execute(a.ctx, sql)
		return QueryExecutedMsg{Outcome: out, Error: err}
	}
}

func (a *App) deleteRow(id string) tea.Cmd {
	db, tbl := a.currentDB(), a.currentTable()
	return func() tea.Msg {
		return RowDeletedMsg{ID: id, Error: a.console.DeleteRow(a.ctx, db, tbl, id)}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.updateSizes()
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.syncDatabases(), a.tick())

	case spinner.TickMsg:
		if !a.queryRunning && !a.jobPanel.running {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case DatabasesLoadedMsg:
		if msg.Error != nil {
			a.err = msg.Error
			return a, nil
		}
		a.err = nil
		a.databases = msg.Databases
		a.selectedDB = 0
		if current := a.console.Current(); current != "" {
			for i, db := range a.databases {
				if db == current {
					a.selectedDB = i
				}
			}
		}
		return a, a.selectDatabase()

	case DataLoadedMsg:
		if msg.Database != a.currentDB() || msg.Table != a.currentTable() {
			return a, nil
		}
		if msg.Error != nil {
			a.err = msg.Error
			return a, nil
		}
		a.err = nil
		a.setPage(msg.Table, msg.Page)
		return a, nil

	case StructureLoadedMsg:
		if msg.Error != nil {
			a.err = msg.Error
			a.overlay = overlayNone
			return a, nil
		}
		a.structure = msg.Result
		a.structureTable = msg.Table
		return a, nil

	case QueryExecutedMsg:
		return a.handleQueryResult(msg)

	case RowDeletedMsg:
		if msg.Error != nil {
			a.err = msg.Error
			return a, nil
		}
		a.notice = fmt.Sprintf("Deleted row %s", msg.ID)
		return a, a.loadPage(a.page)

	case JobEventMsg:
		a.jobPanel.addEvent(msg.Event)
		return a, a.jobPanel.wait()

	case JobFinishedMsg:
		a.jobPanel.finish(msg.Report, msg.Error)
		return a, nil

	case ErrorMsg:
		a.err = msg.Error
		return a, nil
	}

	return a, nil
}

// syncDatabases picks up registry changes made by the background refresh.
func (a *App) syncDatabases() tea.Cmd {
	dbs := a.console.Snapshot().Databases()
	if slices.Equal(dbs, a.databases) {
		return nil
	}
	current := a.currentDB()
	a.databases = dbs
	a.selectedDB = 0
	for i, db := range dbs {
		if db == current {
			a.selectedDB = i
		}
	}
	if a.currentDB() == current && current != "" {
		a.tables = a.console.Snapshot().Tables(current)
		if a.selectedTable >= len(a.tables) {
			a.selectedTable = 0
		}
		a.updateSizes()
		return nil
	}
	return a.selectDatabase()
}

func (a *App) handleQueryResult(msg QueryExecutedMsg) (tea.Model, tea.Cmd) {
	if console.IsCancelled(msg.Error) {
		return a, nil
	}
	a.queryRunning = false

	if msg.Error != nil {
		a.queryError = msg.Error
		a.queryNotice = ""
		return a, nil
	}

	out := msg.Outcome
	a.queryNotice = describeRoute(out)
	if !out.Success() {
		a.queryError = errors.New(out.Message())
		return a, nil
	}
	a.queryError = nil

	title := "Result: " + out.Database
	if out.PendingSync != nil {
		a.notice = fmt.Sprintf("Pending sync: %d", *out.PendingSync)
	}
	a.setResult(title, out.Result)
	return a, nil
}

// describeRoute summarizes where a statement ran.
func describeRoute(out *console.Outcome) string {
	d := out.Decision
	switch {
	case d.Matched:
		return fmt.Sprintf("-> %s (table %s) %s", d.Database, d.Anchor, out.Duration.Round(time.Millisecond))
	case d.Anchor != "":
		return fmt.Sprintf("-> %s (table %s not found) %s", d.Database, d.Anchor, out.Duration.Round(time.Millisecond))
	default:
		return fmt.Sprintf("-> %s %s", d.Database, out.Duration.Round(time.Millisecond))
	}
}

func (a *App) setPage(tbl string, p *backend.Page) {
	a.showsResult = false
	a.dataTitle = tbl
	a.page = max(p.Page, 1)
	a.pages = p.Pages()
	a.totalRows = p.Total
	a.fillRows(p.Result())
}

func (a *App) setResult(title string, res *backend.Result) {
	a.showsResult = true
	a.dataTitle = title
	a.page, a.pages = 1, 1
	a.totalRows = int64(res.RowCount())
	a.fillRows(res)
	a.focus = FocusData
	a.updateFocus()
}

func (a *App) fillRows(res *backend.Result) {
	a.dataColumns = nil
	a.dataRows = nil
	if res != nil {
		a.dataColumns = res.Columns
		a.dataRows = make([][]any, res.RowCount())
		for i := range a.dataRows {
			a.dataRows[i] = res.Values(i)
		}
	}
	a.selectedRow = 0
	a.colOffset = 0
	a.confirmDelete = ""
	a.updateDataTable()
	a.updateTableHeight()
}

func (a *App) clearData() {
	a.dataTitle = ""
	a.totalRows = 0
	a.page, a.pages = 0, 0
	a.fillRows(nil)
}

// updateTableHeight recalculates the table height based on current indicators
func (a *App) updateTableHeight() {
	contentHeight := a.height - 2 // query (1) + status (1)

	// Pane inner height = contentHeight - 2 (top and bottom borders)
	paneInnerHeight := max(contentHeight-2, 1)

	indicators := 0
	if a.hasColumnIndicator() {
		indicators++
	}
	if a.pages > 1 || a.confirmDelete != "" {
		indicators++
	}

	tableHeight := max(paneInnerHeight-indicators, 2)
	a.dataTable.SetHeight(tableHeight)
	a.tableDataRows = max(tableHeight-1, 1)
}

func (a *App) hasColumnIndicator() bool {
	endCol := min(a.colOffset+a.visibleCols, len(a.dataColumns))
	return a.colOffset > 0 || endCol < len(a.dataColumns)
}

func (a *App) paneWidths() (dbWidth, tableWidth, dataWidth int) {
	dbWidth = a.calculateDBPaneWidth()
	tableWidth = a.calculateTablePaneWidth()

	// Cap panel widths to reasonable maximum (1/3 of screen each)
	maxPanelWidth := a.width / 3
	dbWidth = max(min(dbWidth, maxPanelWidth), 15)
	tableWidth = max(min(tableWidth, maxPanelWidth), 12)

	dataWidth = a.width - dbWidth - tableWidth
	return dbWidth, tableWidth, dataWidth
}

func (a *App) updateSizes() {
	_, _, dataWidth := a.paneWidths()
	a.dataTable.SetWidth(max(dataWidth-4, 1)) // account for pane padding
	a.queryInput.Width = max(a.width-8, 10)

	// Each column uses: colWidth + 1 (gap between columns)
	const minColWidth = 8
	a.visibleCols = max((dataWidth-4)/(minColWidth+1), 1)

	a.updateDataTable()
	a.updateTableHeight()
}

func (a *App) updateDataTable() {
	if len(a.dataColumns) == 0 {
		a.dataTable.SetRows([]table.Row{})
		a.dataTable.SetColumns([]table.Column{})
		return
	}

	totalCols := len(a.dataColumns)
	a.colOffset = max(min(a.colOffset, totalCols-1), 0)
	endCol := min(a.colOffset+a.visibleCols, totalCols)
	visibleColCount := endCol - a.colOffset

	_, _, dataWidth := a.paneWidths()
	maxColWidth := max(dataWidth-6, 8)

	columnWidths := make([]int, visibleColCount)
	for i := range visibleColCount {
		src := a.colOffset + i
		width := len(a.dataColumns[src])
		for _, row := range a.dataRows {
			if src < len(row) {
				width = max(width, len(backend.FormatValue(row[src])))
			}
		}
		columnWidths[i] = max(min(width, maxColWidth), 8)
	}

	columns := make([]table.Column, visibleColCount)
	for i := range visibleColCount {
		columns[i] = table.Column{
			Title: truncateString(a.dataColumns[a.colOffset+i], columnWidths[i]-2),
			Width: columnWidths[i],
		}
	}

	rows := make([]table.Row, len(a.dataRows))
	for i, row := range a.dataRows {
		cells := make([]string, visibleColCount)
		for j := range visibleColCount {
			if src := a.colOffset + j; src < len(row) {
				cells[j] = truncateString(backend.FormatValue(row[src]), columnWidths[j]-2)
			}
		}
		rows[i] = cells
	}

	// Must set rows before columns to avoid index panic in bubbles/table
	a.dataTable.SetRows([]table.Row{})
	a.dataTable.SetColumns(columns)
	a.dataTable.SetRows(rows)
	if a.selectedRow >= len(rows) {
		a.selectedRow = 0
	}
	a.dataTable.SetCursor(a.selectedRow)
}

// selectedRowID returns the id column of the selected row.
func (a *App) selectedRowID() (string, bool) {
	if a.showsResult || a.selectedRow >= len(a.dataRows) {
		return "", false
	}
	for i, col := range a.dataColumns {
		if col == "id" && i < len(a.dataRows[a.selectedRow]) {
			return backend.FormatValue(a.dataRows[a.selectedRow][i]), true
		}
	}
	return "", false
}
