package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/catalog"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/jobs"
	"github.com/johan-st/dbconsole/internal/router"
	"github.com/johan-st/dbconsole/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	*App
	t    *testing.T
	fake *testutil.FakeBackend
}

func newTestApp(t *testing.T, user *access.UserInfo, resolver *access.Resolver) *testApp {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	fake := testutil.NewFakeBackend(t)
	url := fake.URL()
	client := backend.NewClient(backend.Services{DBManager: url, AADSyncer: url, UserSync: url, Jiali: url}, backend.WithLogger(logger))
	cat := catalog.New(client, logger)

	env := &console.Env{
		Backend: client,
		Catalog: cat,
		Policy:  console.NewPolicy(resolver, router.Router{}),
		Logger:  logger,
	}
	app := NewApp(Options{
		Console:      env.Open(user, ""),
		Context:      context.Background(),
		Jobs:         client,
		PollInterval: 10 * time.Millisecond,
		Refresh:      cat.Refresh,
		Logger:       logger,
		Width:        160,
		Height:       40,
	})

	ta := &testApp{App: app, t: t, fake: fake}
	ta.settle(app.loadDatabases)
	return ta
}

// settle runs cmd and feeds the resulting messages back into the app until
// nothing is left. Timers are dropped.
func (ta *testApp) settle(cmd tea.Cmd) {
	ta.t.Helper()
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}

		done := make(chan tea.Msg, 1)
		go func() { done <- next() }()
		var msg tea.Msg
		select {
		case msg = <-done:
		case <-time.After(5 * time.Second):
			ta.t.Fatal("command did not finish")
		}

		switch msg := msg.(type) {
		case nil, spinner.TickMsg, tickMsg:
		case tea.BatchMsg:
			queue = append(queue, msg...)
		default:
			_, cmd := ta.Update(msg)
			queue = append(queue, cmd)
		}
	}
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+f":
		return tea.KeyMsg{Type: tea.KeyCtrlF}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

// press sends keys, returning the command of the last one.
func (ta *testApp) press(keys ...string) tea.Cmd {
	var cmd tea.Cmd
	for _, k := range keys {
		_, cmd = ta.Update(keyMsg(k))
	}
	return cmd
}

// query types sql into the query bar and runs it.
func (ta *testApp) query(sql string) {
	ta.t.Helper()
	ta.press("/", sql)
	ta.settle(ta.press("enter"))
}

func TestApp_LoadsRegistry(t *testing.T) {
	a := newTestApp(t, nil, nil)

	assert.Equal(t, []string{"crm", "sales"}, a.databases)
	assert.Equal(t, "crm", a.currentDB())
	assert.Equal(t, "users", a.currentTable())
	assert.Len(t, a.dataRows, 3)
	assert.Equal(t, []string{"id", "name"}, a.dataColumns)
	assert.False(t, a.showsResult)

	view := a.View()
	assert.Contains(t, view, "crm")
	assert.Contains(t, view, "us_user")
	assert.Contains(t, view, "alice")
}

func TestApp_SelectDatabase(t *testing.T) {
	a := newTestApp(t, nil, nil)

	a.settle(a.press("down"))
	assert.Equal(t, "sales", a.currentDB())
	assert.Equal(t, "sales", a.console.Current())
	assert.Equal(t, "orders", a.currentTable())

	// A stale page for the previous table is ignored.
	_, _ = a.Update(DataLoadedMsg{Database: "crm", Table: "users", Page: &backend.Page{}})
	assert.Equal(t, "orders", a.dataTitle)
}

func TestApp_QueryRoutesAndRecords(t *testing.T) {
	a := newTestApp(t, nil, nil)

	a.query("SELECT * FROM orders")

	assert.False(t, a.queryRunning)
	assert.NoError(t, a.queryError)
	assert.True(t, a.showsResult)
	assert.Equal(t, "Result: sales", a.dataTitle)
	assert.True(t, strings.HasPrefix(a.queryNotice, "-> sales (table orders)"), a.queryNotice)
	assert.Equal(t, FocusData, a.focus)

	history := a.console.Log().History()
	require.NotEmpty(t, history)
	assert.Equal(t, "SELECT * FROM orders", history[0].SQL)
	assert.Equal(t, "sales", history[0].Database)
}

func TestApp_QueryFailure(t *testing.T) {
	a := newTestApp(t, nil, nil)

	a.query("SELECT syntax error FROM users")

	require.Error(t, a.queryError)
	assert.Contains(t, a.queryError.Error(), "SQL syntax")
	assert.False(t, a.showsResult)
	assert.Contains(t, a.View(), "SQL syntax")
}

func TestApp_SupersededResultIgnored(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.queryRunning = true

	_, cmd := a.Update(QueryExecutedMsg{Error: console.ErrSuperseded})
	assert.Nil(t, cmd)
	assert.True(t, a.queryRunning)
	assert.NoError(t, a.queryError)
}

func TestApp_QueryBarHistory(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.query("SELECT * FROM orders")
	a.query("SELECT * FROM users")

	a.press("/", "draft", "up")
	assert.Equal(t, "SELECT * FROM users", a.queryInput.Value())
	a.press("up")
	assert.Equal(t, "SELECT * FROM orders", a.queryInput.Value())
	a.press("down", "down")
	assert.Equal(t, "draft", a.queryInput.Value())

	a.press("esc")
	assert.False(t, a.queryActive)
}

func TestApp_Favorites(t *testing.T) {
	a := newTestApp(t, nil, nil)

	a.press("/", "SELECT 1", "ctrl+f")
	assert.Equal(t, "Added to favorites", a.notice)
	assert.True(t, a.console.Log().IsFavorite("SELECT 1"))
	assert.Contains(t, a.View(), "★")

	a.press("ctrl+f")
	assert.Equal(t, "Removed from favorites", a.notice)
	assert.False(t, a.console.Log().IsFavorite("SELECT 1"))
}

func TestApp_HistoryOverlay(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.query("SELECT * FROM orders")
	a.query("SELECT * FROM users")

	a.press("H")
	require.Equal(t, overlayHistory, a.overlay)
	assert.Contains(t, a.View(), "Query History")

	a.press("orders")
	items := a.historyItems()
	require.Len(t, items, 1)
	assert.Equal(t, "SELECT * FROM orders", items[0].SQL)

	a.press("ctrl+f")
	assert.True(t, a.console.Log().IsFavorite("SELECT * FROM orders"))

	a.press("tab")
	assert.True(t, a.history.favorites)
	assert.Len(t, a.historyItems(), 1)

	a.press("enter")
	assert.Equal(t, overlayNone, a.overlay)
	assert.True(t, a.queryActive)
	assert.Equal(t, "SELECT * FROM orders", a.queryInput.Value())
}

func TestApp_PendingSyncShown(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.fake.Set(func(f *testutil.FakeBackend) { f.PendingCounts = []int64{17} })

	a.query(console.PendingSyncQuery)

	assert.Equal(t, "Pending sync: 17", a.notice)
	assert.Contains(t, a.View(), "pending 17")
}

func TestApp_DeleteRow(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.press("tab", "tab")
	require.Equal(t, FocusData, a.focus)

	a.press("down", "d")
	assert.Equal(t, "2", a.confirmDelete)
	assert.Contains(t, a.View(), "Delete row id=2 from users? (y/n)")

	a.settle(a.press("y"))
	assert.Equal(t, "Deleted row 2", a.notice)
	assert.Len(t, a.dataRows, 2)
	assert.Len(t, a.fake.CallsTo("/db-manager/api/delete-data"), 1)
}

func TestApp_DeleteCancelled(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.press("tab", "tab", "d", "n")

	assert.Empty(t, a.confirmDelete)
	assert.Equal(t, "Delete cancelled", a.notice)
	assert.Empty(t, a.fake.CallsTo("/db-manager/api/delete-data"))
}

func TestApp_DeleteRequiresWrite(t *testing.T) {
	resolver := access.NewResolver()
	resolver.AddPublicRule("*", access.ReadOnly)
	a := newTestApp(t, &access.UserInfo{Name: "viewer"}, resolver)

	a.press("tab", "tab", "d")
	assert.Empty(t, a.confirmDelete)
	assert.Equal(t, "Delete requires write access", a.notice)
}

func TestApp_SyncJob(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.fake.Set(func(f *testutil.FakeBackend) { f.PendingCounts = []int64{5} })

	a.press("J")
	require.Equal(t, overlayJobs, a.overlay)
	a.press("down", "down")
	require.Equal(t, jobs.SyncDepartment, a.jobPanel.selected())

	a.settle(a.press("enter"))

	assert.False(t, a.jobPanel.running)
	require.NotNil(t, a.jobPanel.report)
	assert.NoError(t, a.jobPanel.report.Err)
	assert.Len(t, a.fake.CallsTo("/syncDept"), 1)
	assert.Contains(t, strings.Join(a.jobPanel.lines, "\n"), "Starting sync departments...")
	assert.Contains(t, a.View(), "pending 5")
}

func TestApp_SyncJobValidation(t *testing.T) {
	a := newTestApp(t, nil, nil)

	a.press("J", "down")
	require.Equal(t, jobs.SyncUsers, a.jobPanel.selected())
	a.settle(a.press("enter"))

	require.NotNil(t, a.jobPanel.report)
	assert.ErrorIs(t, a.jobPanel.report.Err, jobs.ErrInvalidCorpID)
	assert.Empty(t, a.fake.CallsTo("/admin/user-sync/"))
}

func TestApp_Overlays(t *testing.T) {
	a := newTestApp(t, nil, nil)

	a.press("?")
	assert.Equal(t, overlayHelp, a.overlay)
	assert.Contains(t, a.View(), "sync jobs")
	a.press("esc")
	assert.Equal(t, overlayNone, a.overlay)

	a.press("L")
	assert.Equal(t, overlayLogs, a.overlay)
	a.press("q")
	assert.Equal(t, overlayNone, a.overlay)

	a.press("tab")
	a.settle(a.press("s"))
	assert.Equal(t, overlayStructure, a.overlay)
	assert.Equal(t, "crm.users", a.structureTable)
	assert.Contains(t, a.View(), "varchar")
}
