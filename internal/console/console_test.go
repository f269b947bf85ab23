package console_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/catalog"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/history"
	"github.com/johan-st/dbconsole/internal/router"
	"github.com/johan-st/dbconsole/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditCall struct {
	actor, action, database, table string
	details                        map[string]any
}

type recordingAuditor struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *recordingAuditor) RecordAuditSimple(sessionID, actor, action, database, table string, details map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{actor, action, database, table, details})
	return nil
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, c := range a.calls {
		out = append(out, c.action)
	}
	return out
}

type fixture struct {
	console *console.Console
	fake    *testutil.FakeBackend
	audit   *recordingAuditor
	policy  *console.Policy
}

func newFixture(t *testing.T, user *access.UserInfo, resolver *access.Resolver) *fixture {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	fake := testutil.NewFakeBackend(t)
	client := backend.NewClient(backend.Services{DBManager: fake.URL()}, backend.WithLogger(logger))

	cat := catalog.New(client, logger)
	require.NoError(t, cat.Refresh(context.Background()))

	policy := console.NewPolicy(resolver, router.Router{})
	audit := &recordingAuditor{}
	c := console.New(console.Options{
		Backend: client,
		Catalog: cat,
		Policy:  policy,
		Log:     history.NewQueryLog(history.NewMemoryKV(), history.WithLogger(logger)),
		Audit:   audit,
		User:    user,
		Logger:  logger,
	})
	return &fixture{console: c, fake: fake, audit: audit, policy: policy}
}

func executeCalls(f *testutil.FakeBackend) []testutil.Call {
	return f.CallsTo("/db-manager/api/execute-sql")
}

func TestExecute_RoutesAndRecords(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := f.console
	require.Equal(t, "crm", c.Current())

	out, err := c.Execute(context.Background(), "  SELECT * FROM orders  ")
	require.NoError(t, err)

	assert.True(t, out.Success())
	assert.Equal(t, "sales", out.Database)
	assert.Equal(t, "orders", out.Decision.Anchor)
	assert.Equal(t, []string{"id", "name"}, out.Result.Columns)

	calls := executeCalls(f.fake)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Body, "dbName=sales")

	history := c.Log().History()
	require.Len(t, history, 1)
	assert.Equal(t, "SELECT * FROM orders", history[0].SQL)
	assert.Equal(t, "sales", history[0].Database)
	assert.True(t, history[0].Success)
	assert.Equal(t, history[0], out.Entry)

	// routing does not change the selection
	assert.Equal(t, "crm", c.Current())
}

func TestExecute_FallsBackToCurrent(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.console.SetCurrent("sales"))

	out, err := f.console.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "sales", out.Database)
	assert.False(t, out.Decision.Matched)
}

func TestExecute_FailureIsRecorded(t *testing.T) {
	f := newFixture(t, nil, nil)

	out, err := f.console.Execute(context.Background(), "SELECT syntax error FROM users")
	require.NoError(t, err)

	assert.False(t, out.Success())
	var httpErr *backend.HTTPError
	require.ErrorAs(t, out.Err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Equal(t, "You have an error in your SQL syntax", out.Message())

	history := f.console.Log().History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Equal(t, "crm", history[0].Database)
}

func TestExecute_EmptyQuery(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.console.Execute(context.Background(), " \n\t")
	require.ErrorIs(t, err, console.ErrEmptyQuery)
	assert.Empty(t, f.console.Log().History())
	assert.Empty(t, executeCalls(f.fake))
}

func TestExecute_DetectsPendingSync(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fake.Set(func(b *testutil.FakeBackend) { b.PendingCounts = []int64{17} })

	_, ok := f.console.PendingSync()
	assert.False(t, ok)

	out, err := f.console.Execute(context.Background(), "SELECT COUNT(*)\n  FROM us_user WHERE sync_status=0")
	require.NoError(t, err)
	require.NotNil(t, out.PendingSync)
	assert.Equal(t, int64(17), *out.PendingSync)

	n, ok := f.console.PendingSync()
	assert.True(t, ok)
	assert.Equal(t, int64(17), n)

	out, err = f.console.Execute(context.Background(), "SELECT * FROM users")
	require.NoError(t, err)
	assert.Nil(t, out.PendingSync)
}

func TestExecute_SupersededResultIsDropped(t *testing.T) {
	f := newFixture(t, nil, nil)
	release := make(chan struct{})
	defer close(release)

	f.fake.Set(func(b *testutil.FakeBackend) {
		b.Exec = func(db, sql string) (int, any) {
			if strings.Contains(sql, "slow") {
				<-release
			}
			return http.StatusOK, map[string]any{"data": []map[string]any{{"n": 1}}}
		}
	})

	slowErr := make(chan error, 1)
	go func() {
		_, err := f.console.Execute(context.Background(), "SELECT 'slow' FROM users")
		slowErr <- err
	}()

	require.Eventually(t, func() bool { return len(executeCalls(f.fake)) == 1 }, 2*time.Second, 5*time.Millisecond)

	out, err := f.console.Execute(context.Background(), "SELECT 2 FROM users")
	require.NoError(t, err)
	assert.True(t, out.Success())

	select {
	case err := <-slowErr:
		assert.ErrorIs(t, err, console.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded execution did not return")
	}

	history := f.console.Log().History()
	require.Len(t, history, 1)
	assert.Equal(t, "SELECT 2 FROM users", history[0].SQL)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil, nil)
	release := make(chan struct{})
	defer close(release)
	f.fake.Set(func(b *testutil.FakeBackend) {
		b.Exec = func(db, sql string) (int, any) {
			<-release
			return http.StatusOK, map[string]any{"data": []any{}}
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.console.Execute(context.Background(), "SELECT 1")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(executeCalls(f.fake)) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.console.Cancel()

	select {
	case err := <-done:
		assert.True(t, console.IsCancelled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled execution did not return")
	}
	assert.Empty(t, f.console.Log().History())
}

func TestExecute_AccessControl(t *testing.T) {
	resolver := access.NewResolver()
	resolver.AddUserRule("bob", "crm", access.ReadOnly)
	bob := &access.UserInfo{Name: "bob"}
	f := newFixture(t, bob, resolver)
	c := f.console

	assert.Equal(t, []string{"crm"}, c.Snapshot().Databases())
	assert.Equal(t, "crm", c.Current())

	_, err := c.Execute(context.Background(), "DELETE FROM users WHERE id = 1")
	var accessErr *console.AccessError
	require.ErrorAs(t, err, &accessErr)
	assert.Equal(t, "write", accessErr.Action)
	assert.Equal(t, "crm", accessErr.Database)
	assert.Empty(t, executeCalls(f.fake))
	assert.Empty(t, c.Log().History())
	assert.Equal(t, []string{history.ActionDeniedQuery}, f.audit.actions())

	// orders lives in a database bob cannot see, so it falls back to crm
	out, err := c.Execute(context.Background(), "SELECT * FROM orders")
	require.NoError(t, err)
	assert.Equal(t, "crm", out.Database)

	err = c.SetCurrent("sales")
	assert.True(t, console.IsAccessDenied(err))
	require.Error(t, c.SetCurrent("nope"))
	assert.False(t, console.IsAccessDenied(c.SetCurrent("nope")))

	assert.True(t, console.IsAccessDenied(c.RequireAdmin("sync users")))
}

func TestExecute_WriteIsAudited(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.console.Execute(context.Background(), "DELETE FROM users WHERE id = 1")
	require.NoError(t, err)
	_, err = f.console.Execute(context.Background(), "SELECT * FROM users")
	require.NoError(t, err)

	require.Equal(t, []string{history.ActionExecute}, f.audit.actions())
	call := f.audit.calls[0]
	assert.Equal(t, "local", call.actor)
	assert.Equal(t, "crm", call.database)
	assert.Equal(t, "users", call.table)
}

func TestExecute_PolicyUpdate(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.console.SetCurrent("sales"))

	out, err := f.console.Execute(context.Background(), "SELECT * FROM users")
	require.NoError(t, err)
	assert.Equal(t, "crm", out.Database)

	f.policy.Update(f.policy.Resolver(), router.Router{PreferCurrent: true})

	out, err = f.console.Execute(context.Background(), "SELECT * FROM users")
	require.NoError(t, err)
	assert.Equal(t, "sales", out.Database)
}

func TestExecute_NoDatabase(t *testing.T) {
	c := console.New(console.Options{
		Backend: nil,
		Catalog: staticRegistry{},
	})

	_, err := c.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, console.ErrNoDatabase)
}

type staticRegistry struct{ snap catalog.Snapshot }

func (s staticRegistry) Snapshot() catalog.Snapshot { return s.snap }

func TestTableBrowsing(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	page, err := f.console.TableData(ctx, "crm", "users", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Rows, 2)
	assert.Equal(t, int64(3), page.Total)

	structure, err := f.console.TableStructure(ctx, "crm", "users")
	require.NoError(t, err)
	assert.Equal(t, 2, structure.RowCount())

	require.NoError(t, f.console.DeleteRow(ctx, "crm", "users", "2"))
	assert.Equal(t, []string{history.ActionDeleteRow}, f.audit.actions())

	err = f.console.DeleteRow(ctx, "crm", "users", "99")
	require.Error(t, err)
	var httpErr *backend.HTTPError
	assert.True(t, errors.As(err, &httpErr))
}

func TestTableBrowsing_ReadOnlyCannotDelete(t *testing.T) {
	resolver := access.NewResolver()
	resolver.SetAnonymousAccess(access.ReadOnly)
	f := newFixture(t, &access.UserInfo{IsAnonymous: true, AnonymousName: "calm-otter-07"}, resolver)

	_, err := f.console.TableData(context.Background(), "crm", "users", 1, 20)
	require.NoError(t, err)

	err = f.console.DeleteRow(context.Background(), "crm", "users", "1")
	assert.True(t, console.IsAccessDenied(err))
	assert.Empty(t, f.fake.CallsTo("/db-manager/api/delete-data"))
}

func TestIsPendingSyncQuery(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{console.PendingSyncQuery, true},
		{"SELECT   COUNT(*) AS cnt\nFROM us_user\nWHERE sync_status=0 AND deleted=0", true},
		{"select count(*) from us_user where sync_status = 0", false},
		{"select count(id) from us_user where sync_status=0", false},
		{"select count(*) from users where sync_status=0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, console.IsPendingSyncQuery(tt.sql), tt.sql)
	}
}

func TestFirstInt(t *testing.T) {
	n, ok := console.FirstInt(&backend.Result{Columns: []string{"cnt"}, Rows: []backend.Row{{"cnt": "12"}}})
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)

	_, ok = console.FirstInt(&backend.Result{Columns: []string{"cnt"}})
	assert.False(t, ok)
	_, ok = console.FirstInt(nil)
	assert.False(t, ok)
	_, ok = console.FirstInt(&backend.Result{Columns: []string{"cnt"}, Rows: []backend.Row{{"cnt": "many"}}})
	assert.False(t, ok)
}
