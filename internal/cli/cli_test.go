package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/catalog"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/history"
	"github.com/johan-st/dbconsole/internal/router"
	"github.com/johan-st/dbconsole/internal/testutil"
)

// testEnv sets up a handler against a fake backend.
type testEnv struct {
	t            *testing.T
	fake         *testutil.FakeBackend
	env          *console.Env
	handler      *Handler
	adminUser    *access.UserInfo
	readOnlyUser *access.UserInfo
	anonUser     *access.UserInfo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake := testutil.NewFakeBackend(t)
	url := fake.URL()
	logger := testutil.NewTestLogger(t)
	client := backend.NewClient(backend.Services{DBManager: url, AADSyncer: url, UserSync: url, Jiali: url},
		backend.WithLogger(logger))

	store, err := history.NewStore(testutil.DataDir(t))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	resolver := access.NewResolver()
	resolver.AddAdmin("admin")
	resolver.AddUserRule("reader", "*", access.ReadOnly)

	env := &console.Env{
		Backend: client,
		Catalog: catalog.New(client, logger),
		Policy:  console.NewPolicy(resolver, router.Router{}),
		Store:   store,
		Logger:  logger,
	}

	return &testEnv{
		t:    t,
		fake: fake,
		env:  env,
		handler: NewHandler(Options{
			Env:          env,
			Jobs:         client,
			PollInterval: 10 * time.Millisecond,
			CorpID:       "ww-default",
			Version:      "test",
		}),
		adminUser:    &access.UserInfo{Name: "admin"},
		readOnlyUser: &access.UserInfo{Name: "reader"},
		anonUser:     &access.UserInfo{IsAnonymous: true, AnonymousName: "quiet-otter-07"},
	}
}

func (e *testEnv) run(user *access.UserInfo, args ...string) (stdout, stderr string, exitCode int) {
	var outBuf, errBuf bytes.Buffer

	ctx := &CommandContext{
		Ctx:     context.Background(),
		User:    user,
		Console: e.env.Open(user, ""),
		Args:    args[1:],
		Out:     &outBuf,
		Err:     &errBuf,
	}
	e.handler.routeCommand(args[0], ctx)

	return outBuf.String(), errBuf.String(), ctx.exitCode
}

func (e *testEnv) executeCalls() int {
	return len(e.fake.CallsTo("/db-manager/api/execute-sql"))
}

// --- Query Tests ---

func TestCLI_Query_RoutesByTable(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, code := env.run(env.adminUser, "query", "SELECT * FROM orders")
	if code != 0 {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stderr, "-> sales (table orders)") {
		t.Errorf("expected routing to sales, got stderr=%q", stderr)
	}
	if !strings.Contains(stdout, "alice") || !strings.Contains(stdout, "(1 rows)") {
		t.Errorf("expected result table, got: %s", stdout)
	}

	calls := env.fake.CallsTo("/db-manager/api/execute-sql")
	if len(calls) != 1 || !strings.Contains(calls[0].Body, "dbName=sales") {
		t.Errorf("expected one execute on sales, got %+v", calls)
	}
}

func TestCLI_Query_FallsBackToCurrent(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, code := env.run(env.adminUser, "query", "SELECT 1", "--db=sales")
	if code != 0 {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stderr, "-> sales (current database)") {
		t.Errorf("expected fallback to sales, got %q", stderr)
	}

	_, stderr, _ = env.run(env.adminUser, "query", "SELECT * FROM nowhere")
	if !strings.Contains(stderr, "-> crm (table nowhere not found") {
		t.Errorf("expected fallback to first database, got %q", stderr)
	}
}

func TestCLI_Query_RecordedInHistory(t *testing.T) {
	env := newTestEnv(t)

	env.run(env.adminUser, "query", "SELECT * FROM orders")
	env.run(env.adminUser, "query", "SELECT syntax error FROM users")

	stdout, _, _ := env.run(env.adminUser, "history", "--format=json")
	var entries []history.Entry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, stdout)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SQL != "SELECT syntax error FROM users" || entries[0].Success {
		t.Errorf("expected failed entry first, got %+v", entries[0])
	}
	if entries[1].Database != "sales" || !entries[1].Success {
		t.Errorf("expected successful sales entry, got %+v", entries[1])
	}

	// history is per user
	stdout, _, _ = env.run(env.readOnlyUser, "history")
	if !strings.Contains(stdout, "No query history") {
		t.Errorf("expected empty history for another user, got: %s", stdout)
	}
}

func TestCLI_Query_FailureExitCode(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, code := env.run(env.adminUser, "query", "SELECT syntax error FROM users")
	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr, "You have an error in your SQL syntax") {
		t.Errorf("expected backend message, got %q", stderr)
	}
}

func TestCLI_ReadOnlyUser_CannotExecuteWriteQuery(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, code := env.run(env.readOnlyUser, "query", "DELETE FROM users WHERE id=1")

	if !strings.Contains(stderr, "access denied") {
		t.Errorf("expected access denied for write query, got stdout=%q stderr=%q", stdout, stderr)
	}
	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if n := env.executeCalls(); n != 0 {
		t.Errorf("expected no request to the backend, got %d", n)
	}
}

func TestCLI_ReadOnlyUser_CanSelect(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, code := env.run(env.readOnlyUser, "query", "select * from users", "--quiet")
	if code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}
	if !strings.Contains(stdout, "alice") {
		t.Errorf("expected to see 'alice' in output, got: %s", stdout)
	}
}

func TestCLI_Query_PendingSync(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Set(func(f *testutil.FakeBackend) { f.PendingCounts = []int64{17} })

	stdout, _, _ := env.run(env.adminUser, "query", "select count(*) as cnt from us_user where sync_status=0")
	if !strings.Contains(stdout, "Pending sync: 17") {
		t.Errorf("expected pending sync count, got: %s", stdout)
	}
}

func TestCLI_Route(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, _ := env.run(env.adminUser, "route", "select * from us_user u join orders o on o.uid = u.id")
	if !strings.Contains(stdout, "-> crm (table us_user)") {
		t.Errorf("unexpected route: %s", stdout)
	}
	if n := env.executeCalls(); n != 0 {
		t.Errorf("route must not execute, got %d calls", n)
	}
}

// --- Listing Tests ---

func TestCLI_Databases(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, _ := env.run(env.adminUser, "databases", "--format=json")
	var dbs []map[string]any
	if err := json.Unmarshal([]byte(stdout), &dbs); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, stdout)
	}
	if len(dbs) != 2 || dbs[0]["name"] != "crm" || dbs[1]["name"] != "sales" {
		t.Errorf("unexpected databases: %v", dbs)
	}

	stdout, _, _ = env.run(env.anonUser, "ls")
	if !strings.Contains(stdout, "No accessible databases found.") {
		t.Errorf("expected no databases for anonymous user, got: %s", stdout)
	}
}

func TestCLI_Tables_ListsTables(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, _ := env.run(env.adminUser, "tables", "crm")
	if stderr != "" {
		t.Errorf("unexpected error: %s", stderr)
	}
	if !strings.Contains(stdout, "us_user") || !strings.Contains(stdout, "~42") {
		t.Errorf("expected us_user with row count, got: %s", stdout)
	}

	_, stderr, _ = env.run(env.anonUser, "tables", "crm")
	if !strings.Contains(stderr, "no read access") {
		t.Errorf("expected access denied, got: %s", stderr)
	}
}

func TestCLI_Structure(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, code := env.run(env.readOnlyUser, "structure", "crm", "users", "--format=csv")
	if code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}
	if !strings.Contains(stdout, "id,bigint") {
		t.Errorf("expected column rows, got: %s", stdout)
	}
}

func TestCLI_Data_Paging(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, _ := env.run(env.readOnlyUser, "data", "crm", "users", "--size=2")
	if !strings.Contains(stdout, "Page 1 of 2 (3 rows)") {
		t.Errorf("unexpected paging footer: %s", stdout)
	}
	if strings.Contains(stdout, "carol") {
		t.Errorf("expected only the first page, got: %s", stdout)
	}
}

// --- Safety Guard Tests ---

func TestCLI_Delete_RequiresConfirm(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, _ := env.run(env.adminUser, "delete", "crm", "users", "1")

	if !strings.Contains(stderr, "--confirm") {
		t.Errorf("expected error about --confirm flag, got: %s", stderr)
	}
}

func TestCLI_ReadOnlyUser_CannotDelete(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, _ := env.run(env.readOnlyUser, "delete", "crm", "users", "1", "--confirm")

	if !strings.Contains(stderr, "access denied") {
		t.Errorf("expected access denied error, got stderr=%q", stderr)
	}
	if calls := env.fake.CallsTo("/db-manager/api/delete-data"); len(calls) != 0 {
		t.Errorf("expected no delete request, got %d", len(calls))
	}
}

func TestCLI_Delete_Audited(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, code := env.run(env.adminUser, "delete", "crm", "users", "2", "--confirm")
	if code != 0 {
		t.Fatalf("delete failed: %s", stderr)
	}
	if !strings.Contains(stdout, "Deleted row 2 from crm.users") {
		t.Errorf("unexpected output: %s", stdout)
	}

	stdout, _, _ = env.run(env.adminUser, "audit", "--action=delete_row")
	if !strings.Contains(stdout, "delete_row") || !strings.Contains(stdout, "admin") {
		t.Errorf("expected audit entry, got: %s", stdout)
	}
}

func TestCLI_ClearHistory_RequiresConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.run(env.adminUser, "query", "SELECT * FROM orders")

	_, stderr, _ := env.run(env.adminUser, "clear-history")
	if !strings.Contains(stderr, "--confirm") {
		t.Errorf("expected error about --confirm flag, got: %s", stderr)
	}

	env.run(env.adminUser, "clear-history", "--confirm")
	stdout, _, _ := env.run(env.adminUser, "history")
	if !strings.Contains(stdout, "No query history") {
		t.Errorf("expected empty history, got: %s", stdout)
	}
}

// --- Export Tests ---

func TestCLI_Export_CSV(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, code := env.run(env.readOnlyUser, "export", "crm", "users")
	if code != 0 {
		t.Fatalf("export failed: %s", stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 4 || lines[0] != "id,name" || lines[3] != "3,carol" {
		t.Errorf("unexpected csv: %q", stdout)
	}

	stdout, _, _ = env.run(env.adminUser, "audit", "--action=export", "--format=json")
	if !strings.Contains(stdout, `"Actor": "reader"`) {
		t.Errorf("expected export audit for reader, got: %s", stdout)
	}
}

func TestCLI_Export_UnknownFormat(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, code := env.run(env.adminUser, "export", "crm", "users", "--format=xml")
	if code != 1 || !strings.Contains(stderr, "Unknown format") {
		t.Errorf("expected format error, got code=%d stderr=%q", code, stderr)
	}
}

// --- Favorites Tests ---

func TestCLI_Favorites(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, _ := env.run(env.adminUser, "fav", "select * from users")
	if !strings.Contains(stdout, "Added to favorites") {
		t.Errorf("unexpected output: %s", stdout)
	}

	stdout, _, _ = env.run(env.adminUser, "favorites")
	if !strings.Contains(stdout, "select * from users") {
		t.Errorf("expected favorite listed, got: %s", stdout)
	}

	stdout, _, _ = env.run(env.adminUser, "fav", "  select * from users  ")
	if !strings.Contains(stdout, "Removed from favorites") {
		t.Errorf("expected toggle to remove, got: %s", stdout)
	}
}

// --- Admin Tests ---

func TestCLI_Sync_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, code := env.run(env.readOnlyUser, "sync", "sync-aad")
	if code != 1 || !strings.Contains(stdout, "access denied") {
		t.Errorf("expected access denied, got code=%d stdout=%q", code, stdout)
	}
	if calls := env.fake.CallsTo("/admin/aad_users/manual_sync"); len(calls) != 0 {
		t.Errorf("expected no sync request, got %d", len(calls))
	}
}

func TestCLI_Sync_Departments(t *testing.T) {
	env := newTestEnv(t)
	env.fake.Set(func(f *testutil.FakeBackend) { f.PendingCounts = []int64{5} })

	stdout, _, code := env.run(env.adminUser, "sync", "sync-departments", "--db=crm")
	if code != 0 {
		t.Fatalf("sync failed: %s", stdout)
	}
	if !strings.Contains(stdout, "Pending sync after completion: 5") {
		t.Errorf("expected final pending count, got: %s", stdout)
	}
	if !strings.Contains(stdout, "Department sync completed successfully!") {
		t.Errorf("expected completion message, got: %s", stdout)
	}
}

func TestCLI_Sync_UsesDefaultCorpID(t *testing.T) {
	env := newTestEnv(t)

	_, _, code := env.run(env.adminUser, "sync", "sync-users", "--ids=a1,a2")
	if code != 0 {
		t.Fatalf("unexpected exit code %d", code)
	}
	if calls := env.fake.CallsTo("/admin/user-sync/ww-default"); len(calls) != 1 {
		t.Errorf("expected user sync for default corp, got %d calls", len(calls))
	}
}

func TestCLI_Audit_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, _ := env.run(env.readOnlyUser, "audit")
	if !strings.Contains(stderr, "admin access required") {
		t.Errorf("expected admin error, got: %s", stderr)
	}
}

// --- Utility Tests ---

func TestCLI_Whoami(t *testing.T) {
	env := newTestEnv(t)

	stdout, _, _ := env.run(env.anonUser, "whoami")
	if !strings.Contains(stdout, "quiet-otter-07") || !strings.Contains(stdout, "Anonymous:\ttrue") {
		t.Errorf("unexpected whoami output: %s", stdout)
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, code := env.run(env.adminUser, "frobnicate")
	if code != 1 || !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Errorf("expected unknown command error, got code=%d stderr=%q", code, stderr)
	}
}

func TestCLI_HandleLocal(t *testing.T) {
	env := newTestEnv(t)

	var out, errOut bytes.Buffer
	lctx := NewLocalContext(context.Background(), nil, []string{"query", "SELECT 1"}, &out, &errOut)
	lctx.Database = "sales"
	if err := env.handler.HandleLocal(lctx); err != nil {
		t.Fatalf("HandleLocal failed: %v (stderr=%q)", err, errOut.String())
	}
	if !strings.Contains(errOut.String(), "-> sales (current database)") {
		t.Errorf("expected statement on selected database, got %q", errOut.String())
	}

	lctx = NewLocalContext(context.Background(), nil, []string{"frobnicate"}, &out, &errOut)
	err := env.handler.HandleLocal(lctx)
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 1 {
		t.Errorf("expected exit code 1, got %v", err)
	}

	lctx = NewLocalContext(context.Background(), nil, []string{"ls"}, &out, &errOut)
	lctx.Database = "nowhere"
	if err := env.handler.HandleLocal(lctx); err == nil || !strings.Contains(err.Error(), "unknown database") {
		t.Errorf("expected unknown database error, got %v", err)
	}
}

func TestCLI_Tables_Refresh(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, code := env.run(env.adminUser, "tables", "crm")
	if code != 0 {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	before := len(env.fake.CallsTo("/db-manager/api/tables"))

	stdout, stderr, code := env.run(env.adminUser, "tables", "crm", "--refresh")
	if code != 0 {
		t.Fatalf("unexpected exit code %d: %s", code, stderr)
	}
	if got := len(env.fake.CallsTo("/db-manager/api/tables")); got != before+1 {
		t.Errorf("expected one more table listing, got %d after %d", got, before)
	}
	if !strings.Contains(stdout, "us_user") {
		t.Errorf("expected crm tables, got: %s", stdout)
	}
}
