package history

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/johan-st/dbconsole/internal/access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKV_Namespaces(t *testing.T) {
	store := newStore(t)
	alice := store.KV("user:alice")
	bob := store.KV("user:bob")

	require.NoError(t, alice.Put(HistoryKey, []byte(`[]`)))

	_, err := bob.Get(HistoryKey)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := alice.Get(HistoryKey)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	require.NoError(t, alice.Put(HistoryKey, []byte(`[1]`)))
	got, err = alice.Get(HistoryKey)
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got))

	require.NoError(t, alice.Delete(HistoryKey))
	_, err = alice.Get(HistoryKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryLog_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	q := NewQueryLog(store.KV(LocalNamespace))
	q.RecordExecution("SELECT * FROM users", "crm", true)
	q.ToggleFavorite("SELECT * FROM users")
	require.NoError(t, store.Close())

	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	q = NewQueryLog(store.KV(LocalNamespace))
	q.Load()
	require.Len(t, q.History(), 1)
	assert.True(t, q.IsFavorite("SELECT * FROM users"))
}

func TestQueryLog_WriteFailureIsLogged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_store").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewStoreWithDB(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO kv_store").WillReturnError(errors.New("database or disk is full"))

	var buf bytes.Buffer
	q := NewQueryLog(store.KV(LocalNamespace), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	var entry Entry
	assert.NotPanics(t, func() { entry = q.RecordExecution("SELECT 1", "crm", true) })
	assert.Equal(t, "SELECT 1", entry.SQL)
	assert.Len(t, q.History(), 1)
	assert.Contains(t, buf.String(), "failed to persist query log")
	assert.Contains(t, buf.String(), "disk is full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessions(t *testing.T) {
	store := newStore(t)

	user := &access.UserInfo{Name: "alice", PublicKeyFP: "SHA256:abc"}
	session := NewSession("s1", user, "10.0.0.1:2222")
	require.NoError(t, store.CreateSession(session))
	require.NoError(t, store.CreateSession(NewSession("s2", &access.UserInfo{IsAnonymous: true, AnonymousName: "calm-otter-07"}, "10.0.0.2:2222")))

	active, err := store.ListSessions(true, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, store.EndSession("s1"))
	active, err = store.ListSessions(true, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "calm-otter-07", active[0].DisplayName())
	assert.Empty(t, active[0].UserName)

	all, err := store.ListSessions(false, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAuditLog(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.RecordAuditSimple("s1", "alice", ActionDeleteRow, "crm", "users", map[string]any{"id": 7}))
	require.NoError(t, store.RecordAuditSimple("", "local", ActionSyncAAD, "", "", nil))

	all, err := store.ListAuditLog(AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ActionSyncAAD, all[0].Action)

	deletes, err := store.ListAuditLog(AuditFilter{Action: ActionDeleteRow, Database: "crm"})
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, "alice", deletes[0].Actor)
	assert.Equal(t, "users", deletes[0].Table)
	assert.JSONEq(t, `{"id":7}`, deletes[0].Details)
}

func TestNamespace(t *testing.T) {
	tests := []struct {
		user *access.UserInfo
		want string
	}{
		{nil, LocalNamespace},
		{&access.UserInfo{Name: "alice"}, "user:alice"},
		{&access.UserInfo{IsAnonymous: true, AnonymousName: "calm-otter-07"}, "anon:calm-otter-07"},
		{&access.UserInfo{}, LocalNamespace},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Namespace(tt.user))
	}
}

func TestNameGenerator(t *testing.T) {
	assert.Regexp(t, `^[a-z]+-[a-z]+-\d{2}$`, NewNameGenerator().Generate(nil))
}

func TestNameGenerator_SkipsTakenNames(t *testing.T) {
	g := NewNameGenerator()
	first := g.Generate(nil)

	var tried []string
	next := g.Generate(func(n string) bool {
		tried = append(tried, n)
		return len(tried) < 3
	})
	assert.Len(t, tried, 3)
	assert.Equal(t, tried[2], next)

	always := g.Generate(func(string) bool { return true })
	assert.Regexp(t, `^[a-z]+-[a-z]+-\d+$`, always)
	assert.NotEmpty(t, first)
}

func TestStore_AnonymousNamesAreUnused(t *testing.T) {
	store := newStore(t)

	name := store.GenerateAnonymousName()
	require.NoError(t, store.KV(Namespace(&access.UserInfo{IsAnonymous: true, AnonymousName: name})).Put(HistoryKey, []byte("[]")))
	assert.True(t, store.anonymousNameTaken(name))
	assert.False(t, store.anonymousNameTaken("never-used-00"))
}
