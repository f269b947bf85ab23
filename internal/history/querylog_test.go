package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newLog(t *testing.T, kv KV) (*QueryLog, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewQueryLog(kv, WithLogger(logger), WithClock(clock.Now)), &buf
}

func TestRecordExecution_Deduplicates(t *testing.T) {
	q, _ := newLog(t, NewMemoryKV())

	first := q.RecordExecution("SELECT * FROM users", "crm", true)
	q.RecordExecution("SELECT 1", "crm", true)
	second := q.RecordExecution("  SELECT * FROM users \n", "crm", false)

	history := q.History()
	require.Len(t, history, 2)
	assert.Equal(t, "SELECT * FROM users", history[0].SQL)
	assert.Equal(t, second.ID, history[0].ID)
	assert.False(t, history[0].Success)
	assert.True(t, history[0].Timestamp.After(first.Timestamp))
	assert.Equal(t, "SELECT 1", history[1].SQL)
}

func TestRecordExecution_Cap(t *testing.T) {
	q, _ := newLog(t, NewMemoryKV())

	for i := range MaxHistory + 1 {
		q.RecordExecution(fmt.Sprintf("SELECT %d", i), "crm", true)
	}

	history := q.History()
	require.Len(t, history, MaxHistory)
	assert.Equal(t, fmt.Sprintf("SELECT %d", MaxHistory), history[0].SQL)
	assert.Equal(t, "SELECT 1", history[MaxHistory-1].SQL)
	for _, e := range history {
		assert.NotEqual(t, "SELECT 0", e.SQL)
	}
}

func TestRecordExecution_MonotonicIDs(t *testing.T) {
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueryLog(NewMemoryKV(), WithClock(func() time.Time { return frozen }))

	a := q.RecordExecution("SELECT 1", "crm", true)
	b := q.RecordExecution("SELECT 2", "crm", true)
	c := q.RecordExecution("SELECT 3", "crm", true)

	assert.Less(t, a.ID, b.ID)
	assert.Less(t, b.ID, c.ID)
}

func TestRecordExecution_IgnoresBlank(t *testing.T) {
	kv := NewMemoryKV()
	q, _ := newLog(t, kv)

	e := q.RecordExecution("   ", "crm", true)
	assert.Zero(t, e)
	assert.Empty(t, q.History())
	assert.Empty(t, kv.Keys())
}

func TestRecordExecution_Persists(t *testing.T) {
	kv := NewMemoryKV()
	q, _ := newLog(t, kv)
	q.RecordExecution("SELECT * FROM orders", "sales", true)

	reloaded, _ := newLog(t, kv)
	reloaded.Load()

	history := reloaded.History()
	require.Len(t, history, 1)
	assert.Equal(t, "sales", history[0].Database)
	assert.True(t, history[0].Success)
}

func TestToggleFavorite_RoundTrip(t *testing.T) {
	q, _ := newLog(t, NewMemoryKV())
	q.ToggleFavorite("SELECT 1")
	before := q.Favorites()

	assert.True(t, q.ToggleFavorite(" SELECT * FROM users "))
	assert.True(t, q.IsFavorite("SELECT * FROM users"))
	assert.Len(t, q.Favorites(), 2)

	assert.False(t, q.ToggleFavorite("SELECT * FROM users"))
	assert.False(t, q.IsFavorite("SELECT * FROM users"))
	assert.Equal(t, before, q.Favorites())
}

func TestToggleFavorite_InsertionOrder(t *testing.T) {
	q, _ := newLog(t, NewMemoryKV())
	q.ToggleFavorite("b")
	q.ToggleFavorite("a")
	q.ToggleFavorite("c")

	var got []string
	for _, f := range q.Favorites() {
		got = append(got, f.SQL)
	}
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestSearch(t *testing.T) {
	q, _ := newLog(t, NewMemoryKV())
	q.RecordExecution("SELECT * FROM users", "crm", true)
	q.RecordExecution("SELECT * FROM orders", "sales", true)
	q.RecordExecution("select id from USERS where id = 1", "crm", true)

	got := slices.Collect(q.Search("Users"))
	require.Len(t, got, 2)
	assert.Equal(t, "select id from USERS where id = 1", got[0].SQL)
	assert.Equal(t, "SELECT * FROM users", got[1].SQL)

	// restartable and non-mutating
	assert.Len(t, slices.Collect(q.Search("users")), 2)
	assert.Len(t, q.History(), 3)
	assert.Len(t, slices.Collect(q.Search("")), 3)
}

func TestSearch_EarlyStop(t *testing.T) {
	q, _ := newLog(t, NewMemoryKV())
	for i := range 5 {
		q.RecordExecution(fmt.Sprintf("SELECT %d FROM t", i), "crm", true)
	}

	n := 0
	for range q.Search("from t") {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestSearch_RecordDuringIteration(t *testing.T) {
	q, _ := newLog(t, NewMemoryKV())
	q.RecordExecution("SELECT 1", "crm", true)

	for e := range q.Search("select") {
		q.RecordExecution(e.SQL+" + 1", "crm", true)
	}
	assert.Len(t, q.History(), 2)
}

func TestLoad_CorruptHistory(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(HistoryKey, []byte("{not json")))
	require.NoError(t, kv.Put(FavoritesKey, []byte(`[{"id":1,"sql":"SELECT 1","timestamp":"2024-03-01T12:00:00Z"}]`)))

	q, logs := newLog(t, kv)
	assert.NotPanics(t, q.Load)

	assert.Empty(t, q.History())
	assert.Len(t, q.Favorites(), 1)
	assert.Contains(t, logs.String(), "discarding corrupt query log")
}

func TestLoad_PartiallyCorrupt(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(HistoryKey, []byte(`[
		{"id":1,"sql":"SELECT * FROM users","database":"crm","timestamp":"2024-03-01T12:00:00Z","success":true},
		{"id":"oops","sql":"SELECT 2"}
	]`)))
	require.NoError(t, kv.Put(FavoritesKey, []byte(`[{"id":1,"sql":"SELECT fav","timestamp":"not-a-time"}]`)))

	q, logs := newLog(t, kv)
	q.Load()

	assert.Empty(t, q.History())
	assert.Empty(t, q.Favorites())
	assert.Contains(t, logs.String(), "discarding corrupt query log")
}

func TestLoad_Missing(t *testing.T) {
	q, logs := newLog(t, NewMemoryKV())
	q.Load()

	assert.Empty(t, q.History())
	assert.Empty(t, q.Favorites())
	assert.NotContains(t, logs.String(), "level=WARN")
}

func TestLoad_NormalizesStoredHistory(t *testing.T) {
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(HistoryKey, []byte(`[
		{"id":3,"sql":"SELECT 1 ","database":"crm","timestamp":"2024-03-01T12:00:03Z","success":true},
		{"id":2,"sql":"SELECT 1","database":"crm","timestamp":"2024-03-01T12:00:02Z","success":true},
		{"id":1,"sql":"SELECT 2","database":"crm","timestamp":"2024-03-01T12:00:01Z","success":false}
	]`)))

	q, _ := newLog(t, kv)
	q.Load()

	history := q.History()
	require.Len(t, history, 2)
	assert.Equal(t, int64(3), history[0].ID)

	next := q.RecordExecution("SELECT 3", "crm", true)
	assert.Greater(t, next.ID, int64(3))
}

func TestClear_KeepsFavorites(t *testing.T) {
	kv := NewMemoryKV()
	q, _ := newLog(t, kv)
	q.RecordExecution("SELECT 1", "crm", true)
	q.ToggleFavorite("SELECT 1")

	q.Clear()

	assert.Empty(t, q.History())
	assert.True(t, q.IsFavorite("SELECT 1"))
	assert.Equal(t, []string{FavoritesKey}, kv.Keys())
}

// gatedKV blocks the first Put until release is closed.
type gatedKV struct {
	*MemoryKV
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedKV) Put(key string, value []byte) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MemoryKV.Put(key, value)
}

func TestRecordExecution_PersistsInMutationOrder(t *testing.T) {
	kv := &gatedKV{MemoryKV: NewMemoryKV(), entered: make(chan struct{}), release: make(chan struct{})}
	q, _ := newLog(t, kv)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.RecordExecution("SELECT 1", "crm", true)
	}()
	<-kv.entered
	go func() {
		defer wg.Done()
		q.RecordExecution("SELECT 2", "crm", true)
	}()
	time.Sleep(20 * time.Millisecond)
	close(kv.release)
	wg.Wait()

	data, err := kv.Get(HistoryKey)
	require.NoError(t, err)
	var persisted []Entry
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 2)
	assert.Equal(t, q.History(), persisted)
	assert.Equal(t, "SELECT 2", persisted[0].SQL)
}

// flakyKV fails the next failGets reads.
type flakyKV struct {
	*MemoryKV
	mu       sync.Mutex
	failGets int
}

func (f *flakyKV) Get(key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return f.MemoryKV.Get(key)
}

func TestRecordExecution_ReadFailureKeepsStoredHistory(t *testing.T) {
	stored := []byte(`[{"id":1,"sql":"SELECT stored","database":"crm","timestamp":"2024-03-01T12:00:00Z","success":true}]`)

	t.Run("read recovers", func(t *testing.T) {
		kv := &flakyKV{MemoryKV: NewMemoryKV(), failGets: 1}
		require.NoError(t, kv.MemoryKV.Put(HistoryKey, stored))
		q, logs := newLog(t, kv)
		q.Load()
		assert.Contains(t, logs.String(), "failed to read query log")
		assert.Empty(t, q.History())

		q.RecordExecution("SELECT new", "crm", true)

		history := q.History()
		require.Len(t, history, 2)
		assert.Equal(t, "SELECT new", history[0].SQL)
		assert.Equal(t, "SELECT stored", history[1].SQL)

		reloaded, _ := newLog(t, kv.MemoryKV)
		reloaded.Load()
		assert.Equal(t, history, reloaded.History())
	})

	t.Run("read keeps failing", func(t *testing.T) {
		kv := &flakyKV{MemoryKV: NewMemoryKV(), failGets: 100}
		require.NoError(t, kv.MemoryKV.Put(HistoryKey, stored))
		q, logs := newLog(t, kv)
		q.Load()

		q.RecordExecution("SELECT new", "crm", true)

		assert.Len(t, q.History(), 1)
		data, err := kv.MemoryKV.Get(HistoryKey)
		require.NoError(t, err)
		assert.Equal(t, stored, data)
		assert.Contains(t, logs.String(), "query log not persisted after failed read")
	})
}
