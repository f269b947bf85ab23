package catalog_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/catalog"
	"github.com/johan-st/dbconsole/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) (*catalog.Catalog, *testutil.FakeBackend) {
	t.Helper()
	fake := testutil.NewFakeBackend(t)
	client := backend.NewClient(backend.Services{DBManager: fake.URL()})
	return catalog.New(client, testutil.NewTestLogger(t)), fake
}

func TestRefresh_LoadsAllDatabases(t *testing.T) {
	c, _ := newCatalog(t)

	require.NoError(t, c.Refresh(context.Background()))
	require.True(t, c.Loaded())

	snap := c.Snapshot()
	assert.Equal(t, []string{"crm", "sales"}, snap.Databases())
	assert.True(t, snap.Contains("crm", "US_USER"))
	assert.True(t, snap.Contains("sales", "orders"))
	assert.False(t, snap.Contains("crm", "orders"))
	assert.Equal(t, "crm", snap.First())
}

func TestRefresh_TableFailureLeavesDatabaseEmpty(t *testing.T) {
	c, fake := newCatalog(t)
	fake.Set(func(f *testutil.FakeBackend) { f.TableStatus["crm"] = http.StatusBadGateway })

	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Snapshot()
	assert.True(t, snap.Has("crm"))
	assert.Empty(t, snap.Tables("crm"))
	assert.NotEmpty(t, snap.Tables("sales"))
}

type failingSource struct{}

func (failingSource) ListDatabases(context.Context) ([]string, error) {
	return nil, errors.New("backend down")
}

func (failingSource) ListTables(context.Context, string) ([]backend.TableDescriptor, error) {
	return nil, nil
}

func TestRefresh_DatabaseFailure(t *testing.T) {
	c := catalog.New(failingSource{}, testutil.NewTestLogger(t))

	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, c.Loaded())
	assert.Zero(t, c.Snapshot().Len())
}

func TestRefreshDatabase(t *testing.T) {
	c, fake := newCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	fake.Set(func(f *testutil.FakeBackend) { f.Tables["crm"] = []any{"audit"} })
	require.NoError(t, c.RefreshDatabase(ctx, "crm"))

	snap := c.Snapshot()
	assert.Equal(t, []string{"crm", "sales"}, snap.Databases())
	assert.True(t, snap.Contains("crm", "audit"))
	assert.False(t, snap.Contains("crm", "users"))
}

func TestOnChange(t *testing.T) {
	c, _ := newCatalog(t)

	var calls atomic.Int32
	c.OnChange(func(s catalog.Snapshot) {
		calls.Add(1)
	})

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStart_PeriodicRefresh(t *testing.T) {
	c, fake := newCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx, 20*time.Millisecond))
	defer c.Stop()

	fake.Set(func(f *testutil.FakeBackend) { f.Databases = append(f.Databases, "hr") })

	assert.Eventually(t, func() bool {
		return c.Snapshot().Has("hr")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshot_Filter(t *testing.T) {
	snap := catalog.NewSnapshot(
		catalog.Entry{Database: "a", Tables: []backend.TableDescriptor{{Name: "t"}}},
		catalog.Entry{Database: "b"},
		catalog.Entry{Database: "a"},
	)
	assert.Equal(t, []string{"a", "b"}, snap.Databases())

	filtered := snap.Filter(func(db string) bool { return db == "b" })
	assert.Equal(t, []string{"b"}, filtered.Databases())
	assert.Equal(t, 2, snap.Len())
}
