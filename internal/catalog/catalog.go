// Package catalog keeps the table registry: which tables each backend database holds.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/johan-st/dbconsole/internal/backend"
	"golang.org/x/sync/errgroup"
)

// Source lists databases and their tables.
type Source interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, dbName string) ([]backend.TableDescriptor, error)
}

// Catalog loads the registry from a Source and keeps it fresh.
type Catalog struct {
	source      Source
	logger      *slog.Logger
	concurrency int

	snapshot  Snapshot
	loaded    bool
	callbacks []func(Snapshot)

	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

// New creates a catalog backed by source.
func New(source Source, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		source:      source,
		logger:      logger,
		concurrency: 8,
		stop:        make(chan struct{}),
	}
}

// OnChange registers a callback invoked after every refresh.
func (c *Catalog) OnChange(callback func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// Start loads the registry and, when interval > 0, refreshes it periodically
// until Stop is called or ctx is done. Periodic refreshing starts even when
// the first load fails; its error is returned.
func (c *Catalog) Start(ctx context.Context, interval time.Duration) error {
	err := c.Refresh(ctx)
	if interval > 0 {
		go c.loop(ctx, interval)
	}
	return err
}

// Stop ends periodic refreshing.
func (c *Catalog) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Catalog) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("catalog refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

// Refresh lists all databases, then the tables of every database concurrently.
// A database whose tables cannot be listed stays in the registry with no tables.
func (c *Catalog) Refresh(ctx context.Context) error {
	names, err := c.source.ListDatabases(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh catalog: %w", err)
	}

	entries := make([]Entry, len(names))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, name := range names {
		entries[i].Database = name
		g.Go(func() error {
			tables, err := c.source.ListTables(ctx, name)
			if err != nil {
				c.logger.Warn("failed to list tables", "database", name, "error", err)
				return nil
			}
			entries[i].Tables = tables
			return nil
		})
	}
	_ = g.Wait()

	snap := NewSnapshot(entries...)
	c.mu.Lock()
	c.snapshot = snap
	c.loaded = true
	c.mu.Unlock()

	c.logger.Debug("catalog refreshed", "databases", snap.Len())
	c.notify(snap)
	return nil
}

// RefreshDatabase reloads the tables of a single database.
func (c *Catalog) RefreshDatabase(ctx context.Context, name string) error {
	tables, err := c.source.ListTables(ctx, name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	entries := make([]Entry, 0, c.snapshot.Len()+1)
	found := false
	for db, ts := range c.snapshot.All() {
		if db == name {
			ts = tables
			found = true
		}
		entries = append(entries, Entry{Database: db, Tables: ts})
	}
	if !found {
		entries = append(entries, Entry{Database: name, Tables: tables})
	}
	snap := NewSnapshot(entries...)
	c.snapshot = snap
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Snapshot returns the current registry.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Loaded reports whether at least one refresh has completed.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Catalog) notify(snap Snapshot) {
	c.mu.RLock()
	callbacks := make([]func(Snapshot), len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.RUnlock()

	for _, cb := range callbacks {
		cb(snap)
	}
}
