package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file for changes and reloads it.
type Watcher struct {
	config    *Config
	watcher   *fsnotify.Watcher
	logger    *slog.Logger
	callbacks []func(*Config)
	stop      chan struct{}
	stopOnce  sync.Once
	mu        sync.RWMutex
}

// NewWatcher creates a new config file watcher.
func NewWatcher(config *Config, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		config:    config,
		watcher:   watcher,
		logger:    logger,
		callbacks: make([]func(*Config), 0),
		stop:      make(chan struct{}),
	}

	return w, nil
}

// OnReload registers a callback to be called when the config is reloaded.
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching the config file. Editors that replace the file on
// save are handled by watching its directory.
func (w *Watcher) Start() error {
	path := w.config.Path()
	if path == "" {
		return nil // No config file to watch
	}

	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	go w.watch(filepath.Clean(path))
	return nil
}

// Stop stops watching the config file.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
}

// watch is the main watch loop.
func (w *Watcher) watch(path string) {
	// Debounce timer to avoid multiple reloads for rapid changes
	var debounceTimer *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}

			// Only care about writes and creates
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.stop:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// reload reloads the config and notifies callbacks.
func (w *Watcher) reload() {
	if err := w.config.Reload(); err != nil {
		w.logger.Error("failed to reload config", "path", w.config.Path(), "error", err)
		return
	}

	w.logger.Info("config reloaded", "path", w.config.Path())

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(w.config)
	}
}
