package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/johan-st/dbconsole/internal/backend"
	"github.com/johan-st/dbconsole/internal/catalog"
	"github.com/johan-st/dbconsole/internal/cli"
	"github.com/johan-st/dbconsole/internal/config"
	"github.com/johan-st/dbconsole/internal/console"
	"github.com/johan-st/dbconsole/internal/history"
	"github.com/johan-st/dbconsole/internal/logger"
	"github.com/johan-st/dbconsole/internal/router"
	"github.com/johan-st/dbconsole/internal/tui"
	"github.com/spf13/cobra"
)

// runtime holds the collaborators shared by every console of the process.
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	client  *backend.Client
	catalog *catalog.Catalog
	store   *history.Store
	watcher *config.Watcher
	env     *console.Env
}

// loadConfig loads the configuration and starts logging. WARN and ERROR
// records are also written to consoleLog when it is not nil.
func loadConfig(cmd *cobra.Command, consoleLog io.Writer) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	lg, err := logger.Init(logger.Options{
		Level:   cfg.Log.Level,
		Path:    cfg.GetLogPath(),
		Console: consoleLog,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, lg, nil
}

// setup wires the backend client, the table registry, the store and the
// access policy, and starts watching the config file.
func setup(ctx context.Context, cmd *cobra.Command, consoleLog io.Writer) (*runtime, error) {
	cfg, lg, err := loadConfig(cmd, consoleLog)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: lg}

	rt.client = backend.NewClient(cfg.Services(),
		backend.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeout()}),
		backend.WithLogger(lg.Logger),
	)

	rt.store, err = history.NewStore(cfg.GetDataDir())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	policy := console.NewPolicy(cfg.BuildResolver(), router.Router{PreferCurrent: cfg.PreferCurrent()})

	rt.watcher, err = config.NewWatcher(cfg, lg.Logger)
	if err != nil {
		lg.Warn("config hot reload unavailable", "error", err)
	} else {
		rt.watcher.OnReload(func(c *config.Config) {
			policy.Update(c.BuildResolver(), router.Router{PreferCurrent: c.PreferCurrent()})
		})
		if err := rt.watcher.Start(); err != nil {
			lg.Warn("failed to watch config file", "path", cfg.Path(), "error", err)
		}
	}

	rt.catalog = catalog.New(rt.client, lg.Logger)
	rt.catalog.OnChange(func(s catalog.Snapshot) {
		lg.Debug("table registry updated", "databases", s.Len())
	})
	if err := rt.catalog.Start(ctx, cfg.RefreshInterval); err != nil {
		if errors.Is(err, context.Canceled) {
			rt.Close()
			return nil, err
		}
		// The console reports the backend error when it needs the registry.
		lg.Warn("failed to load table registry", "error", err)
	}

	rt.env = &console.Env{
		Backend: rt.client,
		Catalog: rt.catalog,
		Policy:  policy,
		Store:   rt.store,
		Logger:  lg.Logger,
	}
	return rt, nil
}

func (rt *runtime) cliHandler() *cli.Handler {
	return cli.NewHandler(cli.Options{
		Env:          rt.env,
		Jobs:         rt.client,
		PollInterval: rt.cfg.PollInterval(),
		CorpID:       rt.cfg.CorpID(),
		Version:      version,
	})
}

// tuiOptions returns the interactive console options shared by every session.
func (rt *runtime) tuiOptions() tui.Options {
	return tui.Options{
		Jobs:         rt.client,
		PollInterval: rt.cfg.PollInterval(),
		CorpID:       rt.cfg.CorpID(),
		Refresh:      rt.catalog.Refresh,
		Logs:         rt.log,
		Logger:       rt.log.Logger,
	}
}

// Close stops background work and releases the store and the log file.
func (rt *runtime) Close() {
	if rt.catalog != nil {
		rt.catalog.Stop()
	}
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("failed to close history store", "error", err)
		}
	}
	_ = rt.log.Close()
}
