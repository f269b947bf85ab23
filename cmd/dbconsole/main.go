// dbconsole is a terminal console for the db-manager backend. It runs
// locally or as an SSH server, and ships a reverse proxy for the backend
// services.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/johan-st/dbconsole/internal/access"
	"github.com/johan-st/dbconsole/internal/cli"
	"github.com/johan-st/dbconsole/internal/config"
	"github.com/johan-st/dbconsole/internal/proxy"
	"github.com/johan-st/dbconsole/internal/server"
	"github.com/johan-st/dbconsole/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	configPath string
	database   string
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var exit *cli.ExitError
		if errors.As(err, &exit) {
			return exit.Code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dbconsole [command] [args]",
		Short: "Terminal console for the db-manager backend",
		Long: `dbconsole browses databases, runs routed SQL and starts sync jobs.

Without arguments it opens the interactive console. With arguments it runs a
single console command and exits:

  dbconsole ls                           List databases
  dbconsole tables crm                   List tables
  dbconsole query "SELECT * FROM orders" Run a statement on the database holding orders
  dbconsole history                      Show query history
  dbconsole sync sync_departments        Run a sync job

Run 'dbconsole help-commands' for every console command.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runTUI(cmd)
			}
			if args[0] == "help-commands" {
				args[0] = "help"
			}
			return runCommand(cmd, args)
		},
	}
	// Console command flags belong to the command, not to dbconsole.
	root.Flags().SetInterspersed(false)

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default ./"+config.DefaultFile+")")
	flags.StringVar(&database, "db", "", "database selected at start")
	flags.String("backend", "", "backend base URL")
	flags.Duration("timeout", 0, "backend request timeout")
	flags.String("data-dir", "", "directory for history and host keys")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-file", "", "log file path")
	flags.Duration("refresh-interval", 0, "table registry refresh interval, 0 disables")
	flags.Bool("prefer-current", false, "route ambiguous statements to the current database")
	flags.Duration("poll-interval", 0, "pending sync polling interval")
	flags.String("corp-id", "", "default corp id for user sync")

	root.AddCommand(newServeCmd(), newProxyCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SSH server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx, cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.cfg.Server.SSH.Enabled {
				return errors.New("the SSH server is disabled in the configuration")
			}

			srv := server.NewServer(rt.cfg, rt.store, rt.log.Logger)
			srv.SetCLIHandler(rt.cliHandler().Handle)
			srv.SetTUIHandler(tui.Handler(rt.env, rt.tuiOptions()))
			return srv.Start(ctx)
		},
	}
	cmd.Flags().String("listen", "", "SSH listen address")
	cmd.Flags().String("host-key", "", "SSH host key path")
	cmd.Flags().Bool("allow-keyless", false, "allow logins without a key")
	return cmd
}

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Forward the backend service prefixes from one address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer lg.Close()

			settings := cfg.ProxySettings()
			p, err := proxy.New(proxy.Options{
				Listen:    settings.Listen,
				Services:  cfg.Services(),
				StaticDir: settings.StaticDir,
				Logger:    lg.Logger,
			})
			if err != nil {
				return err
			}
			return p.Serve(cmd.Context())
		},
	}
	cmd.Flags().String("proxy-listen", "", "proxy listen address")
	cmd.Flags().String("static-dir", "", "directory served for unmatched paths")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a documented sample configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFile
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbconsole %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built: %s\n", buildDate)
		},
	}
}

// runCommand runs one console command against the backend.
func runCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := setup(ctx, cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	lctx := cli.NewLocalContext(ctx, access.LocalUser(), args, cmd.OutOrStdout(), cmd.ErrOrStderr())
	lctx.Database = database
	return rt.cliHandler().HandleLocal(lctx)
}

// runTUI runs the interactive console in the local terminal.
func runTUI(cmd *cobra.Command) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("the interactive console needs a terminal; pass a command to run non-interactively")
	}

	ctx := cmd.Context()
	// Log output would corrupt the screen; the logs overlay shows it instead.
	rt, err := setup(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := rt.tuiOptions()
	opts.Console = rt.env.Open(access.LocalUser(), "")
	opts.Context = ctx
	if database != "" {
		if err := opts.Console.SetCurrent(database); err != nil {
			return err
		}
	}
	if w, h, err := term.GetSize(fd); err == nil {
		opts.Width, opts.Height = w, h
	}

	p := tea.NewProgram(tui.NewApp(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
