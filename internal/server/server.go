package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/johan-st/dbconsole/internal/config"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Server is the SSH server for dbconsole.
type Server struct {
	config        *config.Config
	logger        *slog.Logger
	sessionMgr    *SessionManager
	authenticator *Authenticator
	sshServer     *ssh.Server
	tuiHandler    bubbletea.Handler
	cliHandler    func(ssh.Session)

	mu   sync.Mutex
	addr string
}

// Store persists sessions and names anonymous users.
type Store interface {
	SessionStore
	NameGenerator
}

// NewServer creates a new SSH server.
func NewServer(cfg *config.Config, store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ssh")

	return &Server{
		config:        cfg,
		logger:        logger,
		sessionMgr:    NewSessionManager(store, logger),
		authenticator: NewAuthenticator(cfg, store, logger),
	}
}

// SetTUIHandler sets the Bubble Tea handler for interactive sessions.
func (s *Server) SetTUIHandler(handler bubbletea.Handler) {
	s.tuiHandler = handler
}

// SetCLIHandler sets the handler for CLI commands.
func (s *Server) SetCLIHandler(handler func(ssh.Session)) {
	s.cliHandler = handler
}

// build creates the wish server.
func (s *Server) build() (*ssh.Server, error) {
	hostKey := s.config.GetHostKeyPath()
	if err := os.MkdirAll(filepath.Dir(hostKey), 0700); err != nil {
		return nil, fmt.Errorf("failed to create host key directory: %w", err)
	}

	// Last middleware wraps first.
	middleware := []wish.Middleware{
		s.routingMiddleware(),
		SessionMiddleware(s.sessionMgr, s.logger),
		LoggingMiddleware(s.logger),
	}

	opts := []ssh.Option{
		wish.WithAddress(s.config.SSHListen()),
		wish.WithHostKeyPath(hostKey),
		wish.WithPublicKeyAuth(s.authenticator.PublicKeyHandler()),
		wish.WithMiddleware(middleware...),
	}
	if handler := s.authenticator.KeyboardInteractiveHandler(); handler != nil {
		opts = append(opts, wish.WithKeyboardInteractiveAuth(handler))
	}
	if d := s.config.GetIdleTimeout(); d > 0 {
		opts = append(opts, wish.WithIdleTimeout(d))
	}
	if d := s.config.GetMaxTimeout(); d > 0 {
		opts = append(opts, wish.WithMaxTimeout(d))
	}

	server, err := wish.NewServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH server: %w", err)
	}
	return server, nil
}

// Start runs the server until ctx is cancelled, then shuts it down.
func (s *Server) Start(ctx context.Context) error {
	server, err := s.build()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	s.mu.Lock()
	s.sshServer = server
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.logger.Info("starting SSH server", "addr", s.addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			return fmt.Errorf("SSH server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down SSH server", "sessions", s.sessionMgr.Count())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.sshServer
	s.mu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// GetAddr returns the address the server listens on, empty before Start.
func (s *Server) GetAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// routingMiddleware routes requests to either the TUI or the CLI handler.
func (s *Server) routingMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			if len(sess.Command()) > 0 {
				if s.cliHandler == nil {
					wish.Fatalln(sess, "CLI commands are not available")
					return
				}
				s.cliHandler(sess)
				return
			}

			if _, _, hasPty := sess.Pty(); !hasPty {
				wish.Fatalln(sess, "PTY required for interactive mode. Use -t flag or provide a command.")
				return
			}
			if s.tuiHandler == nil {
				wish.Fatalln(sess, "Interactive mode is not available")
				return
			}
			bubbletea.Middleware(s.tuiHandler)(next)(sess)
		}
	}
}
