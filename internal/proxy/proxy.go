// Package proxy forwards the backend service prefixes from a single address,
// so a browser console and the terminal console can share one endpoint.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/johan-st/dbconsole/internal/backend"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Route maps a path prefix to the service that serves it.
type Route struct {
	Prefix string
	Target string
}

// Routes returns the forwarded prefixes for the given services.
func Routes(s backend.Services) []Route {
	return []Route{
		{Prefix: "/db-manager/api", Target: s.DBManager},
		{Prefix: "/admin/aad_users", Target: s.AADSyncer},
		{Prefix: "/admin/user-sync", Target: s.UserSync},
		{Prefix: "/syncDept", Target: s.Jiali},
		{Prefix: "/initUser", Target: s.Jiali},
	}
}

// Options configure a Server.
type Options struct {
	Listen   string
	Services backend.Services
	// StaticDir holds a built web console served for unmatched paths.
	StaticDir string
	Logger    *slog.Logger
}

// Server is the reverse proxy.
type Server struct {
	listen  string
	handler http.Handler
	logger  *slog.Logger

	mu   sync.Mutex
	addr string
}

// New builds the proxy. Every route target must be an absolute URL.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "proxy")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, accessLog(logger))

	for _, route := range Routes(opts.Services) {
		target, err := url.Parse(route.Target)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid target %q for %s", route.Target, route.Prefix)
		}
		rp := newReverseProxy(target, logger)
		r.Handle(route.Prefix, rp)
		r.Handle(route.Prefix+"/*", rp)
	}

	if opts.StaticDir != "" {
		info, err := os.Stat(opts.StaticDir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("static dir %q is not a directory", opts.StaticDir)
		}
		r.NotFound(staticHandler(opts.StaticDir))
	}

	return &Server{listen: opts.Listen, handler: r, logger: logger}, nil
}

// Handler returns the proxy's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the address the proxy listens on, empty before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve runs the proxy until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.logger.Info("starting proxy", "addr", s.addr)

	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("proxy error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down proxy")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func newReverseProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("upstream error", "target", target.String(), "path", r.URL.Path, "error", err)
			}
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
}

// accessLog logs every request once it completes.
func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				logger.Info("request",
					"remote", r.RemoteAddr,
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"duration", time.Since(start).Round(time.Microsecond))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// staticHandler serves files from dir, answering unknown paths with
// index.html so client-side routes resolve.
func staticHandler(dir string) http.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}
		name := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(name); err != nil || (info.IsDir() && r.URL.Path != "/") {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	}
}
