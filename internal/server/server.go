// Package server exposes an HTTP API for operating the scanner without the
// chat client: health, metrics, status, scan history and manual triggers.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/zombor/scanbot/internal/device"
	"github.com/zombor/scanbot/internal/imaging"
	"github.com/zombor/scanbot/internal/scan"
	"github.com/zombor/scanbot/internal/store"
)

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Scanner runs the scan procedure
type Scanner interface {
	ScanDocument(ctx context.Context, requestedBy int64) (*scan.File, error)
}

// Sweeper runs the retention sweep
type Sweeper interface {
	Sweep(ctx context.Context, window time.Duration) (int, error)
}

// DeviceStatus reports the scanner session state
type DeviceStatus interface {
	Status() device.Status
}

// Ledger is the read side of the scan history
type Ledger interface {
	GetRecord(id string) (*store.Record, error)
	ListRecords() ([]*store.Record, error)
	LatestRecord() (*store.Record, error)
}

// Files resolves and counts files in the output directory
type Files interface {
	Path(filename string) string
	Count() (int, error)
}

// Deps are the collaborators behind the routes. Metrics may be nil.
type Deps struct {
	Scanner Scanner
	Sweeper Sweeper
	Device  DeviceStatus
	Ledger  Ledger
	Files   Files
	Metrics http.Handler
}

// Server handles HTTP requests for the scanner
type Server struct {
	deps      Deps
	basicAuth BasicAuth
	window    time.Duration
	format    imaging.Format
	mux       *http.ServeMux

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// NewServer creates a new Server with default mux. window is the retention
// window used by the cleanup route.
func NewServer(deps Deps, basicAuth BasicAuth, window time.Duration, format imaging.Format) *Server {
	return NewServerWithMux(deps, basicAuth, window, format, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(deps Deps, basicAuth BasicAuth, window time.Duration, format imaging.Format, mux *http.ServeMux) *Server {
	s := &Server{
		deps:      deps,
		basicAuth: basicAuth,
		window:    window,
		format:    format,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="scanbot"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.deps.Metrics != nil {
		s.mux.HandleFunc("GET /metrics", s.requireAuth(s.deps.Metrics.ServeHTTP))
	}

	s.mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	s.mux.HandleFunc("GET /api/scans/{id}/file", s.requireAuth(s.handleGetScanFile))
	s.mux.HandleFunc("GET /api/scans", s.requireAuth(s.handleListScans))
	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleCreateScan))
	s.mux.HandleFunc("POST /api/cleanup", s.requireAuth(s.handleCleanup))
}

// Start listens on addr and serves until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.http = srv
	s.mu.Unlock()

	slog.Info("Starting ops server", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests until
// ctx ends. A later Serve returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	slog.Info("Ops server stopped")
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
