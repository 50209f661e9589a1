// Package control serves the HTTP control surface: blocklist management,
// the row-addressable blocked_numbers interface, interception lifecycle,
// event enumeration and Prometheus metrics.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/callguard/internal/guard/common/log"
	"github.com/haukened/callguard/internal/guard/domain"
)

const readHeaderTimeout = 5 * time.Second

type Options struct {
	Addr         string
	Blocklist    Blocklist
	Interception Interception
	Events       EventLog
	Permissions  domain.Permissions
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	Burst     int
	Logger    log.Logger
}

// Server is the HTTP control surface.
type Server struct {
	addr     string
	router   *mux.Router
	logger   log.Logger
	validate *validator.Validate

	blocklist    Blocklist
	interception Interception
	events       EventLog
	permissions  domain.Permissions

	mu       sync.Mutex
	running  bool
	listener net.Listener
	srv      *http.Server
}

// New builds the router. Blocklist and Interception are required.
func New(opts Options) (*Server, error) {
	if opts.Blocklist == nil {
		return nil, fmt.Errorf("control: blocklist is required")
	}
	if opts.Interception == nil {
		return nil, fmt.Errorf("control: interception is required")
	}
	s := &Server{
		addr:         opts.Addr,
		logger:       opts.Logger,
		validate:     validator.New(),
		blocklist:    opts.Blocklist,
		interception: opts.Interception,
		events:       opts.Events,
		permissions:  opts.Permissions,
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleUnknownRoute)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleUnknownRoute)
	r.Use(recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
	if opts.RateLimit > 0 {
		r.Use(rateLimitMiddleware(newClientLimiter(opts.RateLimit, opts.Burst)))
	}
	s.registerRoutes(r)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router = r
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("control server already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: readHeaderTimeout}
	s.listener = ln
	s.srv = srv
	s.running = true

	s.logger.Info(map[string]any{
		"transport": "http",
		"address":   ln.Addr().String(),
	}, "control server started")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(map[string]any{"error": err.Error()}, "control server failed")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	err := s.srv.Shutdown(ctx)
	s.logger.Info(map[string]any{"transport": "http", "address": s.addr}, "control server stopped")
	return err
}

// Address returns the bound address while running, else the configured one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.listener.Addr().String()
	}
	return s.addr
}
