package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoecho/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports the echo service state for /healthz. serving is true
// while the service accepts connections.
type HealthFunc func() (state string, serving bool)

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Host to bind. Empty binds all interfaces.
	Host string

	// Port to bind. Default: 9090
	Port int

	// ShutdownTimeout bounds the graceful stop once Serve's context ends.
	// Default: 5s
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server exposes the daemon over HTTP:
//   - GET /metrics: Prometheus exposition, 503 while collection is disabled
//   - GET /healthz: echo service state, 200 while accepting and 503 otherwise
type Server struct {
	http            *http.Server
	addr            string
	shutdownTimeout time.Duration
	health          atomic.Pointer[HealthFunc]

	mu sync.Mutex
	ln net.Listener

	stopOnce sync.Once
	stopErr  error
}

// NewServer builds a stopped server. Call Start or Serve to run it.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	s := &Server{
		addr:            net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		shutdownTimeout: config.ShutdownTimeout,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/healthz", s.serveHealth)

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func metricsHandler() http.Handler {
	if reg := GetRegistry(); reg != nil {
		return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	}

	logger.Debug("Metrics collection disabled, /metrics answers 503")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
	})
}

// SetHealth installs the /healthz probe. Until it is set, /healthz
// answers 200 "ok".
func (s *Server) SetHealth(fn HealthFunc) {
	s.health.Store(&fn)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	fn := s.health.Load()
	if fn == nil || *fn == nil {
		_, _ = fmt.Fprintln(w, "ok")
		return
	}

	state, serving := (*fn)()
	if !serving {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = fmt.Fprintln(w, state)
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then stops gracefully within the
// configured shutdown timeout. The server takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(stopCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Error("%v", s.stopErr)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return s.stopErr
}

// Addr returns the bound address, or nil before Start or Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Handler returns the HTTP handler serving /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
