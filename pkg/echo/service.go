package echo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoecho/internal/logger"
	"github.com/marmos91/dittoecho/internal/ratelimiter"
	"github.com/marmos91/dittoecho/pkg/metrics"
)

// State is the daemon lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateAccepting
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAccepting:
		return "accepting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Service is the echo daemon. It owns the listening socket, the worker
// registry and the dispatcher, and drives the shutdown protocol.
//
// Architecture:
// Serve runs the accept loop in the calling goroutine. Each accepted
// connection is handed to the Dispatcher, which registers a Worker and
// runs it in its own goroutine or on a pool. Workers remove themselves
// from the registry on every exit path.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Stop flag set, listener closed (no new connections)
//  3. Every registered connection force-closed (unblocks Read)
//  4. Dispatcher closed, pool goroutines drain their queues and exit
//  5. Wait for the registry to empty (up to ShutdownTimeout)
//  6. A worker still registered after the deadline is reported as a
//     *ShutdownTimeoutError
//
// Thread safety:
// All methods are safe for concurrent use. Stop may be called
// concurrently with Serve and more than once.
type Service struct {
	config     Config
	listener   net.Listener
	registry   *Registry
	dispatcher Dispatcher
	metrics    metrics.EchoMetrics
	limiter    *ratelimiter.AdmissionLimiter
	env        *workerEnv

	// stopped is the cooperative cancellation flag polled by workers.
	// Set exactly once, never reset.
	stopped atomic.Bool

	state atomic.Int32

	shutdownOnce sync.Once

	// shutdown is closed by initiateShutdown.
	shutdown chan struct{}

	// shutdownCtx is cancelled by initiateShutdown; it bounds waits in
	// the accept loop such as admission throttling.
	shutdownCtx    context.Context
	cancelShutdown context.CancelFunc

	drainOnce sync.Once
	drainDone chan struct{}
	drainErr  error
}

// New validates the configuration and the listening socket and returns a
// service in the Starting state. The service takes ownership of ln and
// closes it exactly once during shutdown.
//
// m may be nil, in which case metrics are discarded.
func New(config Config, ln net.Listener, m metrics.EchoMetrics) (*Service, error) {
	if ln == nil {
		return nil, errors.New("echo: listener is required")
	}
	if ln.Addr() == nil {
		return nil, errors.New("echo: listener has no local address")
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid echo config: %w", err)
	}

	if m == nil {
		m = metrics.NewNoopEchoMetrics()
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())

	s := &Service{
		config:         config,
		listener:       ln,
		registry:       NewRegistry(),
		metrics:        m,
		limiter:        ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelShutdown: cancel,
		drainDone:      make(chan struct{}),
	}
	s.registry.OnChange(m.SetActiveWorkers)
	s.env = &workerEnv{
		stopped:      &s.stopped,
		registry:     s.registry,
		metrics:      m,
		bufferSize:   config.BufferSize,
		idleTimeout:  config.IdleTimeout,
		writeTimeout: config.WriteTimeout,
	}

	d, err := newDispatcher(config, s.env)
	if err != nil {
		cancel()
		return nil, err
	}
	s.dispatcher = d

	logger.Debug("Echo service created: policy=%s pool_size=%d queue_depth=%d buffer=%d",
		config.Policy, config.PoolSize, config.QueueDepth, config.BufferSize)
	return s, nil
}

// Serve runs the accept loop and blocks until the context is cancelled,
// Stop is called, or the listener fails permanently. It then drains and
// returns.
//
// Returns:
//   - nil on a complete graceful shutdown
//   - *ShutdownTimeoutError if workers outlived the drain deadline
//   - ErrAlreadyServing / ErrServiceStopped if called in the wrong state
func (s *Service) Serve(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStarting), int32(StateAccepting)) {
		if s.State() == StateAccepting {
			return ErrAlreadyServing
		}
		return ErrServiceStopped
	}

	logger.Info("Echo server listening on %s (policy: %s)", s.listener.Addr(), s.config.Policy)
	logger.Debug("Echo config: pool_size=%d queue_depth=%d max_workers=%d idle_timeout=%v write_timeout=%v shutdown_timeout=%v",
		s.config.PoolSize, s.config.QueueDepth, s.config.MaxWorkers,
		s.config.IdleTimeout, s.config.WriteTimeout, s.config.ShutdownTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Echo shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics()
	}

	acceptErr := s.acceptLoop()
	drainErr := s.drain()
	if acceptErr != nil {
		return errors.Join(acceptErr, drainErr)
	}
	return drainErr
}

func (s *Service) acceptLoop() error {
	var delay time.Duration

	for {
		if !s.limiter.Unlimited() {
			if err := s.limiter.Wait(s.shutdownCtx); err != nil {
				return nil
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() {
				return nil
			}

			if errors.Is(err, net.ErrClosed) {
				logger.Error("Echo listener closed unexpectedly: %v", err)
				s.initiateShutdown()
				return fmt.Errorf("accept: %w", err)
			}

			acceptErr := &TransientAcceptError{Err: err}
			s.metrics.RecordAcceptError()

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logger.Warn("%v; retrying in %v", acceptErr, delay)

			select {
			case <-time.After(delay):
			case <-s.shutdown:
				return nil
			}
			continue
		}
		delay = 0

		if s.stopped.Load() {
			_ = conn.Close()
			return nil
		}

		s.admit(conn)
	}
}

// admit hands conn to the dispatcher. On failure the connection is still
// ours and is closed here.
func (s *Service) admit(conn net.Conn) {
	s.metrics.RecordConnectionAccepted()

	if err := s.dispatcher.Dispatch(conn); err != nil {
		s.metrics.RecordDispatchFailure(s.config.Policy.String())
		logger.Warn("Cannot dispatch connection from %s: %v", remoteAddr(conn), err)
		if cerr := conn.Close(); cerr != nil {
			logger.Debug("Error closing rejected connection from %s: %v", remoteAddr(conn), cerr)
		}
		return
	}

	logger.Debug("Connection accepted from %s (active: %d)", remoteAddr(conn), s.registry.Len())
}

// initiateShutdown sets the stop flag and closes the listener. Safe to
// call multiple times and from multiple goroutines.
func (s *Service) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Echo shutdown initiated")

		s.stopped.Store(true)
		close(s.shutdown)

		if err := s.listener.Close(); err != nil {
			logger.Debug("Error closing echo listener: %v", err)
		}

		s.cancelShutdown()
	})
}

// drain runs the Draining phase once and returns its outcome to every
// caller.
func (s *Service) drain() error {
	s.drainOnce.Do(func() {
		s.state.Store(int32(StateDraining))
		s.initiateShutdown()

		// The accept loop has exited (or never ran), so no worker can be
		// registered after this snapshot.
		workers := s.registry.Snapshot()
		logger.Info("Echo graceful shutdown: draining %d worker(s) (timeout: %v)",
			len(workers), s.config.ShutdownTimeout)

		for _, w := range workers {
			w.forceClose()
		}
		if len(workers) > 0 {
			logger.Info("Force-closed %d connection(s)", len(workers))
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		dispatchErr := s.dispatcher.Close(ctx)
		waitErr := s.registry.Wait(ctx)

		if dispatchErr != nil || waitErr != nil {
			remaining := s.registry.Snapshot()
			ids := make([]string, len(remaining))
			for i, w := range remaining {
				ids[i] = w.id
			}
			s.drainErr = &ShutdownTimeoutError{Timeout: s.config.ShutdownTimeout, Remaining: ids}
			logger.Error("%v", s.drainErr)
		} else {
			logger.Info("Echo graceful shutdown complete: all workers released")
		}

		s.state.Store(int32(StateStopped))
		close(s.drainDone)
	})

	<-s.drainDone
	return s.drainErr
}

// Stop initiates shutdown and waits for the drain to finish or ctx to be
// done, whichever comes first. If Serve was never called, Stop performs
// the drain itself.
//
// Returns:
//   - nil on a complete graceful shutdown
//   - *ShutdownTimeoutError if workers outlived the drain deadline
//   - ctx.Err() if ctx ended first (the drain keeps running)
func (s *Service) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if s.state.CompareAndSwap(int32(StateStarting), int32(StateDraining)) {
		go s.drain()
	}

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-s.drainDone:
		return s.drainErr
	case <-ctx.Done():
		logger.Warn("Echo shutdown wait cancelled: %d worker(s) still active: %v",
			s.registry.Len(), ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs the number of active workers.
func (s *Service) logMetrics() {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCtx.Done():
			return
		case <-ticker.C:
			logger.Info("Echo metrics: active_workers=%d", s.registry.Len())
		}
	}
}

// Addr returns the listener's local address.
func (s *Service) Addr() net.Addr {
	return s.listener.Addr()
}

// State returns the current lifecycle phase.
func (s *Service) State() State {
	return State(s.state.Load())
}

// ActiveWorkers returns the number of registered workers.
func (s *Service) ActiveWorkers() int {
	return s.registry.Len()
}

// Policy returns the dispatch policy in use.
func (s *Service) Policy() DispatchPolicy {
	return s.dispatcher.Policy()
}

// Stopping reports whether shutdown has begun.
func (s *Service) Stopping() bool {
	return s.stopped.Load()
}
