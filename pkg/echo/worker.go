package echo

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoecho/internal/logger"
	"github.com/marmos91/dittoecho/pkg/metrics"
)

// workerEnv is the state a worker shares with the service that created it.
type workerEnv struct {
	stopped      *atomic.Bool
	registry     *Registry
	metrics      metrics.EchoMetrics
	bufferSize   int
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func (e *workerEnv) newWorker(conn net.Conn) *Worker {
	return &Worker{
		id:     uuid.NewString(),
		conn:   conn,
		remote: remoteAddr(conn),
		buf:    make([]byte, e.bufferSize),
		env:    e,
		done:   make(chan struct{}),
	}
}

// Worker owns one accepted connection and echoes everything it reads.
//
// The worker is the only owner of its connection once dispatched. The
// connection is closed exactly once (closeOnce) and the worker releases
// itself exactly once (releaseOnce), whichever exit path runs first:
// peer close, I/O error, stop flag, forced close during the drain, or
// rejection by the dispatcher.
type Worker struct {
	id     string
	conn   net.Conn
	remote string
	buf    []byte
	env    *workerEnv

	started time.Time
	echoed  int64

	closeOnce   sync.Once
	releaseOnce sync.Once
	forced      atomic.Bool
	done        chan struct{}
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() string { return w.id }

// RemoteAddr returns the peer address captured at accept time.
func (w *Worker) RemoteAddr() string { return w.remote }

// Done is closed once the worker has released its connection and left the
// registry.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run executes the echo loop until the peer closes, an I/O error occurs or
// the service stops, then releases the worker. Run never panics.
func (w *Worker) Run() {
	w.started = time.Now()
	reason := w.serve()
	w.release(reason)
}

func (w *Worker) serve() (reason error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in echo worker %s (%s): %v", w.id, w.remote, r)
			reason = fmt.Errorf("worker %s: panic: %v", w.id, r)
		}
	}()

	for {
		if w.env.stopped.Load() {
			return ErrServiceStopped
		}

		if w.env.idleTimeout > 0 {
			if err := w.conn.SetReadDeadline(time.Now().Add(w.env.idleTimeout)); err != nil {
				return &IOError{WorkerID: w.id, Op: "read", Err: err}
			}
		}

		n, err := w.conn.Read(w.buf)
		if n > 0 {
			if logger.Enabled(logger.LevelTrace) {
				logger.Trace("Worker %s received %d bytes from %s: %q", w.id, n, w.remote, w.buf[:n])
			}
			if werr := w.echo(n); werr != nil {
				return werr
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrPeerClosed
			}
			return &IOError{WorkerID: w.id, Op: "read", Err: err}
		}
		if n == 0 {
			return ErrPeerClosed
		}
	}
}

// echo writes back exactly the n bytes just received.
func (w *Worker) echo(n int) error {
	if w.env.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.env.writeTimeout)); err != nil {
			return &IOError{WorkerID: w.id, Op: "write", Err: err}
		}
	}

	if _, err := w.conn.Write(w.buf[:n]); err != nil {
		return &IOError{WorkerID: w.id, Op: "write", Err: err}
	}

	w.echoed += int64(n)
	w.env.metrics.RecordBytesEchoed(n)
	return nil
}

// closeConn shuts down both halves of the connection and closes it.
// Safe to call from the worker and from the drain concurrently.
func (w *Worker) closeConn() {
	w.closeOnce.Do(func() {
		if tcp, ok := w.conn.(*net.TCPConn); ok {
			_ = tcp.CloseRead()
			_ = tcp.CloseWrite()
		}
		if err := w.conn.Close(); err != nil {
			logger.Debug("Error closing connection %s (worker %s): %v", w.remote, w.id, err)
		}
	})
}

// forceClose is used by the drain to unblock a worker stuck in Read.
// The worker itself still performs the release.
func (w *Worker) forceClose() {
	w.forced.Store(true)
	w.closeConn()
}

// release closes the connection, drops the buffer and leaves the registry.
func (w *Worker) release(reason error) {
	w.releaseOnce.Do(func() {
		w.closeConn()
		w.finish(reason)
	})
}

// abandon releases a worker whose dispatch failed. The connection is left
// open: it still belongs to the caller of Dispatch.
func (w *Worker) abandon() {
	w.releaseOnce.Do(func() {
		w.finish(ErrResourceExhausted)
	})
}

func (w *Worker) finish(reason error) {
	w.buf = nil
	removed := w.env.registry.Unregister(w)

	if removed && reason != ErrResourceExhausted {
		var duration time.Duration
		if !w.started.IsZero() {
			duration = time.Since(w.started)
		}
		label := closeReason(reason)
		if w.forced.Load() {
			if label == "io_error" {
				label = "shutdown"
			}
			w.env.metrics.RecordConnectionForceClosed()
		}
		w.env.metrics.RecordConnectionClosed(label, duration)
	}

	w.logExit(reason)
	close(w.done)
}

func (w *Worker) logExit(reason error) {
	switch {
	case errors.Is(reason, ErrPeerClosed):
		logger.Debug("Connection from %s closed by client (worker %s, %d bytes echoed)", w.remote, w.id, w.echoed)
	case errors.Is(reason, ErrServiceStopped):
		logger.Debug("Connection from %s closed due to server shutdown (worker %s)", w.remote, w.id)
	case errors.Is(reason, ErrResourceExhausted):
		logger.Debug("Worker %s for %s released without running", w.id, w.remote)
	case w.forced.Load():
		logger.Debug("Connection from %s force-closed during shutdown (worker %s): %v", w.remote, w.id, reason)
	case isTimeout(reason):
		logger.Debug("Connection from %s timed out (worker %s): %v", w.remote, w.id, reason)
	default:
		logger.Warn("Connection from %s terminated (worker %s): %v", w.remote, w.id, reason)
	}
}

func closeReason(err error) string {
	var ioErr *IOError
	switch {
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, ErrServiceStopped):
		return "shutdown"
	case isTimeout(err):
		return "timeout"
	case errors.As(err, &ioErr):
		return "io_error"
	default:
		return "panic"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
