package echo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrResourceExhausted is returned by Dispatch when no worker could be
	// created or queued. The connection is still owned by the caller.
	ErrResourceExhausted = errors.New("echo: resource exhausted")

	// ErrPeerClosed classifies a normal worker exit: the client closed
	// the connection. It never leaves the worker.
	ErrPeerClosed = errors.New("echo: peer closed connection")

	// ErrShutdownTimeout matches *ShutdownTimeoutError with errors.Is.
	ErrShutdownTimeout = errors.New("echo: shutdown timeout")

	// ErrServiceStopped is returned by Serve once the service has begun
	// shutting down, and classifies workers stopped by the drain.
	ErrServiceStopped = errors.New("echo: service stopped")

	// ErrAlreadyServing is returned by a second call to Serve.
	ErrAlreadyServing = errors.New("echo: service already serving")
)

// TransientAcceptError wraps an Accept failure that the daemon logs and
// retries.
type TransientAcceptError struct {
	Err error
}

func (e *TransientAcceptError) Error() string {
	return fmt.Sprintf("transient accept error: %v", e.Err)
}

func (e *TransientAcceptError) Unwrap() error {
	return e.Err
}

// IOError is a receive or send failure on a single connection. It only
// terminates the worker that hit it.
type IOError struct {
	WorkerID string
	Op       string // "read" or "write"
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("worker %s: %s: %v", e.WorkerID, e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ShutdownTimeoutError reports workers that did not terminate within the
// drain deadline even after their connections were force-closed.
type ShutdownTimeoutError struct {
	Timeout   time.Duration
	Remaining []string
}

func (e *ShutdownTimeoutError) Error() string {
	const maxListed = 8

	ids := e.Remaining
	suffix := ""
	if len(ids) > maxListed {
		suffix = fmt.Sprintf(" (+%d more)", len(ids)-maxListed)
		ids = ids[:maxListed]
	}
	return fmt.Sprintf("echo: shutdown timeout after %v: %d worker(s) still active: [%s]%s",
		e.Timeout, len(e.Remaining), strings.Join(ids, " "), suffix)
}

func (e *ShutdownTimeoutError) Is(target error) bool {
	return target == ErrShutdownTimeout
}
