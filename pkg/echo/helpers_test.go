package echo

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingMetrics records calls so tests can assert on lifecycle events.
type countingMetrics struct {
	accepted         atomic.Int64
	closed           atomic.Int64
	forceClosed      atomic.Int64
	dispatchFailures atomic.Int64
	acceptErrors     atomic.Int64
	bytesEchoed      atomic.Int64
	active           atomic.Int64

	mu      sync.Mutex
	reasons map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{reasons: make(map[string]int)}
}

func (m *countingMetrics) RecordConnectionAccepted() { m.accepted.Add(1) }

func (m *countingMetrics) RecordConnectionClosed(reason string, _ time.Duration) {
	m.closed.Add(1)
	m.mu.Lock()
	m.reasons[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordConnectionForceClosed() { m.forceClosed.Add(1) }
func (m *countingMetrics) RecordDispatchFailure(string) { m.dispatchFailures.Add(1) }
func (m *countingMetrics) RecordAcceptError()           { m.acceptErrors.Add(1) }
func (m *countingMetrics) RecordBytesEchoed(n int)      { m.bytesEchoed.Add(int64(n)) }
func (m *countingMetrics) SetActiveWorkers(n int)       { m.active.Store(int64(n)) }

func (m *countingMetrics) reason(r string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reasons[r]
}

type runningService struct {
	svc     *Service
	addr    string
	metrics *countingMetrics
	done    chan error
}

// startService listens on a random loopback port and runs Serve in the
// background. The service is stopped on test cleanup if still running.
func startService(t *testing.T, cfg Config) *runningService {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := newCountingMetrics()
	svc, err := New(cfg, ln, m)
	require.NoError(t, err)

	rs := &runningService{
		svc:     svc,
		addr:    ln.Addr().String(),
		metrics: m,
		done:    make(chan error, 1),
	}
	go func() {
		rs.done <- svc.Serve(context.Background())
	}()

	require.Eventually(t, func() bool {
		return svc.State() == StateAccepting
	}, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return rs
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	return conn
}

// roundTrip writes payload and reads back exactly len(payload) bytes.
func roundTrip(conn net.Conn, payload []byte) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, got); err != nil {
		return nil, err
	}
	return got, nil
}

func waitForWorkers(t *testing.T, svc *Service, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return svc.ActiveWorkers() == n
	}, 5*time.Second, 5*time.Millisecond, "expected %d active workers", n)
}

// waitForClosed waits for n closed-connection events. Metrics are recorded
// just after a worker leaves the registry.
func waitForClosed(t *testing.T, m *countingMetrics, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.closed.Load() == int64(n)
	}, 5*time.Second, 5*time.Millisecond, "expected %d closed connections", n)
}

var allPolicies = []DispatchPolicy{
	PolicyPerConnection,
	PolicyPooledAffine,
	PolicyPooledDistributed,
}

// policyConfig returns a config for policy sized for concurrent tests.
func policyConfig(policy DispatchPolicy, poolSize int) Config {
	return Config{
		Policy:          policy,
		PoolSize:        poolSize,
		QueueDepth:      4096,
		ShutdownTimeout: 5 * time.Second,
	}
}

// stuckConn is a net.Conn whose Read ignores Close until released,
// modelling a worker that refuses to terminate.
type stuckConn struct {
	release chan struct{}
	once    sync.Once
}

func newStuckConn() *stuckConn {
	return &stuckConn{release: make(chan struct{})}
}

func (c *stuckConn) Read([]byte) (int, error) {
	<-c.release
	return 0, io.EOF
}

func (c *stuckConn) Write(b []byte) (int, error)      { return len(b), nil }
func (c *stuckConn) Close() error                     { return nil }
func (c *stuckConn) LocalAddr() net.Addr              { return fakeAddr("local") }
func (c *stuckConn) RemoteAddr() net.Addr             { return fakeAddr("stuck-peer") }
func (c *stuckConn) SetDeadline(time.Time) error      { return nil }
func (c *stuckConn) SetReadDeadline(time.Time) error  { return nil }
func (c *stuckConn) SetWriteDeadline(time.Time) error { return nil }

func (c *stuckConn) unblock() {
	c.once.Do(func() { close(c.release) })
}

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// scriptedListener returns the queued results from Accept in order, then
// blocks until closed.
type scriptedListener struct {
	mu      sync.Mutex
	results []acceptResult
	closed  chan struct{}
	once    sync.Once
	closes  atomic.Int32
}

type acceptResult struct {
	conn net.Conn
	err  error
}

func newScriptedListener(results ...acceptResult) *scriptedListener {
	return &scriptedListener{results: results, closed: make(chan struct{})}
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if len(l.results) > 0 {
		r := l.results[0]
		l.results = l.results[1:]
		l.mu.Unlock()
		return r.conn, r.err
	}
	l.mu.Unlock()

	<-l.closed
	return nil, net.ErrClosed
}

func (l *scriptedListener) Close() error {
	l.closes.Add(1)
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr { return fakeAddr("scripted") }

var errTooManyFiles = errors.New("accept4: too many open files")
