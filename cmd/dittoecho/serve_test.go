package main

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoecho/pkg/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hungConn ignores Close, so its worker outlives any drain.
type hungConn struct {
	net.Conn
	release chan struct{}
}

func (c *hungConn) Read([]byte) (int, error) {
	<-c.release
	return 0, io.EOF
}

func (c *hungConn) Close() error                     { return nil }
func (c *hungConn) RemoteAddr() net.Addr             { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (c *hungConn) SetReadDeadline(time.Time) error  { return nil }
func (c *hungConn) SetWriteDeadline(time.Time) error { return nil }

// singleConnListener hands out one connection, then blocks until closed.
type singleConnListener struct {
	conn   net.Conn
	once   sync.Once
	served chan struct{}
	closed chan struct{}
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, served: make(chan struct{}), closed: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	select {
	case <-l.served:
	default:
		close(l.served)
		return l.conn, nil
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *singleConnListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestRunServiceReturnsShutdownTimeout(t *testing.T) {
	conn := &hungConn{release: make(chan struct{})}
	defer close(conn.release)

	svc, err := echo.New(echo.Config{ShutdownTimeout: 50 * time.Millisecond}, newSingleConnListener(conn), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runService(ctx, svc) }()

	require.Eventually(t, func() bool {
		return svc.ActiveWorkers() == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, echo.ErrShutdownTimeout)
		assert.Contains(t, err.Error(), "shutdown incomplete")
	case <-time.After(3 * time.Second):
		t.Fatal("runService did not return")
	}
}

func TestRunServiceGracefulStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svc, err := echo.New(echo.Config{}, ln, nil)
	require.NoError(t, err)

	health := serviceHealth(svc)
	state, serving := health()
	assert.Equal(t, "starting", state)
	assert.False(t, serving)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runService(ctx, svc) }()

	require.Eventually(t, func() bool {
		_, serving := health()
		return serving
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("runService did not return")
	}

	state, serving = health()
	assert.Equal(t, "stopped", state)
	assert.False(t, serving)
}
