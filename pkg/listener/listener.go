// Package listener creates the daemon's listening TCP socket.
//
// On Linux the socket is built directly so the accept backlog and socket
// options can be set before listen(2). Other platforms fall back to
// net.ListenConfig and ignore the backlog.
package listener

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/dittoecho/internal/logger"
)

// Config describes the listening socket.
type Config struct {
	// Host is the address to bind. Empty means all IPv4 interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port. 0 picks a free port.
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// Backlog is the accept queue length passed to listen(2).
	// 0 uses the system maximum.
	Backlog int `mapstructure:"backlog" yaml:"backlog" validate:"gte=0"`

	// ReusePort sets SO_REUSEPORT so several processes can share the port.
	ReusePort bool `mapstructure:"reuse_port" yaml:"reuse_port"`

	// NoDelay controls TCP_NODELAY on accepted connections.
	NoDelay bool `mapstructure:"no_delay" yaml:"no_delay"`
}

// Address returns host:port.
func (c Config) Address() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// Listen opens the listening socket described by cfg.
func Listen(ctx context.Context, cfg Config) (net.Listener, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Backlog < 0 {
		return nil, fmt.Errorf("invalid backlog %d", cfg.Backlog)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ln, err := listenPlatform(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address(), err)
	}

	logger.Debug("Listening socket ready on %s (backlog=%d reuse_port=%v no_delay=%v)",
		ln.Addr(), cfg.Backlog, cfg.ReusePort, cfg.NoDelay)

	return &tcpListener{Listener: ln, noDelay: cfg.NoDelay}, nil
}

// tcpListener applies per-connection options to accepted sockets. The
// runtime enables TCP_NODELAY on every TCP connection, so it must be reset
// explicitly when disabled.
type tcpListener struct {
	net.Listener
	noDelay bool
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(l.noDelay); err != nil {
			logger.Debug("Cannot set TCP_NODELAY on %s: %v", conn.RemoteAddr(), err)
		}
	}
	return conn, nil
}
