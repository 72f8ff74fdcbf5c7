//go:build linux

package listener

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func listenPlatform(_ context.Context, cfg Config) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", cfg.Address())
	if err != nil {
		return nil, err
	}

	family, sa, err := sockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := configure(fd, cfg); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}

	backlog := cfg.Backlog
	if backlog == 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	// FileListener dups the descriptor; this copy is closed with f.
	f := os.NewFile(uintptr(fd), "dittoecho-listener")
	defer f.Close()

	return net.FileListener(f)
}

func configure(fd int, cfg Config) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if cfg.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fmt.Errorf("SO_REUSEPORT: %w", err)
		}
	}
	if cfg.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("TCP_NODELAY: %w", err)
		}
	}
	return nil
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil {
		return unix.AF_INET, &unix.SockaddrInet4{Port: addr.Port}, nil
	}

	if ip4 := addr.IP.To4(); ip4 != nil {
		return unix.AF_INET, &unix.SockaddrInet4{Port: addr.Port, Addr: [4]byte(ip4)}, nil
	}

	ip6 := addr.IP.To16()
	if ip6 == nil {
		return 0, nil, fmt.Errorf("unsupported address %s", addr)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port, Addr: [16]byte(ip6)}
	if addr.Zone != "" {
		ifi, err := net.InterfaceByName(addr.Zone)
		if err != nil {
			return 0, nil, fmt.Errorf("zone %q: %w", addr.Zone, err)
		}
		sa.ZoneId = uint32(ifi.Index)
	}
	return unix.AF_INET6, sa, nil
}
