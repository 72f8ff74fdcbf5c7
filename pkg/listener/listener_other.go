//go:build !linux

package listener

import (
	"context"
	"net"

	"github.com/marmos91/dittoecho/internal/logger"
)

func listenPlatform(ctx context.Context, cfg Config) (net.Listener, error) {
	if cfg.ReusePort {
		logger.Warn("reuse_port is only supported on Linux; ignoring")
	}
	if cfg.Backlog > 0 {
		logger.Debug("backlog %d ignored on this platform", cfg.Backlog)
	}

	lc := net.ListenConfig{}
	return lc.Listen(ctx, "tcp", cfg.Address())
}
