package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittoecho/internal/logger"
	"github.com/marmos91/dittoecho/pkg/config"
	"github.com/marmos91/dittoecho/pkg/echo"
	"github.com/marmos91/dittoecho/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	servePort     int
	serveBacklog  int
	servePolicy   string
	servePoolSize int
)

// serveCmd runs the echo daemon until SIGINT or SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo daemon",
	Long: `Start the echo daemon and serve until interrupted.

On SIGINT or SIGTERM the daemon stops accepting, force-closes every live
connection and waits up to server.shutdown_timeout for workers to exit.
The exit status is non-zero if that deadline passes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "TCP port to listen on")
	serveCmd.Flags().IntVar(&serveBacklog, "backlog", config.DefaultBacklog, "Listen backlog")
	serveCmd.Flags().StringVar(&servePolicy, "policy", string(echo.PolicyPerConnection), "Dispatch policy (per-connection-thread, pooled-affine, pooled-distributed)")
	serveCmd.Flags().IntVar(&servePoolSize, "pool-size", 0, "Pool goroutines for pooled policies (default: number of CPUs)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Listener.Port = servePort
	}
	if flags.Changed("backlog") {
		cfg.Listener.Backlog = serveBacklog
	}
	if flags.Changed("policy") {
		cfg.Dispatch.Policy = servePolicy
	}
	if flags.Changed("pool-size") {
		if cfg.Dispatch.Pool == nil {
			cfg.Dispatch.Pool = make(map[string]any)
		}
		cfg.Dispatch.Pool["size"] = servePoolSize
	}

	if err := finishConfig(cfg); err != nil {
		return err
	}

	fmt.Println("DittoEcho - Concurrent TCP Echo Daemon")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	if configFile != "" {
		logger.Info("Configuration file: %s", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	svc, err := config.CreateService(ctx, cfg, metricsResult.EchoMetrics)
	if err != nil {
		return err
	}

	metricsDone := make(chan struct{})
	if srv := metricsResult.Server; srv != nil {
		srv.SetHealth(serviceHealth(svc))
		go func() {
			defer close(metricsDone)
			if err := srv.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	logger.Info("Server configuration:")
	logger.Info("  Address: %s", svc.Addr())
	logger.Info("  Backlog: %d", cfg.Listener.Backlog)
	logger.Info("  Policy: %s", svc.Policy())
	logger.Info("  Buffer size: %d", cfg.Worker.BufferSize)
	logger.Info("  Idle timeout: %v", cfg.Worker.IdleTimeout)
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	if cfg.Admission.Rate > 0 {
		logger.Info("  Admission rate: %d/s (burst %d)", cfg.Admission.Rate, cfg.Admission.Burst)
	} else {
		logger.Info("  Admission rate: unlimited")
	}
	logger.Info("Server is running. Press Ctrl+C to stop.")

	err = runService(ctx, svc)

	// The metrics server stops on the same context.
	stop()
	<-metricsDone
	return err
}

// runService serves until ctx ends. A drain that outlives the shutdown
// timeout is returned as an error so the process exits non-zero after
// deferred cleanup has run.
func runService(ctx context.Context, svc *echo.Service) error {
	err := svc.Serve(ctx)
	switch {
	case err == nil:
		logger.Info("Server stopped gracefully")
		return nil
	case errors.Is(err, echo.ErrShutdownTimeout):
		logger.Error("Server shutdown timed out: %v", err)
		return fmt.Errorf("shutdown incomplete: %w", err)
	default:
		return fmt.Errorf("server error: %w", err)
	}
}

// serviceHealth reports the service lifecycle state on /healthz.
func serviceHealth(svc *echo.Service) metrics.HealthFunc {
	return func() (string, bool) {
		state := svc.State()
		return state.String(), state == echo.StateAccepting
	}
}
