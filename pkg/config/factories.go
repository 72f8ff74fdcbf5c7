package config

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/dittoecho/internal/logger"
	"github.com/marmos91/dittoecho/pkg/bench"
	"github.com/marmos91/dittoecho/pkg/echo"
	"github.com/marmos91/dittoecho/pkg/listener"
	"github.com/marmos91/dittoecho/pkg/metrics"
	"github.com/mitchellh/mapstructure"
)

// PoolOptions are the policy-specific dispatch options stored under
// dispatch.pool.
type PoolOptions struct {
	// Size is the number of pool goroutines (pooled policies)
	Size int `mapstructure:"size"`

	// QueueDepth bounds each pool queue (pooled policies)
	QueueDepth int `mapstructure:"queue_depth"`

	// CPUs lists the cores to pin to (pooled-affine)
	CPUs []int `mapstructure:"cpus"`

	// MaxWorkers caps concurrent workers (per-connection-thread)
	MaxWorkers int `mapstructure:"max_workers"`
}

// DecodePoolOptions decodes the dispatch.pool map.
//
// Values are weakly typed so environment overrides and YAML strings such
// as "8" decode into integers. Unknown keys are rejected.
func DecodePoolOptions(options map[string]any) (PoolOptions, error) {
	var opts PoolOptions

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return opts, fmt.Errorf("failed to create pool options decoder: %w", err)
	}

	if err := decoder.Decode(options); err != nil {
		return opts, fmt.Errorf("failed to decode pool options: %w", err)
	}

	return opts, nil
}

// EchoConfig builds the daemon configuration.
func EchoConfig(cfg *Config) (echo.Config, error) {
	policy, err := echo.ParsePolicy(cfg.Dispatch.Policy)
	if err != nil {
		return echo.Config{}, err
	}

	pool, err := DecodePoolOptions(cfg.Dispatch.Pool)
	if err != nil {
		return echo.Config{}, err
	}

	return echo.Config{
		Policy:             policy,
		PoolSize:           pool.Size,
		QueueDepth:         pool.QueueDepth,
		CPUs:               pool.CPUs,
		MaxWorkers:         pool.MaxWorkers,
		BufferSize:         cfg.Worker.BufferSize,
		IdleTimeout:        cfg.Worker.IdleTimeout,
		WriteTimeout:       cfg.Worker.WriteTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		AcceptRate:         cfg.Admission.Rate,
		AcceptBurst:        cfg.Admission.Burst,
		MetricsLogInterval: cfg.Server.MetricsLogInterval,
	}, nil
}

// CreateListener opens the listening socket described by cfg.Listener.
func CreateListener(ctx context.Context, cfg *Config) (net.Listener, error) {
	ln, err := listener.Listen(ctx, cfg.Listener)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	return ln, nil
}

// CreateService opens the listener and builds the echo service on top of it.
//
// The listener is closed if the service cannot be created.
//
// Parameters:
//   - ctx: Context for socket creation
//   - cfg: The complete DittoEcho configuration
//   - m: Metrics collector (nil for no-op)
//
// Returns:
//   - *echo.Service: Service in the Starting state, ready for Serve
//   - error: Listener or configuration error
func CreateService(ctx context.Context, cfg *Config, m metrics.EchoMetrics) (*echo.Service, error) {
	echoCfg, err := EchoConfig(cfg)
	if err != nil {
		return nil, err
	}

	ln, err := CreateListener(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := echo.New(echoCfg, ln, m)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	logger.Debug("Echo service configured: policy=%s listener=%s", echoCfg.Policy, ln.Addr())
	return svc, nil
}

// BenchOptions builds load generator options from cfg.Bench.
func BenchOptions(cfg *Config) bench.Options {
	return bench.Options{
		Address:        cfg.Bench.Address,
		Clients:        cfg.Bench.Clients,
		Rounds:         cfg.Bench.Rounds,
		PayloadSize:    cfg.Bench.PayloadSize,
		UniquePayloads: cfg.Bench.UniquePayloads,
		Timeout:        cfg.Bench.Timeout,
	}
}
