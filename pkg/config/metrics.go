package config

import (
	"github.com/marmos91/dittoecho/pkg/metrics"
	promMetrics "github.com/marmos91/dittoecho/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing /metrics and /healthz (nil if disabled)
	Server *metrics.Server

	// EchoMetrics is the collector for the echo service (never nil, uses noop if disabled)
	EchoMetrics metrics.EchoMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics for the echo service
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns a no-op metrics implementation (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Server:      nil,
			EchoMetrics: metrics.NewNoopEchoMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Host: cfg.Server.Metrics.Host,
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:      server,
		EchoMetrics: promMetrics.NewEchoMetrics(),
	}
}
