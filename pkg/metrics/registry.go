// Package metrics provides Prometheus metrics collection for the echo daemon.
//
// Metrics are optional - if the registry is not initialized, collectors
// fall back to no-op implementations. The daemon runs the same either way.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create the Prometheus-backed collector
//	m := prometheus.NewEchoMetrics()
//
//	// Or use nil for no-op behavior
//	svc, err := echo.New(cfg, ln, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry, written once by InitRegistry
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times - subsequent calls are ignored.
//
// If not called, GetRegistry() will return nil and NewEchoMetrics returns
// a no-op implementation.
//
// The registry also carries the Go runtime and process collectors
// (goroutines, open file descriptors).
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
//
// Metrics are enabled if InitRegistry() has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
