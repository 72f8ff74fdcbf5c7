package config

import (
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Default values for a freshly generated configuration. The port, backlog
// and bench parameters match the classic kecho setup.
const (
	DefaultPort            = 12345
	DefaultBacklog         = 128
	DefaultMetricsPort     = 9090
	DefaultBufferSize      = 4096
	DefaultQueueDepth      = 1024
	DefaultBenchClients    = 1000
	DefaultBenchRounds     = 10
	DefaultBenchPayload    = 16
	DefaultShutdownTimeout = 30 * time.Second
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Pool options are filled in for every key so generated files document them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyListenerDefaults(cfg)
	applyDispatchDefaults(&cfg.Dispatch)
	applyWorkerDefaults(&cfg.Worker)
	applyAdmissionDefaults(&cfg.Admission)
	applyBenchDefaults(&cfg.Bench, cfg.Listener.Port)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

// applyListenerDefaults sets listening socket defaults.
//
// Port 0 is replaced with DefaultPort: an explicit random port is only
// useful in tests, which build listener.Config directly.
func applyListenerDefaults(cfg *Config) {
	l := &cfg.Listener
	if l.Host == "" {
		l.Host = "0.0.0.0"
	}
	if l.Port == 0 {
		l.Port = DefaultPort
	}
	if l.Backlog == 0 {
		l.Backlog = DefaultBacklog
	}
	// ReusePort and NoDelay default to false
}

// applyDispatchDefaults sets the policy and fills in missing pool options.
func applyDispatchDefaults(cfg *DispatchConfig) {
	if cfg.Policy == "" {
		cfg.Policy = "per-connection-thread"
	}
	cfg.Policy = strings.ToLower(cfg.Policy)

	if cfg.Pool == nil {
		cfg.Pool = make(map[string]any)
	}
	if _, ok := cfg.Pool["size"]; !ok {
		cfg.Pool["size"] = runtime.NumCPU()
	}
	if _, ok := cfg.Pool["queue_depth"]; !ok {
		cfg.Pool["queue_depth"] = DefaultQueueDepth
	}
	if _, ok := cfg.Pool["cpus"]; !ok {
		cfg.Pool["cpus"] = []int{}
	}
	if _, ok := cfg.Pool["max_workers"]; !ok {
		cfg.Pool["max_workers"] = 0
	}
}

// applyWorkerDefaults sets per-connection defaults.
func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	// IdleTimeout and WriteTimeout default to 0 (disabled)
}

// applyAdmissionDefaults sets admission defaults.
func applyAdmissionDefaults(cfg *AdmissionConfig) {
	// Rate 0 means unlimited
	if cfg.Rate > 0 && cfg.Burst == 0 {
		cfg.Burst = cfg.Rate
	}
}

// applyBenchDefaults sets load generator defaults.
func applyBenchDefaults(cfg *BenchConfig, port int) {
	if cfg.Address == "" {
		cfg.Address = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	}
	if cfg.Clients == 0 {
		cfg.Clients = DefaultBenchClients
	}
	if cfg.Rounds == 0 {
		cfg.Rounds = DefaultBenchRounds
	}
	if cfg.PayloadSize == 0 {
		cfg.PayloadSize = DefaultBenchPayload
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Output == "" {
		cfg.Output = "bench.txt"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Bench: BenchConfig{
			UniquePayloads: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
