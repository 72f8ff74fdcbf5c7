package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittoecho/pkg/listener"
	"github.com/spf13/viper"
)

// Config represents the complete DittoEcho configuration.
//
// This structure captures all configurable aspects of the echo daemon:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics)
//   - Listening socket options
//   - Dispatch policy selection and policy-specific pool options
//   - Per-connection worker settings
//   - Admission throttling
//   - Load generator defaults
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOECHO_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Listener describes the listening socket
	Listener listener.Config `mapstructure:"listener" yaml:"listener"`

	// Dispatch selects how accepted connections become workers
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`

	// Worker contains per-connection settings
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Admission throttles the accept loop
	Admission AdmissionConfig `mapstructure:"admission" yaml:"admission"`

	// Bench holds defaults for the load generator
	Bench BenchConfig `mapstructure:"bench" yaml:"bench"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: TRACE, DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=TRACE DEBUG INFO WARN ERROR trace debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for workers during the drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MetricsLogInterval is how often the active worker count is logged (0 disables)
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"gte=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the HTTP endpoint serving /metrics and /healthz.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host is the interface for the metrics endpoint (empty for all)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP port for /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// DispatchConfig selects the dispatch policy.
//
// Pool holds policy-specific options decoded on demand (see PoolOptions),
// so keys that only matter to one policy do not clutter the others.
type DispatchConfig struct {
	// Policy is the dispatch strategy
	// Valid values: per-connection-thread, pooled-affine, pooled-distributed
	Policy string `mapstructure:"policy" yaml:"policy" validate:"required,oneof=per-connection-thread pooled-affine pooled-distributed"`

	// Pool contains pool options: size, queue_depth, cpus, max_workers
	Pool map[string]any `mapstructure:"pool" yaml:"pool"`
}

// WorkerConfig contains per-connection settings.
type WorkerConfig struct {
	// BufferSize is the receive buffer capacity per connection
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"gt=0,lte=16777216"`

	// IdleTimeout closes connections that send nothing for this long (0 disables)
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`

	// WriteTimeout bounds each echo write (0 disables)
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
}

// AdmissionConfig throttles new connections.
type AdmissionConfig struct {
	// Rate is the maximum admissions per second (0 means unlimited)
	Rate uint `mapstructure:"rate" yaml:"rate"`

	// Burst is the admission burst size
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// BenchConfig holds load generator defaults.
type BenchConfig struct {
	// Address is the echo server to benchmark
	Address string `mapstructure:"address" yaml:"address" validate:"required,hostname_port"`

	// Clients is the number of concurrent connections per round
	Clients int `mapstructure:"clients" yaml:"clients" validate:"gt=0"`

	// Rounds is the number of benchmark repetitions
	Rounds int `mapstructure:"rounds" yaml:"rounds" validate:"gt=0"`

	// PayloadSize is the probe length in bytes
	PayloadSize int `mapstructure:"payload_size" yaml:"payload_size" validate:"gt=0"`

	// UniquePayloads gives every client a distinct probe
	UniquePayloads bool `mapstructure:"unique_payloads" yaml:"unique_payloads"`

	// Timeout bounds each client's exchange
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	// Output is the result file ("-" for stdout)
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOECHO_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOECHO_ prefix and underscores
	// Example: DITTOECHO_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so
	// register the scalar keys that may come from the environment alone.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittoecho/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics_log_interval",
	"server.metrics.enabled",
	"server.metrics.host",
	"server.metrics.port",
	"listener.host",
	"listener.port",
	"listener.backlog",
	"listener.reuse_port",
	"listener.no_delay",
	"dispatch.policy",
	"worker.buffer_size",
	"worker.idle_timeout",
	"worker.write_timeout",
	"admission.rate",
	"admission.burst",
	"bench.address",
	"bench.clients",
	"bench.rounds",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - use defaults. An explicit
		// path that does not exist surfaces as a plain fs error.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoecho")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoecho")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
