package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoEcho Configuration File
#
# Values can be overridden with DITTOECHO_* environment variables,
# e.g. DITTOECHO_LISTENER_PORT=7 or DITTOECHO_DISPATCH_POLICY=pooled-affine.

`

// keyComments documents generated keys, addressed by dotted path.
var keyComments = map[string]string{
	"logging":                     "Logging: level (TRACE, DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"server":                      "Server-wide settings",
	"server.shutdown_timeout":     "Maximum wait for workers after their connections are force-closed",
	"server.metrics_log_interval": "Interval for logging the active worker count (0 disables)",
	"server.metrics":              "HTTP endpoint: Prometheus at /metrics, service state at /healthz",
	"listener":                    "Listening socket",
	"listener.backlog":            "Pending connection queue passed to listen(2)",
	"listener.reuse_port":         "Set SO_REUSEPORT (Linux only)",
	"listener.no_delay":           "Set TCP_NODELAY on accepted connections",
	"dispatch":                    "Dispatch policy: per-connection-thread, pooled-affine or pooled-distributed",
	"dispatch.pool":               "Policy options",
	"dispatch.pool.size":          "Pool goroutines (pooled policies)",
	"dispatch.pool.queue_depth":   "Waiting connections per queue before new ones are rejected (pooled policies)",
	"dispatch.pool.cpus":          "CPUs to pin pool goroutines to, empty for all (pooled-affine)",
	"dispatch.pool.max_workers":   "Concurrent connection limit, 0 for unlimited (per-connection-thread)",
	"worker":                      "Per-connection settings",
	"worker.buffer_size":          "Receive buffer size in bytes",
	"worker.idle_timeout":         "Close connections idle for this long (0 disables)",
	"worker.write_timeout":        "Bound on each echo write (0 disables)",
	"admission":                   "Admission throttling: connections per second (0 for unlimited) and burst",
	"bench":                       "Defaults for 'dittoecho bench'",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Fails if the file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above each documented key.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	annotate(&doc, "")

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return buf.String(), nil
}

// annotate attaches keyComments to the keys of a mapping node, recursing
// into nested mappings.
func annotate(node *yaml.Node, prefix string) {
	if node.Kind != yaml.MappingNode {
		return
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		path := key.Value
		if prefix != "" {
			path = prefix + "." + key.Value
		}
		if comment, ok := keyComments[path]; ok {
			key.HeadComment = comment
		}

		annotate(value, path)
	}
}
