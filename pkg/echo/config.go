package echo

import (
	"fmt"
	"runtime"
	"time"
)

// DispatchPolicy selects how accepted connections are turned into workers.
type DispatchPolicy string

const (
	// PolicyPerConnection runs every worker in its own goroutine.
	PolicyPerConnection DispatchPolicy = "per-connection-thread"

	// PolicyPooledAffine runs workers on a fixed pool whose goroutines are
	// locked to OS threads pinned to individual CPUs. Each pool goroutine
	// has its own queue, so a long-lived connection delays the ones queued
	// behind it on the same core.
	PolicyPooledAffine DispatchPolicy = "pooled-affine"

	// PolicyPooledDistributed runs workers on a fixed, unpinned pool fed
	// from one shared queue.
	PolicyPooledDistributed DispatchPolicy = "pooled-distributed"
)

// ParsePolicy converts a configuration string to a DispatchPolicy.
func ParsePolicy(s string) (DispatchPolicy, error) {
	switch p := DispatchPolicy(s); p {
	case PolicyPerConnection, PolicyPooledAffine, PolicyPooledDistributed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown dispatch policy %q (want %s, %s or %s)",
			s, PolicyPerConnection, PolicyPooledAffine, PolicyPooledDistributed)
	}
}

// Pooled reports whether the policy uses a fixed worker pool.
func (p DispatchPolicy) Pooled() bool {
	return p == PolicyPooledAffine || p == PolicyPooledDistributed
}

func (p DispatchPolicy) String() string {
	return string(p)
}

// Config holds the daemon parameters. Listening port and backlog are not
// here: the daemon receives an already listening socket.
//
// Default values (applied by New if zero):
//   - Policy: per-connection-thread
//   - PoolSize: runtime.NumCPU()
//   - QueueDepth: 1024 per queue
//   - BufferSize: 4096
//   - ShutdownTimeout: 30s
type Config struct {
	// Policy selects the dispatch strategy.
	Policy DispatchPolicy `mapstructure:"policy"`

	// PoolSize is the number of pool goroutines for pooled policies.
	PoolSize int `mapstructure:"pool_size"`

	// QueueDepth bounds each pool queue. A full queue rejects the
	// connection with ErrResourceExhausted.
	QueueDepth int `mapstructure:"queue_depth"`

	// CPUs lists the cores used by pooled-affine. Pool goroutine i is
	// pinned to CPUs[i % len(CPUs)]. Empty means every CPU the process
	// may run on.
	CPUs []int `mapstructure:"cpus"`

	// MaxWorkers caps concurrent workers for per-connection-thread.
	// 0 means unbounded.
	MaxWorkers int `mapstructure:"max_workers"`

	// BufferSize is the capacity of each worker's receive buffer.
	BufferSize int `mapstructure:"buffer_size"`

	// IdleTimeout closes a connection that sends nothing for this long.
	// 0 disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// WriteTimeout bounds each echo write. 0 disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout bounds the wait for workers during the drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AcceptRate limits admissions per second. 0 means unlimited.
	AcceptRate uint `mapstructure:"accept_rate"`

	// AcceptBurst is the admission burst when AcceptRate > 0.
	AcceptBurst uint `mapstructure:"accept_burst"`

	// MetricsLogInterval logs the active worker count periodically.
	// 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`
}

func (c *Config) applyDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyPerConnection
	}
	if c.PoolSize == 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 1024
	}
	if c.BufferSize == 0 {
		c.BufferSize = 4096
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("invalid PoolSize %d: must be >= 0", c.PoolSize)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("invalid QueueDepth %d: must be >= 0", c.QueueDepth)
	}
	for _, cpu := range c.CPUs {
		if cpu < 0 {
			return fmt.Errorf("invalid CPU index %d: must be >= 0", cpu)
		}
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("invalid MaxWorkers %d: must be >= 0", c.MaxWorkers)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("invalid BufferSize %d: must be >= 0 (0 = default)", c.BufferSize)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	return nil
}
