package metrics

import "time"

// EchoMetrics provides observability for the echo daemon.
//
// This interface is optional - if not provided to the echo service, a no-op
// implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewEchoMetrics()
//	svc, err := echo.New(cfg, ln, m)
//
//	// Without metrics (no-op)
//	svc, err := echo.New(cfg, ln, nil)
type EchoMetrics interface {
	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed records a finished worker.
	//
	// Parameters:
	//   - reason: "peer_closed", "io_error", "timeout", "shutdown" or "panic"
	//   - duration: Lifetime of the worker's echo loop
	RecordConnectionClosed(reason string, duration time.Duration)

	// RecordConnectionForceClosed counts connections closed by the drain.
	RecordConnectionForceClosed()

	// RecordDispatchFailure counts connections rejected with
	// ResourceExhausted.
	//
	// Parameters:
	//   - policy: Dispatch policy name
	RecordDispatchFailure(policy string)

	// RecordAcceptError counts transient accept failures.
	RecordAcceptError()

	// RecordBytesEchoed adds n to the echoed bytes counter.
	RecordBytesEchoed(n int)

	// SetActiveWorkers updates the registered workers gauge.
	SetActiveWorkers(count int)
}

// NewNoopEchoMetrics returns an EchoMetrics that discards everything.
func NewNoopEchoMetrics() EchoMetrics {
	return noopEchoMetrics{}
}

type noopEchoMetrics struct{}

func (noopEchoMetrics) RecordConnectionAccepted()                    {}
func (noopEchoMetrics) RecordConnectionClosed(string, time.Duration) {}
func (noopEchoMetrics) RecordConnectionForceClosed()                 {}
func (noopEchoMetrics) RecordDispatchFailure(string)                 {}
func (noopEchoMetrics) RecordAcceptError()                           {}
func (noopEchoMetrics) RecordBytesEchoed(int)                        {}
func (noopEchoMetrics) SetActiveWorkers(int)                         {}
