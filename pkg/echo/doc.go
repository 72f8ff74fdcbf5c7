// Package echo implements the DittoEcho daemon: an accept loop that hands
// every TCP connection to a Worker running a byte-for-byte echo loop.
//
// Components:
//   - Worker: owns one accepted connection and its receive buffer.
//   - Registry: the set of live workers, consulted when draining.
//   - Dispatcher: turns a connection into a running worker, either with a
//     goroutine per connection or through a fixed pool (CPU-pinned or not).
//   - Service: owns the listener, runs the accept loop and drives shutdown.
//
// Lifecycle:
//
//	Starting -> Accepting -> Draining -> Stopped
//
// Shutdown is two-part. A stop flag lets workers exit between loop
// iterations, and every registered connection is force-closed so that
// workers blocked in Read return immediately. The wait for workers to
// finish is bounded by Config.ShutdownTimeout.
package echo
