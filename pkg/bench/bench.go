// Package bench is a load generator for echo servers.
//
// Each round opens Clients connections at once behind a start barrier.
// Every client sends one probe, reads until the whole probe has come back,
// verifies it byte for byte and records the round-trip latency. Latencies
// are indexed by completion order ("slot") and averaged across rounds, so
// slot 0 is the fastest client of each round on average.
package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dittoecho/internal/logger"
	"golang.org/x/sync/errgroup"
)

// ErrMismatch is returned when the echoed bytes differ from the probe.
var ErrMismatch = errors.New("bench: echo mismatch")

const defaultMessage = "dummy message "

// Options configures a benchmark run.
type Options struct {
	// Address is the echo server host:port.
	Address string

	// Clients is the number of concurrent connections per round.
	Clients int

	// Rounds is the number of repetitions.
	Rounds int

	// PayloadSize is the probe length in bytes.
	PayloadSize int

	// UniquePayloads gives every client a distinct probe, so a server that
	// mixes up connections is caught.
	UniquePayloads bool

	// Timeout bounds each client's connect and exchange.
	Timeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Clients == 0 {
		o.Clients = 1000
	}
	if o.Rounds == 0 {
		o.Rounds = 10
	}
	if o.PayloadSize == 0 {
		o.PayloadSize = 16
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
}

func (o *Options) validate() error {
	if o.Address == "" {
		return errors.New("bench: address is required")
	}
	if o.Clients < 0 || o.Rounds < 0 || o.PayloadSize < 0 {
		return fmt.Errorf("bench: clients, rounds and payload size must be positive")
	}
	if o.UniquePayloads && len(strconv.Itoa(o.Clients-1)) > o.PayloadSize {
		return fmt.Errorf("bench: payload size %d too small for %d unique payloads", o.PayloadSize, o.Clients)
	}
	return nil
}

// Result aggregates a benchmark run.
type Result struct {
	Clients int
	Rounds  int

	// SlotAverages[i] is the mean latency of the i-th client to finish,
	// over the rounds in which that slot completed successfully.
	SlotAverages []time.Duration

	// Successes and Failures count individual exchanges.
	Successes int
	Failures  int

	Min, Max, Mean time.Duration
	P50, P99       time.Duration

	Elapsed time.Duration
}

// WriteTo writes one "<slot> <avg_us>" line per slot.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for slot, avg := range r.SlotAverages {
		n, err := fmt.Fprintf(w, "%d %d\n", slot, avg.Microseconds())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Summary returns a one-line human readable digest.
func (r *Result) Summary() string {
	return fmt.Sprintf("clients=%d rounds=%d ok=%d failed=%d min=%v mean=%v p50=%v p99=%v max=%v elapsed=%v",
		r.Clients, r.Rounds, r.Successes, r.Failures,
		r.Min, r.Mean, r.P50, r.P99, r.Max, r.Elapsed.Round(time.Millisecond))
}

// Run executes the benchmark. It returns an error if ctx is cancelled or
// if not a single exchange succeeded.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	payloads := makePayloads(opts)
	slotSums := make([]time.Duration, opts.Clients)
	slotCounts := make([]int, opts.Clients)
	var all []time.Duration
	var failures int
	var firstErr error

	start := time.Now()
	for round := 0; round < opts.Rounds; round++ {
		latencies, errs, err := runRound(ctx, opts, payloads)
		if err != nil {
			return nil, err
		}

		for slot, d := range latencies {
			slotSums[slot] += d
			slotCounts[slot]++
		}
		all = append(all, latencies...)
		failures += len(errs)
		if firstErr == nil && len(errs) > 0 {
			firstErr = errs[0]
		}

		logger.Debug("Bench round %d/%d: %d ok, %d failed", round+1, opts.Rounds, len(latencies), len(errs))
	}

	result := &Result{
		Clients:   opts.Clients,
		Rounds:    opts.Rounds,
		Successes: len(all),
		Failures:  failures,
		Elapsed:   time.Since(start),
	}

	for slot := range slotSums {
		if slotCounts[slot] == 0 {
			break
		}
		result.SlotAverages = append(result.SlotAverages, slotSums[slot]/time.Duration(slotCounts[slot]))
	}

	if len(all) == 0 {
		return result, fmt.Errorf("bench: no successful exchange: %w", firstErr)
	}
	summarize(result, all)

	if failures > 0 {
		logger.Warn("Bench: %d of %d exchanges failed (first error: %v)", failures, failures+len(all), firstErr)
	}
	return result, nil
}

// runRound runs one round and returns successful latencies in completion
// order plus the per-client errors.
func runRound(ctx context.Context, opts Options, payloads [][]byte) ([]time.Duration, []error, error) {
	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.Clients)
		errs      []error
		ready     sync.WaitGroup
		gate      = make(chan struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	ready.Add(opts.Clients)

	for i := 0; i < opts.Clients; i++ {
		payload := payloads[i]
		g.Go(func() error {
			ready.Done()
			select {
			case <-gate:
			case <-gctx.Done():
				return gctx.Err()
			}

			d, err := exchange(gctx, opts.Address, payload, opts.Timeout)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			latencies = append(latencies, d)
			return nil
		})
	}

	// Release every client at once.
	ready.Wait()
	close(gate)

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return latencies, errs, nil
}

// exchange connects, sends payload and waits for the full echo. The
// latency covers send and receive only.
func exchange(ctx context.Context, addr string, payload []byte, timeout time.Duration) (time.Duration, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	got := make([]byte, len(payload))
	start := time.Now()

	if _, err := conn.Write(payload); err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}
	if _, err := io.ReadFull(conn, got); err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}
	elapsed := time.Since(start)

	if !bytes.Equal(got, payload) {
		return 0, fmt.Errorf("%w: sent %q, got %q", ErrMismatch, payload, got)
	}
	return elapsed, nil
}

// makePayloads builds one probe per client. Unique probes end with the
// client index, left-padded with dots.
func makePayloads(opts Options) [][]byte {
	payloads := make([][]byte, opts.Clients)

	if !opts.UniquePayloads {
		shared := make([]byte, opts.PayloadSize)
		for i := range shared {
			shared[i] = defaultMessage[i%len(defaultMessage)]
		}
		for i := range payloads {
			payloads[i] = shared
		}
		return payloads
	}

	for i := range payloads {
		p := bytes.Repeat([]byte{'.'}, opts.PayloadSize)
		id := strconv.Itoa(i)
		copy(p[len(p)-len(id):], id)
		payloads[i] = p
	}
	return payloads
}

func summarize(r *Result, all []time.Duration) {
	sorted := make([]time.Duration, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	r.Min = sorted[0]
	r.Max = sorted[len(sorted)-1]
	r.Mean = sum / time.Duration(len(sorted))
	r.P50 = percentile(sorted, 50)
	r.P99 = percentile(sorted, 99)
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
