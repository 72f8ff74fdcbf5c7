package echo

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Dispatcher turns an accepted connection into a registered, running
// Worker.
//
// On success the dispatcher owns the connection. On failure Dispatch
// returns an error wrapping ErrResourceExhausted, the worker is already
// unregistered, and the caller must close the connection.
type Dispatcher interface {
	// Dispatch registers a worker for conn and starts or queues it.
	Dispatch(conn net.Conn) error

	// Close stops accepting work and waits, bounded by ctx, for every
	// goroutine the dispatcher started to exit.
	Close(ctx context.Context) error

	// Policy returns the strategy this dispatcher implements.
	Policy() DispatchPolicy
}

// spawner creates workers and keeps the registry in step with dispatch
// outcomes. It is shared by every dispatcher implementation.
type spawner struct {
	env *workerEnv
}

// admit creates and registers a worker for conn.
func (s spawner) admit(conn net.Conn) *Worker {
	w := s.env.newWorker(conn)
	s.env.registry.Register(w)
	return w
}

// reject undoes admit after a failed dispatch.
func (s spawner) reject(w *Worker) {
	w.abandon()
}

// newDispatcher builds the dispatcher selected by cfg.Policy.
func newDispatcher(cfg Config, env *workerEnv) (Dispatcher, error) {
	sp := spawner{env: env}

	switch cfg.Policy {
	case PolicyPerConnection:
		return newPerConnDispatcher(sp, cfg.MaxWorkers), nil
	case PolicyPooledAffine, PolicyPooledDistributed:
		return newPoolDispatcher(sp, cfg.Policy, cfg.PoolSize, cfg.QueueDepth, cfg.CPUs), nil
	default:
		return nil, fmt.Errorf("unknown dispatch policy %q", cfg.Policy)
	}
}

// perConnDispatcher starts one goroutine per connection. The number of
// goroutines is unbounded unless maxWorkers is set.
type perConnDispatcher struct {
	spawner

	// sem limits concurrent workers; nil when unbounded.
	sem chan struct{}

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func newPerConnDispatcher(sp spawner, maxWorkers int) *perConnDispatcher {
	d := &perConnDispatcher{spawner: sp}
	if maxWorkers > 0 {
		d.sem = make(chan struct{}, maxWorkers)
	}
	return d
}

func (d *perConnDispatcher) Policy() DispatchPolicy { return PolicyPerConnection }

func (d *perConnDispatcher) Dispatch(conn net.Conn) error {
	// The read lock orders wg.Add before Close's wg.Wait.
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("%w: dispatcher closed", ErrResourceExhausted)
	}

	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
		default:
			return fmt.Errorf("%w: worker limit %d reached", ErrResourceExhausted, cap(d.sem))
		}
	}

	w := d.admit(conn)
	d.wg.Add(1)
	go func() {
		defer func() {
			if d.sem != nil {
				<-d.sem
			}
			d.wg.Done()
		}()
		w.Run()
	}()
	return nil
}

func (d *perConnDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	return waitGroupContext(ctx, &d.wg)
}

// poolDispatcher feeds workers to a fixed set of pool goroutines.
//
// pooled-affine: one queue per pool goroutine, round-robin assignment,
// goroutine i pinned to cpus[i % len(cpus)].
// pooled-distributed: a single shared queue, no pinning.
type poolDispatcher struct {
	spawner

	policy DispatchPolicy
	queues []*workQueue
	next   atomic.Uint64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newPoolDispatcher(sp spawner, policy DispatchPolicy, size, depth int, cpus []int) *poolDispatcher {
	if size <= 0 {
		size = 1
	}
	if depth <= 0 {
		depth = 1
	}

	p := &poolDispatcher{spawner: sp, policy: policy}

	if policy == PolicyPooledAffine {
		if len(cpus) == 0 {
			cpus = onlineCPUs()
		}
		p.queues = make([]*workQueue, size)
		for i := range p.queues {
			p.queues[i] = newWorkQueue(depth)
		}
	} else {
		p.queues = []*workQueue{newWorkQueue(depth)}
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		q := p.queues[i%len(p.queues)]
		cpu := -1
		if policy == PolicyPooledAffine {
			cpu = cpus[i%len(cpus)]
		}
		go p.runPoolWorker(i, cpu, q)
	}
	return p
}

func (p *poolDispatcher) Policy() DispatchPolicy { return p.policy }

func (p *poolDispatcher) Dispatch(conn net.Conn) error {
	w := p.admit(conn)

	idx := 0
	if len(p.queues) > 1 {
		idx = int((p.next.Add(1) - 1) % uint64(len(p.queues)))
	}

	if err := p.queues[idx].Push(w); err != nil {
		p.reject(w)
		return fmt.Errorf("%w: pool queue %d: %v", ErrResourceExhausted, idx, err)
	}
	return nil
}

// QueueLengths returns the number of workers waiting in each queue.
func (p *poolDispatcher) QueueLengths() []int {
	out := make([]int, len(p.queues))
	for i, q := range p.queues {
		out[i] = q.Len()
	}
	return out
}

func (p *poolDispatcher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		for _, q := range p.queues {
			q.Close()
		}
	})
	return waitGroupContext(ctx, &p.wg)
}

func waitGroupContext(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
