package echo

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

var (
	errQueueFull   = errors.New("queue full")
	errQueueClosed = errors.New("queue closed")
)

// workQueue is a bounded FIFO of workers waiting for a pool goroutine.
// Pop blocks while the queue is empty and open. After Close, Pop keeps
// returning queued workers until the queue is empty, so every queued
// worker still runs its exit path.
type workQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    *queue.Queue
	capacity int
	closed   bool
}

func newWorkQueue(capacity int) *workQueue {
	q := &workQueue{
		items:    queue.New(),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) Push(w *Worker) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errQueueClosed
	}
	if q.items.Length() >= q.capacity {
		return errQueueFull
	}
	q.items.Add(w)
	q.cond.Signal()
	return nil
}

func (q *workQueue) Pop() (*Worker, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.items.Length() == 0 {
		return nil, false
	}
	return q.items.Remove().(*Worker), true
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *workQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
