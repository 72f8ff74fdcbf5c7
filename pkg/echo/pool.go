package echo

import (
	"github.com/marmos91/dittoecho/internal/affinity"
	"github.com/marmos91/dittoecho/internal/logger"
)

// onlineCPUs is a variable so tests can fake the CPU topology.
var onlineCPUs = affinity.OnlineCPUs

// runPoolWorker drains q until it is closed and empty. cpu < 0 means the
// goroutine is not pinned.
func (p *poolDispatcher) runPoolWorker(id, cpu int, q *workQueue) {
	defer p.wg.Done()

	if cpu >= 0 {
		unpin, err := affinity.Pin(cpu)
		if err != nil {
			logger.Warn("Pool worker %d: cannot pin to CPU %d, running unpinned: %v", id, cpu, err)
		} else {
			logger.Debug("Pool worker %d pinned to CPU %d", id, cpu)
		}
		defer unpin()
	}

	for {
		w, ok := q.Pop()
		if !ok {
			logger.Debug("Pool worker %d exiting", id)
			return
		}
		w.Run()
	}
}
