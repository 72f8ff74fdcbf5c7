// Package affinity pins goroutines to processor cores.
//
// Pinning is done per OS thread: Pin locks the calling goroutine to its
// current thread and restricts that thread to a single CPU. The returned
// unpin function puts the thread's previous CPU mask back before handing
// the thread to the scheduler again.
package affinity

import "errors"

// ErrUnsupported is returned by Pin on platforms without thread affinity.
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// Pin locks the calling goroutine to its OS thread and binds that thread
// to cpu.
//
// The returned function must be called from the same goroutine once the
// pinned work is done. It restores the thread's CPU mask and unlocks it.
// If the mask cannot be restored the thread stays locked, and the runtime
// destroys it when the goroutine exits.
//
// The goroutine stays locked even if binding fails, so the caller gets
// consistent thread ownership either way. unpin is never nil.
func Pin(cpu int) (unpin func(), err error) {
	if cpu < 0 {
		return func() {}, errors.New("affinity: negative cpu index")
	}
	return pinPlatform(cpu)
}

// OnlineCPUs returns the CPU indices the process is allowed to run on.
func OnlineCPUs() []int {
	cpus := onlineCPUsPlatform()
	if len(cpus) == 0 {
		return []int{0}
	}
	return cpus
}
