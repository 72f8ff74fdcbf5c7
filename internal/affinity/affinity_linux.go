//go:build linux

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

func pinPlatform(cpu int) (func(), error) {
	runtime.LockOSThread()

	// pid 0 targets the calling thread, not the whole process.
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return runtime.UnlockOSThread, fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return runtime.UnlockOSThread, fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpu, err)
	}

	return func() {
		if err := unix.SchedSetaffinity(0, &prev); err != nil {
			return
		}
		runtime.UnlockOSThread()
	}, nil
}

func onlineCPUsPlatform() []int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return fallbackCPUs()
	}

	cpus := make([]int, 0, set.Count())
	for i := 0; i < len(set)*64; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus
}

func fallbackCPUs() []int {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}
