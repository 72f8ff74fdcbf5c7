//go:build !linux

package affinity

import "runtime"

func pinPlatform(cpu int) (func(), error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, ErrUnsupported
}

func onlineCPUsPlatform() []int {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}
