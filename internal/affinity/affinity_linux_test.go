//go:build linux

package affinity

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// The outer LockOSThread keeps the goroutine on the same thread across
// Pin and unpin so the thread's mask can be inspected afterwards.
func TestUnpinRestoresThreadMask(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		var before unix.CPUSet
		if err := unix.SchedGetaffinity(0, &before); err != nil {
			done <- err
			return
		}

		cpus := OnlineCPUs()
		cpu := cpus[len(cpus)-1]
		unpin, err := Pin(cpu)
		if err != nil {
			done <- err
			return
		}

		var pinned unix.CPUSet
		if err := unix.SchedGetaffinity(0, &pinned); err != nil {
			unpin()
			done <- err
			return
		}
		if pinned.Count() != 1 || !pinned.IsSet(cpu) {
			unpin()
			done <- fmt.Errorf("thread not pinned to cpu %d: %d cpus set", cpu, pinned.Count())
			return
		}

		unpin()

		var after unix.CPUSet
		if err := unix.SchedGetaffinity(0, &after); err != nil {
			done <- err
			return
		}
		if after != before {
			done <- fmt.Errorf("mask not restored: %d cpus before, %d after", before.Count(), after.Count())
			return
		}
		done <- nil
	}()

	require.NoError(t, <-done)
}
