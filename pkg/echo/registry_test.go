package echo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorker(id string) *Worker {
	return &Worker{id: id, done: make(chan struct{})}
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	a, b := testWorker("a"), testWorker("b")

	r.Register(a)
	r.Register(b)
	r.Register(a)
	assert.Equal(t, 2, r.Len())
	assert.True(t, r.Contains(a))

	assert.True(t, r.Unregister(a))
	assert.False(t, r.Unregister(a), "second unregister is a no-op")
	assert.False(t, r.Contains(a))
	assert.Equal(t, 1, r.Len())

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, b, snap[0])
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister(testWorker("ghost")))
	assert.Equal(t, 0, r.Len())
	assert.NoError(t, r.Wait(context.Background()))
}

func TestRegistrySnapshotIsStable(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 10; i++ {
		r.Register(testWorker(fmt.Sprintf("w%d", i)))
	}

	snap := r.Snapshot()
	for _, w := range snap {
		r.Unregister(w)
	}
	assert.Len(t, snap, 10)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryWait(t *testing.T) {
	r := NewRegistry()
	w := testWorker("w")
	r.Register(w)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Unregister(w)
	}()
	assert.NoError(t, r.Wait(context.Background()))

	// Refilling after empty must block again.
	r.Register(testWorker("x"))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	assert.Error(t, r.Wait(ctx2))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				w := testWorker(fmt.Sprintf("%d-%d", g, i))
				r.Register(w)
				_ = r.Snapshot()
				require.True(t, r.Unregister(w))
			}
		}(g)
	}

	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestRegistryOnChangeSeesEverySizeInOrder(t *testing.T) {
	r := NewRegistry()

	var sizes []int
	r.OnChange(func(active int) { sizes = append(sizes, active) })

	a, b := testWorker("a"), testWorker("b")
	r.Register(a)
	r.Register(b)
	r.Register(a)
	r.Unregister(a)
	r.Unregister(a)
	r.Unregister(b)

	assert.Equal(t, []int{1, 2, 1, 0}, sizes, "no-op calls do not notify")
}

func TestRegistryOnChangeEndsAtFinalSize(t *testing.T) {
	r := NewRegistry()

	var last atomic.Int64
	last.Store(-1)
	r.OnChange(func(active int) { last.Store(int64(active)) })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w := testWorker(fmt.Sprintf("%d-%d", g, i))
				r.Register(w)
				r.Unregister(w)
			}
		}(g)
	}
	wg.Wait()

	assert.EqualValues(t, 0, last.Load())
	assert.Equal(t, 0, r.Len())
}
