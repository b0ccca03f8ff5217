package trader

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEveryTask(t *testing.T) {
	p := NewPool(4, quietLogger())
	defer p.Shutdown()

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(20), atomic.LoadInt32(&ran))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, quietLogger())
	defer p.Shutdown()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := NewPool(1, quietLogger())
	defer p.Shutdown()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from panic")
	}
}

func TestPoolShutdown(t *testing.T) {
	p := NewPool(0, quietLogger())

	var ran int32
	require.NoError(t, p.Submit(func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&ran, 1)
	}))
	p.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)

	// A second shutdown is a no-op.
	p.Shutdown()
}
