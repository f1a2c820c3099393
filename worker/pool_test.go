package worker

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(3)

	var running, peak int64
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		pool.Submit(func() {
			n := atomic.AddInt64(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			atomic.AddInt64(&running, -1)
		})
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, int64(3))
}

func TestPoolWaitDrains(t *testing.T) {
	pool := NewPool(2)
	var done int64
	for i := 0; i < 20; i++ {
		pool.Submit(func() { atomic.AddInt64(&done, 1) })
	}
	pool.Wait()
	assert.Equal(t, int64(20), atomic.LoadInt64(&done))
}
