package processor

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceHealthLifecycle(t *testing.T) {
	h := NewServiceHealth()
	assert.False(t, h.IsReady())
	assert.Equal(t, StateUnavailable, h.State())
	assert.Equal(t, "unhealthy", h.Status())

	assert.True(t, h.MarkReady())
	assert.False(t, h.MarkReady(), "second transition is a no-op")

	assert.True(t, h.IsReady())
	assert.Equal(t, StateReady, h.State())
	assert.Equal(t, "healthy", h.Status())
}

func TestServiceHealthConcurrentMarkReady(t *testing.T) {
	h := NewServiceHealth()
	var transitions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.MarkReady() {
				transitions.Add(1)
			}
			_ = h.IsReady()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transitions.Load())
	assert.True(t, h.IsReady())
}
