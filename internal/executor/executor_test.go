package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedRoute string

func (n namedRoute) ExecutorName() string { return string(n) }

func TestInlineRunsSynchronously(t *testing.T) {
	ran := false
	Inline{}.Submit(func() { ran = true })
	assert.True(t, ran)
}

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool("test", 4, nil)
	defer p.Stop(time.Second) //nolint:errcheck

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int64(100), count.Load())
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := NewPool("test", 1, nil)
	defer p.Stop(time.Second) //nolint:errcheck

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestPoolStopDrains(t *testing.T) {
	p := NewPool("test", 2, nil)

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		p.Submit(func() { count.Add(1) })
	}
	require.NoError(t, p.Stop(2*time.Second))
	assert.Equal(t, int64(10), count.Load())
}

func TestSelector(t *testing.T) {
	io := NewPool("io", 2, nil)
	defer io.Stop(time.Second) //nolint:errcheck
	s := NewSelector(nil, io)

	t.Run("known pool", func(t *testing.T) {
		exec, ok := s.Select(namedRoute("io"))
		require.True(t, ok)
		assert.Equal(t, io, exec)
	})

	t.Run("no preference", func(t *testing.T) {
		_, ok := s.Select(namedRoute(""))
		assert.False(t, ok)
	})

	t.Run("unknown pool", func(t *testing.T) {
		_, ok := s.Select(namedRoute("batch"))
		assert.False(t, ok)
	})

	t.Run("added pool", func(t *testing.T) {
		batch := NewPool("batch", 1, nil)
		defer batch.Stop(time.Second) //nolint:errcheck
		s.Add(batch)
		exec, ok := s.Select(namedRoute("batch"))
		require.True(t, ok)
		assert.Equal(t, batch, exec)
	})
}
