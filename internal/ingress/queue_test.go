package ingress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPush_OverflowDropsExactlyOne(t *testing.T) {
	q := New(100, 1, nil, nil)
	defer q.Stop()

	accepted := 0
	for i := 0; i < 101; i++ {
		if q.Push(Event{Type: "quiz_taken", Timestamp: time.Now()}) {
			accepted++
		}
		assert.LessOrEqual(t, q.Stats().Depth, 100, "depth exceeded capacity at push %d", i)
	}

	stats := q.Stats()
	assert.Equal(t, 100, accepted)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 100, stats.Depth)
}

func TestPush_DrainsAfterStart(t *testing.T) {
	var handled atomic.Int64
	q := New(10, 2, func(Event) { handled.Add(1) }, nil)
	defer q.Stop()

	for i := 0; i < 10; i++ {
		require.True(t, q.Push(Event{Type: fmt.Sprintf("e%d", i)}))
	}
	q.Start(context.Background())

	require.Eventually(t, func() bool {
		return q.Stats().Depth == 0
	}, 2*time.Second, 5*time.Millisecond)

	stats := q.Stats()
	assert.Equal(t, int64(10), handled.Load())
	assert.Equal(t, uint64(10), stats.Processed)
	assert.Equal(t, uint64(0), stats.Dropped)
}

func TestPush_ConcurrentProducersRespectCapacity(t *testing.T) {
	release := make(chan struct{})
	q := New(20, 1, func(Event) { <-release }, nil)
	q.Start(context.Background())

	var wg sync.WaitGroup
	var accepted atomic.Int64
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if q.Push(Event{Type: "guess_made"}) {
					accepted.Add(1)
				}
				if d := q.Stats().Depth; d > 20 {
					t.Errorf("depth %d exceeded capacity", d)
				}
			}
		}()
	}
	wg.Wait()

	stats := q.Stats()
	assert.Equal(t, int64(400), accepted.Load()+int64(stats.Dropped))
	assert.LessOrEqual(t, accepted.Load(), int64(20))

	close(release)
	require.Eventually(t, func() bool {
		return q.Stats().Depth == 0
	}, 2*time.Second, 5*time.Millisecond)
	q.Stop()
}

func TestPush_RecordsProcessingDuration(t *testing.T) {
	q := New(5, 1, func(Event) { time.Sleep(5 * time.Millisecond) }, nil)
	defer q.Stop()
	q.Start(context.Background())

	require.True(t, q.Push(Event{Type: "ping"}))
	require.Eventually(t, func() bool {
		return q.Stats().Processed == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, q.Stats().LastProcessing, 5*time.Millisecond)
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	var handled atomic.Int64
	q := New(5, 1, func(ev Event) {
		if ev.Type == "boom" {
			panic("boom")
		}
		handled.Add(1)
	}, nil)
	defer q.Stop()
	q.Start(context.Background())

	require.True(t, q.Push(Event{Type: "boom"}))
	require.True(t, q.Push(Event{Type: "ok"}))

	require.Eventually(t, func() bool {
		return handled.Load() == 1 && q.Stats().Depth == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStop_DiscardsBufferedAndRejectsNewEvents(t *testing.T) {
	q := New(10, 1, nil, nil)
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(Event{Type: "quiz_taken"}))
	}

	q.Stop()
	assert.Equal(t, 0, q.Stats().Depth)

	assert.False(t, q.Push(Event{Type: "quiz_taken"}))
	assert.Equal(t, uint64(1), q.Stats().Dropped)

	// Start after Stop must not spawn workers.
	q.Start(context.Background())
	q.Stop()
}

func TestNew_Defaults(t *testing.T) {
	q := New(0, 0, nil, nil)
	defer q.Stop()
	assert.Equal(t, DefaultCapacity, q.Capacity())
	assert.Equal(t, 1, q.workers)
}
