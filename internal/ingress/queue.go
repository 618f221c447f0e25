// Package ingress implements the bounded event queue that sits between the
// transport and whatever consumes inbound events. A full queue drops the
// event and counts it; callers never block.
package ingress

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quizpulse/quizpulse/internal/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of in-flight events the queue holds before
// it starts dropping.
const DefaultCapacity = 100

// Event is an opaque tagged payload.
type Event struct {
	Type      string
	Data      any
	Timestamp time.Time
}

// Handler processes one event. It runs on a queue worker goroutine.
type Handler func(Event)

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Depth          int
	Dropped        uint64
	Processed      uint64
	LastProcessing time.Duration
}

type entry struct {
	event    Event
	accepted time.Time
}

// Queue is a bounded, multi-producer event queue drained by a fixed pool of
// workers. Depth counts events from acceptance until their handler returns.
type Queue struct {
	capacity int
	workers  int
	handler  Handler
	logger   *logrus.Logger

	items chan entry

	depth          atomic.Int64
	dropped        atomic.Uint64
	processed      atomic.Uint64
	lastProcessing atomic.Int64
	closed         atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue. capacity and workers fall back to sane defaults when
// not positive. handler may be nil, in which case events are only counted.
func New(capacity, workers int, handler Handler, logger *logrus.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Queue{
		capacity: capacity,
		workers:  workers,
		handler:  handler,
		logger:   logger,
		items:    make(chan entry, capacity),
	}
}

// Capacity returns the maximum number of in-flight events.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Push offers an event. It returns false and increments the drop counter if
// the queue is full or stopped.
func (q *Queue) Push(ev Event) bool {
	if q.closed.Load() {
		q.drop(ev)
		return false
	}
	for {
		d := q.depth.Load()
		if d >= int64(q.capacity) {
			q.drop(ev)
			return false
		}
		if q.depth.CompareAndSwap(d, d+1) {
			break
		}
	}

	// depth bounds the number of buffered entries, so this never blocks.
	q.items <- entry{event: ev, accepted: time.Now()}
	metrics.IngressEventsTotal.WithLabelValues("accepted").Inc()
	return true
}

func (q *Queue) drop(ev Event) {
	n := q.dropped.Add(1)
	metrics.IngressEventsTotal.WithLabelValues("dropped").Inc()
	q.logger.WithFields(logrus.Fields{
		"type":    ev.Type,
		"dropped": n,
	}).Debug("Ingress queue full, event dropped")
}

// Start launches the workers. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed.Load() {
		return
	}
	q.started = true

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-q.items:
			q.process(e)
		}
	}
}

func (q *Queue) process(e entry) {
	defer q.depth.Add(-1)
	if q.handler != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.WithFields(logrus.Fields{
						"type":  e.event.Type,
						"panic": r,
					}).Error("Ingress handler panicked")
				}
			}()
			q.handler(e.event)
		}()
	}
	elapsed := time.Since(e.accepted)
	q.lastProcessing.Store(int64(elapsed))
	q.processed.Add(1)
	metrics.IngressProcessingDuration.Observe(elapsed.Seconds())
}

// Stop halts the workers and discards anything still buffered. Pushes after
// Stop are counted as drops.
func (q *Queue) Stop() {
	q.closed.Store(true)

	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	for {
		select {
		case <-q.items:
			q.depth.Add(-1)
		default:
			return
		}
	}
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:          int(q.depth.Load()),
		Dropped:        q.dropped.Load(),
		Processed:      q.processed.Load(),
		LastProcessing: time.Duration(q.lastProcessing.Load()),
	}
}
