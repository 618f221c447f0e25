package client

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/sirupsen/logrus"
)

const defaultFeedCapacity = 50

// Transport is the part of Session the feed drives.
type Transport interface {
	State() State
	Subscribe() bool
	Unsubscribe() bool
	RequestAnalytics(timeRange string) bool
	Messages() <-chan Message
	Watch() (<-chan State, func())
}

// Entry is one line of the live event log.
type Entry struct {
	Kind      MessageType // real_time_event or analytics_update
	EventType MessageType // quiz_taken or guess_made for relayed events
	UserID    string
	Data      json.RawMessage
	Timestamp time.Time
}

type FeedOptions struct {
	Capacity  int
	TimeRange string
	// Live starts the feed in live mode, so the first connect joins the
	// analytics room.
	Live   bool
	Logger *logrus.Logger
}

// Feed combines a transport session with a bounded, newest-first log of the
// domain and analytics events it receives.
type Feed struct {
	t         Transport
	capacity  int
	timeRange string
	logger    *logrus.Logger

	mu        sync.Mutex
	live      bool
	state     State
	events    []Entry
	analytics *analytics.Payload
	updates   []time.Time // analytics_update arrivals within the last minute
	lastDelay time.Duration

	changed chan struct{}
}

func NewFeed(t Transport, opts FeedOptions) *Feed {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultFeedCapacity
	}
	if opts.TimeRange == "" {
		opts.TimeRange = string(analytics.DefaultTimeRange)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	return &Feed{
		t:         t,
		capacity:  opts.Capacity,
		timeRange: opts.TimeRange,
		logger:    opts.Logger,
		live:      opts.Live,
		state:     t.State(),
		changed:   make(chan struct{}, 1),
	}
}

// Run consumes the transport until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	states, stop := f.t.Watch()
	defer stop()
	msgs := f.t.Messages()

	f.mu.Lock()
	join := f.live && f.state.Connected
	f.mu.Unlock()
	if join {
		f.t.Subscribe()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			f.onState(st)
		case m := <-msgs:
			f.handle(m)
		}
	}
}

// onState rejoins the room after a reconnect while live.
func (f *Feed) onState(st State) {
	f.mu.Lock()
	rejoin := f.live && st.Connected && !f.state.Connected
	f.state = st
	f.mu.Unlock()
	if rejoin {
		f.t.Subscribe()
	}
	f.signal()
}

func (f *Feed) handle(m Message) {
	switch m.Type {
	case MsgRealTimeEvent:
		var ev RealTimeEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			f.logger.WithError(err).Debug("Malformed real_time_event")
			return
		}
		f.push(Entry{
			Kind:      MsgRealTimeEvent,
			EventType: ev.Type,
			UserID:    ev.UserID,
			Data:      ev.Data,
			Timestamp: ev.Timestamp,
		})
	case MsgAnalyticsUpdate:
		var upd AnalyticsUpdate
		if err := json.Unmarshal(m.Payload, &upd); err != nil {
			f.logger.WithError(err).Debug("Malformed analytics_update")
			return
		}
		f.mu.Lock()
		f.analytics = &upd.Data
		f.updates = append(f.updates, m.Received)
		if !upd.Timestamp.IsZero() {
			f.lastDelay = max(m.Received.Sub(upd.Timestamp), 0)
		}
		f.mu.Unlock()
		f.push(Entry{Kind: MsgAnalyticsUpdate, Data: m.Payload, Timestamp: upd.Timestamp})
	default:
		return
	}
}

func (f *Feed) push(e Entry) {
	f.mu.Lock()
	f.events = append([]Entry{e}, f.events...)
	if len(f.events) > f.capacity {
		f.events = f.events[:f.capacity]
	}
	f.mu.Unlock()
	f.signal()
}

func (f *Feed) signal() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

// Changed fires after the log, the analytics or the connection state
// changes. Bursts collapse into one signal.
func (f *Feed) Changed() <-chan struct{} {
	return f.changed
}

// ToggleLive flips live mode. Turning it on subscribes when connected;
// turning it off unsubscribes.
func (f *Feed) ToggleLive() bool {
	f.mu.Lock()
	f.live = !f.live
	live := f.live
	f.mu.Unlock()

	if live {
		if f.t.State().Connected {
			f.t.Subscribe()
		}
	} else {
		f.t.Unsubscribe()
	}
	f.logger.WithField("live", live).Info("Live mode toggled")
	f.signal()
	return live
}

func (f *Feed) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// RefreshData asks the hub for an out-of-band snapshot if connected.
func (f *Feed) RefreshData() bool {
	if !f.t.State().Connected {
		return false
	}
	return f.t.RequestAnalytics(f.timeRange)
}

// ClearEvents empties the log. Connection and live state are untouched.
func (f *Feed) ClearEvents() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
	f.signal()
}

// Events returns a copy of the log, newest first.
func (f *Feed) Events() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Entry(nil), f.events...)
}

// Analytics returns the latest analytics payload, or nil before the first.
func (f *Feed) Analytics() *analytics.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analytics
}

func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Sample fills the analytics group of a client-side health snapshot from
// the updates the feed has seen.
func (f *Feed) Sample(s *health.Snapshot) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(f.updates) && f.updates[i].Before(cutoff) {
		i++
	}
	f.updates = f.updates[i:]

	s.Analytics.UpdateFrequency = float64(len(f.updates))
	s.Analytics.ProcessingDelayMs = float64(f.lastDelay.Microseconds()) / 1000
	if n := len(f.updates); n > 0 {
		s.Analytics.DataFreshness = now.Sub(f.updates[n-1]).Seconds()
	}
}
