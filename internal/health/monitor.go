// Package health implements the process-local health monitor: it samples
// connection, client, server and analytics metrics on a fixed tick, checks
// them against a threshold table and keeps a deduplicated alert list.
//
// A Monitor is constructed and owned by whoever composes the process. It has
// an explicit Start/Stop lifecycle and no package-level instance.
package health

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/quizpulse/quizpulse/internal/config"
	"github.com/quizpulse/quizpulse/internal/ingress"
	"github.com/quizpulse/quizpulse/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	metricsSubBuffer = 1
	alertsSubBuffer  = 16
)

// Source contributes to the server and analytics groups of each tick.
// Sample is called without the monitor lock held and must not call back
// into the Monitor.
type Source interface {
	Sample(*Snapshot)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(*Snapshot)

func (f SourceFunc) Sample(s *Snapshot) { f(s) }

type Options struct {
	TickInterval       time.Duration
	LatencyWindow      int
	WarningAutoResolve time.Duration
	AlertRetention     int
	QueueCapacity      int
	QueueWorkers       int
	Thresholds         config.Thresholds

	// MemoryProbe reports resident memory in MB. Errors degrade to 0.
	MemoryProbe func() (float64, error)
	// QueueHandler runs for every event accepted by EnqueueEvent.
	QueueHandler ingress.Handler
	Logger       *logrus.Logger
}

// OptionsFromConfig maps the monitor section of the config.
func OptionsFromConfig(cfg config.MonitorConfig, logger *logrus.Logger) Options {
	return Options{
		TickInterval:       cfg.TickInterval,
		LatencyWindow:      cfg.LatencyWindow,
		WarningAutoResolve: cfg.WarningAutoResolve,
		AlertRetention:     cfg.AlertRetention,
		QueueCapacity:      cfg.QueueCapacity,
		QueueWorkers:       cfg.QueueWorkers,
		Thresholds:         cfg.Thresholds,
		Logger:             logger,
	}
}

func (o *Options) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.LatencyWindow <= 0 {
		o.LatencyWindow = 10
	}
	if o.WarningAutoResolve <= 0 {
		o.WarningAutoResolve = 30 * time.Second
	}
	if o.Thresholds == (config.Thresholds{}) {
		o.Thresholds = config.DefaultThresholds()
	}
	if o.MemoryProbe == nil {
		o.MemoryProbe = ProcessMemoryMB
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
}

type Monitor struct {
	opts   Options
	logger *logrus.Logger
	queue  *ingress.Queue

	mu        sync.Mutex
	snap      Snapshot
	startTime time.Time
	lastTick  time.Time
	latencies []float64 // oldest first, at most LatencyWindow entries
	outcomes  []bool    // ping outcomes, same window
	frames    int
	bytes     int64
	render    time.Duration
	sources   []Source
	alerts    alertLog
	timers    map[string]*time.Timer
	halted    bool // set by Stop; no auto-resolve timers after it

	subMu      sync.Mutex
	subsClosed bool
	nextSub    int
	metricSubs map[int]chan Snapshot
	alertSubs  map[int]chan Alert

	lifeMu  sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Monitor with zeroed metrics. Call Start to begin ticking.
func New(opts Options) *Monitor {
	opts.applyDefaults()
	now := time.Now()
	m := &Monitor{
		opts:       opts,
		logger:     opts.Logger,
		snap:       newSnapshot(),
		startTime:  now,
		lastTick:   now,
		alerts:     alertLog{retention: opts.AlertRetention},
		timers:     make(map[string]*time.Timer),
		metricSubs: make(map[int]chan Snapshot),
		alertSubs:  make(map[int]chan Alert),
	}
	m.queue = ingress.New(opts.QueueCapacity, opts.QueueWorkers, opts.QueueHandler, opts.Logger)
	return m
}

// Start launches the tick loop and the ingress workers. It returns
// immediately; the loop runs until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.running || m.stopped {
		return
	}
	m.running = true

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.queue.Start(ctx)

	// Rates are measured from Start, not from New.
	m.mu.Lock()
	m.lastTick = time.Now()
	m.frames = 0
	m.bytes = 0
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.WithField("tick_interval", m.opts.TickInterval).Info("Health monitor started")
}

// Stop ends the tick loop, cancels pending auto-resolve timers, stops the
// ingress queue and closes every subscription channel.
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.queue.Stop()

	m.mu.Lock()
	m.halted = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.subMu.Lock()
	m.subsClosed = true
	for id, ch := range m.metricSubs {
		close(ch)
		delete(m.metricSubs, id)
	}
	for id, ch := range m.alertSubs {
		close(ch)
		delete(m.alertSubs, id)
	}
	m.subMu.Unlock()

	m.logger.Info("Health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick recomputes derived metrics, evaluates thresholds, then notifies alert
// and metric subscribers in that order.
func (m *Monitor) tick() {
	memMB, err := m.opts.MemoryProbe()
	if err != nil {
		memMB = 0
	}

	var sampled Snapshot
	m.mu.Lock()
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()
	for _, s := range sources {
		s.Sample(&sampled)
	}

	qs := m.queue.Stats()
	now := time.Now()

	m.mu.Lock()
	elapsed := now.Sub(m.lastTick).Seconds()
	m.lastTick = now

	c := &m.snap.Connection
	c.UptimeSeconds = int64(now.Sub(m.startTime).Seconds())
	avg := mean(m.latencies)
	c.LatencyMs = math.Round(avg)
	c.Quality = ClassifyLatency(avg)
	c.PacketLoss = lossPercent(m.outcomes)
	if elapsed > 0 {
		c.BandwidthKBps = roundTo(float64(m.bytes)/1024/elapsed, 2)
	}
	m.bytes = 0

	cl := &m.snap.Client
	cl.MemoryMB = memMB
	cl.QueueSize = qs.Depth
	cl.DroppedEvents = qs.Dropped
	cl.EventProcessingMs = roundTo(float64(qs.LastProcessing)/float64(time.Millisecond), 3)
	cl.RenderTimeMs = roundTo(float64(m.render)/float64(time.Millisecond), 3)
	if elapsed > 0 {
		cl.FPS = math.Round(float64(m.frames) / elapsed)
	}
	m.frames = 0

	m.snap.Server = sampled.Server
	m.snap.Analytics = sampled.Analytics
	m.snap.Timestamp = now

	var created []Alert
	for _, b := range evaluate(&m.snap, m.opts.Thresholds) {
		if a, ok := m.createLocked(b.severity, b.category, b.message, b.details, now); ok {
			created = append(created, a)
		}
	}
	snap := m.snap
	open := m.alerts.open()
	m.mu.Unlock()

	metrics.ConnectionLatency.Set(snap.Connection.LatencyMs)
	metrics.AlertsActive.Set(float64(open))

	for _, a := range created {
		m.publishAlert(a)
	}
	m.publishMetrics(snap)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func lossPercent(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	lost := 0
	for _, ok := range outcomes {
		if !ok {
			lost++
		}
	}
	return roundTo(float64(lost)*100/float64(len(outcomes)), 1)
}

// createLocked applies the dedup rule and schedules warning auto-resolve.
// Caller must hold m.mu.
func (m *Monitor) createLocked(sev Severity, category Category, message string, details map[string]any, now time.Time) (Alert, bool) {
	a, ok := m.alerts.add(sev, category, message, details, now)
	if !ok {
		return Alert{}, false
	}

	if sev == SeverityWarning && !m.halted {
		id := a.ID
		m.timers[id] = time.AfterFunc(m.opts.WarningAutoResolve, func() {
			m.ResolveAlert(id)
		})
	}

	metrics.AlertsTotal.WithLabelValues(string(sev), string(category)).Inc()
	entry := m.logger.WithFields(logrus.Fields{
		"alert_id": a.ID,
		"severity": sev,
		"category": category,
		"details":  details,
	})
	if sev == SeverityWarning {
		entry.Warn(message)
	} else {
		entry.Error(message)
	}
	return *a, true
}

// Raise creates an alert outside the threshold pass, subject to the same
// deduplication rule. It reports whether a new alert was created.
func (m *Monitor) Raise(sev Severity, category Category, message string, details map[string]any) (Alert, bool) {
	m.mu.Lock()
	a, ok := m.createLocked(sev, category, message, details, time.Now())
	m.mu.Unlock()
	if ok {
		m.publishAlert(a)
	}
	return a, ok
}

// AddSource registers a contributor for the server and analytics groups.
func (m *Monitor) AddSource(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
}

// Snapshot returns a copy of the current metrics.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RecordLatency appends a heartbeat round trip. The average and quality are
// recomputed on the next tick.
func (m *Monitor) RecordLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = pushWindow(m.latencies, ms, m.opts.LatencyWindow)
	m.outcomes = pushWindow(m.outcomes, true, m.opts.LatencyWindow)
}

// RecordPingLost counts a heartbeat that never got its pong.
func (m *Monitor) RecordPingLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = pushWindow(m.outcomes, false, m.opts.LatencyWindow)
}

func pushWindow[T any](xs []T, x T, size int) []T {
	xs = append(xs, x)
	if len(xs) > size {
		xs = append(xs[:0], xs[len(xs)-size:]...)
	}
	return xs
}

// RecordReconnect bumps the reconnect counter immediately.
func (m *Monitor) RecordReconnect() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Connection.ReconnectCount++
	m.snap.Connection.LastReconnect = &now
}

// RecordBytes adds received transport bytes to the bandwidth counter.
func (m *Monitor) RecordBytes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += int64(n)
}

// RecordFrame counts one rendered frame for the fps figure.
func (m *Monitor) RecordFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
}

// RecordRender stores the duration of the latest render.
func (m *Monitor) RecordRender(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.render = d
}

// EnqueueEvent offers an event to the ingress queue. It returns false when
// the queue is full; the drop is counted and shows up on the next tick.
func (m *Monitor) EnqueueEvent(ev ingress.Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return m.queue.Push(ev)
}

// QueueStats exposes the ingress counters without waiting for a tick.
func (m *Monitor) QueueStats() ingress.Stats {
	return m.queue.Stats()
}

// Alerts returns a copy of the retained alerts, newest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.copyAll()
}

// ResolveAlert marks an alert resolved. Unknown or already resolved ids are
// ignored.
func (m *Monitor) ResolveAlert(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	if m.alerts.resolve(id, time.Now()) {
		m.logger.WithField("alert_id", id).Info("Alert resolved")
	}
}

// ClearResolvedAlerts removes every resolved alert from the retained list.
func (m *Monitor) ClearResolvedAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.alerts.clearResolved(); n > 0 {
		m.logger.WithField("count", n).Debug("Cleared resolved alerts")
	}
}

// SubscribeMetrics returns a channel that receives the snapshot after every
// tick. The channel holds only the latest snapshot; a slow reader skips
// ticks rather than stalling the monitor. The returned func detaches and
// closes the channel.
func (m *Monitor) SubscribeMetrics() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, metricsSubBuffer)
	id, ok := m.register(func(id int) { m.metricSubs[id] = ch })
	if !ok {
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			if _, ok := m.metricSubs[id]; ok {
				delete(m.metricSubs, id)
				close(ch)
			}
		})
	}
}

// SubscribeAlerts returns a channel that receives every newly created alert.
// Alerts are dropped for a subscriber whose buffer is full.
func (m *Monitor) SubscribeAlerts() (<-chan Alert, func()) {
	ch := make(chan Alert, alertsSubBuffer)
	id, ok := m.register(func(id int) { m.alertSubs[id] = ch })
	if !ok {
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			if _, ok := m.alertSubs[id]; ok {
				delete(m.alertSubs, id)
				close(ch)
			}
		})
	}
}

// register adds a subscriber unless Stop has already closed the set. The
// check and the add share subMu with Stop's close loop.
func (m *Monitor) register(add func(id int)) (int, bool) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subsClosed {
		return 0, false
	}
	m.nextSub++
	add(m.nextSub)
	return m.nextSub, true
}

func (m *Monitor) publishMetrics(s Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.metricSubs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (m *Monitor) publishAlert(a Alert) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.alertSubs {
		select {
		case ch <- a:
		default:
			m.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"alert_id":   a.ID,
			}).Warn("Alert subscriber too slow, alert dropped")
		}
	}
}
