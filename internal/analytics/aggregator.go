// Package analytics computes the dashboard analytics payload from stored quiz
// results, guesses and leaderboard entries, and caches it per time range.
package analytics

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/quizpulse/quizpulse/internal/metrics"
	"github.com/quizpulse/quizpulse/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultCacheSize = 8
	defaultCacheTTL  = 30 * time.Second
	frequencyWindow  = time.Minute
)

// DataSource is the read side of the quiz and leaderboard stores.
type DataSource interface {
	ListQuizResults(ctx context.Context, since time.Time) ([]store.QuizResult, error)
	ListGuesses(ctx context.Context, since time.Time) ([]store.Guess, error)
	Leaderboard(ctx context.Context) ([]store.LeaderboardEntry, error)
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Logger    *logrus.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Aggregator builds Payloads. Results are cached per TimeRange until the TTL
// expires or Invalidate is called after a write.
type Aggregator struct {
	src    DataSource
	cache  *expirable.LRU[TimeRange, Payload]
	logger *logrus.Logger
	now    func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	cacheMu sync.Mutex
	gen     uint64 // bumped by Invalidate; a compute caches only if unchanged

	mu           sync.Mutex
	lastQuery    time.Duration
	lastCompute  time.Duration
	lastComputed time.Time
	computes     []time.Time
}

func New(src DataSource, opts Options) *Aggregator {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		src:    src,
		cache:  expirable.NewLRU[TimeRange, Payload](opts.CacheSize, nil, opts.CacheTTL),
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// ComputeSnapshot returns the analytics payload for r. Store failures are
// logged and treated as empty data, so the only error is ErrUnknownTimeRange.
func (a *Aggregator) ComputeSnapshot(ctx context.Context, r TimeRange) (Payload, error) {
	r, err := ParseTimeRange(string(r))
	if err != nil {
		return Payload{}, err
	}

	if p, ok := a.cache.Get(r); ok {
		a.hits.Add(1)
		metrics.AnalyticsCacheTotal.WithLabelValues("hit").Inc()
		return p, nil
	}
	a.misses.Add(1)
	metrics.AnalyticsCacheTotal.WithLabelValues("miss").Inc()

	a.cacheMu.Lock()
	gen := a.gen
	a.cacheMu.Unlock()

	start := time.Now()
	d, queryTime := a.load(ctx, r)
	p := build(r, d)
	elapsed := time.Since(start)

	a.cacheMu.Lock()
	if a.gen == gen {
		a.cache.Add(r, p)
	}
	a.cacheMu.Unlock()
	metrics.AnalyticsComputeDuration.Observe(elapsed.Seconds())

	a.mu.Lock()
	a.lastQuery = queryTime
	a.lastCompute = elapsed
	a.lastComputed = a.now()
	a.computes = append(a.computes, a.lastComputed)
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"time_range":  r,
		"guesses":     len(d.guesses),
		"quizzes":     len(d.quizzes),
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Analytics snapshot computed")
	return p, nil
}

// load reads the current and previous windows. The previous window is only
// fetched for bounded ranges.
func (a *Aggregator) load(ctx context.Context, r TimeRange) (dataset, time.Duration) {
	now := a.now().UTC()
	d := dataset{now: now}

	var cutoff, since time.Time
	if span := r.Duration(); span > 0 {
		cutoff = now.Add(-span)
		since = cutoff.Add(-span)
	}

	start := time.Now()
	quizzes, err := a.src.ListQuizResults(ctx, since)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load quiz results, using empty set")
		quizzes = nil
	}
	guesses, err := a.src.ListGuesses(ctx, since)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load guesses, using empty set")
		guesses = nil
	}
	board, err := a.src.Leaderboard(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load leaderboard, using empty set")
		board = nil
	}
	queryTime := time.Since(start)

	d.quizzes, d.prevQuizzes = splitQuizzes(quizzes, cutoff)
	d.guesses, d.prevGuesses = splitGuesses(guesses, cutoff)
	d.leaderboard = board
	return d, queryTime
}

// Invalidate drops every cached payload. Call it after recording a quiz
// result or a guess. A compute already in flight still returns its result
// but does not cache it.
func (a *Aggregator) Invalidate() {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.gen++
	a.cache.Purge()
}

// Sample fills the analytics group of a server-side health snapshot.
func (a *Aggregator) Sample(s *health.Snapshot) {
	hits, misses := a.hits.Load(), a.misses.Load()
	if total := hits + misses; total > 0 {
		s.Analytics.CacheHitRate = float64(percent(int(hits), int(total)))
	}

	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	cut := 0
	for cut < len(a.computes) && now.Sub(a.computes[cut]) > frequencyWindow {
		cut++
	}
	a.computes = a.computes[cut:]

	s.Analytics.UpdateFrequency = float64(len(a.computes))
	s.Analytics.QueryTimeMs = msFloat(a.lastQuery)
	s.Analytics.ProcessingDelayMs = msFloat(a.lastCompute)
	if !a.lastComputed.IsZero() {
		s.Analytics.DataFreshness = now.Sub(a.lastComputed).Truncate(time.Second).Seconds()
	}
}

func msFloat(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
