// Package mock drives a hub with synthetic quiz and guess traffic for demos
// and local development.
package mock

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/sirupsen/logrus"
)

const defaultInterval = 500 * time.Millisecond

// Sink accepts domain events. *ws.Hub implements it.
type Sink interface {
	HandleDomainEvent(ctx context.Context, eventType string, raw json.RawMessage) error
}

type mockPlayer struct {
	id          string
	name        string
	personality string
	pattern     string
	accuracy    float64 // chance a guess names the friend's real type
	guesses     int
}

type Options struct {
	Interval time.Duration
	Seed     int64
	Logger   *logrus.Logger
}

type Generator struct {
	sink     Sink
	interval time.Duration
	logger   *logrus.Logger
	rng      *rand.Rand
	players  []*mockPlayer
}

func NewGenerator(sink Sink, opts Options) *Generator {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	return &Generator{
		sink:     sink,
		interval: opts.Interval,
		logger:   opts.Logger,
		rng:      rand.New(rand.NewSource(opts.Seed)),
	}
}

// Start seats the mock players, reports a quiz for each of them before
// returning, then keeps generating guesses until ctx is done.
func (g *Generator) Start(ctx context.Context) {
	g.players = []*mockPlayer{
		{id: "mock-ann", name: "Ann", pattern: "steady", accuracy: 0.8},
		{id: "mock-ben", name: "Ben", pattern: "burst", accuracy: 0.5},
		{id: "mock-cleo", name: "Cleo", pattern: "stall", accuracy: 0.65},
		{id: "mock-dev", name: "Dev", pattern: "retake", accuracy: 0.35},
		{id: "mock-eli", name: "Eli", pattern: "steady", accuracy: 0.9},
	}
	for _, p := range g.players {
		p.personality = g.randomType()
		g.emitQuiz(ctx, p)
	}
	g.logger.WithField("count", len(g.players)).Info("Mock players seated")

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.advance(ctx, tick)
		}
	}
}

func (g *Generator) advance(ctx context.Context, tick int) {
	for _, p := range g.players {
		switch p.pattern {
		case "steady":
			if tick%3 == 0 {
				g.emitGuess(ctx, p)
			}
		case "burst":
			// three guesses a tick for three ticks out of eight
			if tick%8 < 3 {
				for i := 0; i < 3; i++ {
					g.emitGuess(ctx, p)
				}
			}
		case "stall":
			if tick%20 < 10 {
				g.emitGuess(ctx, p)
			}
		case "retake":
			if tick%15 == 0 {
				p.personality = g.randomType()
				g.emitQuiz(ctx, p)
			} else if tick%2 == 0 {
				g.emitGuess(ctx, p)
			}
		}
	}
}

func (g *Generator) emitQuiz(ctx context.Context, p *mockPlayer) {
	g.emit(ctx, "quiz_taken", map[string]any{
		"personalityType": p.personality,
		"userId":          p.id,
		"userName":        p.name,
	})
}

func (g *Generator) emitGuess(ctx context.Context, p *mockPlayer) {
	friend := g.friendOf(p)
	guessed := friend.personality
	if g.rng.Float64() >= p.accuracy {
		guessed = g.otherType(friend.personality)
	}
	p.guesses++
	g.emit(ctx, "guess_made", map[string]any{
		"challengeId": uuid.NewString(),
		"userId":      p.id,
		"userName":    p.name,
		"guessed":     guessed,
		"actual":      friend.personality,
	})
}

func (g *Generator) emit(ctx context.Context, eventType string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		g.logger.WithError(err).Error("Mock payload encode failed")
		return
	}
	if err := g.sink.HandleDomainEvent(ctx, eventType, raw); err != nil {
		g.logger.WithError(err).WithField("type", eventType).Warn("Mock event rejected")
	}
}

func (g *Generator) friendOf(p *mockPlayer) *mockPlayer {
	for {
		f := g.players[g.rng.Intn(len(g.players))]
		if f != p || len(g.players) == 1 {
			return f
		}
	}
}

func (g *Generator) randomType() string {
	return analytics.PersonalityTypes[g.rng.Intn(len(analytics.PersonalityTypes))]
}

func (g *Generator) otherType(not string) string {
	for {
		t := g.randomType()
		if t != not {
			return t
		}
	}
}
