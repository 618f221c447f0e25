package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	Type string
	Data map[string]string
}

type fakeSink struct {
	mu     sync.Mutex
	events []event
	err    error
}

func (s *fakeSink) HandleDomainEvent(_ context.Context, eventType string, raw json.RawMessage) error {
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{Type: eventType, Data: data})
	return s.err
}

func (s *fakeSink) take() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func count(events []event, typ string) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestGenerator_StartSeatsPlayers(t *testing.T) {
	sink := &fakeSink{}
	gen := NewGenerator(sink, Options{Interval: time.Hour, Seed: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)

	// Start reports the quizzes synchronously.
	events := sink.take()
	require.Len(t, events, len(gen.players))
	for i, e := range events {
		assert.Equal(t, "quiz_taken", e.Type)
		assert.Equal(t, gen.players[i].id, e.Data["userId"])
		assert.Contains(t, analytics.PersonalityTypes, e.Data["personalityType"])
	}
}

func TestGenerator_AdvancePatterns(t *testing.T) {
	sink := &fakeSink{}
	gen := NewGenerator(sink, Options{Interval: time.Hour, Seed: 7})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)
	sink.take()

	tests := []struct {
		tick    int
		guesses int
		quizzes int
	}{
		{tick: 1, guesses: 3 + 1},          // burst, stall
		{tick: 2, guesses: 3 + 1 + 1},      // burst, stall, retake
		{tick: 3, guesses: 2 + 1},          // two steady, stall
		{tick: 12, guesses: 2 + 1},         // two steady, retake
		{tick: 15, guesses: 2, quizzes: 1}, // two steady, retake retakes
	}
	for _, tt := range tests {
		gen.advance(ctx, tt.tick)
		events := sink.take()
		assert.Equal(t, tt.guesses, count(events, "guess_made"), "tick %d guesses", tt.tick)
		assert.Equal(t, tt.quizzes, count(events, "quiz_taken"), "tick %d quizzes", tt.tick)
	}
}

func TestGenerator_GuessesTargetOtherPlayers(t *testing.T) {
	sink := &fakeSink{}
	gen := NewGenerator(sink, Options{Interval: time.Hour, Seed: 42})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen.Start(ctx)
	sink.take()

	typesOf := make(map[string]bool)
	for _, p := range gen.players {
		typesOf[p.personality] = true
	}
	for tick := 1; tick <= 10; tick++ {
		gen.advance(ctx, tick)
	}

	for _, e := range sink.take() {
		if e.Type != "guess_made" {
			continue
		}
		assert.NotEmpty(t, e.Data["challengeId"])
		assert.True(t, typesOf[e.Data["actual"]], "actual %q is not a seated personality", e.Data["actual"])
		assert.Contains(t, analytics.PersonalityTypes, e.Data["guessed"])
	}
}

func TestGenerator_SinkErrorsDoNotStopTraffic(t *testing.T) {
	sink := &fakeSink{err: errors.New("store down")}
	gen := NewGenerator(sink, Options{Interval: 5 * time.Millisecond, Seed: 3})

	ctx, cancel := context.WithCancel(context.Background())
	gen.Start(ctx)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return count(sink.events, "guess_made") > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
}
