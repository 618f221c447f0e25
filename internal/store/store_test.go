package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// clock returns a now func that advances by one minute per call.
func clock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(time.Minute)
		return t
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiz.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.RecordQuizTaken(context.Background(), "The Artist", "u1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	results, err := s.ListQuizResults(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRecordQuizTaken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.RecordQuizTaken(ctx, "The Leader", "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, AnonymousUser, res.UserID)

	list, err := s.ListQuizResults(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "The Leader", list[0].PersonalityType)
	assert.Equal(t, res.Timestamp.UnixMilli(), list[0].Timestamp.UnixMilli())
}

func TestListQuizResults_Since(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = clock(start)

	for _, p := range []string{"The Artist", "The Scholar", "The Guardian"} {
		_, err := s.RecordQuizTaken(ctx, p, "u1")
		require.NoError(t, err)
	}

	list, err := s.ListQuizResults(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "The Scholar", list[0].PersonalityType)
	assert.Equal(t, "The Guardian", list[1].PersonalityType)
}

func TestRecordGuess_UpdatesLeaderboard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	steps := []struct {
		guessed   string
		correct   bool
		streak    int
		maxStreak int
		accuracy  int
	}{
		{"The Leader", true, 1, 1, 100},
		{"The Leader", true, 2, 2, 100},
		{"The Artist", false, 0, 2, 67},
		{"The Leader", true, 1, 2, 75},
	}
	for i, st := range steps {
		res, err := s.RecordGuess(ctx, GuessInput{
			ChallengeID: "c1", UserID: "u1", UserName: "Ann",
			Guessed: st.guessed, Actual: "The Leader",
		})
		require.NoError(t, err)
		assert.Equal(t, st.correct, res.Correct, "step %d", i)

		e, err := s.UserStats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, i+1, e.TotalGuesses, "step %d", i)
		assert.Equal(t, st.streak, e.Streak, "step %d", i)
		assert.Equal(t, st.maxStreak, e.MaxStreak, "step %d", i)
		assert.Equal(t, st.accuracy, e.Accuracy, "step %d", i)
		assert.Equal(t, "Ann", e.Name)
	}

	guesses, err := s.ListGuesses(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, guesses, 4)
	assert.False(t, guesses[2].Correct)
	assert.Equal(t, "c1", guesses[2].ChallengeID)
}

func TestUserStats_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.UserStats(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTopPlayers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := func(user string, outcomes ...bool) {
		for _, ok := range outcomes {
			guessed := "The Artist"
			if !ok {
				guessed = "The Scholar"
			}
			_, err := s.RecordGuess(ctx, GuessInput{
				ChallengeID: "c", UserID: user, UserName: user,
				Guessed: guessed, Actual: "The Artist",
			})
			require.NoError(t, err)
		}
	}

	// "few" stays below the minimum; the two perfect players tie on accuracy.
	record("few", true, true)
	record("half", true, false, true, false)
	record("perfect3", true, true, true)
	record("perfect4", true, true, true, true)
	record("low", false, false, true)

	top, err := s.TopPlayers(ctx, 10)
	require.NoError(t, err)

	var ids []string
	for _, e := range top {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"perfect4", "perfect3", "half", "low"}, ids)

	top, err = s.TopPlayers(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	all, err := s.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		part, total, want int
	}{
		{0, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{1, 8, 13},
		{5, 5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percent(tt.part, tt.total), "%d/%d", tt.part, tt.total)
	}
}
