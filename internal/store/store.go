// Package store persists quiz results, guesses and the per-user leaderboard
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// AnonymousUser is recorded when a quiz result has no user id.
const AnonymousUser = "anonymous"

// MinLeaderboardGuesses is the number of guesses a player needs before
// showing up in TopPlayers.
const MinLeaderboardGuesses = 3

var ErrNotFound = errors.New("not found")

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS quiz_results (
    id               TEXT PRIMARY KEY,
    personality_type TEXT NOT NULL,
    user_id          TEXT NOT NULL,
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quiz_results_created_at ON quiz_results(created_at);

CREATE TABLE IF NOT EXISTS guesses (
    id           TEXT PRIMARY KEY,
    challenge_id TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    user_name    TEXT NOT NULL DEFAULT '',
    guessed      TEXT NOT NULL,
    actual       TEXT NOT NULL,
    correct      INTEGER NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_guesses_created_at ON guesses(created_at);
CREATE INDEX IF NOT EXISTS idx_guesses_user ON guesses(user_id, created_at);

CREATE TABLE IF NOT EXISTS leaderboard (
    user_id         TEXT PRIMARY KEY,
    name            TEXT NOT NULL DEFAULT '',
    total_guesses   INTEGER NOT NULL DEFAULT 0,
    correct_guesses INTEGER NOT NULL DEFAULT 0,
    accuracy        INTEGER NOT NULL DEFAULT 0,
    streak          INTEGER NOT NULL DEFAULT 0,
    max_streak      INTEGER NOT NULL DEFAULT 0,
    last_active     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leaderboard_rank ON leaderboard(accuracy DESC, correct_guesses DESC);
`,
	},
}

type QuizResult struct {
	ID              string    `json:"id"`
	PersonalityType string    `json:"personalityType"`
	UserID          string    `json:"userId"`
	Timestamp       time.Time `json:"timestamp"`
}

// GuessInput is what a client submits for one challenge guess.
type GuessInput struct {
	ChallengeID string `json:"challengeId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Guessed     string `json:"guessed"`
	Actual      string `json:"actual"`
}

type Guess struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challengeId"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	Guessed     string    `json:"guessed"`
	Actual      string    `json:"actual"`
	Correct     bool      `json:"correct"`
	Timestamp   time.Time `json:"timestamp"`
}

type GuessResult struct {
	Correct bool `json:"correct"`
}

// LeaderboardEntry holds running totals for one player. Accuracy is a
// rounded percentage.
type LeaderboardEntry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	TotalGuesses   int       `json:"totalGuesses"`
	CorrectGuesses int       `json:"correctGuesses"`
	Accuracy       int       `json:"accuracy"`
	Streak         int       `json:"streak"`
	MaxStreak      int       `json:"maxStreak"`
	LastActive     time.Time `json:"lastActive"`
}

// row types keep the unix-millisecond storage format out of the public API.

type quizRow struct {
	ID              string `db:"id"`
	PersonalityType string `db:"personality_type"`
	UserID          string `db:"user_id"`
	CreatedAt       int64  `db:"created_at"`
}

type guessRow struct {
	ID          string `db:"id"`
	ChallengeID string `db:"challenge_id"`
	UserID      string `db:"user_id"`
	UserName    string `db:"user_name"`
	Guessed     string `db:"guessed"`
	Actual      string `db:"actual"`
	Correct     bool   `db:"correct"`
	CreatedAt   int64  `db:"created_at"`
}

type leaderRow struct {
	UserID         string `db:"user_id"`
	Name           string `db:"name"`
	TotalGuesses   int    `db:"total_guesses"`
	CorrectGuesses int    `db:"correct_guesses"`
	Accuracy       int    `db:"accuracy"`
	Streak         int    `db:"streak"`
	MaxStreak      int    `db:"max_streak"`
	LastActive     int64  `db:"last_active"`
}

func (r leaderRow) entry() LeaderboardEntry {
	return LeaderboardEntry{
		ID:             r.UserID,
		Name:           r.Name,
		TotalGuesses:   r.TotalGuesses,
		CorrectGuesses: r.CorrectGuesses,
		Accuracy:       r.Accuracy,
		Streak:         r.Streak,
		MaxStreak:      r.MaxStreak,
		LastActive:     fromMillis(r.LastActive),
	}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Store is the SQLite-backed quiz result and leaderboard store.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies pending
// migrations. Pass ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.Get(&count, `SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// RecordQuizTaken stores one completed quiz.
func (s *Store) RecordQuizTaken(ctx context.Context, personalityType, userID string) (QuizResult, error) {
	if userID == "" {
		userID = AnonymousUser
	}
	res := QuizResult{
		ID:              uuid.NewString(),
		PersonalityType: personalityType,
		UserID:          userID,
		Timestamp:       s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_results(id, personality_type, user_id, created_at) VALUES(?,?,?,?)`,
		res.ID, res.PersonalityType, res.UserID, toMillis(res.Timestamp))
	if err != nil {
		return QuizResult{}, fmt.Errorf("insert quiz result: %w", err)
	}
	return res, nil
}

// ListQuizResults returns results at or after since, oldest first. A zero
// since returns everything.
func (s *Store) ListQuizResults(ctx context.Context, since time.Time) ([]QuizResult, error) {
	var rows []quizRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, personality_type, user_id, created_at FROM quiz_results
         WHERE created_at >= ? ORDER BY created_at ASC, id ASC`, sinceMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list quiz results: %w", err)
	}
	out := make([]QuizResult, len(rows))
	for i, r := range rows {
		out[i] = QuizResult{
			ID:              r.ID,
			PersonalityType: r.PersonalityType,
			UserID:          r.UserID,
			Timestamp:       fromMillis(r.CreatedAt),
		}
	}
	return out, nil
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return toMillis(since)
}

// RecordGuess stores a guess and folds it into the player's leaderboard
// entry in one transaction.
func (s *Store) RecordGuess(ctx context.Context, in GuessInput) (GuessResult, error) {
	correct := in.Guessed == in.Actual
	now := toMillis(s.now())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return GuessResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO guesses(id, challenge_id, user_id, user_name, guessed, actual, correct, created_at)
        VALUES(?,?,?,?,?,?,?,?)`,
		uuid.NewString(), in.ChallengeID, in.UserID, in.UserName, in.Guessed, in.Actual, correct, now)
	if err != nil {
		return GuessResult{}, fmt.Errorf("insert guess: %w", err)
	}

	var row leaderRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM leaderboard WHERE user_id = ?`, in.UserID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row = leaderRow{UserID: in.UserID, Name: in.UserName}
	case err != nil:
		return GuessResult{}, fmt.Errorf("load leaderboard entry: %w", err)
	}

	row.TotalGuesses++
	row.LastActive = now
	if correct {
		row.CorrectGuesses++
		row.Streak++
		row.MaxStreak = max(row.MaxStreak, row.Streak)
	} else {
		row.Streak = 0
	}
	row.Accuracy = percent(row.CorrectGuesses, row.TotalGuesses)

	_, err = tx.NamedExecContext(ctx, `
        INSERT INTO leaderboard(user_id, name, total_guesses, correct_guesses, accuracy, streak, max_streak, last_active)
        VALUES(:user_id, :name, :total_guesses, :correct_guesses, :accuracy, :streak, :max_streak, :last_active)
        ON CONFLICT(user_id) DO UPDATE SET
            total_guesses   = excluded.total_guesses,
            correct_guesses = excluded.correct_guesses,
            accuracy        = excluded.accuracy,
            streak          = excluded.streak,
            max_streak      = excluded.max_streak,
            last_active     = excluded.last_active`, row)
	if err != nil {
		return GuessResult{}, fmt.Errorf("upsert leaderboard entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return GuessResult{}, fmt.Errorf("commit: %w", err)
	}
	return GuessResult{Correct: correct}, nil
}

// percent returns part/total as a rounded percentage, 0 when total is 0.
func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return (part*200 + total) / (total * 2)
}

// ListGuesses returns guesses at or after since, oldest first.
func (s *Store) ListGuesses(ctx context.Context, since time.Time) ([]Guess, error) {
	var rows []guessRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM guesses WHERE created_at >= ? ORDER BY created_at ASC, id ASC`, sinceMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list guesses: %w", err)
	}
	out := make([]Guess, len(rows))
	for i, r := range rows {
		out[i] = Guess{
			ID:          r.ID,
			ChallengeID: r.ChallengeID,
			UserID:      r.UserID,
			UserName:    r.UserName,
			Guessed:     r.Guessed,
			Actual:      r.Actual,
			Correct:     r.Correct,
			Timestamp:   fromMillis(r.CreatedAt),
		}
	}
	return out, nil
}

// Leaderboard returns every player entry, unfiltered.
func (s *Store) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var rows []leaderRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM leaderboard ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	return entries(rows), nil
}

// TopPlayers returns players with at least MinLeaderboardGuesses guesses,
// ordered by accuracy then correct guesses.
func (s *Store) TopPlayers(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []leaderRow
	err := s.db.SelectContext(ctx, &rows, `
        SELECT * FROM leaderboard WHERE total_guesses >= ?
        ORDER BY accuracy DESC, correct_guesses DESC, user_id ASC LIMIT ?`,
		MinLeaderboardGuesses, limit)
	if err != nil {
		return nil, fmt.Errorf("list top players: %w", err)
	}
	return entries(rows), nil
}

// UserStats returns one player's entry or ErrNotFound.
func (s *Store) UserStats(ctx context.Context, userID string) (LeaderboardEntry, error) {
	var row leaderRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM leaderboard WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return LeaderboardEntry{}, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}
	if err != nil {
		return LeaderboardEntry{}, fmt.Errorf("load user %q: %w", userID, err)
	}
	return row.entry(), nil
}

func entries(rows []leaderRow) []LeaderboardEntry {
	out := make([]LeaderboardEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out
}
