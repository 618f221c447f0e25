package analytics

import (
	"sort"
	"time"

	"github.com/quizpulse/quizpulse/internal/store"
)

const (
	activeWindow      = 7 * 24 * time.Hour
	dailyHistory      = 30
	topPerformerMin   = 5
	topPerformerLimit = 10
)

// dataset is everything one snapshot is computed from. prev* hold the window
// immediately before the current one and are empty for RangeAll.
type dataset struct {
	now         time.Time
	quizzes     []store.QuizResult
	guesses     []store.Guess
	prevQuizzes []store.QuizResult
	prevGuesses []store.Guess
	leaderboard []store.LeaderboardEntry
}

// splitQuizzes and splitGuesses partition records into the current window
// (at or after cutoff) and the one before it.
func splitQuizzes(all []store.QuizResult, cutoff time.Time) (cur, prev []store.QuizResult) {
	for _, q := range all {
		if q.Timestamp.Before(cutoff) {
			prev = append(prev, q)
		} else {
			cur = append(cur, q)
		}
	}
	return cur, prev
}

func splitGuesses(all []store.Guess, cutoff time.Time) (cur, prev []store.Guess) {
	for _, g := range all {
		if g.Timestamp.Before(cutoff) {
			prev = append(prev, g)
		} else {
			cur = append(cur, g)
		}
	}
	return cur, prev
}

func build(r TimeRange, d dataset) Payload {
	return Payload{
		TimeRange:         r,
		GeneratedAt:       d.now,
		Overview:          overview(d),
		PersonalityTrends: personalityTrends(r, d),
		Engagement:        engagement(d),
		AccuracyTrends:    accuracyTrends(d.guesses),
		TopPerformers:     topPerformers(r, d),
		ChallengeMetrics:  challengeMetrics(d),
	}
}

// percent rounds part/total*100 half up, 0 when total is 0.
func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return (part*200 + total) / (total * 2)
}

// change is the percentage change from prev to cur. Growth from nothing
// counts as 100%.
func change(cur, prev int) int {
	switch {
	case prev == 0 && cur == 0:
		return 0
	case prev == 0:
		return 100
	}
	diff := cur - prev
	if diff < 0 {
		return -percent(-diff, prev)
	}
	return percent(diff, prev)
}

func countCorrect(gs []store.Guess) int {
	n := 0
	for _, g := range gs {
		if g.Correct {
			n++
		}
	}
	return n
}

func overview(d dataset) Overview {
	activeSince := d.now.Add(-activeWindow)
	active := make(map[string]struct{})
	perUser := make(map[string]int)
	for _, g := range d.guesses {
		perUser[g.UserID]++
		if !g.Timestamp.Before(activeSince) {
			active[g.UserID] = struct{}{}
		}
	}
	returning := 0
	for _, n := range perUser {
		if n > 1 {
			returning++
		}
	}

	return Overview{
		TotalUsers:      len(d.leaderboard),
		TotalGuesses:    len(d.guesses),
		TotalQuizzes:    len(d.quizzes),
		AverageAccuracy: percent(countCorrect(d.guesses), len(d.guesses)),
		ActiveUsers:     len(active),
		RetentionRate:   percent(returning, len(d.leaderboard)),
	}
}

func countByType(qs []store.QuizResult) map[string]int {
	out := make(map[string]int)
	for _, q := range qs {
		out[q.PersonalityType]++
	}
	return out
}

func personalityTrends(r TimeRange, d dataset) []PersonalityTrend {
	counts := countByType(d.quizzes)
	prevCounts := countByType(d.prevQuizzes)

	type tally struct{ total, correct int }
	byActual := make(map[string]tally)
	for _, g := range d.guesses {
		t := byActual[g.Actual]
		t.total++
		if g.Correct {
			t.correct++
		}
		byActual[g.Actual] = t
	}

	out := make([]PersonalityTrend, 0, len(PersonalityTypes))
	for _, name := range PersonalityTypes {
		t := byActual[name]
		trend := 0
		if r != RangeAll {
			trend = change(counts[name], prevCounts[name])
		}
		out = append(out, PersonalityTrend{
			Type:       name,
			Count:      counts[name],
			Percentage: percent(counts[name], len(d.quizzes)),
			Accuracy:   percent(t.correct, t.total),
			Trend:      trend,
		})
	}
	return out
}

func day(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func engagement(d dataset) Engagement {
	type daily struct {
		users   map[string]struct{}
		guesses int
	}
	days := make(map[string]*daily)
	hourly := make([]HourlyActivity, 24)
	for h := range hourly {
		hourly[h].Hour = h
	}
	for _, g := range d.guesses {
		key := day(g.Timestamp)
		dd, ok := days[key]
		if !ok {
			dd = &daily{users: make(map[string]struct{})}
			days[key] = dd
		}
		dd.users[g.UserID] = struct{}{}
		dd.guesses++
		hourly[g.Timestamp.UTC().Hour()].Activity++
	}

	dailyActive := make([]DailyActivity, 0, len(days))
	for date, dd := range days {
		dailyActive = append(dailyActive, DailyActivity{Date: date, Users: len(dd.users), Guesses: dd.guesses})
	}
	sort.Slice(dailyActive, func(i, j int) bool { return dailyActive[i].Date < dailyActive[j].Date })
	if len(dailyActive) > dailyHistory {
		dailyActive = dailyActive[len(dailyActive)-dailyHistory:]
	}

	streaks := []StreakBucket{{StreakLength: 1}, {StreakLength: 3}, {StreakLength: 6}, {StreakLength: 11}}
	for _, e := range d.leaderboard {
		switch {
		case e.MaxStreak <= 2:
			streaks[0].Users++
		case e.MaxStreak <= 5:
			streaks[1].Users++
		case e.MaxStreak <= 10:
			streaks[2].Users++
		default:
			streaks[3].Users++
		}
	}

	return Engagement{
		DailyActive:        dailyActive,
		HourlyDistribution: hourly,
		StreakDistribution: streaks,
	}
}

func accuracyTrends(guesses []store.Guess) []AccuracyPoint {
	type tally struct{ total, correct int }
	days := make(map[string]tally)
	for _, g := range guesses {
		key := day(g.Timestamp)
		t := days[key]
		t.total++
		if g.Correct {
			t.correct++
		}
		days[key] = t
	}

	out := make([]AccuracyPoint, 0, len(days))
	for date, t := range days {
		out = append(out, AccuracyPoint{Date: date, Accuracy: percent(t.correct, t.total), TotalGuesses: t.total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) > dailyHistory {
		out = out[len(out)-dailyHistory:]
	}
	return out
}

// userAccuracy maps user id to accuracy over gs. Users without guesses are
// absent.
func userAccuracy(gs []store.Guess) map[string]int {
	type tally struct{ total, correct int }
	per := make(map[string]tally)
	for _, g := range gs {
		t := per[g.UserID]
		t.total++
		if g.Correct {
			t.correct++
		}
		per[g.UserID] = t
	}
	out := make(map[string]int, len(per))
	for id, t := range per {
		out[id] = percent(t.correct, t.total)
	}
	return out
}

func topPerformers(r TimeRange, d dataset) []TopPerformer {
	var eligible []store.LeaderboardEntry
	for _, e := range d.leaderboard {
		if e.TotalGuesses >= topPerformerMin {
			eligible = append(eligible, e)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Accuracy != eligible[j].Accuracy {
			return eligible[i].Accuracy > eligible[j].Accuracy
		}
		return eligible[i].CorrectGuesses > eligible[j].CorrectGuesses
	})
	if len(eligible) > topPerformerLimit {
		eligible = eligible[:topPerformerLimit]
	}

	var cur, prev map[string]int
	if r != RangeAll {
		cur, prev = userAccuracy(d.guesses), userAccuracy(d.prevGuesses)
	}

	out := make([]TopPerformer, len(eligible))
	for i, e := range eligible {
		improvement := 0
		c, okCur := cur[e.ID]
		p, okPrev := prev[e.ID]
		if okCur && okPrev {
			improvement = c - p
		}
		out[i] = TopPerformer{User: e, Rank: i + 1, Improvement: improvement}
	}
	return out
}

func challengeMetrics(d dataset) ChallengeMetrics {
	perUser := make(map[string]int)
	for _, q := range d.quizzes {
		perUser[q.UserID]++
	}
	returning := 0
	for _, n := range perUser {
		if n > 1 {
			returning++
		}
	}
	// Completion time and sharing are not recorded by any event, so both
	// stay at zero rather than reporting invented figures.
	return ChallengeMetrics{
		CompletionRate: percent(len(d.guesses), len(d.quizzes)),
		ReturnRate:     percent(returning, len(perUser)),
	}
}
