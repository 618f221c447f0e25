package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/quizpulse/quizpulse/internal/store"
)

var ErrUnknownTimeRange = errors.New("unknown time range")

type TimeRange string

const (
	Range7d  TimeRange = "7d"
	Range30d TimeRange = "30d"
	Range90d TimeRange = "90d"
	RangeAll TimeRange = "all"
)

// DefaultTimeRange is used when a caller does not name one.
const DefaultTimeRange = Range30d

// ParseTimeRange accepts "7d", "30d", "90d" and "all". An empty string maps
// to DefaultTimeRange.
func ParseTimeRange(s string) (TimeRange, error) {
	switch r := TimeRange(s); r {
	case "":
		return DefaultTimeRange, nil
	case Range7d, Range30d, Range90d, RangeAll:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTimeRange, s)
}

// Duration is the window length, 0 for RangeAll.
func (r TimeRange) Duration() time.Duration {
	const day = 24 * time.Hour
	switch r {
	case Range7d:
		return 7 * day
	case Range30d:
		return 30 * day
	case Range90d:
		return 90 * day
	}
	return 0
}

// PersonalityTypes lists every result a quiz can produce, in display order.
var PersonalityTypes = []string{
	"The Adventurer",
	"The Nurturer",
	"The Innovator",
	"The Leader",
	"The Artist",
	"The Scholar",
	"The Connector",
	"The Guardian",
}

// Payload is the body of an analytics_update message and of GET
// /api/analytics.
type Payload struct {
	TimeRange         TimeRange          `json:"timeRange"`
	GeneratedAt       time.Time          `json:"generatedAt"`
	Overview          Overview           `json:"overview"`
	PersonalityTrends []PersonalityTrend `json:"personalityTrends"`
	Engagement        Engagement         `json:"engagementMetrics"`
	AccuracyTrends    []AccuracyPoint    `json:"accuracyTrends"`
	TopPerformers     []TopPerformer     `json:"topPerformers"`
	ChallengeMetrics  ChallengeMetrics   `json:"challengeMetrics"`
}

type Overview struct {
	TotalUsers      int `json:"totalUsers"`
	TotalGuesses    int `json:"totalGuesses"`
	TotalQuizzes    int `json:"totalQuizzes"`
	AverageAccuracy int `json:"averageAccuracy"`
	ActiveUsers     int `json:"activeUsers"`
	RetentionRate   int `json:"retentionRate"`
}

// PersonalityTrend is one personality type's share of quiz results. Trend is
// the percentage change in count against the previous window of equal
// length.
type PersonalityTrend struct {
	Type       string `json:"type"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
	Accuracy   int    `json:"accuracy"`
	Trend      int    `json:"trend"`
}

type DailyActivity struct {
	Date    string `json:"date"`
	Users   int    `json:"users"`
	Guesses int    `json:"guesses"`
}

type HourlyActivity struct {
	Hour     int `json:"hour"`
	Activity int `json:"activity"`
}

type StreakBucket struct {
	StreakLength int `json:"streakLength"`
	Users        int `json:"users"`
}

type Engagement struct {
	DailyActive        []DailyActivity  `json:"dailyActive"`
	HourlyDistribution []HourlyActivity `json:"hourlyDistribution"`
	StreakDistribution []StreakBucket   `json:"streakDistribution"`
}

type AccuracyPoint struct {
	Date         string `json:"date"`
	Accuracy     int    `json:"accuracy"`
	TotalGuesses int    `json:"totalGuesses"`
}

// TopPerformer ranks a player. Improvement is the change in accuracy, in
// percentage points, against the previous window.
type TopPerformer struct {
	User        store.LeaderboardEntry `json:"user"`
	Rank        int                    `json:"rank"`
	Improvement int                    `json:"improvement"`
}

type ChallengeMetrics struct {
	CompletionRate        int `json:"completionRate"`
	AverageTimeToComplete int `json:"averageTimeToComplete"`
	ShareRate             int `json:"shareRate"`
	ReturnRate            int `json:"returnRate"`
}
