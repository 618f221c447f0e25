package health

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Category string

const (
	CategoryConnection  Category = "connection"
	CategoryPerformance Category = "performance"
	CategoryData        Category = "data"
	CategorySystem      Category = "system"
)

// Alert is a threshold breach or a failure reported through Raise.
type Alert struct {
	ID         string         `json:"id"`
	Severity   Severity       `json:"type"`
	Category   Category       `json:"category"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// alertLog keeps alerts newest first. Callers hold the monitor lock.
type alertLog struct {
	alerts    []*Alert
	retention int
}

// findOpen returns the unresolved alert for (category, message), if any.
func (l *alertLog) findOpen(category Category, message string) *Alert {
	for _, a := range l.alerts {
		if !a.Resolved && a.Category == category && a.Message == message {
			return a
		}
	}
	return nil
}

// add creates an alert unless an unresolved one with the same category and
// message exists. The second return reports whether a new alert was made.
func (l *alertLog) add(sev Severity, category Category, message string, details map[string]any, now time.Time) (*Alert, bool) {
	if existing := l.findOpen(category, message); existing != nil {
		return existing, false
	}
	a := &Alert{
		ID:        uuid.NewString(),
		Severity:  sev,
		Category:  category,
		Message:   message,
		Timestamp: now,
		Details:   details,
	}
	l.alerts = append([]*Alert{a}, l.alerts...)
	l.trim()
	return a, true
}

// trim drops the oldest resolved alerts beyond retention. Unresolved alerts
// are always kept.
func (l *alertLog) trim() {
	if l.retention <= 0 || len(l.alerts) <= l.retention {
		return
	}
	excess := len(l.alerts) - l.retention
	for i := len(l.alerts) - 1; i >= 0 && excess > 0; i-- {
		if l.alerts[i].Resolved {
			l.alerts = append(l.alerts[:i], l.alerts[i+1:]...)
			excess--
		}
	}
}

func (l *alertLog) resolve(id string, now time.Time) bool {
	for _, a := range l.alerts {
		if a.ID == id {
			if a.Resolved {
				return false
			}
			a.Resolved = true
			t := now
			a.ResolvedAt = &t
			return true
		}
	}
	return false
}

func (l *alertLog) clearResolved() int {
	kept := l.alerts[:0]
	removed := 0
	for _, a := range l.alerts {
		if a.Resolved {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(l.alerts); i++ {
		l.alerts[i] = nil
	}
	l.alerts = kept
	return removed
}

func (l *alertLog) open() int {
	n := 0
	for _, a := range l.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n
}

func (l *alertLog) copyAll() []Alert {
	out := make([]Alert, len(l.alerts))
	for i, a := range l.alerts {
		out[i] = *a
	}
	return out
}
