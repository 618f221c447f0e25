package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/client"
	"github.com/quizpulse/quizpulse/internal/health"
)

var sep = lipgloss.NewStyle().Foreground(ColorBorder).Render(" | ")

func renderStatus(st client.State, live bool, width int) string {
	var conn string
	switch {
	case st.Connected:
		conn = lipgloss.NewStyle().Foreground(ColorHealthy).Render("● Connected")
	case st.Connecting:
		conn = lipgloss.NewStyle().Foreground(ColorWarning).Render("◌ Connecting...")
	default:
		conn = lipgloss.NewStyle().Foreground(ColorDanger).Render("○ DISCONNECTED")
	}

	liveStr := StyleDimmed.Render("paused")
	if live {
		liveStr = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Render("LIVE")
	}

	parts := []string{
		conn,
		liveStr,
		fmt.Sprintf("%d online", st.LiveUserCount),
	}
	if !st.LastUpdate.IsZero() {
		parts = append(parts, StyleDimmed.Render("updated "+st.LastUpdate.Format("15:04:05")))
	}
	if st.Error != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(ColorDanger).Render(truncate(st.Error, 40)))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder).
		Render(strings.Join(parts, sep))
}

func renderHealth(s health.Snapshot, width int) string {
	quality := lipgloss.NewStyle().Foreground(QualityColor(s.Connection.Quality)).
		Render(string(s.Connection.Quality))

	conn := strings.Join([]string{
		"latency " + quality + fmt.Sprintf(" %.0fms", s.Connection.LatencyMs),
		fmt.Sprintf("loss %.1f%%", s.Connection.PacketLoss),
		fmt.Sprintf("%.1f KB/s", s.Connection.BandwidthKBps),
		fmt.Sprintf("reconnects %d", s.Connection.ReconnectCount),
		fmt.Sprintf("up %ds", s.Connection.UptimeSeconds),
	}, sep)

	cl := strings.Join([]string{
		fmt.Sprintf("fps %.0f", s.Client.FPS),
		fmt.Sprintf("render %.1fms", s.Client.RenderTimeMs),
		fmt.Sprintf("mem %.1fMB", s.Client.MemoryMB),
		fmt.Sprintf("queue %d", s.Client.QueueSize),
		fmt.Sprintf("dropped %d", s.Client.DroppedEvents),
	}, sep)

	an := strings.Join([]string{
		fmt.Sprintf("updates/min %.0f", s.Analytics.UpdateFrequency),
		fmt.Sprintf("freshness %.0fs", s.Analytics.DataFreshness),
		fmt.Sprintf("delay %.0fms", s.Analytics.ProcessingDelayMs),
	}, sep)

	content := lipgloss.JoinVertical(lipgloss.Left,
		StyleHeader.Render("Health"),
		conn,
		cl,
		an,
	)
	return panelStyle(width).Render(content)
}

func renderAlerts(alerts []health.Alert, width int) string {
	var lines []string
	for _, a := range alerts {
		if a.Resolved {
			continue
		}
		style := lipgloss.NewStyle().Foreground(SeverityColor(a.Severity))
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			style.Render(severityGlyph(a.Severity)),
			StyleDimmed.Render(a.Timestamp.Format("15:04:05")),
			style.Render(a.Message),
			StyleDimmed.Render("["+string(a.Category)+"]"),
		))
	}
	resolved := len(alerts) - len(lines)

	header := StyleHeader.Render(fmt.Sprintf("Alerts (%d open, %d resolved)", len(lines), resolved))
	if len(lines) == 0 {
		lines = append(lines, StyleDimmed.Render("No active alerts"))
	}
	return panelStyle(width).Render(lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, lines...)...))
}

func renderOverview(p *analytics.Payload, width int) string {
	header := StyleHeader.Render("Analytics")
	if p == nil {
		return panelStyle(width).Render(lipgloss.JoinVertical(lipgloss.Left,
			header, StyleDimmed.Render("Waiting for first snapshot")))
	}
	o := p.Overview
	stats := strings.Join([]string{
		fmt.Sprintf("users %d", o.TotalUsers),
		fmt.Sprintf("quizzes %d", o.TotalQuizzes),
		fmt.Sprintf("guesses %d", o.TotalGuesses),
		fmt.Sprintf("accuracy %d%%", o.AverageAccuracy),
		fmt.Sprintf("active %d", o.ActiveUsers),
		fmt.Sprintf("retention %d%%", o.RetentionRate),
	}, sep)

	var top []string
	for _, t := range p.PersonalityTrends {
		if t.Count == 0 {
			continue
		}
		trend := lipgloss.NewStyle().Foreground(trendColor(t.Trend)).Render(fmt.Sprintf("%+d%%", t.Trend))
		top = append(top, fmt.Sprintf("%s %d%% %s", t.Type, t.Percentage, trend))
		if len(top) == 3 {
			break
		}
	}
	lines := []string{header + StyleDimmed.Render(" ("+string(p.TimeRange)+")"), stats}
	if len(top) > 0 {
		lines = append(lines, strings.Join(top, sep))
	}
	return panelStyle(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func trendColor(trend int) lipgloss.Color {
	switch {
	case trend > 0:
		return ColorHealthy
	case trend < 0:
		return ColorDanger
	default:
		return ColorDimmed
	}
}

func renderEvents(events []client.Entry, limit, width int) string {
	header := StyleHeader.Render(fmt.Sprintf("Live events (%d)", len(events)))
	if len(events) == 0 {
		return panelStyle(width).Render(lipgloss.JoinVertical(lipgloss.Left,
			header, StyleDimmed.Render("No events yet")))
	}
	lines := []string{header}
	for i, e := range events {
		if i == limit {
			lines = append(lines, StyleDimmed.Render(fmt.Sprintf("... %d more", len(events)-limit)))
			break
		}
		lines = append(lines, describe(e, width-4))
	}
	return panelStyle(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// describe renders one log entry as a single line.
func describe(e client.Entry, width int) string {
	ts := StyleDimmed.Render(e.Timestamp.Local().Format("15:04:05"))
	switch e.Kind {
	case client.MsgAnalyticsUpdate:
		return ts + " " + lipgloss.NewStyle().Foreground(ColorInfo).Render("analytics refreshed")
	case client.MsgRealTimeEvent:
	default:
		return ts + " " + string(e.Kind)
	}

	var text, suffix string
	switch e.EventType {
	case client.MsgQuizTaken:
		var q client.QuizTaken
		_ = json.Unmarshal(e.Data, &q)
		text = fmt.Sprintf("%s took the quiz: %s", who(q.UserName, e.UserID), q.PersonalityType)
	case client.MsgGuessMade:
		var g struct {
			client.GuessMade
			Correct bool `json:"correct"`
		}
		_ = json.Unmarshal(e.Data, &g)
		suffix = " " + lipgloss.NewStyle().Foreground(ColorDanger).Render("✗")
		if g.Correct {
			suffix = " " + lipgloss.NewStyle().Foreground(ColorHealthy).Render("✓")
		}
		text = fmt.Sprintf("%s guessed %s", who(g.UserName, e.UserID), g.Guessed)
	default:
		text = string(e.EventType)
	}
	return ts + " " + truncate(text, width-12) + suffix
}

func who(name, id string) string {
	switch {
	case name != "":
		return name
	case id != "":
		return id
	default:
		return "someone"
	}
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
