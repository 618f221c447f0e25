package dashboard

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/quizpulse/quizpulse/internal/health"
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorInfo    = lipgloss.Color("#3b82f6")
	ColorAccent  = lipgloss.Color("#a855f7")
)

var (
	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)
)

// QualityColor maps a connection quality to its color.
func QualityColor(q health.Quality) lipgloss.Color {
	switch q {
	case health.QualityExcellent, health.QualityGood:
		return ColorHealthy
	case health.QualityFair:
		return ColorWarning
	case health.QualityPoor:
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// SeverityColor maps an alert severity to its color.
func SeverityColor(s health.Severity) lipgloss.Color {
	switch s {
	case health.SeverityWarning:
		return ColorWarning
	case health.SeverityError, health.SeverityCritical:
		return ColorDanger
	default:
		return ColorDimmed
	}
}

func severityGlyph(s health.Severity) string {
	switch s {
	case health.SeverityWarning:
		return "▲"
	case health.SeverityError:
		return "✗"
	case health.SeverityCritical:
		return "‼"
	default:
		return "·"
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)
}
