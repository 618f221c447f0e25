// Package dashboard renders the live feed and the client-side health monitor
// as a Bubble Tea program.
package dashboard

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/client"
	"github.com/quizpulse/quizpulse/internal/health"
)

const (
	logLines = 12
	// frameInterval paces redraws, so the monitor's fps reflects how well
	// the view keeps up rather than how often messages arrive.
	frameInterval = time.Second / 60
)

// Feed is the part of client.Feed the dashboard drives.
type Feed interface {
	ToggleLive() bool
	Live() bool
	RefreshData() bool
	ClearEvents()
	Events() []client.Entry
	Analytics() *analytics.Payload
	State() client.State
	Changed() <-chan struct{}
}

// Monitor is the part of health.Monitor the dashboard reads and feeds.
type Monitor interface {
	Snapshot() health.Snapshot
	Alerts() []health.Alert
	ClearResolvedAlerts()
	RecordFrame()
	RecordRender(d time.Duration)
	SubscribeMetrics() (<-chan health.Snapshot, func())
}

type metricsMsg struct{ snap health.Snapshot }

type feedChangedMsg struct{}

type frameMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	feed    Feed
	monitor Monitor
	keys    KeyMap

	metrics     <-chan health.Snapshot
	unsubscribe func()

	width  int
	height int

	snap   health.Snapshot
	status string // last action feedback
}

func New(feed Feed, monitor Monitor) Model {
	ch, unsub := monitor.SubscribeMetrics()
	return Model{
		feed:        feed,
		monitor:     monitor,
		keys:        DefaultKeyMap(),
		metrics:     ch,
		unsubscribe: unsub,
		snap:        monitor.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitMetrics(), m.waitFeed(), nextFrame())
}

func nextFrame() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return frameMsg{} })
}

func (m Model) waitMetrics() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.metrics
		if !ok {
			return nil
		}
		return metricsMsg{snap: s}
	}
}

func (m Model) waitFeed() tea.Cmd {
	return func() tea.Msg {
		<-m.feed.Changed()
		return feedChangedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case metricsMsg:
		m.snap = msg.snap
		return m, m.waitMetrics()

	case feedChangedMsg:
		return m, m.waitFeed()

	case frameMsg:
		return m, nextFrame()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.unsubscribe()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Live):
		if m.feed.ToggleLive() {
			m.status = "live updates on"
		} else {
			m.status = "live updates off"
		}

	case key.Matches(msg, m.keys.Refresh):
		if m.feed.RefreshData() {
			m.status = "refresh requested"
		} else {
			m.status = "not connected"
		}

	case key.Matches(msg, m.keys.ClearEvents):
		m.feed.ClearEvents()
		m.status = "events cleared"

	case key.Matches(msg, m.keys.ClearAlerts):
		m.monitor.ClearResolvedAlerts()
		m.status = "resolved alerts cleared"
	}
	return m, nil
}

// View renders the full dashboard. Every call counts as a frame for the
// monitor's fps and render-time figures; frameMsg keeps calls coming at
// frameInterval while nothing else happens.
func (m Model) View() string {
	start := time.Now()
	defer func() {
		m.monitor.RecordFrame()
		m.monitor.RecordRender(time.Since(start))
	}()

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	width := max(m.width-2, 40)

	sections := []string{
		renderStatus(m.feed.State(), m.feed.Live(), width),
		renderHealth(m.snap, width),
		renderAlerts(m.monitor.Alerts(), width),
		renderOverview(m.feed.Analytics(), width),
		renderEvents(m.feed.Events(), logLines, width),
	}
	help := "  l:live  r:refresh  c:clear events  x:clear resolved alerts  q:quit"
	if m.status != "" {
		help += "  · " + m.status
	}
	sections = append(sections, StyleDimmed.Render(help))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
