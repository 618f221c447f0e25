package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/client"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	live      bool
	connected bool
	calls     []string
	events    []client.Entry
	payload   *analytics.Payload
	changed   chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{changed: make(chan struct{}, 1)}
}

func (f *fakeFeed) ToggleLive() bool {
	f.calls = append(f.calls, "live")
	f.live = !f.live
	return f.live
}

func (f *fakeFeed) Live() bool { return f.live }

func (f *fakeFeed) RefreshData() bool {
	f.calls = append(f.calls, "refresh")
	return f.connected
}

func (f *fakeFeed) ClearEvents() {
	f.calls = append(f.calls, "clear")
	f.events = nil
}

func (f *fakeFeed) Events() []client.Entry        { return f.events }
func (f *fakeFeed) Analytics() *analytics.Payload { return f.payload }
func (f *fakeFeed) State() client.State           { return client.State{Connected: f.connected} }
func (f *fakeFeed) Changed() <-chan struct{}      { return f.changed }

type fakeMonitor struct {
	snap         health.Snapshot
	alerts       []health.Alert
	frames       int
	renders      int
	cleared      int
	unsubscribed int
	metrics      chan health.Snapshot
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{metrics: make(chan health.Snapshot, 1)}
}

func (m *fakeMonitor) Snapshot() health.Snapshot  { return m.snap }
func (m *fakeMonitor) Alerts() []health.Alert     { return m.alerts }
func (m *fakeMonitor) ClearResolvedAlerts()       { m.cleared++ }
func (m *fakeMonitor) RecordFrame()               { m.frames++ }
func (m *fakeMonitor) RecordRender(time.Duration) { m.renders++ }

func (m *fakeMonitor) SubscribeMetrics() (<-chan health.Snapshot, func()) {
	return m.metrics, func() { m.unsubscribed++ }
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	if k == "ctrl+c" {
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	} else {
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func TestModel_InitializingCountsFrame(t *testing.T) {
	mon := newFakeMonitor()
	m := New(newFakeFeed(), mon)
	assert.Equal(t, "Initializing...", m.View())
	assert.Equal(t, 1, mon.frames)
	assert.Equal(t, 1, mon.renders)
}

func TestModel_Keys(t *testing.T) {
	feed := newFakeFeed()
	feed.connected = true
	mon := newFakeMonitor()
	m := sized(New(feed, mon))

	m, _ = press(t, m, "l")
	assert.Equal(t, "live updates on", m.status)
	m, _ = press(t, m, "r")
	assert.Equal(t, "refresh requested", m.status)
	m, _ = press(t, m, "c")
	m, _ = press(t, m, "x")
	m, _ = press(t, m, "l")
	assert.Equal(t, "live updates off", m.status)

	assert.Equal(t, []string{"live", "refresh", "clear", "live"}, feed.calls)
	assert.Equal(t, 1, mon.cleared)

	feed.connected = false
	m, _ = press(t, m, "r")
	assert.Equal(t, "not connected", m.status)
}

func TestModel_Quit(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		t.Run(k, func(t *testing.T) {
			mon := newFakeMonitor()
			m := New(newFakeFeed(), mon)
			_, cmd := press(t, m, k)
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
			assert.Equal(t, 1, mon.unsubscribed)
		})
	}
}

func TestModel_MetricsAndFeedMessages(t *testing.T) {
	feed := newFakeFeed()
	mon := newFakeMonitor()
	m := sized(New(feed, mon))

	mon.metrics <- health.Snapshot{Connection: health.ConnectionMetrics{Quality: health.QualityFair, LatencyMs: 250}}
	msg := m.waitMetrics()()
	next, cmd := m.Update(msg)
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "fair")
	assert.Contains(t, m.View(), "250ms")

	feed.changed <- struct{}{}
	assert.IsType(t, feedChangedMsg{}, m.waitFeed()())
}

func TestModel_View(t *testing.T) {
	feed := newFakeFeed()
	mon := newFakeMonitor()
	m := sized(New(feed, mon))

	v := m.View()
	assert.Contains(t, v, "DISCONNECTED")
	assert.Contains(t, v, "paused")
	assert.Contains(t, v, "No active alerts")
	assert.Contains(t, v, "Waiting for first snapshot")
	assert.Contains(t, v, "No events yet")

	feed.live = true
	feed.connected = true
	feed.payload = &analytics.Payload{TimeRange: analytics.Range7d, Overview: analytics.Overview{TotalQuizzes: 9}}
	mon.alerts = []health.Alert{
		{Severity: health.SeverityCritical, Category: health.CategoryPerformance, Message: "Critical latency detected"},
		{Severity: health.SeverityWarning, Message: "High memory usage", Resolved: true},
	}
	for i := 0; i < logLines+3; i++ {
		data, _ := json.Marshal(map[string]any{"userName": fmt.Sprintf("user%d", i), "guessed": "The Artist", "correct": true})
		feed.events = append(feed.events, client.Entry{
			Kind:      client.MsgRealTimeEvent,
			EventType: client.MsgGuessMade,
			Data:      data,
			Timestamp: time.Now(),
		})
	}

	v = m.View()
	assert.Contains(t, v, "Connected")
	assert.Contains(t, v, "LIVE")
	assert.Contains(t, v, "Critical latency detected")
	assert.NotContains(t, v, "High memory usage")
	assert.Contains(t, v, "1 open, 1 resolved")
	assert.Contains(t, v, "quizzes 9")
	assert.Contains(t, v, "user0 guessed The Artist")
	assert.Contains(t, v, "... 3 more")
	assert.Equal(t, 2, mon.frames)
}

func TestModel_IdleProgramKeepsFrameRateHealthy(t *testing.T) {
	mon := health.New(health.Options{
		TickInterval: 250 * time.Millisecond,
		MemoryProbe:  func() (float64, error) { return 1, nil },
	})
	defer mon.Stop()

	p := tea.NewProgram(New(newFakeFeed(), mon),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutSignalHandler(),
	)
	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	// No input and no feed traffic: only the frame tick drives redraws.
	time.Sleep(200 * time.Millisecond)
	mon.Start(context.Background())
	time.Sleep(1500 * time.Millisecond)

	snap := mon.Snapshot()
	alerts := mon.Alerts()
	p.Quit()
	require.NoError(t, <-done)

	assert.GreaterOrEqual(t, snap.Client.FPS, float64(30))
	for _, a := range alerts {
		assert.NotContains(t, a.Details, "fps", "unexpected alert %q", a.Message)
	}
}

func TestModel_FrameTickReschedules(t *testing.T) {
	m := New(newFakeFeed(), newFakeMonitor())
	_, cmd := m.Update(frameMsg{})
	require.NotNil(t, cmd)
}

func TestDescribe(t *testing.T) {
	ts := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		entry client.Entry
		want  string
	}{
		{
			name: "quiz with name",
			entry: client.Entry{Kind: client.MsgRealTimeEvent, EventType: client.MsgQuizTaken,
				Data: json.RawMessage(`{"personalityType":"The Scholar","userName":"Ann"}`)},
			want: "Ann took the quiz: The Scholar",
		},
		{
			name: "quiz anonymous",
			entry: client.Entry{Kind: client.MsgRealTimeEvent, EventType: client.MsgQuizTaken,
				Data: json.RawMessage(`{"personalityType":"The Leader"}`)},
			want: "someone took the quiz: The Leader",
		},
		{
			name: "guess falls back to user id",
			entry: client.Entry{Kind: client.MsgRealTimeEvent, EventType: client.MsgGuessMade, UserID: "u7",
				Data: json.RawMessage(`{"guessed":"The Artist","correct":false}`)},
			want: "u7 guessed The Artist",
		},
		{
			name:  "analytics",
			entry: client.Entry{Kind: client.MsgAnalyticsUpdate},
			want:  "analytics refreshed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.Timestamp = ts
			assert.Contains(t, describe(tt.entry, 100), tt.want)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghijk", 7))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("x", 50), 20), "..."))
}
