package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quizpulse/quizpulse/internal/config"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/quizpulse/quizpulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url+"/api/socket", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(data))
}

func TestHandleEvent(t *testing.T) {
	e := newTestEnv(t, HubOptions{})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantBody string
	}{
		{
			name:     "quiz taken",
			body:     `{"type":"quiz_taken","data":{"personalityType":"The Artist","userId":"u1","userName":"Ann"}}`,
			wantCode: http.StatusOK,
			wantBody: "Event broadcasted",
		},
		{
			name:     "guess made",
			body:     `{"type":"guess_made","data":{"challengeId":"c1","userId":"u1","userName":"Ann","guessed":"The Artist","actual":"The Artist"}}`,
			wantCode: http.StatusOK,
			wantBody: "Event broadcasted",
		},
		{
			name:     "unknown type",
			body:     `{"type":"user_joined","data":{}}`,
			wantCode: http.StatusBadRequest,
			wantBody: "Unknown event type",
		},
		{
			name:     "malformed body",
			body:     `{"type":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing fields",
			body:     `{"type":"guess_made","data":{"userId":"u1"}}`,
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := post(t, e.srv.URL, tt.body)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, body)
			}
		})
	}

	entry, err := e.store.UserStats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.TotalGuesses)
	assert.Equal(t, 1, entry.CorrectGuesses)
}

func TestHandleEvent_RelaysToSocketRoom(t *testing.T) {
	e := newTestEnv(t, HubOptions{})
	conn, _ := connect(t, e)
	subscribe(t, conn)

	code, _ := post(t, e.srv.URL, `{"type":"quiz_taken","data":{"personalityType":"The Scholar"}}`)
	require.Equal(t, http.StatusOK, code)

	f := expectFrame(t, conn, MsgRealTimeEvent)
	var ev struct {
		Type MessageType      `json:"type"`
		Data QuizTakenPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, MsgQuizTaken, ev.Type)
	assert.Equal(t, "The Scholar", ev.Data.PersonalityType)
	expectFrame(t, conn, MsgAnalyticsUpdate)
}

type brokenRecorder struct{}

func (brokenRecorder) RecordQuizTaken(context.Context, string, string) (store.QuizResult, error) {
	return store.QuizResult{}, errors.New("disk full")
}

func (brokenRecorder) RecordGuess(context.Context, store.GuessInput) (store.GuessResult, error) {
	return store.GuessResult{}, errors.New("disk full")
}

func TestHandleEvent_PersistenceFailure(t *testing.T) {
	hub := NewHub(brokenRecorder{}, failingSnapshotter{}, HubOptions{})
	defer hub.Stop()
	srv := httptest.NewServer(NewServer(config.ServerConfig{}, hub, failingSnapshotter{}, nil, nil, nil).Handler())
	defer srv.Close()

	code, body := post(t, srv.URL, `{"type":"quiz_taken","data":{"personalityType":"The Artist"}}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSocketInfoPlaceholder(t *testing.T) {
	e := newTestEnv(t, HubOptions{})
	resp, body := get(t, e.srv.URL+"/api/socket")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.NotEmpty(t, body)
}

func TestAnalyticsEndpoint(t *testing.T) {
	e := newTestEnv(t, HubOptions{})
	_, err := e.store.RecordQuizTaken(context.Background(), "The Innovator", "u1")
	require.NoError(t, err)

	resp, body := get(t, e.srv.URL+"/api/analytics?range=all")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p struct {
		TimeRange string `json:"timeRange"`
		Overview  struct {
			TotalQuizzes int `json:"totalQuizzes"`
		} `json:"overview"`
	}
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "all", p.TimeRange)
	assert.Equal(t, 1, p.Overview.TotalQuizzes)

	resp, _ = get(t, e.srv.URL+"/api/analytics?range=decade")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLeaderboardEndpoints(t *testing.T) {
	e := newTestEnv(t, HubOptions{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.store.RecordGuess(ctx, store.GuessInput{
			ChallengeID: "c", UserID: "u1", UserName: "Ann", Guessed: "The Leader", Actual: "The Leader",
		})
		require.NoError(t, err)
	}

	resp, body := get(t, e.srv.URL+"/api/leaderboard?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var top []store.LeaderboardEntry
	require.NoError(t, json.Unmarshal(body, &top))
	require.Len(t, top, 1)
	assert.Equal(t, 100, top[0].Accuracy)

	resp, _ = get(t, e.srv.URL+"/api/leaderboard?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, e.srv.URL+"/api/leaderboard/u1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, e.srv.URL+"/api/leaderboard/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type staticHealth struct{}

func (staticHealth) Snapshot() health.Snapshot {
	return health.Snapshot{Connection: health.ConnectionMetrics{Quality: health.QualityGood}}
}

func (staticHealth) Alerts() []health.Alert {
	return []health.Alert{{ID: "a1", Severity: health.SeverityWarning, Message: "High latency detected"}}
}

func TestHealthEndpoint(t *testing.T) {
	hub := NewHub(nil, failingSnapshotter{}, HubOptions{})
	defer hub.Stop()
	srv := httptest.NewServer(NewServer(config.ServerConfig{}, hub, failingSnapshotter{}, nil, staticHealth{}, nil).Handler())
	defer srv.Close()

	resp, body := get(t, srv.URL+"/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got struct {
		Sessions int `json:"sessions"`
		Metrics  struct {
			Connection struct {
				Quality string `json:"connectionQuality"`
			} `json:"connection"`
		} `json:"metrics"`
		Alerts []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 0, got.Sessions)
	assert.Equal(t, "good", got.Metrics.Connection.Quality)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, "warning", got.Alerts[0].Type)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, HubOptions{})
	connect(t, e)

	resp, body := get(t, e.srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "quizpulse_hub_sessions")
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "example.com", true},
		{"wildcard", []string{"*"}, "https://evil.test", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:3000", "example.com", true},
		{"loopback v6", nil, "http://[::1]:3000", "example.com", true},
		{"foreign", nil, "https://evil.test", "example.com", false},
		{"listed", []string{"https://app.test"}, "https://app.test", "example.com", true},
		{"listed host other scheme", []string{"https://app.test"}, "http://app.test", "example.com", true},
		{"not listed", []string{"https://app.test"}, "https://evil.test", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(config.ServerConfig{AllowedOrigins: tt.allowed}, nil, nil, nil, nil, nil)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(req))
		})
	}
}
