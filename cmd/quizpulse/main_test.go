package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/quizpulse/quizpulse/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveHTTPBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws://127.0.0.1:8080/ws", "http://127.0.0.1:8080"},
		{"wss://quiz.example.com/ws", "https://quiz.example.com"},
		{"http://localhost:9000", "http://localhost:9000"},
		{"not a url", "http://127.0.0.1:8080"},
		{"", "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveHTTPBase(tt.in))
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithField("count", 2).Debug("hello")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.EqualValues(t, 2, line["count"])

	_, err = newLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf)
	assert.Error(t, err)
}

type recordedPost struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func fakeHub(t *testing.T) (*httptest.Server, func() []recordedPost) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []recordedPost
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/socket" {
			http.NotFound(w, r)
			return
		}
		var p recordedPost
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		w.Write([]byte("Event broadcasted"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedPost {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedPost(nil), got...)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		emitURL, emitUserID, emitUserName, emitChallengeID = "", "", "", ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEmitCommands(t *testing.T) {
	srv, posts := fakeHub(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	missing := filepath.Join(t.TempDir(), "none.yaml")

	out, err := execute(t, "--config", missing, "emit", "quiz", "The Scholar", "--url", wsURL, "--user", "u1", "--name", "Ann")
	require.NoError(t, err)
	assert.Contains(t, out, "quiz_taken sent")

	out, err = execute(t, "--config", missing, "emit", "guess", "The Artist", "The Leader", "--url", wsURL, "--user", "u2", "--challenge", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "challenge c1")

	got := posts()
	require.Len(t, got, 2)
	assert.Equal(t, "quiz_taken", got[0].Type)
	assert.JSONEq(t, `{"personalityType":"The Scholar","userId":"u1","userName":"Ann"}`, string(got[0].Data))
	assert.Equal(t, "guess_made", got[1].Type)
	assert.JSONEq(t, `{"challengeId":"c1","userId":"u2","userName":"","guessed":"The Artist","actual":"The Leader"}`, string(got[1].Data))
}

func TestEmitUsesConfigURL(t *testing.T) {
	srv, posts := fakeHub(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "session:\n  url: ws" + strings.TrimPrefix(srv.URL, "http") + "/ws\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := execute(t, "--config", path, "emit", "quiz", "The Leader")
	require.NoError(t, err)
	require.Len(t, posts(), 1)
}

func TestEmitRejectsWrongArgs(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")
	_, err := execute(t, "--config", missing, "emit", "guess", "only-one")
	assert.Error(t, err)
}
