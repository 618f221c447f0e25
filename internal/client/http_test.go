package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_PostEvents(t *testing.T) {
	var (
		mu  sync.Mutex
		got []eventBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/socket" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Type MessageType     `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Malformed request body", http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, eventBody{Type: body.Type, Data: string(body.Data)})
		mu.Unlock()
		if body.Type == MsgGuessMade {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("Event broadcasted"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/")
	defer c.CloseIdleConnections()

	require.NoError(t, c.PostQuizTaken(QuizTaken{PersonalityType: "The Artist", UserID: "u1"}))

	err := c.PostGuessMade(GuessMade{UserID: "u1", Guessed: "The Artist", Actual: "The Artist"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500 Internal server error")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, MsgQuizTaken, got[0].Type)
	assert.JSONEq(t, `{"personalityType":"The Artist","userId":"u1","userName":""}`, got[0].Data.(string))
	assert.Equal(t, MsgGuessMade, got[1].Type)
}
