package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient posts domain events to the hub's request/response endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type eventBody struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// PostQuizTaken sends POST /api/socket with a quiz_taken event.
func (c *HTTPClient) PostQuizTaken(p QuizTaken) error {
	return c.post("/api/socket", eventBody{Type: MsgQuizTaken, Data: p})
}

// PostGuessMade sends POST /api/socket with a guess_made event.
func (c *HTTPClient) PostGuessMade(p GuessMade) error {
	return c.post("/api/socket", eventBody{Type: MsgGuessMade, Data: p})
}

func (c *HTTPClient) post(path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// CloseIdleConnections releases pooled connections.
func (c *HTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
