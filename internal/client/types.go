// Package client provides the realtime transport session, the live dashboard
// feed and an HTTP client for the quizpulse hub. Wire types mirror the hub
// protocol without importing the hub package.
package client

import (
	"encoding/json"
	"time"

	"github.com/quizpulse/quizpulse/internal/analytics"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgSubscribeAnalytics   MessageType = "subscribe_analytics"
	MsgUnsubscribeAnalytics MessageType = "unsubscribe_analytics"
	MsgQuizTaken            MessageType = "quiz_taken"
	MsgGuessMade            MessageType = "guess_made"
	MsgPing                 MessageType = "ping"
	MsgRequestAnalytics     MessageType = "request_analytics_update"

	MsgPong            MessageType = "pong"
	MsgRealTimeEvent   MessageType = "real_time_event"
	MsgAnalyticsUpdate MessageType = "analytics_update"
	MsgUserCount       MessageType = "user_count"
	MsgError           MessageType = "error"
)

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outbound struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// Message is an inbound frame handed to consumers of Session.Messages.
type Message struct {
	Type     MessageType
	Payload  json.RawMessage
	Received time.Time
}

// QuizTaken is the payload of a quiz_taken event.
type QuizTaken struct {
	PersonalityType string `json:"personalityType"`
	UserID          string `json:"userId"`
	UserName        string `json:"userName"`
}

// GuessMade is the payload of a guess_made event.
type GuessMade struct {
	ChallengeID string `json:"challengeId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Guessed     string `json:"guessed"`
	Actual      string `json:"actual"`
}

// RealTimeEvent is a relayed domain event. Data keeps the raw event body;
// for guesses it carries the extra "correct" field filled in by the hub.
type RealTimeEvent struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// AnalyticsUpdate carries a recomputed analytics payload.
type AnalyticsUpdate struct {
	Type      MessageType       `json:"type"`
	Data      analytics.Payload `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

type UserCount struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type analyticsRequest struct {
	TimeRange string `json:"timeRange"`
}

// State is the user-visible connection state of a Session.
type State struct {
	Connected     bool
	Connecting    bool
	Error         string
	LiveUserCount int
	LastUpdate    time.Time
}
