package ws

import (
	"encoding/json"
	"time"

	"github.com/quizpulse/quizpulse/internal/analytics"
)

type MessageType string

const (
	// session -> hub
	MsgSubscribeAnalytics   MessageType = "subscribe_analytics"
	MsgUnsubscribeAnalytics MessageType = "unsubscribe_analytics"
	MsgQuizTaken            MessageType = "quiz_taken"
	MsgGuessMade            MessageType = "guess_made"
	MsgPing                 MessageType = "ping"
	MsgRequestAnalytics     MessageType = "request_analytics_update"

	// hub -> session
	MsgPong            MessageType = "pong"
	MsgRealTimeEvent   MessageType = "real_time_event"
	MsgAnalyticsUpdate MessageType = "analytics_update"
	MsgUserCount       MessageType = "user_count"
	MsgError           MessageType = "error"
)

// RoomAnalytics is the only broadcast room.
const RoomAnalytics = "analytics"

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type QuizTakenPayload struct {
	PersonalityType string `json:"personalityType"`
	UserID          string `json:"userId"`
	UserName        string `json:"userName"`
}

type GuessMadePayload struct {
	ChallengeID string `json:"challengeId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Guessed     string `json:"guessed"`
	Actual      string `json:"actual"`
}

// GuessEventData is the relayed form of a guess, with the outcome filled in.
type GuessEventData struct {
	GuessMadePayload
	Correct bool `json:"correct"`
}

type AnalyticsRequestPayload struct {
	TimeRange string `json:"timeRange"`
}

// RealTimeEvent is relayed to the analytics room for every domain event.
type RealTimeEvent struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	UserID    string      `json:"userId,omitempty"`
}

type AnalyticsUpdatePayload struct {
	Type      MessageType       `json:"type"`
	Data      analytics.Payload `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

type UserCountPayload struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
