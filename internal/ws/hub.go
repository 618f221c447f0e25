package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/quizpulse/quizpulse/internal/metrics"
	"github.com/quizpulse/quizpulse/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrTooManyConnections is returned by Serve when the hub is full.
	ErrTooManyConnections = errors.New("too many connections")
	// ErrUnknownEventType is returned for domain events other than
	// quiz_taken and guess_made.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrInvalidPayload wraps payload decoding and validation failures.
	ErrInvalidPayload = errors.New("invalid payload")
)

const (
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
	maxMessageSize    = 64 * 1024
	recomputeFailed   = "Analytics recompute failed"
)

// Recorder persists domain events.
type Recorder interface {
	RecordQuizTaken(ctx context.Context, personalityType, userID string) (store.QuizResult, error)
	RecordGuess(ctx context.Context, in store.GuessInput) (store.GuessResult, error)
}

// Snapshotter produces analytics payloads.
type Snapshotter interface {
	ComputeSnapshot(ctx context.Context, r analytics.TimeRange) (analytics.Payload, error)
	Invalidate()
}

// Alerter receives failures that should show up as health alerts.
type Alerter interface {
	Raise(sev health.Severity, category health.Category, message string, details map[string]any) (health.Alert, bool)
}

type HubOptions struct {
	AnalyticsDelay    time.Duration
	DefaultTimeRange  analytics.TimeRange
	SendBuffer        int
	MaxConnections    int // 0 = unlimited
	MessagesPerSecond float64
	MessageBurst      int
	Alerter           Alerter
	Logger            *logrus.Logger
}

type session struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	limiter     *rate.Limiter
	connectedAt time.Time
	closed      bool // guarded by Hub.bcastMu
}

func (s *session) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// Hub tracks connected sessions and the analytics room, relays domain events
// and schedules delayed analytics recomputes.
//
// All outbound traffic goes through bcastMu, so every session sees
// broadcasts in hub arrival order.
type Hub struct {
	opts     HubOptions
	recorder Recorder
	snaps    Snapshotter
	logger   *logrus.Logger

	bcastMu sync.Mutex

	mu       sync.RWMutex
	sessions []*session // connection order
	byID     map[string]*session
	rooms    map[string]map[string]*session

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool

	statsMu sync.Mutex
	stats   hubStats
}

type hubStats struct {
	in, out, errors int
	handling        time.Duration
	since           time.Time
}

func NewHub(recorder Recorder, snaps Snapshotter, opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.AnalyticsDelay <= 0 {
		opts.AnalyticsDelay = time.Second
	}
	if opts.DefaultTimeRange == "" {
		opts.DefaultTimeRange = analytics.DefaultTimeRange
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	return &Hub{
		opts:     opts,
		recorder: recorder,
		snaps:    snaps,
		logger:   opts.Logger,
		byID:     make(map[string]*session),
		rooms:    map[string]map[string]*session{RoomAnalytics: {}},
		timers:   make(map[*time.Timer]struct{}),
		stats:    hubStats{since: time.Now()},
	}
}

// register adds a connection. The new session gets an analytics snapshot of
// its own, then every session gets the new count.
func (h *Hub) register(conn *websocket.Conn) (*session, error) {
	s := &session{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, h.opts.SendBuffer),
		connectedAt: time.Now(),
	}
	if h.opts.MessagesPerSecond > 0 {
		burst := h.opts.MessageBurst
		if burst <= 0 {
			burst = int(h.opts.MessagesPerSecond) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), burst)
	}

	snapshot, snapErr := h.snaps.ComputeSnapshot(context.Background(), h.opts.DefaultTimeRange)

	h.bcastMu.Lock()
	h.mu.Lock()
	if h.opts.MaxConnections > 0 && len(h.sessions) >= h.opts.MaxConnections {
		h.mu.Unlock()
		h.bcastMu.Unlock()
		metrics.HubErrorsTotal.WithLabelValues("max_connections").Inc()
		return nil, ErrTooManyConnections
	}
	h.sessions = append(h.sessions, s)
	h.byID[s.id] = s
	count := len(h.sessions)
	h.mu.Unlock()

	go s.writePump()

	var slow []*session
	if snapErr != nil {
		h.analyticsFailed(snapErr)
	} else {
		slow = append(slow, h.deliver([]*session{s}, analyticsMessage(snapshot))...)
	}
	slow = append(slow, h.deliver(h.allSessions(), userCountMessage(count))...)
	h.bcastMu.Unlock()
	h.evict(slow)

	metrics.HubSessions.Set(float64(count))
	h.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"remote":     conn.RemoteAddr().String(),
		"count":      count,
	}).Info("Session connected")
	return s, nil
}

// unregister removes a session from the hub and its rooms, closes its send
// buffer and broadcasts the new count. Repeated calls are no-ops.
func (h *Hub) unregister(s *session) {
	h.bcastMu.Lock()
	h.mu.Lock()
	if _, ok := h.byID[s.id]; !ok {
		h.mu.Unlock()
		h.bcastMu.Unlock()
		return
	}
	delete(h.byID, s.id)
	for i, cur := range h.sessions {
		if cur == s {
			h.sessions = append(h.sessions[:i], h.sessions[i+1:]...)
			break
		}
	}
	for name, members := range h.rooms {
		if _, ok := members[s.id]; ok {
			delete(members, s.id)
			metrics.HubRoomMembers.WithLabelValues(name).Set(float64(len(members)))
		}
	}
	count := len(h.sessions)
	h.mu.Unlock()

	s.closed = true
	close(s.send)
	slow := h.deliver(h.allSessions(), userCountMessage(count))
	h.bcastMu.Unlock()
	h.evict(slow)

	metrics.HubSessions.Set(float64(count))
	h.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"count":      count,
		"connected":  time.Since(s.connectedAt).Round(time.Millisecond).String(),
	}).Info("Session disconnected")
}

// Serve registers conn and reads from it until the connection fails or the
// session is evicted.
func (h *Hub) Serve(conn *websocket.Conn) error {
	s, err := h.register(conn)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(time.Second))
		_ = conn.Close()
		return err
	}
	defer h.unregister(s)

	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		h.handleMessage(s, data)
	}
}

func (h *Hub) handleMessage(s *session, data []byte) {
	start := time.Now()
	ok := h.dispatch(s, data)
	h.statsMu.Lock()
	h.stats.in++
	h.stats.handling += time.Since(start)
	if !ok {
		h.stats.errors++
	}
	h.statsMu.Unlock()
}

// dispatch handles one inbound frame and reports whether it succeeded.
func (h *Hub) dispatch(s *session, data []byte) bool {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.HubErrorsTotal.WithLabelValues("rate_limited").Inc()
		h.logger.WithField("session_id", s.id).Debug("Inbound message rate limited")
		return false
	}

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.HubErrorsTotal.WithLabelValues("malformed").Inc()
		h.logger.WithError(err).WithField("session_id", s.id).Debug("Malformed inbound message")
		h.reply(s, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "malformed message"}})
		return false
	}
	metrics.HubMessagesTotal.WithLabelValues("in", string(msg.Type)).Inc()
	h.logger.WithFields(logrus.Fields{"session_id": s.id, "type": msg.Type}).Debug("Inbound message")

	switch msg.Type {
	case MsgSubscribeAnalytics:
		h.join(s, RoomAnalytics)
	case MsgUnsubscribeAnalytics:
		h.leave(s, RoomAnalytics)
	case MsgPing:
		h.reply(s, WSMessage{Type: MsgPong})
	case MsgRequestAnalytics:
		return h.handleAnalyticsRequest(s, msg.Payload)
	case MsgQuizTaken, MsgGuessMade:
		if err := h.HandleDomainEvent(context.Background(), string(msg.Type), msg.Payload); err != nil {
			h.reply(s, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}})
			return false
		}
	default:
		metrics.HubErrorsTotal.WithLabelValues("unknown_type").Inc()
		h.reply(s, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: fmt.Sprintf("unknown message type %q", msg.Type)}})
		return false
	}
	return true
}

func (h *Hub) join(s *session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byID[s.id]; !ok {
		return
	}
	members := h.rooms[room]
	if _, ok := members[s.id]; ok {
		return
	}
	members[s.id] = s
	metrics.HubRoomMembers.WithLabelValues(room).Set(float64(len(members)))
	h.logger.WithFields(logrus.Fields{"session_id": s.id, "room": room}).Info("Session subscribed")
}

func (h *Hub) leave(s *session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	if _, ok := members[s.id]; !ok {
		return
	}
	delete(members, s.id)
	metrics.HubRoomMembers.WithLabelValues(room).Set(float64(len(members)))
	h.logger.WithFields(logrus.Fields{"session_id": s.id, "room": room}).Info("Session unsubscribed")
}

func (h *Hub) handleAnalyticsRequest(s *session, raw json.RawMessage) bool {
	var req AnalyticsRequestPayload
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &req); err != nil {
			h.reply(s, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "malformed analytics request"}})
			return false
		}
	}
	r := analytics.TimeRange(req.TimeRange)
	if r == "" {
		r = h.opts.DefaultTimeRange
	}
	p, err := h.snaps.ComputeSnapshot(context.Background(), r)
	if err != nil {
		h.logger.WithError(err).WithField("session_id", s.id).Warn("Analytics request failed")
		h.reply(s, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}})
		return false
	}
	h.reply(s, analyticsMessage(p))
	return true
}

// HandleDomainEvent persists a quiz_taken or guess_made event, relays it to
// the analytics room and schedules a delayed analytics broadcast. It backs
// both the socket handlers and the HTTP event endpoint.
func (h *Hub) HandleDomainEvent(ctx context.Context, eventType string, raw json.RawMessage) error {
	var ev RealTimeEvent
	switch MessageType(eventType) {
	case MsgQuizTaken:
		var p QuizTakenPayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		if p.PersonalityType == "" {
			return fmt.Errorf("%w: personalityType is required", ErrInvalidPayload)
		}
		if _, err := h.recorder.RecordQuizTaken(ctx, p.PersonalityType, p.UserID); err != nil {
			metrics.HubErrorsTotal.WithLabelValues("persist").Inc()
			return fmt.Errorf("record quiz: %w", err)
		}
		ev = RealTimeEvent{Type: MsgQuizTaken, Data: p, UserID: p.UserID}

	case MsgGuessMade:
		var p GuessMadePayload
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
		if p.UserID == "" || p.Guessed == "" || p.Actual == "" {
			return fmt.Errorf("%w: userId, guessed and actual are required", ErrInvalidPayload)
		}
		res, err := h.recorder.RecordGuess(ctx, store.GuessInput{
			ChallengeID: p.ChallengeID,
			UserID:      p.UserID,
			UserName:    p.UserName,
			Guessed:     p.Guessed,
			Actual:      p.Actual,
		})
		if err != nil {
			metrics.HubErrorsTotal.WithLabelValues("persist").Inc()
			return fmt.Errorf("record guess: %w", err)
		}
		ev = RealTimeEvent{Type: MsgGuessMade, Data: GuessEventData{GuessMadePayload: p, Correct: res.Correct}, UserID: p.UserID}

	default:
		metrics.HubErrorsTotal.WithLabelValues("unknown_type").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	h.snaps.Invalidate()
	ev.Timestamp = time.Now().UTC()
	h.broadcastRoom(RoomAnalytics, WSMessage{Type: MsgRealTimeEvent, Payload: ev})
	h.scheduleAnalytics()

	h.logger.WithFields(logrus.Fields{"type": eventType, "user_id": ev.UserID}).Info("Domain event relayed")
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// scheduleAnalytics broadcasts a fresh snapshot to the room after the
// configured delay. Each event schedules its own broadcast.
func (h *Hub) scheduleAnalytics() {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()
	if h.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(h.opts.AnalyticsDelay, func() {
		h.timerMu.Lock()
		_, live := h.timers[t]
		delete(h.timers, t)
		h.timerMu.Unlock()
		if live {
			h.BroadcastAnalytics(context.Background())
		}
	})
	h.timers[t] = struct{}{}
}

// BroadcastAnalytics recomputes the default-range snapshot and sends it to
// the analytics room. A failed recompute skips the cycle and raises an alert.
func (h *Hub) BroadcastAnalytics(ctx context.Context) {
	p, err := h.snaps.ComputeSnapshot(ctx, h.opts.DefaultTimeRange)
	if err != nil {
		h.analyticsFailed(err)
		return
	}
	h.broadcastRoom(RoomAnalytics, analyticsMessage(p))
}

func (h *Hub) analyticsFailed(err error) {
	metrics.HubErrorsTotal.WithLabelValues("analytics").Inc()
	h.logger.WithError(err).Error(recomputeFailed)
	if h.opts.Alerter != nil {
		h.opts.Alerter.Raise(health.SeverityError, health.CategoryData, recomputeFailed,
			map[string]any{"error": err.Error()})
	}
}

func analyticsMessage(p analytics.Payload) WSMessage {
	return WSMessage{
		Type: MsgAnalyticsUpdate,
		Payload: AnalyticsUpdatePayload{
			Type:      MsgAnalyticsUpdate,
			Data:      p,
			Timestamp: time.Now().UTC(),
		},
	}
}

func userCountMessage(n int) WSMessage {
	return WSMessage{Type: MsgUserCount, Payload: UserCountPayload{Count: n, Timestamp: time.Now().UTC()}}
}

func (h *Hub) allSessions() []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*session(nil), h.sessions...)
}

// roomSessions returns room members in connection order.
func (h *Hub) roomSessions(room string) []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]*session, 0, len(members))
	for _, s := range h.sessions {
		if _, ok := members[s.id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (h *Hub) broadcastRoom(room string, msg WSMessage) {
	h.bcastMu.Lock()
	slow := h.deliver(h.roomSessions(room), msg)
	h.bcastMu.Unlock()
	h.evict(slow)
}

func (h *Hub) reply(s *session, msg WSMessage) {
	h.bcastMu.Lock()
	slow := h.deliver([]*session{s}, msg)
	h.bcastMu.Unlock()
	h.evict(slow)
}

// deliver queues msg on each recipient without blocking and returns the
// sessions whose buffers were full. Caller must hold bcastMu.
func (h *Hub) deliver(to []*session, msg WSMessage) []*session {
	if len(to) == 0 {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).WithField("type", msg.Type).Error("Broadcast marshal error")
		return nil
	}

	var slow []*session
	sent := 0
	for _, s := range to {
		if s.closed {
			continue
		}
		select {
		case s.send <- data:
			sent++
		default:
			slow = append(slow, s)
		}
	}
	metrics.HubMessagesTotal.WithLabelValues("out", string(msg.Type)).Add(float64(sent))
	h.statsMu.Lock()
	h.stats.out += sent
	h.statsMu.Unlock()
	return slow
}

func (h *Hub) evict(slow []*session) {
	for _, s := range slow {
		metrics.HubSlowClientsTotal.Inc()
		h.logger.WithField("session_id", s.id).Warn("Session too slow, disconnecting")
		h.unregister(s)
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomSize returns the number of sessions in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Sample reports hub traffic since the previous sample into the server group
// of a health snapshot.
func (h *Hub) Sample(snap *health.Snapshot) {
	now := time.Now()
	h.statsMu.Lock()
	st := h.stats
	h.stats = hubStats{since: now}
	h.statsMu.Unlock()

	snap.Server.ActiveConnections = h.SessionCount()
	if elapsed := now.Sub(st.since).Seconds(); elapsed > 0 {
		snap.Server.Throughput = float64(int((float64(st.in+st.out)/elapsed)*10+0.5)) / 10
	}
	if st.in > 0 {
		snap.Server.ErrorRate = float64(int(float64(st.errors)*1000/float64(st.in)+0.5)) / 10
		snap.Server.ResponseTimeMs = float64((st.handling / time.Duration(st.in)).Microseconds()) / 1000
	}
}

// Stop cancels pending analytics broadcasts and closes every session.
func (h *Hub) Stop() {
	h.timerMu.Lock()
	h.stopped = true
	for t := range h.timers {
		t.Stop()
		delete(h.timers, t)
	}
	h.timerMu.Unlock()

	for _, s := range h.allSessions() {
		h.unregister(s)
	}
}
