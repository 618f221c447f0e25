package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quizpulse/quizpulse/internal/config"
	"github.com/quizpulse/quizpulse/internal/ingress"
	"github.com/quizpulse/quizpulse/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	defaultReconnectDelay    = 3 * time.Second
	defaultHeartbeatInterval = 5 * time.Second
	defaultDialTimeout       = 5 * time.Second
	defaultDialAttempts      = 3
	writeTimeout             = 10 * time.Second
	messageBuffer            = 64
)

var (
	// ErrNotConnected is logged when a send finds no live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrDisconnected is returned by Connect when Disconnect ran while the
	// dial was in flight.
	ErrDisconnected = errors.New("disconnected while connecting")
)

// Reporter receives transport health figures. *health.Monitor satisfies it.
type Reporter interface {
	RecordLatency(d time.Duration)
	RecordPingLost()
	RecordReconnect()
	RecordBytes(n int)
	EnqueueEvent(ev ingress.Event) bool
}

type nopReporter struct{}

func (nopReporter) RecordLatency(time.Duration)     {}
func (nopReporter) RecordPingLost()                 {}
func (nopReporter) RecordReconnect()                {}
func (nopReporter) RecordBytes(int)                 {}
func (nopReporter) EnqueueEvent(ingress.Event) bool { return true }

type Options struct {
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	DialAttempts      int
	Reporter          Reporter
	Dialer            *websocket.Dialer
	Logger            *logrus.Logger
}

func OptionsFromConfig(cfg config.SessionConfig, reporter Reporter, logger *logrus.Logger) Options {
	return Options{
		URL:               cfg.URL,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DialTimeout:       cfg.DialTimeout,
		DialAttempts:      cfg.DialAttempts,
		Reporter:          reporter,
		Logger:            logger,
	}
}

func (o *Options) applyDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = defaultDialAttempts
	}
	if o.Reporter == nil {
		o.Reporter = nopReporter{}
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
}

// Session is one logical connection to the hub. It moves between
// disconnected, connecting and connected; any disconnect it did not ask for
// schedules a reconnect after ReconnectDelay, while Disconnect is terminal.
type Session struct {
	opts   Options
	logger *logrus.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	gen        uint64 // bumped whenever a connection is attached or detached
	epoch      uint64 // bumped by Disconnect; stale reconnects compare against it
	dialCancel context.CancelFunc
	connCancel context.CancelFunc
	retry      *time.Timer
	pingSent   time.Time // zero when no ping is outstanding

	writeMu sync.Mutex // serialises all conn writes

	msgs chan Message

	watchMu  sync.Mutex
	nextW    int
	watchers map[int]chan State

	wg sync.WaitGroup
}

func NewSession(opts Options) *Session {
	opts.applyDefaults()
	return &Session{
		opts:     opts,
		logger:   opts.Logger,
		msgs:     make(chan Message, messageBuffer),
		watchers: make(map[int]chan State),
	}
}

// Connect dials the hub unless a connection is already up or being set up.
// Each call makes up to DialAttempts tries bounded by DialTimeout. A failure
// is recorded in State.Error and retried after ReconnectDelay.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.stopRetryLocked()
	epoch := s.epoch
	s.mu.Unlock()
	return s.connect(ctx, epoch)
}

func (s *Session) connect(ctx context.Context, epoch uint64) error {
	s.mu.Lock()
	if s.epoch != epoch || s.state.Connected || s.state.Connecting {
		s.mu.Unlock()
		return nil
	}
	dialCtx, cancel := context.WithCancel(ctx)
	s.dialCancel = cancel
	s.state.Connecting = true
	s.notifyLocked()
	s.mu.Unlock()

	conn, err := s.dial(dialCtx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialCancel = nil
	s.state.Connecting = false
	if s.epoch != epoch {
		if conn != nil {
			_ = conn.Close()
		}
		s.notifyLocked()
		return ErrDisconnected
	}
	if err != nil {
		s.state.Error = err.Error()
		s.notifyLocked()
		s.logger.WithError(err).WithField("url", s.opts.URL).Warn("Session connect failed")
		s.scheduleRetryLocked()
		return err
	}
	s.attachLocked(conn)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.DialAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
		conn, _, err := s.opts.Dialer.DialContext(attemptCtx, s.opts.URL, nil)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"url":     s.opts.URL,
			"attempt": attempt,
		}).Debug("Dial attempt failed")
	}
	return nil, fmt.Errorf("dial %s: %w", s.opts.URL, lastErr)
}

func (s *Session) attachLocked(conn *websocket.Conn) {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCancel = cancel
	s.pingSent = time.Time{}
	s.state.Connected = true
	s.state.Error = ""
	s.notifyLocked()

	s.wg.Add(2)
	go s.readLoop(conn, gen)
	go s.heartbeat(ctx, conn, gen)

	s.logger.WithField("url", s.opts.URL).Info("Session connected")
}

func (s *Session) detachLocked() {
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.gen++
	s.pingSent = time.Time{}
	s.state.Connected = false
}

// dropped handles a read failure on the connection of generation gen.
func (s *Session) dropped(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.detachLocked()
	s.state.Error = err.Error()
	s.notifyLocked()
	s.logger.WithError(err).WithField("retry_in", s.opts.ReconnectDelay).Warn("Session dropped")
	s.scheduleRetryLocked()
}

func (s *Session) scheduleRetryLocked() {
	s.stopRetryLocked()
	epoch := s.epoch
	metrics.SessionReconnectsTotal.Inc()
	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(s.opts.ReconnectDelay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		if s.retry == t {
			s.retry = nil
		}
		stale := s.epoch != epoch
		s.mu.Unlock()
		if stale {
			return
		}
		s.opts.Reporter.RecordReconnect()
		s.logger.WithField("url", s.opts.URL).Info("Session reconnecting")
		_ = s.connect(context.Background(), epoch)
	})
	s.retry = t
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil && s.retry.Stop() {
		s.wg.Done()
	}
	s.retry = nil
}

// Disconnect closes the connection and cancels any pending reconnect, dial
// or heartbeat. No reconnect follows until Connect is called again. It
// returns once every session goroutine has exited.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.epoch++
	s.stopRetryLocked()
	if s.dialCancel != nil {
		s.dialCancel()
	}
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.detachLocked()
		s.logger.WithField("url", s.opts.URL).Info("Session disconnected")
	}
	s.state.Connected = false
	s.state.Connecting = false
	s.state.Error = ""
	s.notifyLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Session) readLoop(conn *websocket.Conn, gen uint64) {
	defer s.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.dropped(gen, err)
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame accounts every inbound frame with the reporter before looking
// at what it is.
func (s *Session) handleFrame(data []byte) {
	now := time.Now()
	s.opts.Reporter.RecordBytes(len(data))

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.WithError(err).Debug("Malformed frame from hub")
		return
	}
	s.opts.Reporter.EnqueueEvent(ingress.Event{Type: string(msg.Type), Data: msg.Payload, Timestamp: now})

	switch msg.Type {
	case MsgPong:
		s.mu.Lock()
		sent := s.pingSent
		s.pingSent = time.Time{}
		s.mu.Unlock()
		if !sent.IsZero() {
			rtt := now.Sub(sent)
			s.opts.Reporter.RecordLatency(rtt)
			s.logger.WithField("latency_ms", rtt.Milliseconds()).Debug("Heartbeat")
		}
		return
	case MsgUserCount:
		var p UserCount
		if json.Unmarshal(msg.Payload, &p) == nil {
			s.mu.Lock()
			s.state.LiveUserCount = p.Count
			s.state.LastUpdate = now
			s.notifyLocked()
			s.mu.Unlock()
		}
	case MsgAnalyticsUpdate, MsgRealTimeEvent:
		s.mu.Lock()
		s.state.LastUpdate = now
		s.notifyLocked()
		s.mu.Unlock()
	case MsgError:
		var p ErrorPayload
		_ = json.Unmarshal(msg.Payload, &p)
		s.logger.WithField("message", p.Message).Warn("Hub reported an error")
	}

	select {
	case s.msgs <- Message{Type: msg.Type, Payload: msg.Payload, Received: now}:
	default:
		s.logger.WithField("type", msg.Type).Warn("Session message buffer full, message dropped")
	}
}

// heartbeat pings every HeartbeatInterval. A ping still unanswered when the
// next one is due counts as lost.
func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn, gen uint64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			lost := !s.pingSent.IsZero()
			s.pingSent = time.Now()
			s.mu.Unlock()

			if lost {
				s.opts.Reporter.RecordPingLost()
				s.logger.Debug("Heartbeat ping lost")
			}
			if err := s.write(conn, outbound{Type: MsgPing}); err != nil {
				return
			}
		}
	}
}

func (s *Session) write(conn *websocket.Conn, msg outbound) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// send writes msg if connected and reports whether it went out.
func (s *Session) send(msg outbound) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.logger.WithError(ErrNotConnected).WithField("type", msg.Type).Debug("Message not sent")
		return false
	}
	if err := s.write(conn, msg); err != nil {
		s.logger.WithError(err).WithField("type", msg.Type).Debug("Message not sent")
		return false
	}
	return true
}

// Subscribe joins the analytics room. It is a no-op when not connected.
func (s *Session) Subscribe() bool {
	return s.send(outbound{Type: MsgSubscribeAnalytics})
}

// Unsubscribe leaves the analytics room. It is a no-op when not connected.
func (s *Session) Unsubscribe() bool {
	return s.send(outbound{Type: MsgUnsubscribeAnalytics})
}

// RequestAnalytics asks the hub for a fresh snapshot for this session only.
func (s *Session) RequestAnalytics(timeRange string) bool {
	return s.send(outbound{Type: MsgRequestAnalytics, Payload: analyticsRequest{TimeRange: timeRange}})
}

func (s *Session) EmitQuizTaken(p QuizTaken) bool {
	return s.emit(MsgQuizTaken, p)
}

func (s *Session) EmitGuessMade(p GuessMade) bool {
	return s.emit(MsgGuessMade, p)
}

// emit records the event locally, then sends it if connected. Events sent
// while disconnected are dropped.
func (s *Session) emit(kind MessageType, payload any) bool {
	s.opts.Reporter.EnqueueEvent(ingress.Event{Type: string(kind), Data: payload, Timestamp: time.Now()})
	return s.send(outbound{Type: kind, Payload: payload})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages delivers every inbound frame except pongs. Frames are dropped
// when the consumer falls more than a buffer behind.
func (s *Session) Messages() <-chan Message {
	return s.msgs
}

// Watch returns a channel holding the latest State, primed with the current
// one. The returned func detaches and closes the channel.
func (s *Session) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.mu.Lock()
	s.watchMu.Lock()
	s.nextW++
	id := s.nextW
	s.watchers[id] = ch
	ch <- s.state
	s.watchMu.Unlock()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			delete(s.watchers, id)
			close(ch)
		})
	}
}

func (s *Session) notifyLocked() {
	st := s.state
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
