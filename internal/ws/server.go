package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/config"
	"github.com/quizpulse/quizpulse/internal/health"
	"github.com/quizpulse/quizpulse/internal/metrics"
	"github.com/quizpulse/quizpulse/internal/store"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const maxEventBody = 64 * 1024

// LeaderboardReader is the read side of the leaderboard store.
type LeaderboardReader interface {
	TopPlayers(ctx context.Context, limit int) ([]store.LeaderboardEntry, error)
	UserStats(ctx context.Context, userID string) (store.LeaderboardEntry, error)
}

// HealthReporter exposes the server-side monitor.
type HealthReporter interface {
	Snapshot() health.Snapshot
	Alerts() []health.Alert
}

type Server struct {
	hub            *Hub
	snaps          Snapshotter
	board          LeaderboardReader
	monitor        HealthReporter
	logger         *logrus.Logger
	corsOrigins    []string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	allowAny       bool
}

func NewServer(cfg config.ServerConfig, hub *Hub, snaps Snapshotter, board LeaderboardReader, monitor HealthReporter, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	s := &Server{
		hub:            hub,
		snaps:          snaps,
		board:          board,
		monitor:        monitor,
		logger:         logger,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			s.allowAny = true
		}
		s.corsOrigins = append(s.corsOrigins, trimmed)
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// Handler builds the router: websocket upgrade, event ingestion, read-only
// JSON endpoints and Prometheus metrics, wrapped in CORS and security
// headers.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/api/socket", s.handleSocketInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/socket", s.handleEvent).Methods(http.MethodPost)
	r.HandleFunc("/api/analytics", s.handleAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/api/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/api/leaderboard/{userId}", s.handleUserStats).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return securityHeaders(c.Handler(r))
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("remote", r.RemoteAddr).Warn("WebSocket upgrade failed")
		return
	}
	if err := s.hub.Serve(conn); err != nil {
		s.logger.WithError(err).WithField("remote", r.RemoteAddr).Warn("WebSocket session rejected")
	}
}

func (s *Server) handleSocketInfo(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Realtime updates are delivered over the websocket endpoint at /ws")
}

type eventRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		http.Error(w, "Malformed request body", http.StatusBadRequest)
		return
	}

	err := s.hub.HandleDomainEvent(r.Context(), req.Type, req.Data)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Event broadcasted")
	case errors.Is(err, ErrUnknownEventType):
		http.Error(w, "Unknown event type", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.WithError(err).WithField("type", req.Type).Error("Event handling failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	tr, err := analytics.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.snaps.ComputeSnapshot(r.Context(), tr)
	if err != nil {
		s.logger.WithError(err).Error("Analytics request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}
	players, err := s.board.TopPlayers(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Leaderboard request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, players)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	entry, err := s.board.UserStats(r.Context(), mux.Vars(r)["userId"])
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "user not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.WithError(err).Error("User stats request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entry)
}

type healthResponse struct {
	Sessions int             `json:"sessions"`
	Metrics  health.Snapshot `json:"metrics"`
	Alerts   []health.Alert  `json:"alerts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Sessions: s.hub.SessionCount(), Alerts: []health.Alert{}}
	if s.monitor != nil {
		resp.Metrics = s.monitor.Snapshot()
		resp.Alerts = s.monitor.Alerts()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAny {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	return parsed.Host == r.Host || host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ListenAndServe runs handler on addr until ctx is cancelled, then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
