// Package metrics holds the Prometheus collectors shared by the hub, the
// health monitor, the ingress queue and the client session.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sessions currently attached to the hub.
	HubSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizpulse_hub_sessions",
		Help: "Number of websocket sessions connected to the broadcast hub",
	})

	// Members of each hub room.
	HubRoomMembers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quizpulse_hub_room_members",
			Help: "Number of sessions subscribed to a hub room",
		},
		[]string{"room"},
	)

	// Messages moved by the hub, by direction (in/out) and message type.
	HubMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpulse_hub_messages_total",
			Help: "Total websocket messages handled by the hub",
		},
		[]string{"direction", "type"},
	)

	// Inbound messages the hub rejected (rate limit, malformed, persistence failure).
	HubErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpulse_hub_errors_total",
			Help: "Total inbound messages the hub failed to handle",
		},
		[]string{"reason"},
	)

	// Sessions evicted because their send buffer filled up.
	HubSlowClientsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizpulse_hub_slow_clients_total",
		Help: "Total sessions disconnected for not keeping up with broadcasts",
	})

	// Analytics snapshot computation time.
	AnalyticsComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quizpulse_analytics_compute_duration_seconds",
		Help:    "Time spent computing analytics snapshots",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// Analytics cache lookups by result (hit/miss).
	AnalyticsCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpulse_analytics_cache_total",
			Help: "Analytics snapshot cache lookups",
		},
		[]string{"result"},
	)

	// Events accepted and dropped by the ingress queue.
	IngressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpulse_ingress_events_total",
			Help: "Events offered to the ingress queue, by outcome",
		},
		[]string{"outcome"},
	)

	// Time from acceptance to completion of an ingress event.
	IngressProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quizpulse_ingress_processing_duration_seconds",
		Help:    "Time between an event being accepted and finishing processing",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// Alerts raised by the health monitor.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizpulse_alerts_total",
			Help: "Health alerts created, by severity and category",
		},
		[]string{"severity", "category"},
	)

	// Unresolved alerts at the last tick.
	AlertsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizpulse_alerts_active",
		Help: "Unresolved health alerts",
	})

	// Rolling connection latency as seen by the monitor.
	ConnectionLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizpulse_connection_latency_ms",
		Help: "Rolling average heartbeat round trip in milliseconds",
	})

	// Session reconnects scheduled after an unrequested disconnect.
	SessionReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quizpulse_session_reconnects_total",
		Help: "Reconnect attempts scheduled by the transport session",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
