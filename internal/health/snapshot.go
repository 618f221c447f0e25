package health

import "time"

// Quality classifies the rolling heartbeat latency.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// ClassifyLatency maps an average round trip in milliseconds to a Quality.
func ClassifyLatency(ms float64) Quality {
	switch {
	case ms < 50:
		return QualityExcellent
	case ms < 150:
		return QualityGood
	case ms < 300:
		return QualityFair
	default:
		return QualityPoor
	}
}

type ConnectionMetrics struct {
	LatencyMs      float64    `json:"latency"`
	UptimeSeconds  int64      `json:"uptime"`
	ReconnectCount int        `json:"reconnectCount"`
	LastReconnect  *time.Time `json:"lastReconnect"`
	Quality        Quality    `json:"connectionQuality"`
	PacketLoss     float64    `json:"packetLoss"`
	BandwidthKBps  float64    `json:"bandwidth"`
}

type ServerMetrics struct {
	ResponseTimeMs    float64 `json:"responseTime"`
	ErrorRate         float64 `json:"errorRate"`
	Throughput        float64 `json:"throughput"`
	ActiveConnections int     `json:"activeConnections"`
	MemoryUsage       float64 `json:"memoryUsage"`
	CPUUsage          float64 `json:"cpuUsage"`
}

type ClientMetrics struct {
	RenderTimeMs      float64 `json:"renderTime"`
	MemoryMB          float64 `json:"memoryUsage"`
	EventProcessingMs float64 `json:"eventProcessingTime"`
	QueueSize         int     `json:"queueSize"`
	DroppedEvents     uint64  `json:"droppedEvents"`
	FPS               float64 `json:"fps"`
}

type AnalyticsMetrics struct {
	UpdateFrequency   float64 `json:"updateFrequency"`
	DataFreshness     float64 `json:"dataFreshness"`
	ProcessingDelayMs float64 `json:"processingDelay"`
	CacheHitRate      float64 `json:"cacheHitRate"`
	QueryTimeMs       float64 `json:"queryTime"`
}

// Snapshot is a copy of the monitor's metrics at one tick. It holds no
// shared references other than LastReconnect, which is never mutated.
type Snapshot struct {
	Connection ConnectionMetrics `json:"connection"`
	Server     ServerMetrics     `json:"server"`
	Client     ClientMetrics     `json:"client"`
	Analytics  AnalyticsMetrics  `json:"analytics"`
	Timestamp  time.Time         `json:"timestamp"`
}

func newSnapshot() Snapshot {
	return Snapshot{
		Connection: ConnectionMetrics{Quality: QualityExcellent},
	}
}
