package health

import "github.com/quizpulse/quizpulse/internal/config"

// breach is one alert the threshold pass wants to create.
type breach struct {
	severity Severity
	category Category
	message  string
	details  map[string]any
}

// upper checks a metric where larger is worse.
func upper(value float64, b config.Bound, category Category, critMsg, warnMsg, key string) *breach {
	switch {
	case value > b.Critical:
		return &breach{SeverityCritical, category, critMsg, map[string]any{key: value, "threshold": b.Critical}}
	case value > b.Warning:
		return &breach{SeverityWarning, category, warnMsg, map[string]any{key: value, "threshold": b.Warning}}
	}
	return nil
}

// evaluate walks the threshold table in a fixed order: latency, memory,
// frame rate, error rate, packet loss.
func evaluate(s *Snapshot, t config.Thresholds) []breach {
	var out []breach
	add := func(b *breach) {
		if b != nil {
			out = append(out, *b)
		}
	}

	add(upper(s.Connection.LatencyMs, t.LatencyMs, CategoryConnection,
		"Critical latency detected", "High latency detected", "latency"))
	add(upper(s.Client.MemoryMB, t.MemoryMB, CategoryPerformance,
		"Critical memory usage", "High memory usage", "usage"))

	// Zero fps means nothing has been rendered yet.
	if fps := s.Client.FPS; fps > 0 {
		switch {
		case fps < t.FPS.Critical:
			add(&breach{SeverityCritical, CategoryPerformance, "Critical frame rate drop",
				map[string]any{"fps": fps, "threshold": t.FPS.Critical}})
		case fps < t.FPS.Warning:
			add(&breach{SeverityWarning, CategoryPerformance, "Low frame rate",
				map[string]any{"fps": fps, "threshold": t.FPS.Warning}})
		}
	}

	add(upper(s.Server.ErrorRate, t.ErrorRate, CategorySystem,
		"Critical error rate", "High error rate", "errorRate"))
	add(upper(s.Connection.PacketLoss, t.PacketLoss, CategoryConnection,
		"Critical packet loss", "High packet loss", "packetLoss"))

	return out
}
