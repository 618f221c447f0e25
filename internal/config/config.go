package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Hub     HubConfig     `yaml:"hub"`
	Monitor MonitorConfig `yaml:"monitor"`
	Session SessionConfig `yaml:"session"`
	Feed    FeedConfig    `yaml:"feed"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type HubConfig struct {
	AnalyticsDelay    time.Duration `yaml:"analytics_delay"`
	DefaultTimeRange  string        `yaml:"default_time_range"`
	SendBuffer        int           `yaml:"send_buffer"`
	MaxConnections    int           `yaml:"max_connections"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	MessageBurst      int           `yaml:"message_burst"`
}

type MonitorConfig struct {
	TickInterval       time.Duration `yaml:"tick_interval"`
	LatencyWindow      int           `yaml:"latency_window"`
	WarningAutoResolve time.Duration `yaml:"warning_auto_resolve"`
	AlertRetention     int           `yaml:"alert_retention"`
	QueueCapacity      int           `yaml:"queue_capacity"`
	QueueWorkers       int           `yaml:"queue_workers"`
	Thresholds         Thresholds    `yaml:"thresholds"`
}

// Bound is a warning/critical pair. For frame rate the bounds are lower
// limits; for every other metric they are upper limits.
type Bound struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

type Thresholds struct {
	LatencyMs  Bound `yaml:"latency_ms"`
	MemoryMB   Bound `yaml:"memory_mb"`
	FPS        Bound `yaml:"fps"`
	ErrorRate  Bound `yaml:"error_rate"`
	PacketLoss Bound `yaml:"packet_loss"`
}

type SessionConfig struct {
	URL               string        `yaml:"url"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	DialAttempts      int           `yaml:"dial_attempts"`
}

type FeedConfig struct {
	Capacity  int    `yaml:"capacity"`
	TimeRange string `yaml:"time_range"`
	Live      bool   `yaml:"live"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultThresholds mirrors the alerting table the dashboard was built around.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyMs:  Bound{Warning: 200, Critical: 500},
		MemoryMB:   Bound{Warning: 100, Critical: 200},
		FPS:        Bound{Warning: 30, Critical: 15},
		ErrorRate:  Bound{Warning: 5, Critical: 15},
		PacketLoss: Bound{Warning: 1, Critical: 5},
	}
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			AllowedOrigins: []string{"*"},
		},
		Hub: HubConfig{
			AnalyticsDelay:    time.Second,
			DefaultTimeRange:  "30d",
			SendBuffer:        64,
			MessagesPerSecond: 20,
			MessageBurst:      40,
		},
		Monitor: MonitorConfig{
			TickInterval:       time.Second,
			LatencyWindow:      10,
			WarningAutoResolve: 30 * time.Second,
			AlertRetention:     500,
			QueueCapacity:      100,
			QueueWorkers:       2,
			Thresholds:         DefaultThresholds(),
		},
		Session: SessionConfig{
			URL:               "ws://127.0.0.1:8080/ws",
			ReconnectDelay:    3 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			DialTimeout:       5 * time.Second,
			DialAttempts:      3,
		},
		Feed: FeedConfig{
			Capacity:  50,
			TimeRange: "30d",
			Live:      true,
		},
		Store: StoreConfig{
			Path: "quizpulse.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	positive := []struct {
		name string
		ok   bool
	}{
		{"server.port", c.Server.Port > 0},
		{"hub.analytics_delay", c.Hub.AnalyticsDelay > 0},
		{"hub.send_buffer", c.Hub.SendBuffer > 0},
		{"monitor.tick_interval", c.Monitor.TickInterval > 0},
		{"monitor.latency_window", c.Monitor.LatencyWindow > 0},
		{"monitor.warning_auto_resolve", c.Monitor.WarningAutoResolve > 0},
		{"monitor.queue_capacity", c.Monitor.QueueCapacity > 0},
		{"monitor.queue_workers", c.Monitor.QueueWorkers > 0},
		{"session.reconnect_delay", c.Session.ReconnectDelay > 0},
		{"session.heartbeat_interval", c.Session.HeartbeatInterval > 0},
		{"session.dial_timeout", c.Session.DialTimeout > 0},
		{"session.dial_attempts", c.Session.DialAttempts > 0},
		{"feed.capacity", c.Feed.Capacity > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, p.name)
		}
	}
	if c.Hub.MaxConnections < 0 {
		return fmt.Errorf("%w: hub.max_connections must not be negative", ErrInvalid)
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
