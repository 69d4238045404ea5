// Package config loads service configuration from built-in defaults, an
// optional TOML/YAML/JSON file and environment overrides, in that order.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/scoring"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/timewindow"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig                `json:"server" toml:"server" yaml:"server"`
	Storage StorageConfig               `json:"storage" toml:"storage" yaml:"storage"`
	Events  EventsConfig                `json:"events" toml:"events" yaml:"events"`
	GeoIP   GeoIPConfig                 `json:"geoip" toml:"geoip" yaml:"geoip"`
	Engine  scoring.Settings            `json:"engine" toml:"engine" yaml:"engine"`
	Clock   timewindow.CalibratorConfig `json:"clock" toml:"clock" yaml:"clock"`
	Log     LogConfig                   `json:"log" toml:"log" yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `json:"port" toml:"port" yaml:"port"`
	AllowedOrigins  []string      `json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
	RateLimitRPS    float64       `json:"rate_limit_rps" toml:"rate_limit_rps" yaml:"rate_limit_rps"` // per client IP; 0 disables
	RateLimitBurst  int           `json:"rate_limit_burst" toml:"rate_limit_burst" yaml:"rate_limit_burst"`
	ReadTimeout     time.Duration `json:"read_timeout" toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" toml:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StorageConfig selects the backends. Empty URIs fall back to memory.
type StorageConfig struct {
	RedisURI         string        `json:"redis_uri" toml:"redis_uri" yaml:"redis_uri"`
	RedisPrefix      string        `json:"redis_prefix" toml:"redis_prefix" yaml:"redis_prefix"`
	PostgresURI      string        `json:"postgres_uri" toml:"postgres_uri" yaml:"postgres_uri"`
	AttemptRetention time.Duration `json:"attempt_retention" toml:"attempt_retention" yaml:"attempt_retention"`
	HistoryWindow    time.Duration `json:"history_window" toml:"history_window" yaml:"history_window"` // how far back attempts are loaded per check-in
}

// EventsConfig lists the alert sinks. Every configured sink receives every
// alert event.
type EventsConfig struct {
	KafkaBrokers       []string        `json:"kafka_brokers" toml:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic         string          `json:"kafka_topic" toml:"kafka_topic" yaml:"kafka_topic"`
	AMQPURL            string          `json:"amqp_url" toml:"amqp_url" yaml:"amqp_url"`
	AMQPQueue          string          `json:"amqp_queue" toml:"amqp_queue" yaml:"amqp_queue"`
	WebhookURLs        []string        `json:"webhook_urls" toml:"webhook_urls" yaml:"webhook_urls"`
	WebhookMinSeverity domain.Severity `json:"webhook_min_severity" toml:"webhook_min_severity" yaml:"webhook_min_severity"`
	PublishTimeout     time.Duration   `json:"publish_timeout" toml:"publish_timeout" yaml:"publish_timeout"`
}

// GeoIPConfig points at a GeoLite2 City database. An empty path disables the
// network-location cross check.
type GeoIPConfig struct {
	CityDBPath          string  `json:"city_db_path" toml:"city_db_path" yaml:"city_db_path"`
	CacheSize           int     `json:"cache_size" toml:"cache_size" yaml:"cache_size"`
	MaxNetworkDistanceM float64 `json:"max_network_distance_m" toml:"max_network_distance_m" yaml:"max_network_distance_m"`
}

// LogConfig controls the default slog handler.
type LogConfig struct {
	Level  string `json:"level" toml:"level" yaml:"level"`    // debug, info, warn, error
	Format string `json:"format" toml:"format" yaml:"format"` // text or json
}

// SlogLevel maps Level onto a slog level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Default returns a configuration that runs fully in memory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			RedisPrefix:      "attendance",
			AttemptRetention: 7 * 24 * time.Hour,
			HistoryWindow:    time.Hour,
		},
		Events: EventsConfig{
			KafkaTopic:         "fraud-alerts",
			AMQPQueue:          "fraud-alerts",
			WebhookMinSeverity: domain.SeverityHigh,
			PublishTimeout:     5 * time.Second,
		},
		GeoIP: GeoIPConfig{
			CacheSize:           4096,
			MaxNetworkDistanceM: 500_000,
		},
		Engine: scoring.DefaultSettings(),
		Clock:  timewindow.DefaultCalibratorConfig(),
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// EngineSettings returns the engine settings with the GeoIP distance limit
// applied to the geo validator.
func (c *Config) EngineSettings() scoring.Settings {
	s := c.Engine
	if c.GeoIP.MaxNetworkDistanceM > 0 {
		s.Geo.MaxNetworkDistance = c.GeoIP.MaxNetworkDistanceM
	}
	return s
}

// ClockSettings returns the calibration settings with max_offset capped at
// engine.time.max_drift. Zero means the drift limit.
func (c *Config) ClockSettings() timewindow.CalibratorConfig {
	s := c.Clock
	if limit := c.Engine.Time.MaxDrift; s.MaxOffset == 0 || s.MaxOffset > limit {
		s.MaxOffset = limit
	}
	return s
}

// ApplyEnvOverrides replaces fields whose environment variable is set.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("REDIS_URI"); v != "" {
		c.Storage.RedisURI = v
	}
	if v := os.Getenv("POSTGRES_URI"); v != "" {
		c.Storage.PostgresURI = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Events.KafkaTopic = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.Events.AMQPURL = v
	}
	if v := os.Getenv("WEBHOOK_URLS"); v != "" {
		c.Events.WebhookURLs = splitList(v)
	}
	if v := os.Getenv("GEOIP_CITY_DB"); v != "" {
		c.GeoIP.CityDBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
