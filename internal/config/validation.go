package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidationErrors, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps", "must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "must be at least 1 when rate limiting is enabled")
	}

	// Storage
	if c.Storage.AttemptRetention <= 0 {
		add("storage.attempt_retention", "must be positive")
	}
	if c.Storage.HistoryWindow <= 0 {
		add("storage.history_window", "must be positive")
	}

	// Events
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		add("events.kafka_topic", "required when kafka_brokers is set")
	}
	if c.Events.AMQPURL != "" && c.Events.AMQPQueue == "" {
		add("events.amqp_queue", "required when amqp_url is set")
	}
	switch c.Events.WebhookMinSeverity {
	case "", domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		add("events.webhook_min_severity", "unknown severity %q", c.Events.WebhookMinSeverity)
	}

	// Engine
	g := c.Engine.Geo
	if g.MaxAccuracy <= 0 {
		add("engine.geo.max_accuracy", "must be positive")
	}
	if g.MinAccuracy < 0 || g.MinAccuracy >= g.MaxAccuracy {
		add("engine.geo.min_accuracy", "must be in [0, max_accuracy)")
	}
	if g.MaxSpeed <= 0 {
		add("engine.geo.max_speed", "must be positive")
	}
	if g.MinConsistency < 0 || g.MinConsistency > 1 {
		add("engine.geo.min_consistency", "must be in [0, 1]")
	}
	d := c.Engine.Device
	if d.MatchThreshold <= 0 || d.MatchThreshold > 1 {
		add("engine.device.match_threshold", "must be in (0, 1]")
	}
	if d.LowSimilarity < 0 || d.LowSimilarity > d.MatchThreshold {
		add("engine.device.low_similarity", "must be in [0, match_threshold]")
	}
	t := c.Engine.Time
	if t.MaxDrift <= 0 {
		add("engine.time.max_drift", "must be positive")
	}
	if t.EarliestHour < 0 || t.LatestHour > 24 || t.EarliestHour >= t.LatestHour {
		add("engine.time.earliest_hour", "hours must satisfy 0 <= earliest < latest <= 24")
	}
	p := c.Engine.Photo
	if p.MaxFileSize <= 0 {
		add("engine.photo.max_file_size", "must be positive")
	}
	if p.MinWidth > p.MaxWidth || p.MinHeight > p.MaxHeight {
		add("engine.photo.min_width", "minimum dimensions exceed maximum dimensions")
	}
	if len(p.AllowedFormats) == 0 {
		add("engine.photo.allowed_formats", "must list at least one format")
	}
	if c.Engine.Patterns.RapidCount < 2 {
		add("engine.patterns.rapid_count", "must be at least 2")
	}
	if c.Engine.Patterns.DeviceStudents < 2 || c.Engine.Patterns.NetworkStudents < 2 {
		add("engine.patterns.device_students", "student thresholds must be at least 2")
	}

	// Clock
	if _, err := cron.Parse(c.Clock.Schedule); err != nil {
		add("clock.schedule", "invalid cron spec %q: %v", c.Clock.Schedule, err)
	}
	if c.Clock.Window <= 0 {
		add("clock.window", "must be positive")
	}
	if c.Clock.MaxOffset < 0 {
		add("clock.max_offset", "must not be negative")
	}

	// Log
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
