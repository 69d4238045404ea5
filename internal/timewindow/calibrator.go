package timewindow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// AttemptSource supplies recent scored attempts for calibration.
type AttemptSource interface {
	AttemptsSince(ctx context.Context, since time.Time) ([]domain.ScoredAttempt, error)
}

// CalibratorConfig controls the offset calibration task.
type CalibratorConfig struct {
	Schedule   string        `json:"schedule" toml:"schedule" yaml:"schedule"`          // cron spec, e.g. "@every 5m"
	Window     time.Duration `json:"window" toml:"window" yaml:"window"`                // how far back attempts are sampled
	MinSamples int           `json:"min_samples" toml:"min_samples" yaml:"min_samples"` // fewer samples leave the offset unchanged
	MaxOffset  time.Duration `json:"max_offset" toml:"max_offset" yaml:"max_offset"`    // samples further off than this are ignored
}

// DefaultCalibratorConfig returns the production calibration settings.
// MaxOffset equals the validator's default MaxDrift: the applied offset is
// itself reported as drift, so a larger one would reject every attempt.
func DefaultCalibratorConfig() CalibratorConfig {
	return CalibratorConfig{
		Schedule:   "@every 5m",
		Window:     30 * time.Minute,
		MinSamples: 20,
		MaxOffset:  DefaultConfig().MaxDrift,
	}
}

// ErrNotEnoughSamples is returned by Calibrate when too few attempts qualify.
var ErrNotEnoughSamples = errors.New("not enough samples to calibrate clock offset")

// Calibrator estimates the systematic offset between client clocks and the
// server as the median of (server receive time - client timestamp) over
// recent attempts, and stores it in an Offset for the next validations.
type Calibrator struct {
	offset *Offset
	source AttemptSource
	cfg    CalibratorConfig
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCalibrator returns a Calibrator writing into offset.
func NewCalibrator(offset *Offset, source AttemptSource, cfg CalibratorConfig, logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calibrator{offset: offset, source: source, cfg: cfg, logger: logger, now: time.Now}
}

// Calibrate runs one calibration pass and returns the new offset.
func (c *Calibrator) Calibrate(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	attempts, err := c.source.AttemptsSince(ctx, c.now().Add(-cfg.Window))
	if err != nil {
		return c.offset.Get(), fmt.Errorf("load attempts for calibration: %w", err)
	}

	deltas := make([]time.Duration, 0, len(attempts))
	for _, a := range attempts {
		if a.Timestamp.IsZero() || a.ClientTimestamp.IsZero() {
			continue
		}
		d := a.Timestamp.Sub(a.ClientTimestamp)
		if cfg.MaxOffset > 0 && abs(d) > cfg.MaxOffset {
			continue
		}
		deltas = append(deltas, d)
	}
	if len(deltas) == 0 || len(deltas) < cfg.MinSamples {
		return c.offset.Get(), fmt.Errorf("%w: have %d, need %d", ErrNotEnoughSamples, len(deltas), cfg.MinSamples)
	}

	next := median(deltas)
	c.offset.Set(next)
	return next, nil
}

// SetMaxOffset changes the sample bound and pulls the current offset back
// inside it.
func (c *Calibrator) SetMaxOffset(d time.Duration) {
	c.mu.Lock()
	c.cfg.MaxOffset = d
	c.mu.Unlock()
	if cur := c.offset.Get(); d > 0 && abs(cur) > d {
		if cur < 0 {
			d = -d
		}
		c.offset.Set(d)
	}
}

// Start schedules Calibrate on the configured cron spec.
func (c *Calibrator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}
	sched := cron.New()
	err := sched.AddFunc(c.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		offset, err := c.Calibrate(ctx)
		switch {
		case errors.Is(err, ErrNotEnoughSamples):
			c.logger.Debug("clock calibration skipped", "reason", err)
		case err != nil:
			c.logger.Error("clock calibration failed", "error", err)
		default:
			c.logger.Info("clock offset calibrated", "offset", offset)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule clock calibration %q: %w", c.cfg.Schedule, err)
	}
	sched.Start()
	c.cron = sched
	return nil
}

// Stop halts the schedule. Running jobs are not interrupted.
func (c *Calibrator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		c.cron.Stop()
		c.cron = nil
	}
}

func median(ds []time.Duration) time.Duration {
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
