package timewindow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/timewindow"
)

var (
	validFrom = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	validTo   = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func newValidator() *timewindow.Validator {
	return timewindow.NewValidator(timewindow.DefaultConfig(), nil)
}

func hasReason(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestValidateTimeWindow_GracePeriodScenario(t *testing.T) {
	v := newValidator()

	late := v.ValidateTimeWindow(at(10, 34), validFrom, validTo, 5, timewindow.Zones{})
	assert.False(t, late.IsWithinWindow)
	assert.True(t, late.IsWithinGracePeriod)
	assert.True(t, late.IsValid)
	assert.True(t, hasReason(late.Warnings, "late check-in"))

	tooLate := v.ValidateTimeWindow(at(10, 36), validFrom, validTo, 5, timewindow.Zones{})
	assert.False(t, tooLate.IsWithinWindow)
	assert.False(t, tooLate.IsWithinGracePeriod)
	assert.False(t, tooLate.IsValid)
	assert.True(t, hasReason(tooLate.Errors, "expired"))
}

func TestValidateTimeWindow_GraceBoundaryInclusive(t *testing.T) {
	v := newValidator()
	edge := validTo.Add(5 * time.Minute)

	res := v.ValidateTimeWindow(edge, validFrom, validTo, 5, timewindow.Zones{})
	assert.True(t, res.IsWithinGracePeriod)
	assert.True(t, res.IsValid)

	res = v.ValidateTimeWindow(edge.Add(time.Millisecond), validFrom, validTo, 5, timewindow.Zones{})
	assert.False(t, res.IsWithinGracePeriod)
	assert.False(t, res.IsValid)
}

func TestValidateTimeWindow_WindowEdges(t *testing.T) {
	v := newValidator()

	for _, ts := range []time.Time{validFrom, at(9, 45), validTo} {
		res := v.ValidateTimeWindow(ts, validFrom, validTo, 5, timewindow.Zones{})
		assert.True(t, res.IsWithinWindow, ts)
		assert.False(t, res.IsWithinGracePeriod, ts)
		assert.True(t, res.IsValid, ts)
	}

	early := v.ValidateTimeWindow(validFrom.Add(-time.Millisecond), validFrom, validTo, 5, timewindow.Zones{})
	assert.False(t, early.IsValid)
	assert.True(t, hasReason(early.Errors, "opens in"))
}

func TestValidateTimeWindow_Offset(t *testing.T) {
	offset := &timewindow.Offset{}
	v := timewindow.NewValidator(timewindow.DefaultConfig(), offset)
	client := at(9, 30)

	offset.Set(2 * time.Minute)
	res := v.ValidateTimeWindow(client, validFrom, validTo, 5, timewindow.Zones{})
	assert.Equal(t, client.Add(2*time.Minute), res.ServerTime)
	assert.Equal(t, 2*time.Minute, res.TimeDifference)
	assert.Empty(t, res.Warnings)
	assert.True(t, res.IsValid)

	offset.Set(-3 * time.Minute)
	res = v.ValidateTimeWindow(client, validFrom, validTo, 5, timewindow.Zones{})
	assert.Equal(t, 3*time.Minute, res.TimeDifference)
	assert.True(t, hasReason(res.Warnings, "drift"))
	assert.True(t, res.IsValid)

	offset.Set(6 * time.Minute)
	res = v.ValidateTimeWindow(client, validFrom, validTo, 5, timewindow.Zones{})
	assert.True(t, hasReason(res.Errors, "manipulation detected"))
	assert.False(t, res.IsValid)
}

func TestValidateTimeWindow_UnusualHour(t *testing.T) {
	v := newValidator()
	from, to := at(22, 0), at(23, 30)

	res := v.ValidateTimeWindow(at(23, 10), from, to, 5, timewindow.Zones{Session: "UTC"})
	assert.True(t, res.IsValid)
	assert.True(t, hasReason(res.Warnings, "unusual check-in time"))

	// 23:10 UTC is 01:10 in Cairo.
	res = v.ValidateTimeWindow(at(23, 10), from, to, 5, timewindow.Zones{Session: "Africa/Cairo"})
	assert.True(t, hasReason(res.Warnings, "01:10"))

	// 09:30 UTC is 11:30 in Cairo: nothing unusual.
	res = v.ValidateTimeWindow(at(9, 30), validFrom, validTo, 5, timewindow.Zones{Session: "Africa/Cairo"})
	assert.Empty(t, res.Warnings)
}

func TestValidateTimeWindow_TimezoneMismatch(t *testing.T) {
	v := newValidator()

	res := v.ValidateTimeWindow(at(9, 30), validFrom, validTo, 5, timewindow.Zones{Session: "Africa/Cairo", Client: "America/New_York"})
	assert.True(t, hasReason(res.Warnings, "client timezone America/New_York"))
	assert.True(t, res.IsValid)

	res = v.ValidateTimeWindow(at(9, 30), validFrom, validTo, 5, timewindow.Zones{Session: "UTC", Client: "Etc/UTC"})
	assert.Empty(t, res.Warnings, "aliases with the same offset agree")

	res = v.ValidateTimeWindow(at(9, 30), validFrom, validTo, 5, timewindow.Zones{Session: "Africa/Cairo", Client: "Africa/Cairo", Network: "Europe/Berlin"})
	assert.True(t, hasReason(res.Warnings, "network timezone Europe/Berlin"))
}

func TestDetectTimeManipulation(t *testing.T) {
	v := newValidator()
	server := time.Date(2026, 3, 2, 9, 30, 17, 250_000_000, time.UTC)

	tests := []struct {
		name        string
		client      time.Time
		prior       []time.Time
		manipulated bool
		confidence  float64
		reason      string
	}{
		{
			name:   "clean",
			client: server.Add(-2 * time.Second),
			prior:  []time.Time{server.Add(-time.Minute)},
		},
		{
			name:        "backwards and drifting",
			client:      server.Add(-10 * time.Minute),
			prior:       []time.Time{server.Add(-time.Minute)},
			manipulated: true,
			confidence:  0.9,
			reason:      "backwards",
		},
		{
			name:        "day jump",
			client:      server.Add(48 * time.Hour),
			manipulated: true,
			confidence:  0.7,
			reason:      "away from server time",
		},
		{
			name:       "round timestamp",
			client:     time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
			confidence: 0.2,
			reason:     "round",
		},
		{
			name:       "replay",
			client:     server,
			prior:      []time.Time{server.Add(-300 * time.Millisecond), server.Add(-800 * time.Millisecond)},
			confidence: 0.5,
			reason:     "replay",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.DetectTimeManipulation(tt.client, server, tt.prior)
			assert.Equal(t, tt.manipulated, res.IsManipulated)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
			if tt.reason != "" {
				assert.True(t, hasReason(res.Reasons, tt.reason), res.Reasons)
			} else {
				assert.Empty(t, res.Reasons)
			}
		})
	}
}

func TestValidateGracePeriod(t *testing.T) {
	onTime := timewindow.ValidateGracePeriod(at(10, 0), validTo, 5)
	assert.False(t, onTime.IsLate)
	assert.True(t, onTime.WithinGrace)

	late := timewindow.ValidateGracePeriod(at(10, 33), validTo, 5)
	assert.True(t, late.IsLate)
	assert.InDelta(t, 3, late.MinutesLate, 1e-9)
	assert.True(t, late.WithinGrace)

	tooLate := timewindow.ValidateGracePeriod(at(10, 42), validTo, 5)
	assert.False(t, tooLate.WithinGrace)
	assert.InDelta(t, 12, tooLate.MinutesLate, 1e-9)
	assert.InDelta(t, 7, tooLate.GraceExceeded, 1e-9)
}

func TestGetTimeWindowStatus(t *testing.T) {
	window := domain.TimeWindow{ValidFrom: validFrom, ValidTo: validTo}
	grace := 5 * time.Minute

	tests := []struct {
		at        time.Time
		state     domain.WindowState
		remaining time.Duration
		elapsed   time.Duration
	}{
		{at(8, 50), domain.WindowBefore, 10 * time.Minute, 0},
		{at(9, 0), domain.WindowDuring, 90 * time.Minute, 0},
		{at(10, 30), domain.WindowDuring, 0, 90 * time.Minute},
		{at(10, 32), domain.WindowAfter, 3 * time.Minute, 92 * time.Minute},
		{at(10, 35), domain.WindowAfter, 0, 95 * time.Minute},
		{at(10, 40), domain.WindowExpired, 0, 100 * time.Minute},
	}
	for _, tt := range tests {
		st := timewindow.GetTimeWindowStatus(tt.at, window, grace)
		assert.Equal(t, tt.state, st.State, tt.at)
		assert.Equal(t, tt.remaining, st.TimeRemaining, tt.at)
		assert.Equal(t, tt.elapsed, st.TimeElapsed, tt.at)
		assert.Equal(t, validTo.Add(grace), st.GraceEndsAt)
	}
}

// ─── Calibrator ──────────────────────────────────────────────────────────────

type fakeSource struct {
	attempts []domain.ScoredAttempt
	err      error
}

func (f fakeSource) AttemptsSince(context.Context, time.Time) ([]domain.ScoredAttempt, error) {
	return f.attempts, f.err
}

func skewed(n int, skew time.Duration) []domain.ScoredAttempt {
	base := time.Now()
	out := make([]domain.ScoredAttempt, n)
	for i := range out {
		server := base.Add(-time.Duration(i) * time.Second)
		out[i] = domain.ScoredAttempt{Timestamp: server, ClientTimestamp: server.Add(-skew)}
	}
	return out
}

func TestCalibrator_Median(t *testing.T) {
	attempts := skewed(5, 2*time.Second)
	attempts = append(attempts, skewed(2, 10*time.Second)...)
	attempts = append(attempts, skewed(1, 48*time.Hour)...) // outlier, ignored

	offset := &timewindow.Offset{}
	cfg := timewindow.DefaultCalibratorConfig()
	cfg.MinSamples = 3
	c := timewindow.NewCalibrator(offset, fakeSource{attempts: attempts}, cfg, nil)

	got, err := c.Calibrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, got)
	assert.Equal(t, 2*time.Second, offset.Get())
}

func TestCalibrator_NotEnoughSamples(t *testing.T) {
	offset := &timewindow.Offset{}
	offset.Set(time.Second)
	c := timewindow.NewCalibrator(offset, fakeSource{attempts: skewed(3, time.Minute)}, timewindow.DefaultCalibratorConfig(), nil)

	got, err := c.Calibrate(context.Background())
	assert.ErrorIs(t, err, timewindow.ErrNotEnoughSamples)
	assert.Equal(t, time.Second, got)
	assert.Equal(t, time.Second, offset.Get(), "offset unchanged")
}

func TestCalibrator_SourceError(t *testing.T) {
	offset := &timewindow.Offset{}
	c := timewindow.NewCalibrator(offset, fakeSource{err: errors.New("redis down")}, timewindow.DefaultCalibratorConfig(), nil)

	_, err := c.Calibrate(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestCalibrator_StartStop(t *testing.T) {
	c := timewindow.NewCalibrator(&timewindow.Offset{}, fakeSource{}, timewindow.DefaultCalibratorConfig(), nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.Start(), "second start is a no-op")
	c.Stop()
	c.Stop()

	bad := timewindow.DefaultCalibratorConfig()
	bad.Schedule = "not a schedule"
	assert.Error(t, timewindow.NewCalibrator(&timewindow.Offset{}, fakeSource{}, bad, nil).Start())
}

func TestCalibrator_OffsetStaysWithinDrift(t *testing.T) {
	cfg := timewindow.DefaultCalibratorConfig()
	require.LessOrEqual(t, cfg.MaxOffset, timewindow.DefaultConfig().MaxDrift)

	offset := &timewindow.Offset{}
	v := timewindow.NewValidator(timewindow.DefaultConfig(), offset)

	// A skew beyond the drift limit is never applied.
	c := timewindow.NewCalibrator(offset, fakeSource{attempts: skewed(25, 6*time.Minute)}, cfg, nil)
	_, err := c.Calibrate(context.Background())
	assert.ErrorIs(t, err, timewindow.ErrNotEnoughSamples)
	assert.Zero(t, offset.Get())
	res := v.ValidateTimeWindow(at(9, 30), validFrom, validTo, 5, timewindow.Zones{})
	assert.True(t, res.IsValid, "errors: %v", res.Errors)

	// One inside the limit is applied and still accepts an in-window attempt.
	c = timewindow.NewCalibrator(offset, fakeSource{attempts: skewed(25, 4*time.Minute)}, cfg, nil)
	got, err := c.Calibrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute, got)
	res = v.ValidateTimeWindow(at(9, 30), validFrom, validTo, 5, timewindow.Zones{})
	assert.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.True(t, hasReason(res.Warnings, "drift"))

	// Lowering the bound pulls the stored offset back inside it.
	c.SetMaxOffset(3 * time.Minute)
	assert.Equal(t, 3*time.Minute, offset.Get())
}
