// Package timewindow validates check-in timestamps against a session window
// and detects client clock manipulation.
package timewindow

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Config holds the thresholds of the validator.
type Config struct {
	MaxDrift     time.Duration `json:"max_drift" toml:"max_drift" yaml:"max_drift"`
	MaxJump      time.Duration `json:"max_jump" toml:"max_jump" yaml:"max_jump"`
	ReplayWindow time.Duration `json:"replay_window" toml:"replay_window" yaml:"replay_window"`
	ReplayCount  int           `json:"replay_count" toml:"replay_count" yaml:"replay_count"`
	EarliestHour int           `json:"earliest_hour" toml:"earliest_hour" yaml:"earliest_hour"` // local hours before this are unusual
	LatestHour   int           `json:"latest_hour" toml:"latest_hour" yaml:"latest_hour"`       // local hours after this are unusual
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDrift:     5 * time.Minute,
		MaxJump:      24 * time.Hour,
		ReplayWindow: time.Second,
		ReplayCount:  2,
		EarliestHour: 6,
		LatestHour:   22,
	}
}

// Offset is the calibrated server-minus-client clock offset. It is written
// by the Calibrator and read at the start of each validation.
type Offset struct {
	ns atomic.Int64
}

// Get returns the current offset.
func (o *Offset) Get() time.Duration {
	if o == nil {
		return 0
	}
	return time.Duration(o.ns.Load())
}

// Set replaces the offset.
func (o *Offset) Set(d time.Duration) { o.ns.Store(int64(d)) }

// Zones names the timezones involved in a check-in. Empty names are ignored.
type Zones struct {
	Session string // configured on the session
	Client  string // reported by the client
	Network string // derived from the client IP
}

// Validator is safe for concurrent use.
type Validator struct {
	cfg    Config
	offset *Offset
	zones  sync.Map // name -> *time.Location
}

// NewValidator returns a Validator. offset may be nil, meaning no correction.
func NewValidator(cfg Config, offset *Offset) *Validator {
	if offset == nil {
		offset = &Offset{}
	}
	return &Validator{cfg: cfg, offset: offset}
}

// Config returns the thresholds in use.
func (v *Validator) Config() Config { return v.cfg }

// Offset returns the offset holder the validator reads.
func (v *Validator) Offset() *Offset { return v.offset }

// ─── Window validation ───────────────────────────────────────────────────────

// ValidateTimeWindow checks clientTime, corrected by the calibrated offset,
// against [validFrom, validTo] plus the grace period.
func (v *Validator) ValidateTimeWindow(clientTime, validFrom, validTo time.Time, graceMinutes int, zones Zones) domain.TimeValidationResult {
	offset := v.offset.Get()
	serverTime := clientTime.Add(offset)
	graceEnd := validTo.Add(time.Duration(graceMinutes) * time.Minute)

	res := domain.TimeValidationResult{
		ServerTime:     serverTime,
		IsWithinWindow: !serverTime.Before(validFrom) && !serverTime.After(validTo),
		TimeDifference: abs(serverTime.Sub(clientTime)),
		Warnings:       []string{},
		Errors:         []string{},
	}
	res.IsWithinGracePeriod = serverTime.After(validTo) && !serverTime.After(graceEnd)

	switch {
	case serverTime.Before(validFrom):
		res.Errors = append(res.Errors, fmt.Sprintf("check-in window opens in %s", validFrom.Sub(serverTime).Round(time.Second)))
	case serverTime.After(graceEnd):
		res.Errors = append(res.Errors, fmt.Sprintf("check-in window expired %s ago", serverTime.Sub(graceEnd).Round(time.Second)))
	case res.IsWithinGracePeriod:
		res.Warnings = append(res.Warnings, fmt.Sprintf("late check-in: %.0f minutes after the window closed", serverTime.Sub(validTo).Minutes()))
	}

	if v.cfg.MaxDrift > 0 {
		switch {
		case res.TimeDifference > v.cfg.MaxDrift:
			res.Errors = append(res.Errors, fmt.Sprintf("clock manipulation detected: %s drift", res.TimeDifference.Round(time.Second)))
		case res.TimeDifference > v.cfg.MaxDrift/2:
			res.Warnings = append(res.Warnings, fmt.Sprintf("client clock drift of %s", res.TimeDifference.Round(time.Second)))
		}
	}

	local := serverTime
	if loc, ok := v.location(zones.Session); ok {
		local = serverTime.In(loc)
	}
	if h := local.Hour(); h < v.cfg.EarliestHour || h > v.cfg.LatestHour {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unusual check-in time: %s", local.Format("15:04")))
	}
	if v.zoneMismatch(zones.Client, zones.Session, serverTime) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("client timezone %s differs from session timezone %s", zones.Client, zones.Session))
	}
	if v.zoneMismatch(zones.Network, zones.Client, serverTime) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("network timezone %s differs from client timezone %s", zones.Network, zones.Client))
	}

	res.IsValid = len(res.Errors) == 0 && (res.IsWithinWindow || res.IsWithinGracePeriod)
	return res
}

// zoneMismatch reports whether two named zones disagree at the given instant.
// Aliases with the same UTC offset agree; unknown names compare by name.
func (v *Validator) zoneMismatch(a, b string, at time.Time) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	la, okA := v.location(a)
	lb, okB := v.location(b)
	if !okA || !okB {
		return true
	}
	_, offA := at.In(la).Zone()
	_, offB := at.In(lb).Zone()
	return offA != offB
}

func (v *Validator) location(name string) (*time.Location, bool) {
	if name == "" {
		return nil, false
	}
	if loc, ok := v.zones.Load(name); ok {
		return loc.(*time.Location), true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	v.zones.Store(name, loc)
	return loc, true
}

// ─── Manipulation ────────────────────────────────────────────────────────────

// DetectTimeManipulation looks for signs of a tampered client clock. Each
// finding adds a fixed weight; the attempt counts as manipulated above 0.6.
func (v *Validator) DetectTimeManipulation(clientTime, serverTime time.Time, prior []time.Time) domain.TimeManipulationResult {
	var res domain.TimeManipulationResult

	if len(prior) > 0 {
		last := prior[0]
		for _, p := range prior[1:] {
			if p.After(last) {
				last = p
			}
		}
		if clientTime.Before(last) {
			res.Confidence += 0.5
			res.Reasons = append(res.Reasons, fmt.Sprintf("clock moved backwards by %s since the last attempt", last.Sub(clientTime).Round(time.Second)))
		}
	}

	drift := abs(clientTime.Sub(serverTime))
	if v.cfg.MaxJump > 0 && drift > v.cfg.MaxJump {
		res.Confidence += 0.3
		res.Reasons = append(res.Reasons, fmt.Sprintf("client clock is %s away from server time", drift.Round(time.Minute)))
	}
	if v.cfg.MaxDrift > 0 && drift > v.cfg.MaxDrift {
		res.Confidence += 0.4
		res.Reasons = append(res.Reasons, fmt.Sprintf("client/server drift of %s exceeds %s", drift.Round(time.Second), v.cfg.MaxDrift))
	}

	if clientTime.Second() == 0 && clientTime.Nanosecond() == 0 {
		res.Confidence += 0.2
		res.Reasons = append(res.Reasons, "timestamp is suspiciously round")
	}

	near := 0
	for _, p := range prior {
		if abs(p.Sub(clientTime)) <= v.cfg.ReplayWindow {
			near++
		}
	}
	if v.cfg.ReplayCount > 0 && near >= v.cfg.ReplayCount {
		res.Confidence += 0.5
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d prior attempts within %s (possible replay)", near, v.cfg.ReplayWindow))
	}

	res.Confidence = min(1, res.Confidence)
	res.IsManipulated = res.Confidence > 0.6
	return res
}

// ─── Pure helpers ────────────────────────────────────────────────────────────

// ValidateGracePeriod reports how late at is relative to validTo.
func ValidateGracePeriod(at, validTo time.Time, graceMinutes int) domain.GraceResult {
	res := domain.GraceResult{GraceMinutes: graceMinutes, WithinGrace: true}
	if !at.After(validTo) {
		return res
	}
	res.IsLate = true
	res.MinutesLate = at.Sub(validTo).Minutes()
	grace := time.Duration(graceMinutes) * time.Minute
	if late := at.Sub(validTo); late > grace {
		res.WithinGrace = false
		res.GraceExceeded = (late - grace).Minutes()
	}
	return res
}

// GetTimeWindowStatus classifies at relative to the window and its grace period.
func GetTimeWindowStatus(at time.Time, window domain.TimeWindow, grace time.Duration) domain.WindowStatus {
	graceEnd := window.ValidTo.Add(grace)
	st := domain.WindowStatus{GraceEndsAt: graceEnd}
	switch {
	case at.Before(window.ValidFrom):
		st.State = domain.WindowBefore
		st.TimeRemaining = window.ValidFrom.Sub(at)
	case !at.After(window.ValidTo):
		st.State = domain.WindowDuring
		st.TimeRemaining = window.ValidTo.Sub(at)
		st.TimeElapsed = at.Sub(window.ValidFrom)
	case !at.After(graceEnd):
		st.State = domain.WindowAfter
		st.TimeRemaining = graceEnd.Sub(at)
		st.TimeElapsed = at.Sub(window.ValidFrom)
	default:
		st.State = domain.WindowExpired
		st.TimeElapsed = at.Sub(window.ValidFrom)
	}
	return st
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
