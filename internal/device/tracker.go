package device

import (
	"fmt"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Config holds the thresholds of the tracker.
type Config struct {
	MatchThreshold  float64       `json:"match_threshold" toml:"match_threshold" yaml:"match_threshold"`    // similarity at which a stored device matches
	ChangeThreshold float64       `json:"change_threshold" toml:"change_threshold" yaml:"change_threshold"` // fraction of changed channels worth a warning
	LowSimilarity   float64       `json:"low_similarity" toml:"low_similarity" yaml:"low_similarity"`
	ActiveWindow    time.Duration `json:"active_window" toml:"active_window" yaml:"active_window"` // zero counts every stored record as active
	SharingWindow   time.Duration `json:"sharing_window" toml:"sharing_window" yaml:"sharing_window"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:  0.85,
		ChangeThreshold: 0.3,
		LowSimilarity:   0.5,
		ActiveWindow:    90 * 24 * time.Hour,
		SharingWindow:   30 * time.Minute,
	}
}

// Tracker compares a fingerprint against a student's known devices. It keeps
// no state; records are supplied by the caller.
type Tracker struct {
	cfg Config
}

// NewTracker returns a Tracker with the given thresholds.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Config returns the thresholds in use.
func (t *Tracker) Config() Config { return t.cfg }

// ValidateDevice checks current against the student's stored records.
// maxDevices <= 0 disables the device limit.
func (t *Tracker) ValidateDevice(current domain.DeviceFingerprint, stored []domain.DeviceRecord, maxDevices int, now time.Time) domain.DeviceValidationResult {
	res := domain.DeviceValidationResult{
		IsNewDevice: true,
		Fingerprint: current,
		Warnings:    []string{},
		Errors:      []string{},
	}

	best := -1
	for i, rec := range stored {
		sim := CalculateSimilarity(current, rec.Fingerprint)
		if best < 0 || sim > res.BestSimilarity {
			best, res.BestSimilarity = i, sim
		}
	}
	if best >= 0 && res.BestSimilarity >= t.cfg.MatchThreshold {
		matched := stored[best].Fingerprint
		res.IsNewDevice = false
		res.MatchedDeviceID = matched.ID
		changed, total := changedChannels(current, matched)
		if float64(changed)/float64(total) >= t.cfg.ChangeThreshold {
			res.Warnings = append(res.Warnings, fmt.Sprintf("significant device changes (%d of %d channels differ)", changed, total))
		}
	}

	res.ActiveDevices = t.activeDevices(stored, now)
	if res.IsNewDevice && maxDevices > 0 && res.ActiveDevices >= maxDevices {
		res.Errors = append(res.Errors, fmt.Sprintf("device limit reached (%d active devices, limit %d)", res.ActiveDevices, maxDevices))
	} else if res.IsNewDevice && len(stored) > 0 {
		res.Warnings = append(res.Warnings, "new device for this student")
	}

	if current.Canvas == "" {
		res.Warnings = append(res.Warnings, "canvas fingerprint unavailable")
	}
	if current.WebGL == "" {
		res.Warnings = append(res.Warnings, "webgl fingerprint unavailable")
	}
	if current.Audio == "" {
		res.Warnings = append(res.Warnings, "audio fingerprint unavailable")
	}
	if len(current.Fonts) == 0 {
		res.Warnings = append(res.Warnings, "font list unavailable")
	}

	var risk float64
	if res.IsNewDevice {
		risk += 0.3
	}
	if len(res.Warnings) > 2 {
		risk += 0.2
	}
	if len(res.Errors) > 0 {
		risk += 0.5
	}
	if len(stored) > 0 && res.BestSimilarity < t.cfg.LowSimilarity {
		risk += 0.4
	}
	res.RiskScore = clamp01(risk)
	res.Confidence = clamp01(1 - risk)
	res.IsValid = len(res.Errors) == 0
	return res
}

// activeDevices counts distinct fingerprint ids seen within the active window.
// A record without LastSeen falls back to FirstSeen; one with neither counts
// as active.
func (t *Tracker) activeDevices(stored []domain.DeviceRecord, now time.Time) int {
	seen := make(map[string]struct{}, len(stored))
	for _, rec := range stored {
		last := rec.LastSeen
		if last.IsZero() {
			last = rec.FirstSeen
		}
		if t.cfg.ActiveWindow > 0 && !last.IsZero() && now.Sub(last) > t.cfg.ActiveWindow {
			continue
		}
		seen[rec.Fingerprint.ID] = struct{}{}
	}
	return len(seen)
}

// DetectDeviceSharing inspects a time-ordered run of fingerprints. A switch is
// a pair of consecutive fingerprints less than window/4 apart that do not
// match. Only fingerprints within window of the latest one are considered.
func (t *Tracker) DetectDeviceSharing(fps []domain.DeviceFingerprint, window time.Duration) domain.DeviceSharingResult {
	var res domain.DeviceSharingResult
	if len(fps) == 0 {
		return res
	}
	if window <= 0 {
		window = t.cfg.SharingWindow
	}

	latest := fps[len(fps)-1].Timestamp
	start := 0
	for start < len(fps)-1 && latest.Sub(fps[start].Timestamp) > window {
		start++
	}
	recent := fps[start:]

	distinct := map[string]struct{}{}
	for i, fp := range recent {
		distinct[fp.ID] = struct{}{}
		if i == 0 {
			continue
		}
		prev := recent[i-1]
		if fp.Timestamp.Sub(prev.Timestamp) < window/4 && CalculateSimilarity(prev, fp) < t.cfg.MatchThreshold {
			res.Switches++
		}
	}
	res.DistinctDevices = len(distinct)

	if res.Switches > 2 {
		res.Confidence += 0.6
		res.Patterns = append(res.Patterns, fmt.Sprintf("%d rapid device switches", res.Switches))
	}
	if res.DistinctDevices > 2 {
		res.Confidence += 0.4
		res.Patterns = append(res.Patterns, fmt.Sprintf("%d distinct devices within %s", res.DistinctDevices, window))
	}
	res.Confidence = clamp01(res.Confidence)
	res.IsSharing = res.Confidence > 0.5
	return res
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
