package risk

import (
	"fmt"
	"slices"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// PatternConfig holds the cross-attempt detector thresholds.
type PatternConfig struct {
	RapidWindow     time.Duration `json:"rapid_window" toml:"rapid_window" yaml:"rapid_window"`
	RapidCount      int           `json:"rapid_count" toml:"rapid_count" yaml:"rapid_count"` // includes the current attempt
	RapidHighScore  float64       `json:"rapid_high_score" toml:"rapid_high_score" yaml:"rapid_high_score"`
	SessionWindow   time.Duration `json:"session_window" toml:"session_window" yaml:"session_window"`
	DeviceStudents  int           `json:"device_students" toml:"device_students" yaml:"device_students"`
	NetworkStudents int           `json:"network_students" toml:"network_students" yaml:"network_students"`
}

// DefaultPatternConfig returns the production thresholds.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		RapidWindow:     time.Minute,
		RapidCount:      3,
		RapidHighScore:  50,
		SessionWindow:   15 * time.Minute,
		DeviceStudents:  2,
		NetworkStudents: 5,
	}
}

// Attempt is the current attempt as seen by the pattern detectors.
type Attempt struct {
	StudentID string
	IPAddress string
	DeviceID  string
	At        time.Time
}

// DetectRapidAttempts flags a burst of attempts by one student: at least
// RapidCount attempts, the current one included, inside RapidWindow whose prior
// scores are rising or already high.
func DetectRapidAttempts(cur Attempt, recent []domain.ScoredAttempt, cfg PatternConfig) (domain.PatternResult, bool) {
	var burst []domain.ScoredAttempt
	for _, a := range recent {
		if a.StudentID != "" && a.StudentID != cur.StudentID {
			continue
		}
		if d := cur.At.Sub(a.Timestamp); d < 0 || d > cfg.RapidWindow {
			continue
		}
		burst = append(burst, a)
	}
	if len(burst)+1 < cfg.RapidCount {
		return domain.PatternResult{}, false
	}
	slices.SortFunc(burst, func(a, b domain.ScoredAttempt) int { return a.Timestamp.Compare(b.Timestamp) })

	rising, high := len(burst) > 1, false
	for i, a := range burst {
		if a.Score >= cfg.RapidHighScore {
			high = true
		}
		if i > 0 && a.Score < burst[i-1].Score {
			rising = false
		}
	}
	if rising && burst[len(burst)-1].Score == burst[0].Score {
		rising = false
	}
	if !rising && !high {
		return domain.PatternResult{}, false
	}

	confidence := 0.6 + 0.1*float64(len(burst)+1-cfg.RapidCount)
	if high {
		confidence += 0.2
	}
	ids := make([]string, 0, len(burst))
	for _, a := range burst {
		ids = append(ids, a.ID)
	}
	return domain.PatternResult{
		Type:        domain.PatternRapidAttempts,
		Confidence:  clamp01(confidence),
		Description: fmt.Sprintf("%d check-in attempts within %s", len(burst)+1, cfg.RapidWindow),
		Students:    []string{cur.StudentID},
		AttemptIDs:  ids,
	}, true
}

// DetectCoordinatedDevice flags one device fingerprint used by several
// students in the same session window.
func DetectCoordinatedDevice(cur Attempt, session []domain.ScoredAttempt, cfg PatternConfig) (domain.PatternResult, bool) {
	if cur.DeviceID == "" {
		return domain.PatternResult{}, false
	}
	students, ids := sharers(cur, session, cfg.SessionWindow, func(a domain.ScoredAttempt) bool {
		return a.DeviceID == cur.DeviceID
	})
	if len(students) < max(2, cfg.DeviceStudents) {
		return domain.PatternResult{}, false
	}
	return domain.PatternResult{
		Type:        domain.PatternCoordinatedDevice,
		Confidence:  clamp01(0.7 + 0.1*float64(len(students)-cfg.DeviceStudents)),
		Description: fmt.Sprintf("device used by %d students in this session", len(students)),
		Students:    students,
		AttemptIDs:  ids,
		Key:         cur.DeviceID,
	}, true
}

// DetectCoordinatedIP flags many students checking in from one address.
func DetectCoordinatedIP(cur Attempt, session []domain.ScoredAttempt, cfg PatternConfig) (domain.PatternResult, bool) {
	if cur.IPAddress == "" {
		return domain.PatternResult{}, false
	}
	students, ids := sharers(cur, session, cfg.SessionWindow, func(a domain.ScoredAttempt) bool {
		return a.IPAddress == cur.IPAddress
	})
	if len(students) < max(2, cfg.NetworkStudents) {
		return domain.PatternResult{}, false
	}
	return domain.PatternResult{
		Type:        domain.PatternCoordinatedIP,
		Confidence:  clamp01(0.5 + 0.1*float64(len(students)-cfg.NetworkStudents)),
		Description: fmt.Sprintf("%d students checked in from %s", len(students), cur.IPAddress),
		Students:    students,
		AttemptIDs:  ids,
		Key:         cur.IPAddress,
	}, true
}

// sharers returns the distinct students, current one first, whose attempts in
// window match.
func sharers(cur Attempt, session []domain.ScoredAttempt, window time.Duration, match func(domain.ScoredAttempt) bool) ([]string, []string) {
	students := []string{cur.StudentID}
	var ids []string
	for _, a := range session {
		if !match(a) {
			continue
		}
		if d := cur.At.Sub(a.Timestamp); d < -window || d > window {
			continue
		}
		ids = append(ids, a.ID)
		if !slices.Contains(students, a.StudentID) {
			students = append(students, a.StudentID)
		}
	}
	return students, ids
}

// SharingPattern reports a device switching verdict as a pattern.
func SharingPattern(res domain.DeviceSharingResult, studentID string) (domain.PatternResult, bool) {
	if !res.IsSharing {
		return domain.PatternResult{}, false
	}
	return domain.PatternResult{
		Type:        domain.PatternDeviceSwitching,
		Confidence:  clamp01(res.Confidence),
		Description: fmt.Sprintf("%d rapid switches across %d devices", res.Switches, res.DistinctDevices),
		Students:    []string{studentID},
	}, true
}

// ManipulationPattern reports a clock manipulation verdict as a pattern.
func ManipulationPattern(res domain.TimeManipulationResult, studentID string) (domain.PatternResult, bool) {
	if !res.IsManipulated {
		return domain.PatternResult{}, false
	}
	return domain.PatternResult{
		Type:        domain.PatternClockManipulation,
		Confidence:  clamp01(res.Confidence),
		Description: "client clock manipulation detected",
		Students:    []string{studentID},
	}, true
}

// DuplicatePhotoPattern reports a re-submitted photo as a pattern.
func DuplicatePhotoPattern(res *domain.PhotoVerificationResult, studentID string) (domain.PatternResult, bool) {
	if res == nil || !res.IsDuplicate {
		return domain.PatternResult{}, false
	}
	return domain.PatternResult{
		Type:        domain.PatternDuplicatePhoto,
		Confidence:  0.8,
		Description: "photo was already submitted in this session",
		Students:    []string{studentID},
		Key:         res.Hash,
	}, true
}
