// Package domain contains all core types used across the application.
// Keeping domain types in one place makes the integrity rules easy to reason about.
package domain

import "time"

// ─── Risk levels ─────────────────────────────────────────────────────────────

// RiskLevel is the four-tier classification of an aggregate fraud score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Factor names used for per-factor scores and contributing factors.
const (
	FactorLocation = "location"
	FactorDevice   = "device"
	FactorTime     = "time"
	FactorBehavior = "behavior"
	FactorPhoto    = "photo"
)

// Factors lists every factor in aggregation order.
var Factors = []string{FactorLocation, FactorDevice, FactorTime, FactorBehavior, FactorPhoto}

// ─── Location ────────────────────────────────────────────────────────────────

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSample is one GPS reading captured by the client.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`           // metres
	Altitude  *float64  `json:"altitude,omitempty"` // metres
	Speed     *float64  `json:"speed,omitempty"`    // m/s as reported by the device
	Timestamp time.Time `json:"timestamp"`
}

// Coordinates returns the sample position.
func (s LocationSample) Coordinates() Coordinates {
	return Coordinates{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Geofence is the circular area a check-in location must fall inside.
type Geofence struct {
	Center Coordinates `json:"center"`
	Radius float64     `json:"radius"` // metres
}

// NetworkLocation is the approximate position derived from the client IP.
type NetworkLocation struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyRadius float64 `json:"accuracy_radius"` // metres
	CountryCode    string  `json:"country_code,omitempty"`
	Timezone       string  `json:"timezone,omitempty"`
}

// ─── Device ──────────────────────────────────────────────────────────────────

// ScreenInfo describes the client display.
type ScreenInfo struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	ColorDepth int `json:"color_depth"`
}

// HardwareInfo describes the client hardware as reported by the runtime.
type HardwareInfo struct {
	Cores      int     `json:"cores"`
	MemoryGB   float64 `json:"memory_gb"`
	PixelRatio float64 `json:"pixel_ratio"`
}

// DeviceSignals are the raw, already-captured device signals of one attempt.
type DeviceSignals struct {
	UserAgent string       `json:"user_agent"`
	Screen    ScreenInfo   `json:"screen"`
	Hardware  HardwareInfo `json:"hardware"`
	Locale    string       `json:"locale"`
	Platform  string       `json:"platform"`
	Timezone  string       `json:"timezone,omitempty"`
	Canvas    string       `json:"canvas,omitempty"`
	WebGL     string       `json:"webgl,omitempty"`
	Audio     string       `json:"audio,omitempty"`
	Fonts     []string     `json:"fonts,omitempty"`
	Plugins   []string     `json:"plugins,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// DeviceFingerprint is a snapshot of device signals plus its derived id.
type DeviceFingerprint struct {
	ID string `json:"id"`
	DeviceSignals
}

// DeviceRecord is a fingerprint bound to a student across sessions.
type DeviceRecord struct {
	StudentID   string            `json:"student_id"`
	Fingerprint DeviceFingerprint `json:"fingerprint"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
}

// ─── Time ────────────────────────────────────────────────────────────────────

// TimeWindow is a session's valid check-in interval.
type TimeWindow struct {
	ValidFrom          time.Time `json:"valid_from"`
	ValidTo            time.Time `json:"valid_to"`
	GracePeriodMinutes int       `json:"grace_period_minutes"`
}

// WindowState is the position of an instant relative to a TimeWindow.
type WindowState string

const (
	WindowBefore  WindowState = "BEFORE"
	WindowDuring  WindowState = "DURING"
	WindowAfter   WindowState = "AFTER"   // past validTo, still inside the grace period
	WindowExpired WindowState = "EXPIRED" // past validTo + grace
)

// ─── Photo ───────────────────────────────────────────────────────────────────

// PhotoMetadata carries flags reported by the capture component.
type PhotoMetadata struct {
	Software    string `json:"software,omitempty"`
	Edited      bool   `json:"edited,omitempty"`
	Screenshot  bool   `json:"screenshot,omitempty"`
	FromGallery bool   `json:"from_gallery,omitempty"`
}

// PhotoSubmission is one captured image. Data is base64 in JSON.
type PhotoSubmission struct {
	Data       []byte        `json:"data"`
	Format     string        `json:"format"` // declared format: jpeg | png | webp
	Width      int           `json:"width,omitempty"`
	Height     int           `json:"height,omitempty"`
	Size       int64         `json:"size,omitempty"`
	Metadata   PhotoMetadata `json:"metadata"`
	CapturedAt time.Time     `json:"captured_at"`

	// Original is the upload as received when Data was re-encoded to fit the
	// size limit. Manipulation and duplicate checks read it instead of Data.
	Original []byte `json:"-"`
}

// Evidence returns the payload integrity checks should inspect.
func (p PhotoSubmission) Evidence() []byte {
	if len(p.Original) > 0 {
		return p.Original
	}
	return p.Data
}

// ─── Signals and scores ──────────────────────────────────────────────────────

// FraudSignal is one validator's partial verdict on the [0,1] riskiness scale.
type FraudSignal struct {
	Factor   string   `json:"factor"`
	Score    float64  `json:"score"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// HasErrors reports whether the validator recorded a hard error.
func (s FraudSignal) HasErrors() bool { return len(s.Errors) > 0 }

// ContributingFactor explains how much one factor moved the overall score.
type ContributingFactor struct {
	Factor       string   `json:"factor"`
	Weight       float64  `json:"weight"`
	Risk         float64  `json:"risk"`         // [0,1]
	Contribution float64  `json:"contribution"` // points on the 0-100 scale
	Reasons      []string `json:"reasons,omitempty"`
}

// FraudScore is the aggregate of all FraudSignals.
type FraudScore struct {
	Overall             float64              `json:"overall"` // 0-100
	Factors             map[string]float64   `json:"factors"` // factor -> [0,1] risk
	RiskLevel           RiskLevel            `json:"risk_level"`
	ContributingFactors []ContributingFactor `json:"contributing_factors"`
}

// ─── Policy and session ──────────────────────────────────────────────────────

// RiskWeights are the per-factor weights of the aggregate score.
type RiskWeights struct {
	Location float64 `json:"location" toml:"location" yaml:"location"`
	Device   float64 `json:"device" toml:"device" yaml:"device"`
	Time     float64 `json:"time" toml:"time" yaml:"time"`
	Behavior float64 `json:"behavior" toml:"behavior" yaml:"behavior"`
	Photo    float64 `json:"photo" toml:"photo" yaml:"photo"`
}

// Of returns the weight of a factor.
func (w RiskWeights) Of(factor string) float64 {
	switch factor {
	case FactorLocation:
		return w.Location
	case FactorDevice:
		return w.Device
	case FactorTime:
		return w.Time
	case FactorBehavior:
		return w.Behavior
	case FactorPhoto:
		return w.Photo
	}
	return 0
}

// Sum returns the total of all weights.
func (w RiskWeights) Sum() float64 {
	return w.Location + w.Device + w.Time + w.Behavior + w.Photo
}

// RiskThresholds are the lower bounds (0-100) of the upper risk levels.
type RiskThresholds struct {
	Medium   float64 `json:"medium" toml:"medium" yaml:"medium"`
	High     float64 `json:"high" toml:"high" yaml:"high"`
	Critical float64 `json:"critical" toml:"critical" yaml:"critical"`
}

// SecurityPolicy holds the per-session knobs of the engine.
type SecurityPolicy struct {
	Weights            RiskWeights    `json:"weights" toml:"weights" yaml:"weights"`
	Thresholds         RiskThresholds `json:"thresholds" toml:"thresholds" yaml:"thresholds"`
	AlertThreshold     float64        `json:"alert_threshold" toml:"alert_threshold" yaml:"alert_threshold"`
	RequireLocation    bool           `json:"require_location" toml:"require_location" yaml:"require_location"`
	RequirePhoto       bool           `json:"require_photo" toml:"require_photo" yaml:"require_photo"`
	RequireFace        bool           `json:"require_face" toml:"require_face" yaml:"require_face"`
	RequireDeviceCheck bool           `json:"require_device_check" toml:"require_device_check" yaml:"require_device_check"`
	MaxDevicesPerUser  int            `json:"max_devices_per_user" toml:"max_devices_per_user" yaml:"max_devices_per_user"`
	GracePeriodMinutes int            `json:"grace_period_minutes" toml:"grace_period_minutes" yaml:"grace_period_minutes"`
}

// DefaultSecurityPolicy returns the policy used when a session does not set one.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		Weights: RiskWeights{
			Location: 0.25,
			Device:   0.25,
			Time:     0.20,
			Behavior: 0.15,
			Photo:    0.15,
		},
		Thresholds:         RiskThresholds{Medium: 30, High: 50, Critical: 70},
		AlertThreshold:     50,
		RequireLocation:    true,
		RequirePhoto:       false,
		RequireFace:        false,
		RequireDeviceCheck: true,
		MaxDevicesPerUser:  3,
		GracePeriodMinutes: 5,
	}
}

// SessionConfig is the per-session configuration the engine validates against.
type SessionConfig struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Geofence Geofence       `json:"geofence"`
	Window   TimeWindow     `json:"window"`
	Timezone string         `json:"timezone,omitempty"` // IANA name, e.g. "Africa/Cairo"
	Policy   SecurityPolicy `json:"policy"`
}

// GracePeriod returns the effective grace period: the window's own when set,
// otherwise the policy's.
func (s SessionConfig) GracePeriod() time.Duration {
	minutes := s.Window.GracePeriodMinutes
	if minutes <= 0 {
		minutes = s.Policy.GracePeriodMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// ─── Attempts ────────────────────────────────────────────────────────────────

// ScoredAttempt is one past check-in attempt after scoring. The caller keeps
// these and feeds a short rolling window back into the engine.
type ScoredAttempt struct {
	ID              string             `json:"id"`
	StudentID       string             `json:"student_id"`
	SessionID       string             `json:"session_id"`
	Timestamp       time.Time          `json:"timestamp"` // server receive time
	ClientTimestamp time.Time          `json:"client_timestamp"`
	Score           float64            `json:"score"`
	RiskLevel       RiskLevel          `json:"risk_level"`
	IsValid         bool               `json:"is_valid"`
	IPAddress       string             `json:"ip_address,omitempty"`
	DeviceID        string             `json:"device_id,omitempty"`
	Fingerprint     *DeviceFingerprint `json:"fingerprint,omitempty"`
	Location        *LocationSample    `json:"location,omitempty"`
	PhotoHash       string             `json:"photo_hash,omitempty"`
}

// CheckInRequest is everything the engine needs for one check-in attempt.
// History slices are supplied by the caller; the engine never fetches them.
type CheckInRequest struct {
	StudentID       string           `json:"student_id"`
	SessionID       string           `json:"session_id"`
	ClientTimestamp time.Time        `json:"client_timestamp"`
	ReceivedAt      time.Time        `json:"received_at,omitempty"`
	ClientTimezone  string           `json:"client_timezone,omitempty"`
	IPAddress       string           `json:"ip_address,omitempty"`
	Location        *LocationSample  `json:"location,omitempty"`
	Device          *DeviceSignals   `json:"device,omitempty"`
	Photo           *PhotoSubmission `json:"photo,omitempty"`

	RecentAttempts   []ScoredAttempt  `json:"recent_attempts,omitempty"`  // same student, short window
	SessionAttempts  []ScoredAttempt  `json:"session_attempts,omitempty"` // all students, same session
	DeviceHistory    []DeviceRecord   `json:"device_history,omitempty"`
	LocationHistory  []LocationSample `json:"location_history,omitempty"`
	PriorPhotoHashes []string         `json:"prior_photo_hashes,omitempty"`
	NetworkLocation  *NetworkLocation `json:"network_location,omitempty"`
}

// ─── Patterns ────────────────────────────────────────────────────────────────

// PatternType identifies a cross-attempt pattern detector.
type PatternType string

const (
	PatternRapidAttempts     PatternType = "RAPID_ATTEMPTS"
	PatternCoordinatedDevice PatternType = "COORDINATED_DEVICE"
	PatternCoordinatedIP     PatternType = "COORDINATED_IP"
	PatternDeviceSwitching   PatternType = "DEVICE_SWITCHING"
	PatternDuplicatePhoto    PatternType = "DUPLICATE_PHOTO"
	PatternClockManipulation PatternType = "CLOCK_MANIPULATION"
)

// PatternResult is the verdict of one cross-attempt pattern detector.
type PatternResult struct {
	Type        PatternType `json:"type"`
	Confidence  float64     `json:"confidence"`
	Description string      `json:"description"`
	Students    []string    `json:"students,omitempty"`
	AttemptIDs  []string    `json:"attempt_ids,omitempty"`
	Key         string      `json:"key,omitempty"` // shared IP or device id
}
