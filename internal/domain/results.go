package domain

import "time"

// ─── Validator results ───────────────────────────────────────────────────────

// LocationValidationResult is the GeoValidator verdict for one sample.
type LocationValidationResult struct {
	IsValid         bool     `json:"is_valid"`
	Distance        float64  `json:"distance"` // metres from the geofence center
	IsWithinRadius  bool     `json:"is_within_radius"`
	Confidence      float64  `json:"confidence"`
	SpoofingScore   float64  `json:"spoofing_score"`
	NetworkDistance *float64 `json:"network_distance,omitempty"` // metres between GPS and IP position
	Warnings        []string `json:"warnings"`
	Errors          []string `json:"errors"`
}

// LocationHistoryResult summarises a sequence of samples.
type LocationHistoryResult struct {
	IsValid          bool     `json:"is_valid"`
	Samples          int      `json:"samples"`
	AverageAccuracy  float64  `json:"average_accuracy"`
	ConsistencyScore float64  `json:"consistency_score"`
	Warnings         []string `json:"warnings"`
	Errors           []string `json:"errors"`
}

// DeviceValidationResult is the DeviceTrustTracker verdict for one fingerprint.
type DeviceValidationResult struct {
	IsValid         bool              `json:"is_valid"`
	IsNewDevice     bool              `json:"is_new_device"`
	Confidence      float64           `json:"confidence"`
	RiskScore       float64           `json:"risk_score"`
	BestSimilarity  float64           `json:"best_similarity"`
	MatchedDeviceID string            `json:"matched_device_id,omitempty"`
	ActiveDevices   int               `json:"active_devices"`
	Fingerprint     DeviceFingerprint `json:"fingerprint"`
	Warnings        []string          `json:"warnings"`
	Errors          []string          `json:"errors"`
}

// DeviceSharingResult is the verdict of the device sharing detector.
type DeviceSharingResult struct {
	IsSharing       bool     `json:"is_sharing"`
	Confidence      float64  `json:"confidence"`
	Switches        int      `json:"switches"`
	DistinctDevices int      `json:"distinct_devices"`
	Patterns        []string `json:"patterns,omitempty"`
}

// TimeValidationResult is the TimeWindowValidator verdict for one timestamp.
type TimeValidationResult struct {
	IsValid             bool          `json:"is_valid"`
	ServerTime          time.Time     `json:"server_time"`
	IsWithinWindow      bool          `json:"is_within_window"`
	IsWithinGracePeriod bool          `json:"is_within_grace_period"`
	TimeDifference      time.Duration `json:"time_difference"`
	Warnings            []string      `json:"warnings"`
	Errors              []string      `json:"errors"`
}

// TimeManipulationResult is the verdict of the clock manipulation detector.
type TimeManipulationResult struct {
	IsManipulated bool     `json:"is_manipulated"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons,omitempty"`
}

// GraceResult reports how late an attempt is relative to validTo.
type GraceResult struct {
	IsLate        bool    `json:"is_late"`
	MinutesLate   float64 `json:"minutes_late"`
	WithinGrace   bool    `json:"within_grace"`
	GraceMinutes  int     `json:"grace_minutes"`
	GraceExceeded float64 `json:"grace_exceeded_minutes,omitempty"`
}

// WindowStatus classifies an instant relative to a session window.
type WindowStatus struct {
	State         WindowState   `json:"state"`
	TimeRemaining time.Duration `json:"time_remaining"` // until validFrom (BEFORE), validTo (DURING) or grace end (AFTER)
	TimeElapsed   time.Duration `json:"time_elapsed"`   // since validFrom; zero while BEFORE
	GraceEndsAt   time.Time     `json:"grace_ends_at"`
}

// PhotoVerificationResult is the PhotoIntegrityChecker verdict.
type PhotoVerificationResult struct {
	IsValid           bool     `json:"is_valid"`
	Quality           float64  `json:"quality"`
	HasFace           bool     `json:"has_face"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	FileSize          int64    `json:"file_size"`
	Format            string   `json:"format"` // detected format
	ManipulationScore float64  `json:"manipulation_score"`
	Hash              string   `json:"hash,omitempty"`
	IsDuplicate       bool     `json:"is_duplicate"`
	Warnings          []string `json:"warnings"`
	Errors            []string `json:"errors"`
}

// SecurityValidationResult is the full engine verdict for one check-in attempt.
type SecurityValidationResult struct {
	IsValid      bool                      `json:"is_valid"`
	FraudScore   FraudScore                `json:"fraud_score"`
	Location     *LocationValidationResult `json:"location,omitempty"`
	Device       *DeviceValidationResult   `json:"device,omitempty"`
	Time         TimeValidationResult      `json:"time"`
	Manipulation TimeManipulationResult    `json:"manipulation"`
	Sharing      *DeviceSharingResult      `json:"sharing,omitempty"`
	Photo        *PhotoVerificationResult  `json:"photo,omitempty"`
	Patterns     []PatternResult           `json:"patterns,omitempty"`
	Alerts       []FraudAlert              `json:"alerts"`
	Warnings     []string                  `json:"warnings"`
	Errors       []string                  `json:"errors"`
	Attempt      ScoredAttempt             `json:"attempt"` // record for the caller to persist
	EvaluatedAt  time.Time                 `json:"evaluated_at"`
}
