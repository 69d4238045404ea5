package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ─── Alert enums ─────────────────────────────────────────────────────────────

// AlertType is the closed set of alert kinds.
type AlertType string

const (
	AlertLocationSpoofing  AlertType = "LOCATION_SPOOFING"
	AlertTimeManipulation  AlertType = "TIME_MANIPULATION"
	AlertDeviceSharing     AlertType = "DEVICE_SHARING"
	AlertMultipleDevices   AlertType = "MULTIPLE_DEVICES"
	AlertSuspiciousPattern AlertType = "SUSPICIOUS_PATTERN"
	AlertQRSharing         AlertType = "QR_SHARING"
)

// AlertTypes lists every alert type.
var AlertTypes = []AlertType{
	AlertLocationSpoofing,
	AlertTimeManipulation,
	AlertDeviceSharing,
	AlertMultipleDevices,
	AlertSuspiciousPattern,
	AlertQRSharing,
}

// Valid reports whether t is one of the known alert types.
func (t AlertType) Valid() bool {
	for _, known := range AlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity of an alert, derived from the risk level.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFor maps a risk level onto an alert severity.
func SeverityFor(level RiskLevel) Severity {
	switch level {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rank orders severities from LOW (0) to CRITICAL (3). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusPending       AlertStatus = "PENDING"
	StatusInvestigating AlertStatus = "INVESTIGATING"
	StatusResolved      AlertStatus = "RESOLVED"
	StatusDismissed     AlertStatus = "DISMISSED"
)

// Terminal reports whether no transition leaves the status.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// ─── Evidence ────────────────────────────────────────────────────────────────

// Evidence is the type-specific payload attached to an alert. The set of
// implementations is closed: each alert type has exactly one evidence type.
type Evidence interface {
	AlertType() AlertType
	evidence()
}

// LocationEvidence backs LOCATION_SPOOFING alerts.
type LocationEvidence struct {
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
	Accuracy        float64  `json:"accuracy"`
	Distance        float64  `json:"distance"`
	SpoofingScore   float64  `json:"spoofing_score"`
	NetworkDistance *float64 `json:"network_distance,omitempty"`
	Reasons         []string `json:"reasons,omitempty"`
}

// TimeEvidence backs TIME_MANIPULATION alerts.
type TimeEvidence struct {
	ClientTime time.Time     `json:"client_time"`
	ServerTime time.Time     `json:"server_time"`
	Drift      time.Duration `json:"drift"`
	Confidence float64       `json:"confidence"`
	Reasons    []string      `json:"reasons,omitempty"`
}

// DeviceSharingEvidence backs DEVICE_SHARING alerts.
type DeviceSharingEvidence struct {
	DeviceID string   `json:"device_id"`
	Students []string `json:"students,omitempty"`
	Switches int      `json:"switches"`
	Patterns []string `json:"patterns,omitempty"`
}

// MultipleDevicesEvidence backs MULTIPLE_DEVICES alerts.
type MultipleDevicesEvidence struct {
	DeviceID       string   `json:"device_id"`
	KnownDevices   int      `json:"known_devices"`
	Limit          int      `json:"limit"`
	BestSimilarity float64  `json:"best_similarity"`
	Reasons        []string `json:"reasons,omitempty"`
}

// PatternEvidence backs SUSPICIOUS_PATTERN alerts.
type PatternEvidence struct {
	Patterns []PatternType `json:"patterns,omitempty"`
	Attempts int           `json:"attempts"`
	Window   time.Duration `json:"window"`
	Scores   []float64     `json:"scores,omitempty"`
	Reasons  []string      `json:"reasons,omitempty"`
}

// QRSharingEvidence backs QR_SHARING alerts.
type QRSharingEvidence struct {
	IPAddress string        `json:"ip_address"`
	Students  []string      `json:"students"`
	Window    time.Duration `json:"window"`
}

func (LocationEvidence) AlertType() AlertType        { return AlertLocationSpoofing }
func (TimeEvidence) AlertType() AlertType            { return AlertTimeManipulation }
func (DeviceSharingEvidence) AlertType() AlertType   { return AlertDeviceSharing }
func (MultipleDevicesEvidence) AlertType() AlertType { return AlertMultipleDevices }
func (PatternEvidence) AlertType() AlertType         { return AlertSuspiciousPattern }
func (QRSharingEvidence) AlertType() AlertType       { return AlertQRSharing }

func (LocationEvidence) evidence()        {}
func (TimeEvidence) evidence()            {}
func (DeviceSharingEvidence) evidence()   {}
func (MultipleDevicesEvidence) evidence() {}
func (PatternEvidence) evidence()         {}
func (QRSharingEvidence) evidence()       {}

// DecodeEvidence decodes a raw evidence payload for the given alert type.
func DecodeEvidence(t AlertType, raw json.RawMessage) (Evidence, error) {
	var (
		ev  Evidence
		err error
	)
	switch t {
	case AlertLocationSpoofing:
		var e LocationEvidence
		err = json.Unmarshal(raw, &e)
		ev = e
	case AlertTimeManipulation:
		var e TimeEvidence
		err = json.Unmarshal(raw, &e)
		ev = e
	case AlertDeviceSharing:
		var e DeviceSharingEvidence
		err = json.Unmarshal(raw, &e)
		ev = e
	case AlertMultipleDevices:
		var e MultipleDevicesEvidence
		err = json.Unmarshal(raw, &e)
		ev = e
	case AlertSuspiciousPattern:
		var e PatternEvidence
		err = json.Unmarshal(raw, &e)
		ev = e
	case AlertQRSharing:
		var e QRSharingEvidence
		err = json.Unmarshal(raw, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown alert type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s evidence: %w", t, err)
	}
	return ev, nil
}

// ─── Alert and investigation ─────────────────────────────────────────────────

// InvestigationNote is one reviewer note on an alert.
type InvestigationNote struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Investigation is review metadata. It exists only once the alert has left
// PENDING.
type Investigation struct {
	Assignee      string              `json:"assignee,omitempty"`
	AssignedAt    *time.Time          `json:"assigned_at,omitempty"`
	Notes         []InvestigationNote `json:"notes,omitempty"`
	Resolution    string              `json:"resolution,omitempty"`
	ResolvedAt    *time.Time          `json:"resolved_at,omitempty"`
	DismissReason string              `json:"dismiss_reason,omitempty"`
	DismissedAt   *time.Time          `json:"dismissed_at,omitempty"`
}

// FraudAlert is a flag raised for human review. Type always equals
// Evidence.AlertType(); use alert.New to build one.
type FraudAlert struct {
	ID            string         `json:"id"`
	Type          AlertType      `json:"type"`
	Severity      Severity       `json:"severity"`
	Description   string         `json:"description"`
	StudentID     string         `json:"student_id"`
	SessionID     string         `json:"session_id"`
	AttemptID     string         `json:"attempt_id,omitempty"`
	Evidence      Evidence       `json:"evidence"`
	Score         FraudScore     `json:"score"`
	Status        AlertStatus    `json:"status"`
	Investigation *Investigation `json:"investigation,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Version       int            `json:"version"`
}

// UnmarshalJSON decodes the evidence according to the alert type.
func (a *FraudAlert) UnmarshalJSON(data []byte) error {
	type plain FraudAlert
	var aux struct {
		plain
		Evidence json.RawMessage `json:"evidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = FraudAlert(aux.plain)
	a.Evidence = nil
	if len(aux.Evidence) > 0 && string(aux.Evidence) != "null" {
		ev, err := DecodeEvidence(a.Type, aux.Evidence)
		if err != nil {
			return err
		}
		a.Evidence = ev
	}
	return nil
}
