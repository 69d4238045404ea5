package risk

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/alert"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// SpoofingAlertScore is the geo spoofing score that raises a location alert on
// its own.
const SpoofingAlertScore = 0.4

// AlertInput is everything alert generation looks at for one attempt.
type AlertInput struct {
	StudentID string
	SessionID string
	AttemptID string
	IPAddress string

	Sample       *domain.LocationSample
	Location     *domain.LocationValidationResult
	Device       *domain.DeviceValidationResult
	Sharing      *domain.DeviceSharingResult
	Time         domain.TimeValidationResult
	Manipulation domain.TimeManipulationResult
	ClientTime   time.Time
	Patterns     []domain.PatternResult
	Signals      []domain.FraudSignal

	MaxDevices    int
	PatternWindow time.Duration
	RecentScores  []float64
}

// GenerateAlerts decides which alerts an attempt raises. In order:
//
//  1. the dominant contributing factor, when overall reaches alertThreshold
//  2. every factor whose validator reported a hard error
//  3. every detector verdict: spoofing, clock manipulation, device sharing,
//     coordinated use, rapid attempts and duplicate photos
//
// At most one alert per type is produced; the first reason wins.
func GenerateAlerts(in AlertInput, score domain.FraudScore, alertThreshold float64, now time.Time) []domain.FraudAlert {
	var types []domain.AlertType
	add := func(t domain.AlertType) {
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}

	if score.Overall >= alertThreshold && len(score.ContributingFactors) > 0 {
		add(in.typeFor(score.ContributingFactors[0].Factor))
	}
	hardError := false
	for _, s := range in.Signals {
		if s.HasErrors() {
			hardError = true
			add(in.typeFor(s.Factor))
		}
	}
	if in.Location != nil && in.Location.SpoofingScore >= SpoofingAlertScore {
		add(domain.AlertLocationSpoofing)
	}
	if in.Manipulation.IsManipulated {
		add(domain.AlertTimeManipulation)
	}
	if in.Sharing != nil && in.Sharing.IsSharing {
		add(domain.AlertDeviceSharing)
	}
	for _, p := range in.Patterns {
		add(patternAlertType(p.Type))
	}

	severity := domain.SeverityFor(score.RiskLevel)
	if hardError && severity.Rank() < domain.SeverityMedium.Rank() {
		severity = domain.SeverityMedium
	}

	alerts := make([]domain.FraudAlert, 0, len(types))
	for _, t := range types {
		ev, desc := in.evidence(t)
		a := alert.New(ev, severity, desc, score, in.StudentID, in.SessionID, now)
		a.AttemptID = in.AttemptID
		alerts = append(alerts, a)
	}
	return alerts
}

func (in AlertInput) typeFor(factor string) domain.AlertType {
	switch factor {
	case domain.FactorLocation:
		return domain.AlertLocationSpoofing
	case domain.FactorTime:
		return domain.AlertTimeManipulation
	case domain.FactorDevice:
		if in.Sharing != nil && in.Sharing.IsSharing {
			return domain.AlertDeviceSharing
		}
		return domain.AlertMultipleDevices
	case domain.FactorBehavior:
		if p, ok := strongest(in.Patterns); ok {
			return patternAlertType(p.Type)
		}
	}
	return domain.AlertSuspiciousPattern
}

func patternAlertType(t domain.PatternType) domain.AlertType {
	switch t {
	case domain.PatternCoordinatedIP:
		return domain.AlertQRSharing
	case domain.PatternCoordinatedDevice, domain.PatternDeviceSwitching:
		return domain.AlertDeviceSharing
	case domain.PatternClockManipulation:
		return domain.AlertTimeManipulation
	}
	return domain.AlertSuspiciousPattern
}

func strongest(patterns []domain.PatternResult) (domain.PatternResult, bool) {
	if len(patterns) == 0 {
		return domain.PatternResult{}, false
	}
	best := patterns[0]
	for _, p := range patterns[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, true
}

func (in AlertInput) pattern(t domain.PatternType) (domain.PatternResult, bool) {
	for _, p := range in.Patterns {
		if p.Type == t {
			return p, true
		}
	}
	return domain.PatternResult{}, false
}

func (in AlertInput) signal(factor string) domain.FraudSignal {
	for _, s := range in.Signals {
		if s.Factor == factor {
			return s
		}
	}
	return domain.FraudSignal{Factor: factor}
}

// evidence builds the typed payload and a one-line description.
func (in AlertInput) evidence(t domain.AlertType) (domain.Evidence, string) {
	switch t {
	case domain.AlertLocationSpoofing:
		sig := in.signal(domain.FactorLocation)
		ev := domain.LocationEvidence{Reasons: reasons(sig)}
		if in.Sample != nil {
			ev.Latitude, ev.Longitude, ev.Accuracy = in.Sample.Latitude, in.Sample.Longitude, in.Sample.Accuracy
		}
		if in.Location != nil {
			ev.Distance = in.Location.Distance
			ev.SpoofingScore = in.Location.SpoofingScore
			ev.NetworkDistance = in.Location.NetworkDistance
		}
		return ev, describe("location check failed", ev.Reasons)

	case domain.AlertTimeManipulation:
		sig := in.signal(domain.FactorTime)
		ev := domain.TimeEvidence{
			ClientTime: in.ClientTime,
			ServerTime: in.Time.ServerTime,
			Drift:      in.Time.TimeDifference,
			Confidence: in.Manipulation.Confidence,
			Reasons:    reasons(sig),
		}
		return ev, describe("time check failed", ev.Reasons)

	case domain.AlertDeviceSharing:
		ev := domain.DeviceSharingEvidence{}
		if in.Device != nil {
			ev.DeviceID = in.Device.Fingerprint.ID
		}
		if in.Sharing != nil {
			ev.Switches = in.Sharing.Switches
			ev.Patterns = slices.Clone(in.Sharing.Patterns)
		}
		if p, ok := in.pattern(domain.PatternCoordinatedDevice); ok {
			ev.Students = slices.Clone(p.Students)
			ev.Patterns = append(ev.Patterns, p.Description)
		}
		return ev, describe("device sharing suspected", ev.Patterns)

	case domain.AlertMultipleDevices:
		sig := in.signal(domain.FactorDevice)
		ev := domain.MultipleDevicesEvidence{Limit: in.MaxDevices, Reasons: reasons(sig)}
		if in.Device != nil {
			ev.DeviceID = in.Device.Fingerprint.ID
			ev.KnownDevices = in.Device.ActiveDevices
			ev.BestSimilarity = in.Device.BestSimilarity
		}
		return ev, describe("device check failed", ev.Reasons)

	case domain.AlertQRSharing:
		ev := domain.QRSharingEvidence{IPAddress: in.IPAddress, Window: in.PatternWindow}
		if p, ok := in.pattern(domain.PatternCoordinatedIP); ok {
			ev.Students = slices.Clone(p.Students)
		}
		return ev, fmt.Sprintf("%d students checked in from one network address", len(ev.Students))
	}

	ev := domain.PatternEvidence{
		Attempts: 1,
		Window:   in.PatternWindow,
		Scores:   slices.Clone(in.RecentScores),
	}
	for _, p := range in.Patterns {
		if patternAlertType(p.Type) != domain.AlertSuspiciousPattern {
			continue
		}
		ev.Patterns = append(ev.Patterns, p.Type)
		ev.Reasons = append(ev.Reasons, p.Description)
		if p.Type == domain.PatternRapidAttempts {
			ev.Attempts = len(p.AttemptIDs) + 1
		}
	}
	ev.Reasons = append(ev.Reasons, reasons(in.signal(domain.FactorPhoto))...)
	return ev, describe("suspicious check-in pattern", ev.Reasons)
}

func reasons(sig domain.FraudSignal) []string {
	return append(slices.Clone(sig.Errors), sig.Warnings...)
}

func describe(prefix string, details []string) string {
	if len(details) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(details[:min(2, len(details))], "; ")
}
