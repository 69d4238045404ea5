package risk_test

import (
	"math"
	"testing"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/risk"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

var now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func policy() domain.SecurityPolicy { return domain.DefaultSecurityPolicy() }

func aggregate(signals ...domain.FraudSignal) domain.FraudScore {
	p := policy()
	return risk.Aggregate(signals, p.Weights, p.Thresholds)
}

func sig(factor string, score float64, errs ...string) domain.FraudSignal {
	return domain.FraudSignal{Factor: factor, Score: score, Errors: errs}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func attempt(id, student string, offset time.Duration, score float64) domain.ScoredAttempt {
	return domain.ScoredAttempt{ID: id, StudentID: student, SessionID: "ses_1", Timestamp: now.Add(offset), Score: score}
}

func alertTypes(alerts []domain.FraudAlert) []domain.AlertType {
	out := make([]domain.AlertType, len(alerts))
	for i, a := range alerts {
		out[i] = a.Type
	}
	return out
}

func hasType(alerts []domain.FraudAlert, t domain.AlertType) bool {
	for _, a := range alerts {
		if a.Type == t {
			return true
		}
	}
	return false
}

// ─── Aggregation ──────────────────────────────────────────────────────────────

func TestAggregate_AllClean(t *testing.T) {
	score := aggregate(
		sig(domain.FactorLocation, 0),
		sig(domain.FactorDevice, 0),
		sig(domain.FactorTime, 0),
	)
	if score.Overall != 0 {
		t.Errorf("expected 0, got %.2f", score.Overall)
	}
	if score.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW, got %s", score.RiskLevel)
	}
	if len(score.ContributingFactors) != 0 {
		t.Errorf("expected no contributing factors, got %v", score.ContributingFactors)
	}
	if len(score.Factors) != len(domain.Factors) {
		t.Errorf("expected every factor reported, got %v", score.Factors)
	}
}

func TestAggregate_WeightedMean(t *testing.T) {
	// location 1.0*0.25 + time 0.5*0.20 = 0.35 of a total weight of 1.0
	score := aggregate(sig(domain.FactorLocation, 1), sig(domain.FactorTime, 0.5))
	if !near(score.Overall, 35) {
		t.Errorf("expected 35, got %.2f", score.Overall)
	}
	if score.RiskLevel != domain.RiskMedium {
		t.Errorf("expected MEDIUM, got %s", score.RiskLevel)
	}
	if score.ContributingFactors[0].Factor != domain.FactorLocation {
		t.Errorf("expected location to dominate, got %s", score.ContributingFactors[0].Factor)
	}
	if !near(score.ContributingFactors[0].Contribution, 25) {
		t.Errorf("expected contribution 25, got %.2f", score.ContributingFactors[0].Contribution)
	}
}

func TestAggregate_AllMaxIs100(t *testing.T) {
	var signals []domain.FraudSignal
	for _, f := range domain.Factors {
		signals = append(signals, sig(f, 1.7))
	}
	score := aggregate(signals...)
	if score.Overall != 100 {
		t.Errorf("expected clamp to 100, got %.2f", score.Overall)
	}
	if score.RiskLevel != domain.RiskCritical {
		t.Errorf("expected CRITICAL, got %s", score.RiskLevel)
	}
}

func TestAggregate_WeightsNeedNotSumToOne(t *testing.T) {
	w := domain.RiskWeights{Location: 2, Device: 2}
	score := risk.Aggregate([]domain.FraudSignal{sig(domain.FactorLocation, 1)}, w, policy().Thresholds)
	if !near(score.Overall, 50) {
		t.Errorf("expected 50, got %.2f", score.Overall)
	}
}

func TestAggregate_ZeroWeights(t *testing.T) {
	score := risk.Aggregate([]domain.FraudSignal{sig(domain.FactorLocation, 1)}, domain.RiskWeights{}, policy().Thresholds)
	if score.Overall != 0 || score.RiskLevel != domain.RiskLow {
		t.Errorf("expected 0/LOW with zero weights, got %.2f/%s", score.Overall, score.RiskLevel)
	}
}

func TestClassify_Boundaries(t *testing.T) {
	th := policy().Thresholds
	cases := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{29.99, domain.RiskLow},
		{30, domain.RiskMedium},
		{49.99, domain.RiskMedium},
		{50, domain.RiskHigh},
		{69.99, domain.RiskHigh},
		{70, domain.RiskCritical},
		{100, domain.RiskCritical},
	}
	for _, c := range cases {
		if got := risk.Classify(c.score, th); got != c.want {
			t.Errorf("Classify(%.2f) = %s, want %s", c.score, got, c.want)
		}
	}
}

// ─── Factor signals ───────────────────────────────────────────────────────────

func TestLocationSignal(t *testing.T) {
	s := risk.LocationSignal(&domain.LocationValidationResult{Confidence: 0.75, Warnings: []string{"w"}}, true)
	if !near(s.Score, 0.25) || len(s.Warnings) != 1 {
		t.Errorf("unexpected signal %+v", s)
	}

	missing := risk.LocationSignal(nil, true)
	if missing.Score != 1 || !missing.HasErrors() {
		t.Errorf("required but missing location should be a hard error, got %+v", missing)
	}
	optional := risk.LocationSignal(nil, false)
	if optional.Score != 0 || optional.HasErrors() {
		t.Errorf("optional missing location should be neutral, got %+v", optional)
	}
}

func TestTimeSignal(t *testing.T) {
	maxDrift := 5 * time.Minute

	s := risk.TimeSignal(domain.TimeValidationResult{IsValid: true, TimeDifference: time.Minute}, domain.TimeManipulationResult{}, maxDrift)
	if !near(s.Score, 0.2) {
		t.Errorf("expected 0.2 for 1m of 5m drift, got %.3f", s.Score)
	}

	s = risk.TimeSignal(domain.TimeValidationResult{IsValid: true, IsWithinGracePeriod: true}, domain.TimeManipulationResult{}, maxDrift)
	if !near(s.Score, 0.2) {
		t.Errorf("expected grace floor 0.2, got %.3f", s.Score)
	}

	s = risk.TimeSignal(domain.TimeValidationResult{IsValid: false, Errors: []string{"expired"}}, domain.TimeManipulationResult{}, maxDrift)
	if s.Score != 1 || !s.HasErrors() {
		t.Errorf("expected 1 for an invalid window, got %+v", s)
	}

	manip := domain.TimeManipulationResult{IsManipulated: true, Confidence: 0.7, Reasons: []string{"clock moved backwards"}}
	s = risk.TimeSignal(domain.TimeValidationResult{IsValid: true}, manip, maxDrift)
	if !near(s.Score, 0.7) || len(s.Warnings) != 1 {
		t.Errorf("expected manipulation to raise the score, got %+v", s)
	}
}

func TestPhotoSignal(t *testing.T) {
	s := risk.PhotoSignal(&domain.PhotoVerificationResult{Quality: 0.6, ManipulationScore: 0.2}, false)
	if !near(s.Score, 0.3) {
		t.Errorf("expected 0.3, got %.3f", s.Score)
	}
	s = risk.PhotoSignal(&domain.PhotoVerificationResult{Quality: 1, IsDuplicate: true}, false)
	if !near(s.Score, 0.8) {
		t.Errorf("expected duplicate floor 0.8, got %.3f", s.Score)
	}
	if s := risk.PhotoSignal(nil, false); s.Score != 0 {
		t.Errorf("no photo should be neutral, got %.3f", s.Score)
	}
	if s := risk.PhotoSignal(nil, true); !s.HasErrors() {
		t.Error("required photo missing should be a hard error")
	}
}

func TestBehaviorSignal_MaxConfidence(t *testing.T) {
	s := risk.BehaviorSignal([]domain.PatternResult{
		{Type: domain.PatternRapidAttempts, Confidence: 0.6, Description: "a"},
		{Type: domain.PatternCoordinatedIP, Confidence: 0.9, Description: "b"},
	})
	if !near(s.Score, 0.9) || len(s.Warnings) != 2 || s.HasErrors() {
		t.Errorf("unexpected behavior signal %+v", s)
	}
}

// ─── Pattern detectors ────────────────────────────────────────────────────────

func TestDetectRapidAttempts_Rising(t *testing.T) {
	cfg := risk.DefaultPatternConfig()
	recent := []domain.ScoredAttempt{
		attempt("a2", "stu_1", -20*time.Second, 25),
		attempt("a1", "stu_1", -40*time.Second, 10),
	}
	p, ok := risk.DetectRapidAttempts(risk.Attempt{StudentID: "stu_1", At: now}, recent, cfg)
	if !ok {
		t.Fatal("expected rapid attempts pattern")
	}
	if p.Type != domain.PatternRapidAttempts || !near(p.Confidence, 0.6) {
		t.Errorf("unexpected pattern %+v", p)
	}
	if len(p.AttemptIDs) != 2 || p.AttemptIDs[0] != "a1" {
		t.Errorf("expected attempts ordered by time, got %v", p.AttemptIDs)
	}
}

func TestDetectRapidAttempts_HighScores(t *testing.T) {
	recent := []domain.ScoredAttempt{
		attempt("a1", "stu_1", -40*time.Second, 60),
		attempt("a2", "stu_1", -20*time.Second, 55),
	}
	p, ok := risk.DetectRapidAttempts(risk.Attempt{StudentID: "stu_1", At: now}, recent, risk.DefaultPatternConfig())
	if !ok || !near(p.Confidence, 0.8) {
		t.Errorf("expected high-score burst at 0.8, got %v %+v", ok, p)
	}
}

func TestDetectRapidAttempts_NoPattern(t *testing.T) {
	cfg := risk.DefaultPatternConfig()
	cur := risk.Attempt{StudentID: "stu_1", At: now}

	flat := []domain.ScoredAttempt{
		attempt("a1", "stu_1", -40*time.Second, 10),
		attempt("a2", "stu_1", -20*time.Second, 10),
	}
	if _, ok := risk.DetectRapidAttempts(cur, flat, cfg); ok {
		t.Error("flat low scores should not be flagged")
	}

	falling := []domain.ScoredAttempt{
		attempt("a1", "stu_1", -40*time.Second, 30),
		attempt("a2", "stu_1", -20*time.Second, 10),
	}
	if _, ok := risk.DetectRapidAttempts(cur, falling, cfg); ok {
		t.Error("falling low scores should not be flagged")
	}

	spread := []domain.ScoredAttempt{
		attempt("a1", "stu_1", -3*time.Minute, 10),
		attempt("a2", "stu_1", -20*time.Second, 40),
	}
	if _, ok := risk.DetectRapidAttempts(cur, spread, cfg); ok {
		t.Error("attempts outside the window should not count")
	}

	other := []domain.ScoredAttempt{
		attempt("a1", "stu_2", -40*time.Second, 10),
		attempt("a2", "stu_2", -20*time.Second, 40),
	}
	if _, ok := risk.DetectRapidAttempts(cur, other, cfg); ok {
		t.Error("another student's attempts should not count")
	}
}

func TestDetectCoordinatedDevice(t *testing.T) {
	cfg := risk.DefaultPatternConfig()
	session := []domain.ScoredAttempt{
		{ID: "x1", StudentID: "stu_2", DeviceID: "fp_shared", Timestamp: now.Add(-2 * time.Minute)},
		{ID: "x2", StudentID: "stu_3", DeviceID: "fp_other", Timestamp: now.Add(-time.Minute)},
		{ID: "x3", StudentID: "stu_4", DeviceID: "fp_shared", Timestamp: now.Add(-time.Hour)},
	}
	p, ok := risk.DetectCoordinatedDevice(risk.Attempt{StudentID: "stu_1", DeviceID: "fp_shared", At: now}, session, cfg)
	if !ok {
		t.Fatal("expected coordinated device pattern")
	}
	if len(p.Students) != 2 || p.Students[0] != "stu_1" || p.Students[1] != "stu_2" {
		t.Errorf("unexpected students %v", p.Students)
	}
	if p.Key != "fp_shared" || !near(p.Confidence, 0.7) {
		t.Errorf("unexpected pattern %+v", p)
	}

	if _, ok := risk.DetectCoordinatedDevice(risk.Attempt{StudentID: "stu_2", DeviceID: "fp_shared", At: now}, session[:1], cfg); ok {
		t.Error("the same student re-using a device is not coordination")
	}
	if _, ok := risk.DetectCoordinatedDevice(risk.Attempt{StudentID: "stu_1", At: now}, session, cfg); ok {
		t.Error("an attempt without a device cannot match")
	}
}

func TestDetectCoordinatedIP(t *testing.T) {
	cfg := risk.DefaultPatternConfig()
	var session []domain.ScoredAttempt
	for i, s := range []string{"stu_2", "stu_3", "stu_4", "stu_5"} {
		session = append(session, domain.ScoredAttempt{
			ID: s, StudentID: s, IPAddress: "41.33.1.9", Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	cur := risk.Attempt{StudentID: "stu_1", IPAddress: "41.33.1.9", At: now}

	p, ok := risk.DetectCoordinatedIP(cur, session, cfg)
	if !ok || len(p.Students) != 5 || !near(p.Confidence, 0.5) {
		t.Errorf("expected 5 students at 0.5, got %v %+v", ok, p)
	}
	if _, ok := risk.DetectCoordinatedIP(cur, session[:3], cfg); ok {
		t.Error("four students should stay below the threshold")
	}
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

func TestGenerateAlerts_BelowThresholdNoErrors(t *testing.T) {
	score := aggregate(sig(domain.FactorLocation, 0.2))
	alerts := risk.GenerateAlerts(risk.AlertInput{StudentID: "stu_1", SessionID: "ses_1"}, score, 50, now)
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %v", alertTypes(alerts))
	}
}

func TestGenerateAlerts_DominantFactor(t *testing.T) {
	sample := &domain.LocationSample{Latitude: 40.72, Longitude: -74, Accuracy: 5}
	loc := &domain.LocationValidationResult{Distance: 947, Errors: []string{"outside geofence"}}
	signals := []domain.FraudSignal{
		sig(domain.FactorLocation, 1, "outside geofence"),
		sig(domain.FactorDevice, 1),
		sig(domain.FactorTime, 0.5),
	}
	score := aggregate(signals...)
	in := risk.AlertInput{
		StudentID: "stu_1", SessionID: "ses_1", AttemptID: "att_1",
		Sample: sample, Location: loc, Signals: signals,
		Device: &domain.DeviceValidationResult{Fingerprint: domain.DeviceFingerprint{ID: "fp_1"}},
	}

	alerts := risk.GenerateAlerts(in, score, 50, now)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %v", alertTypes(alerts))
	}
	a := alerts[0]
	if a.Type != domain.AlertLocationSpoofing {
		t.Errorf("expected LOCATION_SPOOFING, got %s", a.Type)
	}
	if a.Severity != domain.SeverityHigh {
		t.Errorf("expected HIGH for a score of %.1f, got %s", score.Overall, a.Severity)
	}
	if a.AttemptID != "att_1" || a.Status != domain.StatusPending {
		t.Errorf("unexpected alert %+v", a)
	}
	ev, ok := a.Evidence.(domain.LocationEvidence)
	if !ok || ev.Distance != 947 || ev.Latitude != 40.72 {
		t.Errorf("unexpected evidence %#v", a.Evidence)
	}
}

func TestGenerateAlerts_HardErrorFloorsSeverity(t *testing.T) {
	signals := []domain.FraudSignal{sig(domain.FactorDevice, 0.6, "device limit reached")}
	score := aggregate(signals...)
	if score.RiskLevel != domain.RiskLow {
		t.Fatalf("precondition: expected LOW, got %s", score.RiskLevel)
	}
	in := risk.AlertInput{
		Signals:    signals,
		MaxDevices: 3,
		Device:     &domain.DeviceValidationResult{ActiveDevices: 3, BestSimilarity: 0.2},
	}
	alerts := risk.GenerateAlerts(in, score, 50, now)
	if len(alerts) != 1 || alerts[0].Type != domain.AlertMultipleDevices {
		t.Fatalf("expected MULTIPLE_DEVICES, got %v", alertTypes(alerts))
	}
	if alerts[0].Severity != domain.SeverityMedium {
		t.Errorf("expected MEDIUM floor, got %s", alerts[0].Severity)
	}
	ev := alerts[0].Evidence.(domain.MultipleDevicesEvidence)
	if ev.KnownDevices != 3 || ev.Limit != 3 {
		t.Errorf("unexpected evidence %+v", ev)
	}
}

func TestGenerateAlerts_DetectorsAndDedup(t *testing.T) {
	patterns := []domain.PatternResult{
		{Type: domain.PatternCoordinatedIP, Confidence: 0.5, Students: []string{"a", "b", "c", "d", "e"}},
		{Type: domain.PatternCoordinatedDevice, Confidence: 0.7, Students: []string{"a", "b"}},
		{Type: domain.PatternDeviceSwitching, Confidence: 0.6},
		{Type: domain.PatternRapidAttempts, Confidence: 0.6, AttemptIDs: []string{"1", "2"}},
	}
	in := risk.AlertInput{
		IPAddress:    "41.33.1.9",
		Patterns:     patterns,
		Manipulation: domain.TimeManipulationResult{IsManipulated: true, Confidence: 0.7},
		Sharing:      &domain.DeviceSharingResult{IsSharing: true, Switches: 3},
	}
	score := aggregate(risk.BehaviorSignal(patterns))
	alerts := risk.GenerateAlerts(in, score, 50, now)

	for _, want := range []domain.AlertType{
		domain.AlertTimeManipulation, domain.AlertDeviceSharing, domain.AlertQRSharing, domain.AlertSuspiciousPattern,
	} {
		if !hasType(alerts, want) {
			t.Errorf("expected %s in %v", want, alertTypes(alerts))
		}
	}
	if len(alerts) != 4 {
		t.Errorf("expected one alert per type, got %v", alertTypes(alerts))
	}
	for _, a := range alerts {
		switch ev := a.Evidence.(type) {
		case domain.QRSharingEvidence:
			if len(ev.Students) != 5 || ev.IPAddress != "41.33.1.9" {
				t.Errorf("unexpected QR evidence %+v", ev)
			}
		case domain.DeviceSharingEvidence:
			if len(ev.Students) != 2 || ev.Switches != 3 {
				t.Errorf("unexpected sharing evidence %+v", ev)
			}
		case domain.PatternEvidence:
			if ev.Attempts != 3 {
				t.Errorf("expected 3 attempts in the burst, got %d", ev.Attempts)
			}
		}
	}
}

func TestGenerateAlerts_SpoofingDetector(t *testing.T) {
	in := risk.AlertInput{Location: &domain.LocationValidationResult{SpoofingScore: 0.4, IsValid: true}}
	alerts := risk.GenerateAlerts(in, aggregate(), 50, now)
	if len(alerts) != 1 || alerts[0].Type != domain.AlertLocationSpoofing {
		t.Errorf("expected a spoofing alert, got %v", alertTypes(alerts))
	}
}

func TestGenerateAlerts_TypeMatchesEvidence(t *testing.T) {
	var signals []domain.FraudSignal
	for _, f := range domain.Factors {
		signals = append(signals, sig(f, 1, f+" failed"))
	}
	alerts := risk.GenerateAlerts(risk.AlertInput{Signals: signals}, aggregate(signals...), 50, now)
	if len(alerts) == 0 {
		t.Fatal("expected alerts")
	}
	for _, a := range alerts {
		if a.Evidence == nil || a.Evidence.AlertType() != a.Type {
			t.Errorf("alert %s carries evidence %T", a.Type, a.Evidence)
		}
		if a.Severity != domain.SeverityCritical {
			t.Errorf("expected CRITICAL, got %s", a.Severity)
		}
	}
}
