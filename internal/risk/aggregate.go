// Package risk fuses the per-validator signals into one fraud score, detects
// cross-attempt patterns and decides which alerts an attempt raises.
//
// Every factor is expressed on a [0,1] riskiness scale before weighting:
//
//	location  1 - geo confidence
//	device    1 - device confidence
//	time      drift / maxDrift, at least 0.2 inside the grace period, 1 when
//	          the window check failed, raised to the manipulation confidence
//	photo     0.5 * (1 - quality) + 0.5 * manipulation, at least 0.8 for a
//	          duplicate submission
//	behavior  the highest cross-attempt pattern confidence
//
// The overall score is the weighted mean scaled to 0-100.
package risk

import (
	"math"
	"slices"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// ─── Factor signals ──────────────────────────────────────────────────────────

// LocationSignal converts a geo result. A nil result means no sample was
// submitted; that is a hard error only when location is required.
func LocationSignal(res *domain.LocationValidationResult, required bool) domain.FraudSignal {
	sig := domain.FraudSignal{Factor: domain.FactorLocation}
	if res == nil {
		if required {
			sig.Score = 1
			sig.Errors = []string{"location is required for this session"}
		}
		return sig
	}
	sig.Score = clamp01(1 - res.Confidence)
	sig.Warnings = slices.Clone(res.Warnings)
	sig.Errors = slices.Clone(res.Errors)
	return sig
}

// DeviceSignal converts a device result; nil means no device signals.
func DeviceSignal(res *domain.DeviceValidationResult, required bool) domain.FraudSignal {
	sig := domain.FraudSignal{Factor: domain.FactorDevice}
	if res == nil {
		if required {
			sig.Score = 1
			sig.Errors = []string{"device check is required for this session"}
		}
		return sig
	}
	sig.Score = clamp01(1 - res.Confidence)
	sig.Warnings = slices.Clone(res.Warnings)
	sig.Errors = slices.Clone(res.Errors)
	return sig
}

// TimeSignal converts the window and manipulation results.
func TimeSignal(res domain.TimeValidationResult, manip domain.TimeManipulationResult, maxDrift time.Duration) domain.FraudSignal {
	sig := domain.FraudSignal{
		Factor:   domain.FactorTime,
		Warnings: slices.Clone(res.Warnings),
		Errors:   slices.Clone(res.Errors),
	}
	var score float64
	if maxDrift > 0 {
		score = float64(res.TimeDifference) / float64(maxDrift)
	}
	if res.IsWithinGracePeriod {
		score = math.Max(score, 0.2)
	}
	if !res.IsValid {
		score = 1
	}
	score = math.Max(score, manip.Confidence)
	if manip.IsManipulated {
		sig.Warnings = append(sig.Warnings, manip.Reasons...)
	}
	sig.Score = clamp01(score)
	return sig
}

// PhotoSignal converts a photo result; nil means no photo was submitted.
func PhotoSignal(res *domain.PhotoVerificationResult, required bool) domain.FraudSignal {
	sig := domain.FraudSignal{Factor: domain.FactorPhoto}
	if res == nil {
		if required {
			sig.Score = 1
			sig.Errors = []string{"photo is required for this session"}
		}
		return sig
	}
	score := 0.5*(1-res.Quality) + 0.5*res.ManipulationScore
	if res.IsDuplicate {
		score = math.Max(score, 0.8)
	}
	sig.Score = clamp01(score)
	sig.Warnings = slices.Clone(res.Warnings)
	sig.Errors = slices.Clone(res.Errors)
	return sig
}

// BehaviorSignal converts the detected patterns. Patterns are never hard
// errors on their own.
func BehaviorSignal(patterns []domain.PatternResult) domain.FraudSignal {
	sig := domain.FraudSignal{Factor: domain.FactorBehavior}
	for _, p := range patterns {
		sig.Score = math.Max(sig.Score, p.Confidence)
		sig.Warnings = append(sig.Warnings, p.Description)
	}
	sig.Score = clamp01(sig.Score)
	return sig
}

// ─── Aggregation ─────────────────────────────────────────────────────────────

// Aggregate combines the signals into a FraudScore. Factors without a signal
// count as zero risk; a zero total weight yields a zero score.
func Aggregate(signals []domain.FraudSignal, weights domain.RiskWeights, thresholds domain.RiskThresholds) domain.FraudScore {
	score := domain.FraudScore{Factors: make(map[string]float64, len(domain.Factors))}
	bySignal := make(map[string]domain.FraudSignal, len(signals))
	for _, s := range signals {
		bySignal[s.Factor] = s
	}

	total := weights.Sum()
	var weighted float64
	for _, f := range domain.Factors {
		s := bySignal[f]
		r := clamp01(s.Score)
		score.Factors[f] = r
		w := weights.Of(f)
		weighted += w * r
		if total <= 0 || r == 0 || w == 0 {
			continue
		}
		reasons := append(slices.Clone(s.Errors), s.Warnings...)
		score.ContributingFactors = append(score.ContributingFactors, domain.ContributingFactor{
			Factor:       f,
			Weight:       w,
			Risk:         r,
			Contribution: round2(w * r / total * 100),
			Reasons:      reasons,
		})
	}
	if total > 0 {
		score.Overall = round2(math.Min(100, math.Max(0, weighted/total*100)))
	}
	slices.SortStableFunc(score.ContributingFactors, func(a, b domain.ContributingFactor) int {
		switch {
		case a.Contribution > b.Contribution:
			return -1
		case a.Contribution < b.Contribution:
			return 1
		}
		return 0
	})
	score.RiskLevel = Classify(score.Overall, thresholds)
	return score
}

// Classify maps a 0-100 score onto a risk level.
func Classify(overall float64, t domain.RiskThresholds) domain.RiskLevel {
	switch {
	case overall >= t.Critical:
		return domain.RiskCritical
	case overall >= t.High:
		return domain.RiskHigh
	case overall >= t.Medium:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
