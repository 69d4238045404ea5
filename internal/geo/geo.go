// Package geo validates check-in locations against a session geofence and
// looks for signs of GPS spoofing.
package geo

import (
	"fmt"
	"math"
	"slices"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// EarthRadius is the mean Earth radius in metres used by Distance.
const EarthRadius = 6_371_000.0

// Config holds the thresholds of the validator.
type Config struct {
	MaxAccuracy        float64 `json:"max_accuracy" toml:"max_accuracy" yaml:"max_accuracy"`                         // metres; worse is an error
	MinAccuracy        float64 `json:"min_accuracy" toml:"min_accuracy" yaml:"min_accuracy"`                         // metres; better is a warning
	MaxSpeed           float64 `json:"max_speed" toml:"max_speed" yaml:"max_speed"`                                  // m/s between consecutive samples
	ConsistentSpeed    float64 `json:"consistent_speed" toml:"consistent_speed" yaml:"consistent_speed"`             // m/s for history consistency
	MinConsistency     float64 `json:"min_consistency" toml:"min_consistency" yaml:"min_consistency"`                // fraction of consistent transitions
	MaxAltitudeDelta   float64 `json:"max_altitude_delta" toml:"max_altitude_delta" yaml:"max_altitude_delta"`       // metres
	RepeatTolerance    float64 `json:"repeat_tolerance" toml:"repeat_tolerance" yaml:"repeat_tolerance"`             // degrees
	RepeatCount        int     `json:"repeat_count" toml:"repeat_count" yaml:"repeat_count"`                         // identical samples before flagging
	MaxNetworkDistance float64 `json:"max_network_distance" toml:"max_network_distance" yaml:"max_network_distance"` // metres between GPS and IP position
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxAccuracy:        100,
		MinAccuracy:        10,
		MaxSpeed:           100,
		ConsistentSpeed:    50,
		MinConsistency:     0.7,
		MaxAltitudeDelta:   1000,
		RepeatTolerance:    1e-6,
		RepeatCount:        3,
		MaxNetworkDistance: 500_000,
	}
}

// Validator is stateless; one instance is safe for concurrent use.
type Validator struct {
	cfg Config
}

// NewValidator returns a Validator with the given thresholds.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Config returns the thresholds in use.
func (v *Validator) Config() Config { return v.cfg }

// ─── Distance helpers ────────────────────────────────────────────────────────

// Distance returns the Haversine great-circle distance between a and b in metres.
func Distance(a, b domain.Coordinates) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// IsWithinGeofence reports whether the sample lies inside the geofence,
// boundary included.
func IsWithinGeofence(sample domain.LocationSample, fence domain.Geofence) bool {
	return Distance(sample.Coordinates(), fence.Center) <= fence.Radius
}

// ValidCoordinates reports whether c is a finite latitude/longitude pair in range.
func ValidCoordinates(c domain.Coordinates) bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ─── Single sample ───────────────────────────────────────────────────────────

// ValidateLocation checks one sample against the geofence and the student's
// recent samples.
func (v *Validator) ValidateLocation(sample domain.LocationSample, fence domain.Geofence, history []domain.LocationSample) domain.LocationValidationResult {
	res := domain.LocationValidationResult{Warnings: []string{}, Errors: []string{}}

	if !ValidCoordinates(sample.Coordinates()) {
		res.Errors = append(res.Errors, fmt.Sprintf("coordinates out of range: %.6f, %.6f", sample.Latitude, sample.Longitude))
		return res
	}
	if fence.Radius < 0 || !ValidCoordinates(fence.Center) {
		res.Errors = append(res.Errors, "invalid geofence")
		return res
	}

	switch {
	case sample.Accuracy < 0 || math.IsNaN(sample.Accuracy):
		res.Errors = append(res.Errors, "location accuracy must not be negative")
	case sample.Accuracy > v.cfg.MaxAccuracy:
		res.Errors = append(res.Errors, fmt.Sprintf("location accuracy %.0fm exceeds maximum of %.0fm", sample.Accuracy, v.cfg.MaxAccuracy))
	case sample.Accuracy < v.cfg.MinAccuracy:
		res.Warnings = append(res.Warnings, fmt.Sprintf("location accuracy %.1fm is unusually precise", sample.Accuracy))
	}

	res.Distance = Distance(sample.Coordinates(), fence.Center)
	res.IsWithinRadius = res.Distance <= fence.Radius
	if !res.IsWithinRadius {
		res.Errors = append(res.Errors, fmt.Sprintf("location is %.0fm from the session, outside the %.0fm geofence", res.Distance, fence.Radius))
	}

	spoof, reasons := v.spoofing(sample, history)
	res.SpoofingScore = spoof
	res.Warnings = append(res.Warnings, reasons...)

	res.Confidence = clamp01(1 -
		math.Max(sample.Accuracy, 0)/v.cfg.MaxAccuracy*0.5 -
		radiusRatio(res.Distance, fence.Radius)*0.3 -
		spoof*0.5)
	res.IsValid = len(res.Errors) == 0
	return res
}

// spoofing scores the sample against history. Each heuristic adds a fixed
// amount and a reason; the total is clamped to [0,1].
func (v *Validator) spoofing(sample domain.LocationSample, history []domain.LocationSample) (float64, []string) {
	var (
		score   float64
		reasons []string
	)

	if prev, ok := previousSample(sample, history); ok {
		elapsed := sample.Timestamp.Sub(prev.Timestamp).Seconds()
		if elapsed > 0 {
			speed := Distance(prev.Coordinates(), sample.Coordinates()) / elapsed
			if speed > v.cfg.MaxSpeed {
				score += 0.4
				reasons = append(reasons, fmt.Sprintf("impossible travel speed: %.0f m/s", speed))
			}
		}
		if prev.Altitude != nil && sample.Altitude != nil {
			if delta := math.Abs(*sample.Altitude - *prev.Altitude); delta > v.cfg.MaxAltitudeDelta {
				score += 0.2
				reasons = append(reasons, fmt.Sprintf("altitude changed by %.0fm between samples", delta))
			}
		}
	}

	if sample.Accuracy >= 0 && sample.Accuracy < 1 {
		score += 0.2
		reasons = append(reasons, "sub-metre accuracy is suspicious")
	}

	repeats := 0
	for _, h := range history {
		if math.Abs(h.Latitude-sample.Latitude) <= v.cfg.RepeatTolerance &&
			math.Abs(h.Longitude-sample.Longitude) <= v.cfg.RepeatTolerance {
			repeats++
		}
	}
	if v.cfg.RepeatCount > 0 && repeats >= v.cfg.RepeatCount {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("repeated identical coordinates (%d samples)", repeats))
	}

	return clamp01(score), reasons
}

// previousSample returns the latest history sample taken before sample.
// A history without timestamps falls back to its last element.
func previousSample(sample domain.LocationSample, history []domain.LocationSample) (domain.LocationSample, bool) {
	if len(history) == 0 {
		return domain.LocationSample{}, false
	}
	var (
		best  domain.LocationSample
		found bool
	)
	for _, h := range history {
		if !h.Timestamp.Before(sample.Timestamp) {
			continue
		}
		if !found || h.Timestamp.After(best.Timestamp) {
			best, found = h, true
		}
	}
	if !found && sample.Timestamp.IsZero() {
		return history[len(history)-1], true
	}
	return best, found
}

// ─── History ─────────────────────────────────────────────────────────────────

// ValidateLocationHistory summarises a run of samples: average accuracy and
// the fraction of consecutive transitions at a plausible speed.
func (v *Validator) ValidateLocationHistory(samples []domain.LocationSample, fence domain.Geofence) domain.LocationHistoryResult {
	res := domain.LocationHistoryResult{Samples: len(samples), Warnings: []string{}, Errors: []string{}}
	if len(samples) == 0 {
		res.Errors = append(res.Errors, "no location samples")
		return res
	}

	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b domain.LocationSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	var total float64
	outside := 0
	for _, s := range sorted {
		total += s.Accuracy
		if !IsWithinGeofence(s, fence) {
			outside++
		}
	}
	res.AverageAccuracy = total / float64(len(sorted))

	res.ConsistencyScore = 1
	if len(sorted) > 1 {
		consistent := 0
		for i := 1; i < len(sorted); i++ {
			if v.plausibleTransition(sorted[i-1], sorted[i]) {
				consistent++
			}
		}
		res.ConsistencyScore = float64(consistent) / float64(len(sorted)-1)
	}

	if res.AverageAccuracy > v.cfg.MaxAccuracy {
		res.Errors = append(res.Errors, fmt.Sprintf("average accuracy %.0fm exceeds maximum of %.0fm", res.AverageAccuracy, v.cfg.MaxAccuracy))
	}
	if res.ConsistencyScore < v.cfg.MinConsistency {
		res.Warnings = append(res.Warnings, fmt.Sprintf("inconsistent movement between samples (consistency %.2f)", res.ConsistencyScore))
	}
	if outside > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d of %d samples outside the geofence", outside, len(sorted)))
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

func (v *Validator) plausibleTransition(a, b domain.LocationSample) bool {
	d := Distance(a.Coordinates(), b.Coordinates())
	elapsed := b.Timestamp.Sub(a.Timestamp)
	if elapsed <= 0 {
		// Same instant: only a stationary pair is plausible.
		return d <= math.Max(a.Accuracy, b.Accuracy)
	}
	return d/elapsed.Seconds() <= v.cfg.ConsistentSpeed
}

// ─── Network cross check ─────────────────────────────────────────────────────

// CompareNetworkLocation returns the distance between the GPS sample and the
// IP-derived position, and a warning when it exceeds MaxNetworkDistance after
// allowing for the network accuracy radius. The warning is empty otherwise.
func (v *Validator) CompareNetworkLocation(sample domain.LocationSample, network domain.NetworkLocation) (float64, string) {
	d := Distance(sample.Coordinates(), domain.Coordinates{Latitude: network.Latitude, Longitude: network.Longitude})
	if v.cfg.MaxNetworkDistance <= 0 {
		return d, ""
	}
	if d-network.AccuracyRadius > v.cfg.MaxNetworkDistance {
		return d, fmt.Sprintf("GPS position is %.0fkm from the network location", d/1000)
	}
	return d, ""
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func radiusRatio(distance, radius float64) float64 {
	if radius <= 0 {
		if distance == 0 {
			return 0
		}
		return 1
	}
	return distance / radius
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
