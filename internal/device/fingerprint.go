// Package device derives device fingerprints and tracks which devices a
// student is trusted on.
package device

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/cespare/xxhash/v2"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Comparison caps. Inputs beyond these are truncated before comparing.
const (
	maxStringRunes = 512
	maxListItems   = 256
)

// Channel weights of CalculateSimilarity. They sum to 1.
const (
	weightUserAgent = 0.20
	weightScreen    = 0.15
	weightHardware  = 0.15
	weightCanvas    = 0.20
	weightWebGL     = 0.15
	weightFonts     = 0.10
	weightPlugins   = 0.05
)

// GenerateFingerprint derives the stable id of a set of device signals. The id
// depends only on user agent, screen, locale, platform, core count and pixel
// ratio, so it survives changes in the noisier canvas/webgl/audio channels.
func GenerateFingerprint(s domain.DeviceSignals) domain.DeviceFingerprint {
	var b strings.Builder
	b.WriteString(s.UserAgent)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.Screen.Width))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(s.Screen.Height))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(s.Screen.ColorDepth))
	b.WriteByte('|')
	b.WriteString(s.Locale)
	b.WriteByte('|')
	b.WriteString(s.Platform)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.Hardware.Cores))
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(s.Hardware.PixelRatio, 'f', 2, 64))

	return domain.DeviceFingerprint{
		ID:            "fp_" + strconv.FormatUint(xxhash.Sum64String(b.String()), 16),
		DeviceSignals: s,
	}
}

// CalculateSimilarity returns a symmetric [0,1] similarity of two fingerprints.
// Identical fingerprints score exactly 1.
func CalculateSimilarity(a, b domain.DeviceFingerprint) float64 {
	score := weightUserAgent*stringSimilarity(a.UserAgent, b.UserAgent) +
		weightScreen*screenAgreement(a.Screen, b.Screen) +
		weightHardware*hardwareAgreement(a.Hardware, b.Hardware) +
		weightCanvas*equal(a.Canvas, b.Canvas) +
		weightWebGL*equal(a.WebGL, b.WebGL) +
		weightFonts*jaccard(a.Fonts, b.Fonts) +
		weightPlugins*jaccard(a.Plugins, b.Plugins)
	if score > 1 {
		return 1
	}
	return score
}

// changedChannels counts the similarity channels that are not identical.
func changedChannels(a, b domain.DeviceFingerprint) (changed, total int) {
	checks := []bool{
		truncate(a.UserAgent) == truncate(b.UserAgent),
		a.Screen == b.Screen,
		hardwareAgreement(a.Hardware, b.Hardware) == 1,
		a.Canvas == b.Canvas,
		a.WebGL == b.WebGL,
		jaccard(a.Fonts, b.Fonts) == 1,
		jaccard(a.Plugins, b.Plugins) == 1,
	}
	for _, same := range checks {
		if !same {
			changed++
		}
	}
	return changed, len(checks)
}

func stringSimilarity(a, b string) float64 {
	a, b = truncate(a), truncate(b)
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func screenAgreement(a, b domain.ScreenInfo) float64 {
	return agreement(a.Width == b.Width, a.Height == b.Height, a.ColorDepth == b.ColorDepth)
}

func hardwareAgreement(a, b domain.HardwareInfo) float64 {
	return agreement(a.Cores == b.Cores, finite(a.MemoryGB) == finite(b.MemoryGB), finite(a.PixelRatio) == finite(b.PixelRatio))
}

// finite maps NaN and the infinities to 0 so a value always equals itself.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func agreement(matches ...bool) float64 {
	n := 0
	for _, m := range matches {
		if m {
			n++
		}
	}
	return float64(n) / float64(len(matches))
}

func equal(a, b string) float64 {
	if truncate(a) == truncate(b) {
		return 1
	}
	return 0
}

// jaccard is |A∩B| / |A∪B| over the capped sets; two empty sets are identical.
func jaccard(a, b []string) float64 {
	setA, setB := toSet(a), toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func toSet(items []string) map[string]struct{} {
	if len(items) > maxListItems {
		items = items[:maxListItems]
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[truncate(it)] = struct{}{}
	}
	return set
}

func truncate(s string) string {
	if len(s) <= maxStringRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxStringRunes {
			return s[:i]
		}
		n++
	}
	return s
}
