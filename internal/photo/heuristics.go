package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// BlurScorer estimates blur on [0,1]; 1 is completely blurred.
type BlurScorer interface {
	BlurScore(img image.Image) float64
}

// SubjectDetector reports whether a person appears in the image.
type SubjectDetector interface {
	HasSubject(img image.Image) bool
}

// ManipulationScorer estimates on [0,1] how likely the photo was edited or is
// not a live capture, with human-readable reasons.
type ManipulationScorer interface {
	ManipulationScore(p domain.PhotoSubmission) (float64, []string)
}

// ─── Blur ────────────────────────────────────────────────────────────────────

// LaplacianBlur scores blur from the variance of the 4-neighbour Laplacian of
// the luminance. A variance at or above Threshold counts as sharp.
type LaplacianBlur struct {
	Threshold float64
}

// BlurScore implements BlurScorer.
func (l LaplacianBlur) BlurScore(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 || l.Threshold <= 0 {
		return 0
	}
	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray[y*w+x] = float64(color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y)
		}
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			lap := 4*gray[i] - gray[i-1] - gray[i+1] - gray[i-w] - gray[i+w]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	return 1 - min(1, variance/l.Threshold)
}

// ─── Subject ─────────────────────────────────────────────────────────────────

// SkinToneDetector is a coarse presence check: it looks for skin-coloured
// pixels (YCbCr ranges) in the central region of the frame. It is not face
// recognition.
type SkinToneDetector struct {
	MinFraction float64
}

// HasSubject implements SubjectDetector.
func (d SkinToneDetector) HasSubject(img image.Image) bool {
	b := img.Bounds()
	x0, x1 := b.Min.X+b.Dx()/4, b.Max.X-b.Dx()/4
	y0, y1 := b.Min.Y+b.Dy()/4, b.Max.Y-b.Dy()/4
	total, skin := 0, 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			_, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			if cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173 {
				skin++
			}
			total++
		}
	}
	if total == 0 {
		return false
	}
	return float64(skin)/float64(total) >= d.MinFraction
}

// ─── Manipulation ────────────────────────────────────────────────────────────

// editingMarkers are software names that editors and screenshot tools leave
// in image metadata.
var editingMarkers = []string{
	"photoshop", "gimp", "lightroom", "snapseed", "picsart", "facetune",
	"pixelmator", "affinity photo", "screenshot", "snipping tool",
}

// markerScanLimit bounds how much of the payload is searched for markers.
const markerScanLimit = 64 << 10

// minRunLength is the shortest run of identical bytes counted as repetitive.
const minRunLength = 64

// HeuristicManipulation combines editing markers in the payload, long runs of
// identical bytes and the capture metadata flags.
type HeuristicManipulation struct{}

// ManipulationScore implements ManipulationScorer.
func (HeuristicManipulation) ManipulationScore(p domain.PhotoSubmission) (float64, []string) {
	var (
		score   float64
		reasons []string
	)

	head := p.Data
	if len(head) > markerScanLimit {
		head = head[:markerScanLimit]
	}
	lower := bytes.ToLower(head)
	for _, m := range editingMarkers {
		if bytes.Contains(lower, []byte(m)) {
			score += 0.4
			reasons = append(reasons, fmt.Sprintf("editing marker %q in payload", m))
			break
		}
	}

	if frac := repeatedRunFraction(p.Data); frac > 0.1 {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("%.0f%% of payload is repeated byte runs", frac*100))
	}

	if sw := strings.ToLower(p.Metadata.Software); sw != "" {
		for _, m := range editingMarkers {
			if strings.Contains(sw, m) {
				score += 0.3
				reasons = append(reasons, fmt.Sprintf("edited with %s", p.Metadata.Software))
				break
			}
		}
	}
	if p.Metadata.Edited {
		score += 0.3
		reasons = append(reasons, "marked as edited")
	}
	if p.Metadata.Screenshot {
		score += 0.4
		reasons = append(reasons, "captured as a screenshot")
	}
	if p.Metadata.FromGallery {
		score += 0.2
		reasons = append(reasons, "picked from gallery instead of camera")
	}

	return clamp01(score), reasons
}

// repeatedRunFraction returns the share of bytes in runs of at least
// minRunLength identical bytes.
func repeatedRunFraction(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	inRuns := 0
	run := 1
	for i := 1; i <= len(data); i++ {
		if i < len(data) && data[i] == data[i-1] {
			run++
			continue
		}
		if run >= minRunLength {
			inRuns += run
		}
		run = 1
	}
	return float64(inRuns) / float64(len(data))
}

// ─── Scaling ─────────────────────────────────────────────────────────────────

// downscale shrinks img so its longer side is at most maxSide.
func downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
