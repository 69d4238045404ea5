// Package photo checks submitted check-in photos for quality, subject
// presence, manipulation and duplicate submission.
package photo

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
	_ "golang.org/x/image/webp"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// Config holds the thresholds of the checker.
type Config struct {
	MaxFileSize      int64    `json:"max_file_size" toml:"max_file_size" yaml:"max_file_size"` // bytes
	MinWidth         int      `json:"min_width" toml:"min_width" yaml:"min_width"`
	MinHeight        int      `json:"min_height" toml:"min_height" yaml:"min_height"`
	MaxWidth         int      `json:"max_width" toml:"max_width" yaml:"max_width"`
	MaxHeight        int      `json:"max_height" toml:"max_height" yaml:"max_height"`
	MinQuality       float64  `json:"min_quality" toml:"min_quality" yaml:"min_quality"`
	MinBytesPerPixel float64  `json:"min_bytes_per_pixel" toml:"min_bytes_per_pixel" yaml:"min_bytes_per_pixel"`
	AllowedFormats   []string `json:"allowed_formats" toml:"allowed_formats" yaml:"allowed_formats"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:      5 << 20,
		MinWidth:         320,
		MinHeight:        240,
		MaxWidth:         4096,
		MaxHeight:        4096,
		MinQuality:       0.5,
		MinBytesPerPixel: 0.02,
		AllowedFormats:   []string{"jpeg", "png", "webp"},
	}
}

// analysisSize bounds the longer side of the image the heuristics look at.
const analysisSize = 256

// maxDecodePixels bounds the images that are fully decoded for analysis.
const maxDecodePixels = 4096 * 4096

// Checker is safe for concurrent use as long as its scorers are.
type Checker struct {
	cfg     Config
	blur    BlurScorer
	subject SubjectDetector
	manip   ManipulationScorer
}

// Option customises a Checker.
type Option func(*Checker)

// WithBlurScorer replaces the default Laplacian blur scorer.
func WithBlurScorer(s BlurScorer) Option { return func(c *Checker) { c.blur = s } }

// WithSubjectDetector replaces the default skin-tone subject detector.
func WithSubjectDetector(d SubjectDetector) Option { return func(c *Checker) { c.subject = d } }

// WithManipulationScorer replaces the default manipulation heuristics.
func WithManipulationScorer(s ManipulationScorer) Option {
	return func(c *Checker) { c.manip = s }
}

// NewChecker returns a Checker with the heuristic scorers unless overridden.
func NewChecker(cfg Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:     cfg,
		blur:    LaplacianBlur{Threshold: 100},
		subject: SkinToneDetector{MinFraction: 0.15},
		manip:   HeuristicManipulation{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the thresholds in use.
func (c *Checker) Config() Config { return c.cfg }

// ValidatePhoto runs every photo check. requireFace turns a missing subject
// from a warning into an error.
func (c *Checker) ValidatePhoto(p domain.PhotoSubmission, requireFace bool) domain.PhotoVerificationResult {
	res := domain.PhotoVerificationResult{
		FileSize: int64(len(p.Data)),
		Warnings: []string{},
		Errors:   []string{},
	}
	if len(p.Data) == 0 {
		res.Errors = append(res.Errors, "photo payload is empty")
		return res
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		res.Errors = append(res.Errors, "payload is not a recognised image")
		return res
	}
	res.Format, res.Width, res.Height = format, cfg.Width, cfg.Height
	res.Hash = GeneratePhotoHash(p.Evidence())

	if !slices.Contains(c.cfg.AllowedFormats, format) {
		res.Errors = append(res.Errors, fmt.Sprintf("image format %s is not allowed", format))
	}
	if declared := NormalizeFormat(p.Format); declared != "" && declared != format {
		res.Warnings = append(res.Warnings, fmt.Sprintf("declared format %s does not match detected %s", declared, format))
	}
	if c.cfg.MaxFileSize > 0 && res.FileSize > c.cfg.MaxFileSize {
		res.Errors = append(res.Errors, fmt.Sprintf("photo is %d bytes, maximum is %d", res.FileSize, c.cfg.MaxFileSize))
	}
	if res.Width < c.cfg.MinWidth || res.Height < c.cfg.MinHeight {
		res.Errors = append(res.Errors, fmt.Sprintf("photo is %dx%d, minimum is %dx%d", res.Width, res.Height, c.cfg.MinWidth, c.cfg.MinHeight))
	}
	if (c.cfg.MaxWidth > 0 && res.Width > c.cfg.MaxWidth) || (c.cfg.MaxHeight > 0 && res.Height > c.cfg.MaxHeight) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("photo is unusually large: %dx%d", res.Width, res.Height))
	}

	var sample image.Image
	if res.Width*res.Height <= maxDecodePixels && res.Width > 0 && res.Height > 0 {
		if img, _, err := image.Decode(bytes.NewReader(p.Data)); err == nil {
			sample = downscale(img, analysisSize)
		} else {
			res.Warnings = append(res.Warnings, "photo could not be fully decoded")
		}
	}

	res.Quality = c.quality(res, sample)
	switch {
	case res.Quality < c.cfg.MinQuality:
		res.Errors = append(res.Errors, fmt.Sprintf("photo quality %.2f is below minimum %.2f", res.Quality, c.cfg.MinQuality))
	case res.Quality < c.cfg.MinQuality+0.1:
		res.Warnings = append(res.Warnings, fmt.Sprintf("photo quality %.2f is marginal", res.Quality))
	}

	if sample != nil {
		res.HasFace = c.subject.HasSubject(sample)
	}
	if !res.HasFace {
		if requireFace {
			res.Errors = append(res.Errors, "no face detected in photo")
		} else {
			res.Warnings = append(res.Warnings, "no face detected in photo")
		}
	}

	evidence := p
	evidence.Data = p.Evidence()
	score, reasons := c.manip.ManipulationScore(evidence)
	res.ManipulationScore = score
	switch {
	case score > 0.7:
		res.Errors = append(res.Errors, fmt.Sprintf("photo shows signs of manipulation (%s)", strings.Join(reasons, "; ")))
	case score >= 0.4:
		res.Warnings = append(res.Warnings, fmt.Sprintf("photo may have been manipulated (%s)", strings.Join(reasons, "; ")))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func (c *Checker) quality(res domain.PhotoVerificationResult, sample image.Image) float64 {
	q := 1.0
	if res.Width <= 0 || res.Height <= 0 {
		return 0
	}
	if ratio := float64(res.Width) / float64(res.Height); ratio < 0.5 || ratio > 2.0 {
		q -= 0.2
	}
	pixels := float64(res.Width * res.Height)
	if float64(res.FileSize)/pixels < c.cfg.MinBytesPerPixel {
		q -= 0.3
	}
	if res.Width*res.Height < 640*480 {
		q -= 0.4
	}
	if sample != nil {
		q -= 0.5 * clamp01(c.blur.BlurScore(sample))
	}
	return clamp01(q)
}

// ─── Hashing ─────────────────────────────────────────────────────────────────

// GeneratePhotoHash returns a short content hash of the encoded payload.
func GeneratePhotoHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// IsDuplicatePhoto reports whether hash is among the prior hashes.
func IsDuplicatePhoto(hash string, prior []string) bool {
	return hash != "" && slices.Contains(prior, hash)
}

// NormalizeFormat maps declared formats and MIME types onto decoder names.
func NormalizeFormat(declared string) string {
	f := strings.ToLower(strings.TrimSpace(declared))
	f = strings.TrimPrefix(f, "image/")
	switch f {
	case "jpg", "jpeg", "pjpeg":
		return "jpeg"
	case "x-png":
		return "png"
	}
	return f
}

func clamp01(v float64) float64 { return min(1, max(0, v)) }
