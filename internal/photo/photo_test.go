package photo_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/photo"
)

// lcg is a tiny deterministic generator so images are identical across runs.
type lcg uint32

func (l *lcg) next() uint8 {
	*l = *l*1664525 + 1013904223
	return uint8(*l >> 24)
}

// portrait draws a noisy background with a skin-toned block in the center.
func portrait(w, h int, withFace bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := lcg(42)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{seed.next(), seed.next(), seed.next(), 255})
		}
	}
	if withFace {
		for y := h / 4; y < 3*h/4; y++ {
			for x := 3 * w / 8; x < 5*w/8; x++ {
				n := seed.next() % 16
				img.Set(x, y, color.RGBA{216 + n/2, 168 + n/2, 104 + n/2, 255})
			}
		}
	}
	return img
}

func flat(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func submission(data []byte, format string) domain.PhotoSubmission {
	return domain.PhotoSubmission{Data: data, Format: format, Size: int64(len(data))}
}

func newChecker() *photo.Checker { return photo.NewChecker(photo.DefaultConfig()) }

func TestValidatePhoto_GoodPortrait(t *testing.T) {
	data := encodeJPEG(t, portrait(800, 600, true), 90)
	res := newChecker().ValidatePhoto(submission(data, "image/jpeg"), true)

	assert.True(t, res.IsValid, res.Errors)
	assert.Equal(t, "jpeg", res.Format)
	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 600, res.Height)
	assert.True(t, res.HasFace)
	assert.Greater(t, res.Quality, 0.9)
	assert.Less(t, res.ManipulationScore, 0.4)
	assert.Len(t, res.Hash, 32)
	assert.Empty(t, res.Warnings)
}

func TestValidatePhoto_NotAnImage(t *testing.T) {
	res := newChecker().ValidatePhoto(submission([]byte("definitely not an image"), "jpeg"), false)
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"payload is not a recognised image"}, res.Errors)

	res = newChecker().ValidatePhoto(submission(nil, "jpeg"), false)
	assert.False(t, res.IsValid)
}

func TestValidatePhoto_TooSmall(t *testing.T) {
	data := encodePNG(t, portrait(100, 100, true))
	res := newChecker().ValidatePhoto(submission(data, "png"), false)

	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "minimum is 320x240")
}

func TestValidatePhoto_FlatImageIsLowQuality(t *testing.T) {
	data := encodePNG(t, flat(800, 600))
	res := newChecker().ValidatePhoto(submission(data, "png"), false)

	// blurred (-0.5) and tiny for its resolution (-0.3)
	assert.InDelta(t, 0.2, res.Quality, 1e-9)
	assert.False(t, res.IsValid)
	assert.False(t, res.HasFace)
}

func TestValidatePhoto_RequireFace(t *testing.T) {
	data := encodeJPEG(t, portrait(800, 600, false), 90)
	c := newChecker()

	optional := c.ValidatePhoto(submission(data, "jpeg"), false)
	assert.True(t, optional.IsValid)
	assert.Contains(t, optional.Warnings, "no face detected in photo")

	required := c.ValidatePhoto(submission(data, "jpeg"), true)
	assert.False(t, required.IsValid)
	assert.Contains(t, required.Errors, "no face detected in photo")
}

func TestValidatePhoto_FormatChecks(t *testing.T) {
	data := encodePNG(t, portrait(800, 600, true))

	res := newChecker().ValidatePhoto(submission(data, "jpg"), false)
	assert.Contains(t, res.Warnings, "declared format jpeg does not match detected png")

	cfg := photo.DefaultConfig()
	cfg.AllowedFormats = []string{"jpeg"}
	res = photo.NewChecker(cfg).ValidatePhoto(submission(data, "png"), false)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "image format png is not allowed")
}

func TestValidatePhoto_FileTooLarge(t *testing.T) {
	cfg := photo.DefaultConfig()
	cfg.MaxFileSize = 1024
	data := encodeJPEG(t, portrait(800, 600, true), 90)

	res := photo.NewChecker(cfg).ValidatePhoto(submission(data, "jpeg"), false)
	assert.False(t, res.IsValid)
}

func TestValidatePhoto_Manipulation(t *testing.T) {
	data := encodeJPEG(t, portrait(800, 600, true), 90)
	c := newChecker()

	p := submission(data, "jpeg")
	p.Metadata = domain.PhotoMetadata{FromGallery: true, Edited: true}
	res := c.ValidatePhoto(p, false)
	assert.InDelta(t, 0.5, res.ManipulationScore, 1e-9)
	assert.True(t, res.IsValid)
	assert.NotEmpty(t, res.Warnings)

	p.Metadata = domain.PhotoMetadata{Screenshot: true, Edited: true, Software: "Adobe Photoshop 25.0"}
	res = c.ValidatePhoto(p, false)
	assert.InDelta(t, 1.0, res.ManipulationScore, 1e-9)
	assert.False(t, res.IsValid)
}

func TestHeuristicManipulation_PayloadSignals(t *testing.T) {
	var h photo.HeuristicManipulation

	marked := append([]byte("\xff\xd8\xff\xe1Exif\x00\x00Adobe Photoshop CC"), make([]byte, 10)...)
	score, reasons := h.ManipulationScore(domain.PhotoSubmission{Data: marked})
	assert.InDelta(t, 0.4, score, 1e-9)
	assert.Len(t, reasons, 1)

	runs := bytes.Repeat([]byte{0xAB}, 4096)
	score, _ = h.ManipulationScore(domain.PhotoSubmission{Data: runs})
	assert.InDelta(t, 0.3, score, 1e-9)
}

func TestLaplacianBlur(t *testing.T) {
	blur := photo.LaplacianBlur{Threshold: 100}
	assert.Equal(t, 1.0, blur.BlurScore(flat(64, 64)))
	assert.Equal(t, 0.0, blur.BlurScore(portrait(64, 64, false)))
}

func TestSkinToneDetector(t *testing.T) {
	d := photo.SkinToneDetector{MinFraction: 0.15}
	assert.True(t, d.HasSubject(portrait(200, 200, true)))
	assert.False(t, d.HasSubject(portrait(200, 200, false)))
	assert.False(t, d.HasSubject(flat(200, 200)))
}

type stubBlur float64

func (s stubBlur) BlurScore(image.Image) float64 { return float64(s) }

func TestCheckerOptions(t *testing.T) {
	data := encodeJPEG(t, portrait(800, 600, true), 90)
	c := photo.NewChecker(photo.DefaultConfig(), photo.WithBlurScorer(stubBlur(1)))

	res := c.ValidatePhoto(submission(data, "jpeg"), false)
	assert.InDelta(t, 0.5, res.Quality, 1e-9)
	assert.Contains(t, res.Warnings, "photo quality 0.50 is marginal")
}

func TestGeneratePhotoHash(t *testing.T) {
	a := photo.GeneratePhotoHash([]byte("photo-a"))
	assert.Equal(t, a, photo.GeneratePhotoHash([]byte("photo-a")))
	assert.NotEqual(t, a, photo.GeneratePhotoHash([]byte("photo-b")))
	assert.Len(t, a, 32)

	assert.True(t, photo.IsDuplicatePhoto(a, []string{"x", a}))
	assert.False(t, photo.IsDuplicatePhoto(a, []string{"x"}))
	assert.False(t, photo.IsDuplicatePhoto("", []string{""}))
}

func TestCompressPhoto(t *testing.T) {
	original := submission(encodeJPEG(t, portrait(800, 600, true), 95), "jpeg")
	require.Greater(t, len(original.Data), 50_000)

	out := photo.CompressPhoto(original, 50_000, 85)
	assert.LessOrEqual(t, len(out.Data), 50_000)
	assert.Equal(t, "jpeg", out.Format)
	assert.Equal(t, int64(len(out.Data)), out.Size)
	assert.Greater(t, out.Width, 0)

	small := submission([]byte("tiny"), "jpeg")
	assert.Equal(t, small, photo.CompressPhoto(small, 1024, 80))

	broken := submission(bytes.Repeat([]byte{1}, 4096), "jpeg")
	assert.Equal(t, broken, photo.CompressPhoto(broken, 1024, 80), "undecodable payload is returned unchanged")
}

// pngChunk frames one PNG chunk with its length and CRC.
func pngChunk(typ string, data []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	out = append(out, typ...)
	out = append(out, data...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(append([]byte(typ), data...)))
}

// withTextChunk inserts a tEXt chunk right after the IHDR of an encoded PNG.
func withTextChunk(data []byte, key, value string) []byte {
	const afterIHDR = 8 + 25
	out := append([]byte{}, data[:afterIHDR]...)
	out = append(out, pngChunk("tEXt", []byte(key+"\x00"+value))...)
	return append(out, data[afterIHDR:]...)
}

func TestCompressPhoto_HugeDeclaredDimensions(t *testing.T) {
	// 20000x20000 grayscale declared, a few bytes of pixel data, padded.
	ihdr := binary.BigEndian.AppendUint32(nil, 20000)
	ihdr = binary.BigEndian.AppendUint32(ihdr, 20000)
	ihdr = append(ihdr, 8, 0, 0, 0, 0)
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, _ = zw.Write(make([]byte, 64))
	require.NoError(t, zw.Close())

	data := append([]byte("\x89PNG\r\n\x1a\n"), pngChunk("IHDR", ihdr)...)
	data = append(data, pngChunk("IDAT", z.Bytes())...)
	data = append(data, make([]byte, 8192)...)
	in := submission(data, "png")

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	out := photo.CompressPhoto(in, 1024, 85)
	runtime.ReadMemStats(&after)

	assert.Equal(t, in, out, "oversized image is returned unchanged")
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20), "no full-size decode")
}

func TestCompressPhoto_KeepsIntegrityEvidence(t *testing.T) {
	raw := withTextChunk(encodePNG(t, portrait(400, 300, true)), "Software", "Adobe Photoshop 2024")
	in := submission(raw, "png")
	c := newChecker()
	direct := c.ValidatePhoto(in, false)
	require.InDelta(t, 0.4, direct.ManipulationScore, 1e-9)

	out := photo.CompressPhoto(in, len(raw)/2, 85)
	require.Less(t, len(out.Data), len(raw))
	assert.Equal(t, raw, out.Original)

	res := c.ValidatePhoto(out, false)
	assert.InDelta(t, 0.4, res.ManipulationScore, 1e-9, "marker in the upload still counts")
	assert.Equal(t, photo.GeneratePhotoHash(raw), res.Hash, "hash matches the raw upload")
	assert.Equal(t, "jpeg", res.Format)
	assert.Equal(t, int64(len(out.Data)), res.FileSize)

	stripped := out
	stripped.Original = nil
	assert.Zero(t, c.ValidatePhoto(stripped, false).ManipulationScore)
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "jpeg", photo.NormalizeFormat("JPG"))
	assert.Equal(t, "jpeg", photo.NormalizeFormat("image/jpeg"))
	assert.Equal(t, "png", photo.NormalizeFormat(" image/png "))
	assert.Equal(t, "webp", photo.NormalizeFormat("webp"))
	assert.Equal(t, "", photo.NormalizeFormat(""))
}
