package photo

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

const (
	minCompressQuality = 40
	minCompressSide    = 64
)

// CompressPhoto re-encodes p as JPEG until it fits maxSizeBytes, lowering the
// quality and then the resolution. It never fails: when the payload cannot be
// decoded, declares more than maxDecodePixels or cannot be made small enough
// the original is returned unchanged. A compressed result keeps the upload in
// Original.
func CompressPhoto(p domain.PhotoSubmission, maxSizeBytes int, quality int) domain.PhotoSubmission {
	if maxSizeBytes <= 0 || len(p.Data) <= maxSizeBytes {
		return p
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxDecodePixels {
		return p
	}
	img, _, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		return p
	}
	quality = min(100, max(minCompressQuality, quality))

	var buf bytes.Buffer
	for range 12 {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return p
		}
		if buf.Len() <= maxSizeBytes {
			b := img.Bounds()
			out := p
			out.Data = bytes.Clone(buf.Bytes())
			out.Format = "jpeg"
			out.Width, out.Height = b.Dx(), b.Dy()
			out.Size = int64(len(out.Data))
			out.Original = p.Evidence()
			return out
		}
		if quality > minCompressQuality {
			quality = max(minCompressQuality, quality-15)
			continue
		}
		b := img.Bounds()
		w, h := b.Dx()*3/4, b.Dy()*3/4
		if w < minCompressSide || h < minCompressSide {
			return p
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}
	return p
}
