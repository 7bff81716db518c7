package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

// FitWithin returns the largest size with the aspect ratio of w×h that fits
// in maxW×maxH. Sizes already inside the box are returned unchanged.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	ratio := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if ratio >= 1 {
		return w, h
	}
	return int(math.Floor(float64(w) * ratio)), int(math.Floor(float64(h) * ratio))
}

// encodeJPEG renders src into a w×h target and encodes it at quality (0,1].
func encodeJPEG(src image.Image, w, h int, quality float64) ([]byte, error) {
	img := src
	if b := src.Bounds(); b.Dx() != w || b.Dy() != h {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
