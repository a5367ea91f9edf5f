// Package preprocess prepares answer photos for recognition. Every exported
// function is total: when anything goes wrong the original bytes come back.
package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Func turns one encoded image into another. Implementations never modify
// their input.
type Func func([]byte) []byte

const (
	maxPixels     = 50_000_000
	visionMaxSide = 1568
)

var log = logrus.WithField("component", "preprocess")

type profile struct {
	name       string
	cutoff     float64 // autocontrast, percent per side
	contrast   float64
	brightness float64 // 0 skips the step
	contrast2  float64 // 0 skips the step
	sharpness  float64
	median     bool

	minWidth    int
	maxWidth    int // 0 means unbounded
	targetWidth int
	quality     int
}

var (
	standard = profile{
		name: "standard", cutoff: 1, contrast: 1.5, sharpness: 1.8, median: true,
		minWidth: 1000, maxWidth: 4000, targetWidth: 2000, quality: 92,
	}
	enhanced = profile{
		name: "enhanced", cutoff: 3, contrast: 2.0, brightness: 1.2, contrast2: 1.5, sharpness: 2.0,
		minWidth: 1200, targetWidth: 2500, quality: 95,
	}
)

// Standard is the default OCR profile: grayscale, mild contrast and
// sharpening, median denoise, width normalised to 2000px.
func Standard(b []byte) []byte { return run(standard.name, b, standard.apply) }

// Enhanced is the aggressive profile for a second OCR pass over faint or
// low-contrast handwriting.
func Enhanced(b []byte) []byte { return run(enhanced.name, b, enhanced.apply) }

// ForVision keeps colour and caps the long side so vision-model payloads stay small.
func ForVision(b []byte) []byte { return run("vision", b, forVision) }

func run(name string, in []byte, fn func(image.Image) (image.Image, int)) (out []byte) {
	if len(in) == 0 {
		return in
	}
	l := log.WithField("profile", name)
	defer func() {
		if r := recover(); r != nil {
			l.WithField("panic", r).Error("preprocess panicked, keeping original image")
			out = in
		}
	}()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(in))
	if err != nil {
		l.WithError(err).Warn("cannot read image header, keeping original")
		return in
	}
	if cfg.Width*cfg.Height > maxPixels {
		l.WithFields(logrus.Fields{"width": cfg.Width, "height": cfg.Height}).Warn("image too large, keeping original")
		return in
	}

	img, err := imaging.Decode(bytes.NewReader(in), imaging.AutoOrientation(true))
	if err != nil {
		l.WithError(err).WithField("format", format).Warn("cannot decode image, keeping original")
		return in
	}

	res, quality := fn(img)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, res, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		l.WithError(err).Warn("cannot encode image, keeping original")
		return in
	}
	l.WithFields(logrus.Fields{
		"in_bytes":  len(in),
		"out_bytes": buf.Len(),
		"size":      res.Bounds().Size().String(),
	}).Debug("preprocessed")
	return buf.Bytes()
}

func (p profile) apply(src image.Image) (image.Image, int) {
	img := imaging.Grayscale(src)
	img = autocontrast(img, p.cutoff)
	img = contrast(img, p.contrast)
	if p.brightness > 0 {
		img = brightness(img, p.brightness)
	}
	if p.contrast2 > 0 {
		img = contrast(img, p.contrast2)
	}
	img = sharpness(img, p.sharpness)
	if p.median {
		img = median3(img)
	}
	if w := img.Bounds().Dx(); w < p.minWidth || (p.maxWidth > 0 && w > p.maxWidth) {
		img = scaleToWidth(img, p.targetWidth)
	}
	return toGray(img), p.quality
}

func forVision(src image.Image) (image.Image, int) {
	b := src.Bounds()
	// flatten transparency onto white; JPEG has no alpha
	img := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), src, image.Pt(0, 0), 1.0)

	w, h := b.Dx(), b.Dy()
	if long := max(w, h); long > visionMaxSide {
		k := float64(visionMaxSide) / float64(long)
		img = scale(img, max(1, int(math.Round(float64(w)*k))), max(1, int(math.Round(float64(h)*k))))
	}
	return img, 85
}

func scaleToWidth(img image.Image, w int) *image.NRGBA {
	b := img.Bounds()
	h := int(math.Round(float64(b.Dy()) * float64(w) / float64(b.Dx())))
	return scale(img, w, max(1, h))
}

func scale(img image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// toGray makes the encoder write a single-channel JPEG.
func toGray(img image.Image) *image.Gray {
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g
}
