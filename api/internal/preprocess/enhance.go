package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// The enhancers below work on grayscale NRGBA images (R == G == B) as
// returned by imaging.Grayscale. Each returns a new image.

// autocontrast drops cutoff percent of the darkest and the lightest pixels
// and stretches what is left over the full 0..255 range.
func autocontrast(img *image.NRGBA, cutoff float64) *image.NRGBA {
	hist, total := histogram(img)
	if total == 0 {
		return img
	}
	cut := int(float64(total) * cutoff / 100)

	lo, acc := 0, 0
	for ; lo < 255; lo++ {
		acc += hist[lo]
		if acc > cut {
			break
		}
	}
	hi := 255
	acc = 0
	for ; hi > 0; hi-- {
		acc += hist[hi]
		if acc > cut {
			break
		}
	}
	if hi <= lo {
		return img
	}

	k := 255 / float64(hi-lo)
	var lut [256]uint8
	for v := range lut {
		lut[v] = clamp(float64(v-lo) * k)
	}
	return applyLUT(img, &lut)
}

// contrast blends the image with a flat image of its mean grey level.
func contrast(img *image.NRGBA, factor float64) *image.NRGBA {
	mean := meanGrey(img)
	var lut [256]uint8
	for v := range lut {
		lut[v] = clamp(mean + factor*(float64(v)-mean))
	}
	return applyLUT(img, &lut)
}

// brightness blends the image with black.
func brightness(img *image.NRGBA, factor float64) *image.NRGBA {
	var lut [256]uint8
	for v := range lut {
		lut[v] = clamp(float64(v) * factor)
	}
	return applyLUT(img, &lut)
}

var smoothKernel = [9]float64{
	1, 1, 1,
	1, 5, 1,
	1, 1, 1,
}

// sharpness blends the image with a smoothed copy of itself. Factors above
// one push away from the blur. Border pixels are kept as is.
func sharpness(img *image.NRGBA, factor float64) *image.NRGBA {
	smooth := imaging.Convolve3x3(img, smoothKernel, &imaging.ConvolveOptions{Normalize: true})

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := imaging.Clone(img)
	if w < 3 || h < 3 {
		return out
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := out.PixOffset(x, y)
			j := smooth.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				s := float64(smooth.Pix[j+c])
				out.Pix[i+c] = clamp(s + factor*(float64(out.Pix[i+c])-s))
			}
		}
	}
	return out
}

// median3 replaces every pixel with the median of its 3x3 neighbourhood.
// Edges repeat the nearest pixel.
func median3(img *image.NRGBA) *image.NRGBA {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	var win [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				yy := min(max(y+dy, 0), h-1)
				for dx := -1; dx <= 1; dx++ {
					xx := min(max(x+dx, 0), w-1)
					win[n] = src.Pix[src.PixOffset(xx, yy)]
					n++
				}
			}
			m := median9(win)
			i := out.PixOffset(x, y)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = m, m, m
			out.Pix[i+3] = src.Pix[src.PixOffset(x, y)+3]
		}
	}
	return out
}

func median9(v [9]uint8) uint8 {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
	return v[4]
}

func histogram(img *image.NRGBA) (hist [256]int, total int) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[img.Pix[img.PixOffset(x, y)]]++
			total++
		}
	}
	return hist, total
}

func meanGrey(img *image.NRGBA) float64 {
	hist, total := histogram(img)
	if total == 0 {
		return 0
	}
	var sum int
	for v, n := range hist {
		sum += v * n
	}
	return math.Floor(float64(sum)/float64(total) + 0.5)
}

func applyLUT(img *image.NRGBA, lut *[256]uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A}
	})
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
