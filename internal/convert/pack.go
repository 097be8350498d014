// Package convert reduces a rendered full-color canvas to the packed 1bpp
// black/red planes a tri-color e-paper panel consumes.
package convert

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// PackPlanes converts an image into two y-major, MSB-first 1bpp planes of
// the given panel size. Bits default to 1 (white); a cleared bit means ink.
//
// The image must match the panel size exactly; the caller is responsible for
// rotation and scaling beforehand.
func PackPlanes(img image.Image, width, height int) (black, red []byte, err error) {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, nil, fmt.Errorf("convert: image is %dx%d, panel wants %dx%d", b.Dx(), b.Dy(), width, height)
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
		b = nrgba.Bounds()
	}

	stride := (width + 7) / 8
	planeSize := stride * height
	black = make([]byte, planeSize)
	red = make([]byte, planeSize)
	for i := range black {
		black[i] = 0xFF
		red[i] = 0xFF
	}

	for py := 0; py < height; py++ {
		for px := 0; px < width; px++ {
			i := nrgba.PixOffset(b.Min.X+px, b.Min.Y+py)

			c := color.NRGBA{
				R: nrgba.Pix[i+0],
				G: nrgba.Pix[i+1],
				B: nrgba.Pix[i+2],
				A: nrgba.Pix[i+3],
			}

			// Transparent pixels read as background.
			if c.A < 128 {
				continue
			}

			ink := classifyPixel(c)
			if ink == inkWhite {
				continue
			}

			byteIndex := py*stride + (px >> 3)
			mask := byte(0x80 >> (px & 7))
			switch ink {
			case inkBlack:
				black[byteIndex] &^= mask
			case inkRed:
				red[byteIndex] &^= mask
			}
		}
	}

	return black, red, nil
}

type inkColor int

const (
	inkWhite inkColor = iota
	inkBlack
	inkRed
)

// classifyPixel decides which plane a pixel lands on. Thresholds are
// empirical: dark pixels go black, strongly red-dominant pixels go red,
// everything else stays white.
func classifyPixel(c color.NRGBA) inkColor {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	// Perceptual brightness.
	y := 0.299*r + 0.587*g + 0.114*b

	maxGB := g
	if b > maxGB {
		maxGB = b
	}
	redness := r - maxGB

	if y < 64 {
		return inkBlack
	}
	if r > 128 && redness > 32 {
		return inkRed
	}
	return inkWhite
}
