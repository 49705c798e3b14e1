package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/nfnt/resize"
)

const (
	iconSize   = 32
	iconSample = 4
)

var (
	iconOnce sync.Once
	iconData []byte
)

// iconBytes returns the tray icon as PNG: a green play triangle on a dark
// rounded square. It is drawn supersampled and scaled down for smooth edges.
func iconBytes() []byte {
	iconOnce.Do(func() {
		iconData = renderIcon(iconSize)
	})
	return iconData
}

func renderIcon(size int) []byte {
	n := size * iconSample
	img := image.NewRGBA(image.Rect(0, 0, n, n))

	bg := color.RGBA{R: 0x18, G: 0x18, B: 0x1b, A: 0xff}
	fg := color.RGBA{R: 0x53, G: 0xfc, B: 0x18, A: 0xff}
	radius := float64(n) / 6

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !insideRoundedSquare(fx, fy, float64(n), radius) {
				continue
			}
			if insidePlay(fx/float64(n), fy/float64(n)) {
				img.SetRGBA(x, y, fg)
			} else {
				img.SetRGBA(x, y, bg)
			}
		}
	}

	small := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil
	}
	return buf.Bytes()
}

func insideRoundedSquare(x, y, n, r float64) bool {
	cx := clamp(x, r, n-r)
	cy := clamp(y, r, n-r)
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= r*r
}

// insidePlay tests a point in unit coordinates against a right-pointing
// triangle centred in the icon.
func insidePlay(u, v float64) bool {
	const left, right, top, bottom = 0.36, 0.72, 0.26, 0.74
	if u < left || u > right || v < top || v > bottom {
		return false
	}
	half := (bottom - top) / 2
	mid := top + half
	reach := half * (right - u) / (right - left)
	return v >= mid-reach && v <= mid+reach
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
