package features

import (
	"image"
	"math"

	"github.com/nfnt/resize"
	"gonum.org/v1/gonum/floats"
)

// Video analysis defaults.
const (
	DefaultFrameSkip     = 10
	DefaultAnalysisWidth = 160
	DefaultEdgeThreshold = 100.0
)

// VideoConfig controls which frames are analysed and at what size.
type VideoConfig struct {
	FrameSkip     int // analyse every Nth frame
	AnalysisWidth int // wider frames are downscaled to this width
	EdgeThreshold float64
}

func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		FrameSkip:     DefaultFrameSkip,
		AnalysisWidth: DefaultAnalysisWidth,
		EdgeThreshold: DefaultEdgeThreshold,
	}
}

// VideoExtractor computes the video feature set from decoded frames.
type VideoExtractor struct {
	cfg VideoConfig
}

func NewVideoExtractor(cfg VideoConfig) *VideoExtractor {
	if cfg.FrameSkip < 1 {
		cfg.FrameSkip = 1
	}
	if cfg.AnalysisWidth <= 0 {
		cfg.AnalysisWidth = DefaultAnalysisWidth
	}
	if cfg.EdgeThreshold <= 0 {
		cfg.EdgeThreshold = DefaultEdgeThreshold
	}
	return &VideoExtractor{cfg: cfg}
}

func (e *VideoExtractor) Modality() Modality { return Video }

func (e *VideoExtractor) Names() []string { return VideoFeatureNames }

// grayFrame is a row-major luma plane.
type grayFrame struct {
	w, h int
	pix  []float64
}

// Extract analyses every FrameSkip-th frame.
func (e *VideoExtractor) Extract(frames []image.Image) (Vector, Map, error) {
	if len(frames) == 0 {
		return nil, nil, ErrNoFrames
	}

	var motion, brightness, colorVar, edges []float64
	var prev *grayFrame

	for i := 0; i < len(frames); i += e.cfg.FrameSkip {
		img := e.downscale(frames[i])
		gray, variance := analyseFrame(img)
		if len(gray.pix) == 0 {
			continue
		}

		if prev != nil && prev.w == gray.w && prev.h == gray.h {
			var diff float64
			for p, v := range gray.pix {
				diff += math.Abs(v - prev.pix[p])
			}
			motion = append(motion, diff/float64(len(gray.pix)))
		}
		prev = gray

		brightness = append(brightness, mean(gray.pix))
		colorVar = append(colorVar, variance)
		edges = append(edges, edgeDensity(gray, e.cfg.EdgeThreshold))
	}

	if len(brightness) == 0 {
		return nil, nil, ErrNoFrames
	}

	fm := Map{}
	fm["motion_mean"], fm["motion_std"] = meanStd(motion)
	if len(motion) > 0 {
		fm["motion_max"] = floats.Max(motion)
	} else {
		fm["motion_max"] = 0
	}
	fm["brightness_mean"], fm["brightness_std"] = meanStd(brightness)
	fm["color_variance_mean"] = mean(colorVar)
	fm["edge_density_mean"], fm["edge_density_std"] = meanStd(edges)

	return Vectorize(Video, fm), fm, nil
}

func (e *VideoExtractor) downscale(img image.Image) image.Image {
	if img.Bounds().Dx() <= e.cfg.AnalysisWidth {
		return img
	}
	return resize.Resize(uint(e.cfg.AnalysisWidth), 0, img, resize.Bilinear)
}

// analyseFrame returns the luma plane and the variance over all RGB channel
// values of img, both on a 0-255 scale.
func analyseFrame(img image.Image) (*grayFrame, float64) {
	b := img.Bounds()
	g := &grayFrame{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	channels := make([]float64, 0, 3*len(g.pix))

	rgba, fast := img.(*image.RGBA)
	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var r, gr, bl float64
			if fast {
				o := rgba.PixOffset(x, y)
				r, gr, bl = float64(rgba.Pix[o]), float64(rgba.Pix[o+1]), float64(rgba.Pix[o+2])
			} else {
				r16, g16, b16, _ := img.At(x, y).RGBA()
				r, gr, bl = float64(r16>>8), float64(g16>>8), float64(b16>>8)
			}
			g.pix[idx] = 0.299*r + 0.587*gr + 0.114*bl
			channels = append(channels, r, gr, bl)
			idx++
		}
	}
	return g, popVariance(channels)
}

// edgeDensity is the fraction of interior pixels whose Sobel gradient
// magnitude exceeds threshold.
func edgeDensity(g *grayFrame, threshold float64) float64 {
	if g.w < 3 || g.h < 3 {
		return 0
	}
	at := func(x, y int) float64 { return g.pix[y*g.w+x] }

	var count int
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			gx := -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) +
				at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			if math.Hypot(gx, gy) > threshold {
				count++
			}
		}
	}
	return float64(count) / float64((g.w-2)*(g.h-2))
}
