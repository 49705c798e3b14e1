package features

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

const testRate = 16000

func sine(freq, amp, seconds float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return out
}

func TestVectorize_OrderAndMissing(t *testing.T) {
	v := Vectorize(Video, Map{"motion_max": 3, "edge_density_std": 7, "unknown": 1})
	if len(v) != VideoDim {
		t.Fatalf("len = %d, want %d", len(v), VideoDim)
	}
	if v[2] != 3 || v[7] != 7 {
		t.Errorf("vector = %v", v)
	}
	if v[0] != 0 {
		t.Errorf("missing key = %v, want 0", v[0])
	}
}

func TestDims(t *testing.T) {
	if Dim(Audio) != 13 || Dim(Video) != 8 {
		t.Errorf("Dim(audio)=%d Dim(video)=%d, want 13 and 8", Dim(Audio), Dim(Video))
	}
	if Dim(Modality("text")) != 0 {
		t.Error("unknown modality should have no features")
	}
}

func TestParseModality(t *testing.T) {
	if m, err := ParseModality("audio"); err != nil || m != Audio {
		t.Errorf("ParseModality(audio) = %v, %v", m, err)
	}
	if _, err := ParseModality("both"); !errors.Is(err, ErrUnknownModality) {
		t.Errorf("ParseModality(both) error = %v, want ErrUnknownModality", err)
	}
}

func TestAudioExtract_TooShort(t *testing.T) {
	e := NewAudioExtractor(DefaultAudioConfig())
	_, _, err := e.Extract(make([]float64, DefaultFrameLength-1), testRate)
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("Extract() error = %v, want ErrTooShort", err)
	}
}

func TestAudioExtract_Deterministic(t *testing.T) {
	e := NewAudioExtractor(DefaultAudioConfig())
	samples := sine(440, 0.5, 2)
	for i := range samples {
		// amplitude modulation gives the onset envelope some structure
		samples[i] *= 0.5 + 0.5*math.Sin(2*math.Pi*2*float64(i)/testRate)
	}

	v1, _, err := e.Extract(samples, testRate)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	v2, _, _ := e.Extract(samples, testRate)
	if len(v1) != AudioDim {
		t.Fatalf("len = %d, want %d", len(v1), AudioDim)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Errorf("feature %s differs between runs: %v vs %v", AudioFeatureNames[i], v1[i], v2[i])
		}
		if math.IsNaN(v1[i]) || math.IsInf(v1[i], 0) {
			t.Errorf("feature %s = %v", AudioFeatureNames[i], v1[i])
		}
	}
}

func TestAudioExtract_SineCentroid(t *testing.T) {
	e := NewAudioExtractor(DefaultAudioConfig())
	_, fm, err := e.Extract(sine(1000, 0.5, 1), testRate)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if c := fm["spectral_centroid_mean"]; math.Abs(c-1000) > 60 {
		t.Errorf("spectral_centroid_mean = %v, want about 1000", c)
	}
	wantRMS := 0.5 / math.Sqrt2
	if r := fm["rms_mean"]; math.Abs(r-wantRMS) > 0.01 {
		t.Errorf("rms_mean = %v, want about %v", r, wantRMS)
	}
	if fm["rms_std"] > 0.01 {
		t.Errorf("rms_std = %v, want near 0 for a steady tone", fm["rms_std"])
	}
}

func TestAudioExtract_HighFrequencyEnergy(t *testing.T) {
	e := NewAudioExtractor(DefaultAudioConfig())
	_, low, _ := e.Extract(sine(300, 0.5, 1), testRate)
	_, high, _ := e.Extract(sine(5000, 0.5, 1), testRate)
	if high["high_freq_energy"] <= low["high_freq_energy"] {
		t.Errorf("high_freq_energy: 5kHz=%v, 300Hz=%v, want 5kHz larger",
			high["high_freq_energy"], low["high_freq_energy"])
	}
	if high["zcr_mean"] <= low["zcr_mean"] {
		t.Errorf("zcr_mean: 5kHz=%v, 300Hz=%v", high["zcr_mean"], low["zcr_mean"])
	}
}

func TestAudioExtract_Silence(t *testing.T) {
	e := NewAudioExtractor(DefaultAudioConfig())
	v, fm, err := e.Extract(make([]float64, testRate), testRate)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Errorf("feature %s = %v on silence", AudioFeatureNames[i], x)
		}
	}
	if fm["rms_mean"] != 0 || fm["loudness_variance"] != 0 || fm["tempo"] != 0 {
		t.Errorf("silence features = %v", fm)
	}
}

func TestAudioExtract_HopSkipReducesFrames(t *testing.T) {
	samples := sine(440, 0.5, 1)
	cfg := DefaultAudioConfig()
	cfg.HopSkip = 4
	_, fm, err := NewAudioExtractor(cfg).Extract(samples, testRate)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if math.Abs(fm["spectral_centroid_mean"]-440) > 60 {
		t.Errorf("spectral_centroid_mean = %v with hop skip", fm["spectral_centroid_mean"])
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestVideoExtract_NoFrames(t *testing.T) {
	_, _, err := NewVideoExtractor(DefaultVideoConfig()).Extract(nil)
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("Extract() error = %v, want ErrNoFrames", err)
	}
}

func TestVideoExtract_StaticFrames(t *testing.T) {
	cfg := DefaultVideoConfig()
	cfg.FrameSkip = 1
	gray := solid(32, 24, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	frames := []image.Image{gray, gray, gray}

	v, fm, err := NewVideoExtractor(cfg).Extract(frames)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(v) != VideoDim {
		t.Fatalf("len = %d, want %d", len(v), VideoDim)
	}
	if fm["motion_mean"] != 0 || fm["motion_max"] != 0 {
		t.Errorf("motion on static frames = %v", fm)
	}
	if math.Abs(fm["brightness_mean"]-128) > 0.5 {
		t.Errorf("brightness_mean = %v, want 128", fm["brightness_mean"])
	}
	if fm["edge_density_mean"] != 0 || fm["color_variance_mean"] != 0 {
		t.Errorf("flat frame has edges or variance: %v", fm)
	}
}

func TestVideoExtract_Motion(t *testing.T) {
	cfg := DefaultVideoConfig()
	cfg.FrameSkip = 1
	black := solid(16, 16, color.RGBA{A: 255})
	white := solid(16, 16, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	_, fm, err := NewVideoExtractor(cfg).Extract([]image.Image{black, white, black})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if math.Abs(fm["motion_mean"]-255) > 0.5 || math.Abs(fm["motion_max"]-255) > 0.5 {
		t.Errorf("motion = mean %v max %v, want 255", fm["motion_mean"], fm["motion_max"])
	}
}

func TestVideoExtract_Edges(t *testing.T) {
	cfg := DefaultVideoConfig()
	img := solid(20, 20, color.RGBA{A: 255})
	for y := 0; y < 20; y++ {
		for x := 10; x < 20; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	_, fm, err := NewVideoExtractor(cfg).Extract([]image.Image{img})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fm["edge_density_mean"] <= 0 || fm["edge_density_mean"] >= 0.5 {
		t.Errorf("edge_density_mean = %v, want a thin edge band", fm["edge_density_mean"])
	}
	if fm["color_variance_mean"] <= 0 {
		t.Error("two-tone frame should have colour variance")
	}
}

func TestVideoExtract_FrameSkipAndDownscale(t *testing.T) {
	cfg := DefaultVideoConfig()
	cfg.FrameSkip = 2
	cfg.AnalysisWidth = 32
	black := solid(128, 72, color.RGBA{A: 255})
	white := solid(128, 72, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	// frames 0 and 2 are analysed; both black, so no motion
	_, fm, err := NewVideoExtractor(cfg).Extract([]image.Image{black, white, black, white})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if fm["motion_max"] != 0 {
		t.Errorf("motion_max = %v, want 0 when skipped frames differ", fm["motion_max"])
	}
}

func TestVideoExtract_ZeroAreaFramesIgnored(t *testing.T) {
	cfg := DefaultVideoConfig()
	cfg.FrameSkip = 1
	empty := image.NewRGBA(image.Rect(0, 0, 0, 0))
	black := solid(16, 16, color.RGBA{A: 255})
	white := solid(16, 16, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	v, fm, err := NewVideoExtractor(cfg).Extract([]image.Image{empty, black, empty, white})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("vector[%d] = %v", i, x)
		}
	}
	if math.Abs(fm["motion_max"]-255) > 0.5 {
		t.Errorf("motion_max = %v, want 255 across the empty frame", fm["motion_max"])
	}

	_, _, err = NewVideoExtractor(cfg).Extract([]image.Image{empty, empty})
	if !errors.Is(err, ErrNoFrames) {
		t.Errorf("Extract(only empty) error = %v, want ErrNoFrames", err)
	}
}
