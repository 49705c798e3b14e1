package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Audio analysis defaults.
const (
	DefaultFrameLength      = 2048
	DefaultHopLength        = 512
	DefaultMelBands         = 40
	DefaultHighFreqCutoffHz = 2000.0
	RolloffPercent          = 0.85
	LoudnessFloorDB         = -80.0
	MinTempoBPM             = 60.0
	MaxTempoBPM             = 200.0
)

// AudioConfig controls the short-time analysis.
type AudioConfig struct {
	FrameLength      int
	HopLength        int
	HopSkip          int // multiplies HopLength; trades accuracy for speed
	MelBands         int
	HighFreqCutoffHz float64
}

// DefaultAudioConfig returns the standard analysis geometry.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		FrameLength:      DefaultFrameLength,
		HopLength:        DefaultHopLength,
		HopSkip:          1,
		MelBands:         DefaultMelBands,
		HighFreqCutoffHz: DefaultHighFreqCutoffHz,
	}
}

// AudioExtractor computes the audio feature set from mono PCM samples.
type AudioExtractor struct {
	cfg AudioConfig
}

func NewAudioExtractor(cfg AudioConfig) *AudioExtractor {
	if cfg.FrameLength <= 1 {
		cfg.FrameLength = DefaultFrameLength
	}
	if cfg.HopLength <= 0 {
		cfg.HopLength = DefaultHopLength
	}
	if cfg.HopSkip < 1 {
		cfg.HopSkip = 1
	}
	if cfg.MelBands <= 0 {
		cfg.MelBands = DefaultMelBands
	}
	if cfg.HighFreqCutoffHz <= 0 {
		cfg.HighFreqCutoffHz = DefaultHighFreqCutoffHz
	}
	return &AudioExtractor{cfg: cfg}
}

func (e *AudioExtractor) Modality() Modality { return Audio }

func (e *AudioExtractor) Names() []string { return AudioFeatureNames }

// Extract analyses samples (normalised to [-1, 1]) recorded at sampleRate.
func (e *AudioExtractor) Extract(samples []float64, sampleRate int) (Vector, Map, error) {
	n := e.cfg.FrameLength
	hop := e.cfg.HopLength * e.cfg.HopSkip
	if len(samples) < n || sampleRate <= 0 {
		return nil, nil, ErrTooShort
	}

	frames := 1 + (len(samples)-n)/hop
	nBins := n/2 + 1
	binHz := float64(sampleRate) / float64(n)

	fft := fourier.NewFFT(n)
	bank := melFilterbank(e.cfg.MelBands, n, sampleRate)
	hann := window.Hann(ones(n))

	rms := make([]float64, frames)
	zcr := make([]float64, frames)
	centroid := make([]float64, frames)
	rolloff := make([]float64, frames)
	onset := make([]float64, frames)
	mfcc0 := make([]float64, frames)
	mfcc1 := make([]float64, frames)
	var highFreq float64

	buf := make([]float64, n)
	mag := make([]float64, nBins)
	coeffs := make([]complex128, nBins)
	melDB := make([]float64, e.cfg.MelBands)
	prevMelDB := make([]float64, e.cfg.MelBands)

	for f := 0; f < frames; f++ {
		frame := samples[f*hop : f*hop+n]

		var energy float64
		var crossings int
		for i, s := range frame {
			energy += s * s
			if i > 0 && (s >= 0) != (frame[i-1] >= 0) {
				crossings++
			}
		}
		rms[f] = math.Sqrt(energy / float64(n))
		zcr[f] = float64(crossings) / float64(n)

		for i, s := range frame {
			buf[i] = s * hann[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)

		var total, weighted float64
		for k, c := range coeffs {
			m := cmplx.Abs(c)
			mag[k] = m
			total += m
			weighted += m * float64(k) * binHz
			if float64(k)*binHz >= e.cfg.HighFreqCutoffHz {
				highFreq += m
			}
		}
		if total > 0 {
			centroid[f] = weighted / total
			target := RolloffPercent * total
			var cum float64
			for k, m := range mag {
				cum += m
				if cum >= target {
					rolloff[f] = float64(k) * binHz
					break
				}
			}
		}

		for b, filter := range bank {
			var p float64
			for k, w := range filter {
				if w != 0 {
					p += w * mag[k] * mag[k]
				}
			}
			melDB[b] = 10 * math.Log10(math.Max(p, 1e-10))
		}
		c := dct2(melDB, 2)
		mfcc0[f], mfcc1[f] = c[0], c[1]

		if f > 0 {
			var flux float64
			for b := range melDB {
				if d := melDB[b] - prevMelDB[b]; d > 0 {
					flux += d
				}
			}
			onset[f] = flux / float64(len(melDB))
		}
		copy(prevMelDB, melDB)
	}

	frameRate := float64(sampleRate) / float64(hop)
	tempo, period := estimateTempo(onset, frameRate, MinTempoBPM, MaxTempoBPM)
	beats := pickBeats(onset, period/2)
	seconds := float64(len(samples)) / float64(sampleRate)

	fm := Map{}
	fm["rms_mean"], fm["rms_std"] = meanStd(rms)
	fm["zcr_mean"], fm["zcr_std"] = meanStd(zcr)
	fm["spectral_centroid_mean"], fm["spectral_centroid_std"] = meanStd(centroid)
	fm["rolloff_mean"] = mean(rolloff)
	fm["tempo"] = tempo
	fm["beat_strength"] = float64(beats) / seconds
	fm["mfcc_0_mean"] = mean(mfcc0)
	fm["mfcc_1_mean"] = mean(mfcc1)
	fm["loudness_variance"] = popVariance(loudnessDB(rms))
	fm["high_freq_energy"] = highFreq

	return Vectorize(Audio, fm), fm, nil
}

// loudnessDB converts frame RMS to decibels relative to the loudest frame,
// floored at LoudnessFloorDB.
func loudnessDB(rms []float64) []float64 {
	out := make([]float64, len(rms))
	peak := floats.Max(rms)
	if peak <= 0 {
		return out
	}
	for i, r := range rms {
		db := LoudnessFloorDB
		if r > 0 {
			db = math.Max(20*math.Log10(r/peak), LoudnessFloorDB)
		}
		out[i] = db
	}
	return out
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
