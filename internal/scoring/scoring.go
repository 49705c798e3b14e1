// Package scoring turns feature maps into highlight scores. The heuristic is a
// fixed weighted sum; a Strategy optionally blends it with a learned
// prediction.
package scoring

import (
	"math"

	"github.com/damian-maker/IA-KICK/internal/features"
)

// Audio heuristic weights.
const (
	AudioWeightEnergyMean  = 2.0
	AudioWeightEnergyStd   = 1.5
	AudioWeightZCR         = 1.0
	AudioCentroidScale     = 1.0 / 1000
	AudioWeightLoudnessVar = 0.5
	AudioHFEnergyScale     = 1e-6
)

// Video heuristic weights.
const (
	VideoWeightMotionMean   = 2.0
	VideoWeightMotionStd    = 1.5
	VideoWeightEdgeMean     = 100.0
	VideoWeightEdgeStd      = 50.0
	VideoColorVarianceScale = 1.0 / 1000
)

// Heuristic scores a feature map. The result is unbounded; only the ordering
// of scores within a modality is meaningful. Unknown modalities score 0.
func Heuristic(m features.Modality, fm features.Map) float64 {
	switch m {
	case features.Audio:
		return fm["rms_mean"]*AudioWeightEnergyMean +
			fm["rms_std"]*AudioWeightEnergyStd +
			fm["zcr_mean"]*AudioWeightZCR +
			fm["spectral_centroid_mean"]*AudioCentroidScale +
			fm["loudness_variance"]*AudioWeightLoudnessVar +
			fm["high_freq_energy"]*AudioHFEnergyScale
	case features.Video:
		return fm["motion_mean"]*VideoWeightMotionMean +
			fm["motion_std"]*VideoWeightMotionStd +
			fm["edge_density_mean"]*VideoWeightEdgeMean +
			fm["edge_density_std"]*VideoWeightEdgeStd +
			fm["color_variance_mean"]*VideoColorVarianceScale
	}
	return 0
}

// Strategy names recorded on every scored candidate.
const (
	StrategyHeuristic = "heuristic"
	StrategyBlended   = "blended"
)

// Predictor is a trained model that maps a feature vector to a score.
type Predictor interface {
	Predict(v features.Vector) (float64, error)
}

// Strategy combines the heuristic score with whatever else is available.
type Strategy interface {
	Name() string
	Score(heuristic float64, v features.Vector) float64
}

// HeuristicOnly passes the heuristic score through.
type HeuristicOnly struct{}

func (HeuristicOnly) Name() string { return StrategyHeuristic }

func (HeuristicOnly) Score(h float64, _ features.Vector) float64 { return h }

// Blended computes Alpha*h + (1-Alpha)*max(0, prediction). A failed or
// non-finite prediction falls back to the heuristic score.
type Blended struct {
	Alpha     float64
	Predictor Predictor
}

func (Blended) Name() string { return StrategyBlended }

func (b Blended) Score(h float64, v features.Vector) float64 {
	p, err := b.Predictor.Predict(v)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return h
	}
	return b.Alpha*h + (1-b.Alpha)*math.Max(0, p)
}

// Normalize rescales scores to [0, 1] by min-max. A constant input maps to
// all zeros.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	if hi == lo {
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}
