// Package features extracts fixed-length numeric descriptors from decoded
// chunk media. Each modality has an ordered list of feature names; a Vector
// is always laid out in that order so models trained on one run can score the
// next.
package features

import (
	"errors"
	"fmt"
)

// Modality identifies which stream a feature set or highlight came from.
type Modality string

const (
	Audio Modality = "audio"
	Video Modality = "video"
)

// Modalities lists every modality in processing order.
var Modalities = []Modality{Audio, Video}

// ParseModality validates a modality name.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case Audio, Video:
		return Modality(s), nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownModality, s)
}

var (
	ErrTooShort        = errors.New("audio too short for one analysis frame")
	ErrNoFrames        = errors.New("no video frames to analyse")
	ErrUnknownModality = errors.New("unknown modality")
)

// AudioFeatureNames is the canonical audio vector layout.
var AudioFeatureNames = []string{
	"rms_mean",
	"rms_std",
	"zcr_mean",
	"zcr_std",
	"spectral_centroid_mean",
	"spectral_centroid_std",
	"rolloff_mean",
	"tempo",
	"beat_strength",
	"mfcc_0_mean",
	"mfcc_1_mean",
	"loudness_variance",
	"high_freq_energy",
}

// VideoFeatureNames is the canonical video vector layout.
var VideoFeatureNames = []string{
	"motion_mean",
	"motion_std",
	"motion_max",
	"brightness_mean",
	"brightness_std",
	"color_variance_mean",
	"edge_density_mean",
	"edge_density_std",
}

var (
	AudioDim = len(AudioFeatureNames)
	VideoDim = len(VideoFeatureNames)
)

// Map holds named feature values.
type Map map[string]float64

// Vector holds feature values in the modality's canonical order.
type Vector []float64

// Names returns the canonical feature order for m, or nil for an unknown
// modality.
func Names(m Modality) []string {
	switch m {
	case Audio:
		return AudioFeatureNames
	case Video:
		return VideoFeatureNames
	}
	return nil
}

// Dim returns the vector dimension for m.
func Dim(m Modality) int {
	return len(Names(m))
}

// Vectorize lays out fm in m's canonical order. Missing keys become 0.
func Vectorize(m Modality, fm Map) Vector {
	names := Names(m)
	v := make(Vector, len(names))
	for i, name := range names {
		v[i] = fm[name]
	}
	return v
}

// Extractor is the common contract of the per-modality extractors.
type Extractor interface {
	Modality() Modality
	Names() []string
}
