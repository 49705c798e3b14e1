package config

import (
	"errors"
	"fmt"
)

// Processing defaults.
const (
	DefaultChunkDuration      = 30.0    // seconds per analysed chunk
	DefaultChunkOverlap       = 5.0     // seconds shared by consecutive chunks
	DefaultMaxStreamDuration  = 36000.0 // 10 hours
	DefaultClipDuration       = 30.0
	DefaultMinGap             = 10.0
	DefaultMaxClips           = 10
	MaxClipsPerType           = 25
	DefaultMaxTotalClips      = 50
	DefaultBlendAlpha         = 0.6
	DefaultRetrainInterval    = 5
	DefaultMinTrainingSamples = 10
	DefaultFrameSkip          = 10
	DefaultHopSkip            = 1
	DefaultSampleRate         = 16000
	DefaultAnalysisWidth      = 160
	DefaultNEstimators        = 100
	DefaultLearningRate       = 0.1
	DefaultMaxDepth           = 5
	DefaultSeed               = 42
)

// Processing enumerates every recognised pipeline option. It is validated once
// when the configuration is built and passed by value afterwards.
type Processing struct {
	ChunkDuration     float64 `yaml:"chunk_duration"`
	ChunkOverlap      float64 `yaml:"chunk_overlap"`
	MaxStreamDuration float64 `yaml:"max_stream_duration"`

	ClipDuration    float64 `yaml:"clip_duration"`
	MinGap          float64 `yaml:"min_gap"`
	DefaultMaxClips int     `yaml:"default_max_clips"`
	MaxClipsPerType int     `yaml:"max_clips_per_type"`
	MaxTotalClips   int     `yaml:"max_total_clips"`
	MinAudioScore   float64 `yaml:"min_audio_score"`
	MinVideoScore   float64 `yaml:"min_video_score"`

	BlendAlpha         float64 `yaml:"blend_alpha"`
	RetrainInterval    int     `yaml:"retrain_interval"`
	MinTrainingSamples int     `yaml:"min_training_samples"`
	Bootstrap          bool    `yaml:"bootstrap"`

	FrameSkip     int `yaml:"frame_skip"`
	HopSkip       int `yaml:"hop_skip"`
	SampleRate    int `yaml:"sample_rate"`
	AnalysisWidth int `yaml:"analysis_width"`

	NEstimators  int     `yaml:"n_estimators"`
	LearningRate float64 `yaml:"learning_rate"`
	MaxDepth     int     `yaml:"max_depth"`
	Seed         int64   `yaml:"seed"`
}

// DefaultProcessing returns the production defaults.
func DefaultProcessing() Processing {
	return Processing{
		ChunkDuration:      DefaultChunkDuration,
		ChunkOverlap:       DefaultChunkOverlap,
		MaxStreamDuration:  DefaultMaxStreamDuration,
		ClipDuration:       DefaultClipDuration,
		MinGap:             DefaultMinGap,
		DefaultMaxClips:    DefaultMaxClips,
		MaxClipsPerType:    MaxClipsPerType,
		MaxTotalClips:      DefaultMaxTotalClips,
		BlendAlpha:         DefaultBlendAlpha,
		RetrainInterval:    DefaultRetrainInterval,
		MinTrainingSamples: DefaultMinTrainingSamples,
		FrameSkip:          DefaultFrameSkip,
		HopSkip:            DefaultHopSkip,
		SampleRate:         DefaultSampleRate,
		AnalysisWidth:      DefaultAnalysisWidth,
		NEstimators:        DefaultNEstimators,
		LearningRate:       DefaultLearningRate,
		MaxDepth:           DefaultMaxDepth,
		Seed:               DefaultSeed,
	}
}

// Validate range-checks every option and reports all problems at once.
func (p Processing) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(p.ChunkDuration > 0, "chunk_duration must be positive, got %v", p.ChunkDuration)
	check(p.ChunkOverlap >= 0 && p.ChunkOverlap < p.ChunkDuration,
		"chunk_overlap must be in [0, chunk_duration), got %v", p.ChunkOverlap)
	check(p.MaxStreamDuration > 0, "max_stream_duration must be positive, got %v", p.MaxStreamDuration)
	check(p.ClipDuration >= 0, "clip_duration must not be negative, got %v", p.ClipDuration)
	check(p.MinGap >= 0, "min_gap must not be negative, got %v", p.MinGap)
	check(p.MaxClipsPerType >= 1 && p.MaxClipsPerType <= MaxClipsPerType,
		"max_clips_per_type must be between 1 and %d, got %d", MaxClipsPerType, p.MaxClipsPerType)
	check(p.DefaultMaxClips >= 1 && p.DefaultMaxClips <= p.MaxClipsPerType,
		"default_max_clips must be between 1 and max_clips_per_type, got %d", p.DefaultMaxClips)
	check(p.MaxTotalClips >= 1, "max_total_clips must be at least 1, got %d", p.MaxTotalClips)
	check(p.BlendAlpha >= 0 && p.BlendAlpha <= 1, "blend_alpha must be in [0, 1], got %v", p.BlendAlpha)
	check(p.RetrainInterval >= 1, "retrain_interval must be at least 1, got %d", p.RetrainInterval)
	check(p.MinTrainingSamples >= 2, "min_training_samples must be at least 2, got %d", p.MinTrainingSamples)
	check(p.FrameSkip >= 1, "frame_skip must be at least 1, got %d", p.FrameSkip)
	check(p.HopSkip >= 1, "hop_skip must be at least 1, got %d", p.HopSkip)
	check(p.SampleRate >= 8000 && p.SampleRate <= 48000,
		"sample_rate must be between 8000 and 48000, got %d", p.SampleRate)
	check(p.AnalysisWidth >= 16, "analysis_width must be at least 16, got %d", p.AnalysisWidth)
	check(p.NEstimators >= 1, "n_estimators must be at least 1, got %d", p.NEstimators)
	check(p.LearningRate > 0 && p.LearningRate <= 1, "learning_rate must be in (0, 1], got %v", p.LearningRate)
	check(p.MaxDepth >= 1, "max_depth must be at least 1, got %d", p.MaxDepth)

	return errors.Join(errs...)
}
