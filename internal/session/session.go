// Package session runs the highlight pipeline over one source at a time:
// probe, chunk, decode, extract, score, select, and optionally cut clips.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/damian-maker/IA-KICK/internal/config"
	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/logging"
	"github.com/damian-maker/IA-KICK/internal/media"
	"github.com/damian-maker/IA-KICK/internal/model"
	"github.com/damian-maker/IA-KICK/internal/report"
	"github.com/damian-maker/IA-KICK/internal/scoring"
	"github.com/damian-maker/IA-KICK/internal/selector"
	"github.com/damian-maker/IA-KICK/internal/sequencer"
)

// ErrSessionBusy is returned when a run is already in progress.
var ErrSessionBusy = errors.New("a processing run is already active")

// Scorer blends heuristic scores with the learned model. *model.Hybrid
// implements it.
type Scorer interface {
	Score(m features.Modality, v features.Vector, heuristic float64) (float64, string)
	Bundle(m features.Modality) *model.Bundle
	TrainWithMin(m features.Modality, samples []model.Sample, minSamples int) (*model.Bundle, error)
}

// Ledger records generated clips and heuristic training history.
// *ledger.Service implements it.
type Ledger interface {
	Register(ctx context.Context, req ledger.RegisterRequest) (int64, error)
	RecordHeuristicSamples(ctx context.Context, runID string, m features.Modality, samples []model.Sample) error
	HeuristicSamples(ctx context.Context, m features.Modality) ([]model.Sample, error)
}

// Deps are the collaborators a Session drives.
type Deps struct {
	Prober  media.Prober
	Decoder media.Decoder
	Cutter  media.Cutter
	Scorer  Scorer
	Ledger  Ledger
	Logger  *slog.Logger
}

// Request describes one processing run.
type Request struct {
	RunID string
	// Source is what ffmpeg opens; SourceURL is what the user asked for.
	Source        string
	SourceURL     string
	StartMinute   *float64
	EndMinute     *float64
	MaxAudioClips int
	MaxVideoClips int
	// Modalities to analyse; empty means all.
	Modalities []features.Modality
	// Progress, when set, is called after every chunk.
	Progress func(done, total, skipped int)
}

func (r Request) wants(m features.Modality) bool {
	if len(r.Modalities) == 0 {
		return true
	}
	for _, w := range r.Modalities {
		if w == m {
			return true
		}
	}
	return false
}

// SkipReason records why a chunk, or one modality of it, produced nothing.
type SkipReason struct {
	ChunkIndex int               `json:"chunk_index"`
	Start      float64           `json:"start"`
	Modality   features.Modality `json:"modality,omitempty"`
	Reason     string            `json:"reason"`
}

// Result is the outcome of Process. A stopped run is still a Result.
type Result struct {
	VideoID         string               `json:"video_id"`
	Duration        float64              `json:"duration"`
	Window          sequencer.Window     `json:"window"`
	Audio           []selector.Highlight `json:"audio_highlights"`
	Video           []selector.Highlight `json:"video_highlights"`
	ChunksProcessed int                  `json:"chunks_processed"`
	ChunksSkipped   int                  `json:"chunks_skipped"`
	Skipped         []SkipReason         `json:"skipped,omitempty"`
	Stopped         bool                 `json:"stopped"`
	Warnings        []string             `json:"warnings,omitempty"`
}

// Highlights returns audio then video highlights.
func (r *Result) Highlights() []selector.Highlight {
	out := make([]selector.Highlight, 0, len(r.Audio)+len(r.Video))
	out = append(out, r.Audio...)
	return append(out, r.Video...)
}

// Session owns the pipeline state for one run at a time.
type Session struct {
	cfg    config.Processing
	deps   Deps
	logger *slog.Logger

	audio *features.AudioExtractor
	video *features.VideoExtractor

	busy atomic.Bool
	stop atomic.Bool
	now  func() time.Time
}

// New creates a Session. Frame decimation happens in the decoder, so the
// video extractor analyses every frame it is handed.
func New(cfg config.Processing, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ac := features.DefaultAudioConfig()
	ac.HopSkip = cfg.HopSkip

	vc := features.DefaultVideoConfig()
	vc.FrameSkip = 1
	if cfg.AnalysisWidth > 0 {
		vc.AnalysisWidth = cfg.AnalysisWidth
	}

	return &Session{
		cfg:    cfg,
		deps:   deps,
		logger: logging.WithComponent(logger, "session"),
		audio:  features.NewAudioExtractor(ac),
		video:  features.NewVideoExtractor(vc),
		now:    time.Now,
	}
}

// Busy reports whether a run holds the session.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Stop asks the active run to finish after the current chunk. It returns
// false when no run is active.
func (s *Session) Stop() bool {
	if !s.busy.Load() {
		return false
	}
	s.stop.Store(true)
	s.logger.Info("stop requested")
	return true
}

// Process analyses req.Source and returns the selected highlights.
func (s *Session) Process(ctx context.Context, req Request) (*Result, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrSessionBusy
	}
	defer s.busy.Store(false)
	s.stop.Store(false)

	logger := s.logger
	if req.RunID != "" {
		logger = logging.WithRunID(logger, req.RunID)
	}

	sourceRef := req.SourceURL
	if sourceRef == "" {
		sourceRef = req.Source
	}
	res := &Result{VideoID: report.VideoID(sourceRef, s.now())}

	duration, err := s.deps.Prober.Duration(ctx, req.Source)
	if err != nil {
		if !errors.Is(err, media.ErrNoDuration) {
			return nil, fmt.Errorf("failed to probe source: %w", err)
		}
		res.Warnings = append(res.Warnings, "source duration unknown, analysing up to the duration limit")
		duration = 0
	}
	res.Duration = duration

	window, err := sequencer.Plan(duration, req.StartMinute, req.EndMinute,
		sequencer.Limits{MaxDuration: s.cfg.MaxStreamDuration})
	if err != nil {
		return nil, err
	}
	res.Window = window
	res.Warnings = append(res.Warnings, window.Warnings...)
	for _, w := range window.Warnings {
		logger.Warn("time range adjusted", "warning", w)
	}

	seq, err := sequencer.NewSequence(window, s.cfg.ChunkDuration, s.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	total := seq.Estimate()

	logger.Info("processing started",
		"source", logging.SanitizeURL(sourceRef),
		"window_start", window.Start,
		"window_end", window.End,
		"chunks", total,
	)
	start := time.Now()

	candidates := make(map[features.Modality][]selector.Candidate, len(features.Modalities))
	for {
		if s.stop.Load() {
			res.Stopped = true
			logger.Info("processing stopped", "chunks_processed", res.ChunksProcessed)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, ok := seq.Next()
		if !ok {
			break
		}

		got, skips, err := s.processChunk(ctx, req, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.ChunksSkipped++
			res.Skipped = append(res.Skipped, SkipReason{ChunkIndex: chunk.Index, Start: chunk.Start, Reason: err.Error()})
			logger.Warn("chunk skipped", "chunk", chunk.Index, "start", chunk.Start, "error", err)
		} else {
			res.ChunksProcessed++
			res.Skipped = append(res.Skipped, skips...)
			for _, c := range got {
				candidates[c.Modality] = append(candidates[c.Modality], c)
			}
		}

		if req.Progress != nil {
			req.Progress(res.ChunksProcessed+res.ChunksSkipped, total, res.ChunksSkipped)
		}
	}

	var audio, video []selector.Highlight
	if req.wants(features.Audio) {
		audio = s.selectFor(features.Audio, candidates[features.Audio], req.MaxAudioClips)
	}
	if req.wants(features.Video) {
		video = s.selectFor(features.Video, candidates[features.Video], req.MaxVideoClips)
	}
	res.Audio, res.Video = selector.CapTotal(audio, video, s.cfg.MaxTotalClips)

	if s.cfg.Bootstrap && !res.Stopped {
		s.bootstrap(ctx, logger, req.RunID, candidates)
	}

	logger.Info("processing finished",
		"chunks_processed", res.ChunksProcessed,
		"chunks_skipped", res.ChunksSkipped,
		"audio_highlights", len(res.Audio),
		"video_highlights", len(res.Video),
		"stopped", res.Stopped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// processChunk decodes one chunk and extracts the wanted modalities in
// parallel. A chunk that could not be decoded at all is returned as an
// error; a single stream that failed to decode, or an extraction failure,
// only drops that modality.
func (s *Session) processChunk(ctx context.Context, req Request, chunk sequencer.Chunk) ([]selector.Candidate, []SkipReason, error) {
	want := media.Want{
		Audio:     req.wants(features.Audio),
		Video:     req.wants(features.Video),
		FrameStep: s.cfg.FrameSkip,
	}
	cm, err := s.deps.Decoder.DecodeChunk(ctx, req.Source, chunk.Start, chunk.End, want)
	if err != nil {
		return nil, nil, fmt.Errorf("decode: %w", err)
	}
	defer cm.Release()

	type extraction struct {
		vec features.Vector
		fm  features.Map
		err error
	}
	results := make(map[features.Modality]*extraction, 2)
	var wg sync.WaitGroup
	if want.Audio && cm.AudioErr != nil {
		results[features.Audio] = &extraction{err: fmt.Errorf("decode: %w", cm.AudioErr)}
	} else if want.Audio {
		e := &extraction{}
		results[features.Audio] = e
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.vec, e.fm, e.err = s.audio.Extract(cm.Samples, cm.SampleRate)
		}()
	}
	if want.Video && cm.VideoErr != nil {
		results[features.Video] = &extraction{err: fmt.Errorf("decode: %w", cm.VideoErr)}
	} else if want.Video {
		e := &extraction{}
		results[features.Video] = e
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.vec, e.fm, e.err = s.video.Extract(cm.Frames)
		}()
	}
	wg.Wait()

	var out []selector.Candidate
	var skips []SkipReason
	for _, m := range features.Modalities {
		e, ok := results[m]
		if !ok {
			continue
		}
		if e.err != nil {
			skips = append(skips, SkipReason{ChunkIndex: chunk.Index, Start: chunk.Start, Modality: m, Reason: e.err.Error()})
			s.logger.Debug("extraction failed", "chunk", chunk.Index, "modality", m, "error", e.err)
			continue
		}
		h := scoring.Heuristic(m, e.fm)
		score, strategy := s.deps.Scorer.Score(m, e.vec, h)
		out = append(out, selector.Candidate{
			Modality:       m,
			ChunkIndex:     chunk.Index,
			Start:          chunk.Start,
			End:            chunk.End,
			HeuristicScore: h,
			Score:          score,
			Strategy:       strategy,
			Features:       e.fm,
			Vector:         e.vec,
		})
	}
	return out, skips, nil
}

func (s *Session) selectFor(m features.Modality, cands []selector.Candidate, requested int) []selector.Highlight {
	minScore := s.cfg.MinAudioScore
	if m == features.Video {
		minScore = s.cfg.MinVideoScore
	}
	if requested <= 0 {
		requested = s.cfg.DefaultMaxClips
	}
	maxClips := selector.ClampMaxClips(requested, s.cfg.MaxClipsPerType)
	return selector.Select(selector.FilterMinScore(cands, minScore), maxClips, s.cfg.MinGap)
}

// bootstrap appends this run's heuristic labels to the training history and
// refits modalities that have no ratings-trained model yet.
func (s *Session) bootstrap(ctx context.Context, logger *slog.Logger, runID string, candidates map[features.Modality][]selector.Candidate) {
	if s.deps.Ledger == nil {
		return
	}
	for _, m := range features.Modalities {
		cands := candidates[m]
		if len(cands) == 0 {
			continue
		}
		raw := make([]float64, len(cands))
		for i, c := range cands {
			raw[i] = c.HeuristicScore
		}
		labels := scoring.Normalize(raw)

		samples := make([]model.Sample, 0, len(cands))
		for i, c := range cands {
			if math.IsNaN(labels[i]) {
				continue
			}
			samples = append(samples, model.Sample{Features: c.Vector, Label: labels[i], Origin: model.OriginHeuristic})
		}
		if err := s.deps.Ledger.RecordHeuristicSamples(ctx, runID, m, samples); err != nil {
			logger.Warn("failed to record heuristic samples", "modality", m, "error", err)
			continue
		}

		if b := s.deps.Scorer.Bundle(m); b != nil && b.Origin == model.OriginRating {
			continue
		}
		history, err := s.deps.Ledger.HeuristicSamples(ctx, m)
		if err != nil {
			logger.Warn("failed to load heuristic history", "modality", m, "error", err)
			continue
		}
		if _, err := s.deps.Scorer.TrainWithMin(m, history, s.cfg.MinTrainingSamples); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, model.ErrInsufficientData) {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, "bootstrap training skipped", "modality", m, "samples", len(history), "error", err)
		}
	}
}
