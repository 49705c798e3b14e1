// Package ledger records generated clips, collects user ratings and turns
// them into training data for the per-modality models.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/logging"
	"github.com/damian-maker/IA-KICK/internal/model"
)

// Trainer fits and serves models. *model.Hybrid implements it.
type Trainer interface {
	TrainWithMin(m features.Modality, samples []model.Sample, minSamples int) (*model.Bundle, error)
	Status() []model.Status
}

// ServiceConfig holds the feedback loop tunables.
type ServiceConfig struct {
	RetrainInterval int
	MinSamples      int
}

// RegisterRequest describes a freshly cut clip file.
type RegisterRequest struct {
	Filepath  string
	Modality  features.Modality
	Start     float64
	End       float64
	Score     float64
	Features  features.Map
	SourceURL string
	RunID     string
}

type Service struct {
	repo    Repository
	trainer Trainer
	cfg     ServiceConfig
	logger  *slog.Logger
}

func NewService(repo Repository, trainer Trainer, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.RetrainInterval < 1 {
		cfg.RetrainInterval = 1
	}
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	return &Service{repo: repo, trainer: trainer, cfg: cfg, logger: logger}
}

// Repo exposes the underlying repository to the run processor.
func (s *Service) Repo() Repository {
	return s.repo
}

// Register records a clip file. Registering the same path again updates the
// existing row, keeping any rating.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (int64, error) {
	abs, err := filepath.Abs(req.Filepath)
	if err != nil {
		return 0, fmt.Errorf("invalid clip path: %w", err)
	}
	if _, err := features.ParseModality(string(req.Modality)); err != nil {
		return 0, err
	}

	clip := &ClipRecord{
		Filename:  filepath.Base(abs),
		Filepath:  abs,
		Start:     req.Start,
		End:       req.End,
		Duration:  req.End - req.Start,
		Score:     req.Score,
		Modality:  req.Modality,
		Features:  req.Features,
		CreatedAt: time.Now(),
		SourceURL: req.SourceURL,
		RunID:     req.RunID,
	}
	if clip.Features == nil {
		clip.Features = features.Map{}
	}

	id, err := s.repo.UpsertClip(ctx, clip)
	if err != nil {
		return 0, fmt.Errorf("failed to register clip %s: %w", clip.Filename, err)
	}

	if s.logger != nil {
		s.logger.Info("clip registered", "clip_id", id, "type", req.Modality, "file", clip.Filename)
	}
	return id, nil
}

// Rate stores a 1-5 rating, appends a training sample and retrains when the
// rating counter reaches the retrain interval and enough clips are rated.
func (s *Service) Rate(ctx context.Context, id int64, rating int) (*RateResult, error) {
	if rating < MinRating || rating > MaxRating {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRating, rating)
	}

	clip, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, fmt.Errorf("%w: %d", ErrClipNotFound, id)
	}

	clipID := id
	now := time.Now()
	sample := &TrainingSampleRecord{
		Modality:  clip.Modality,
		Origin:    model.OriginRating,
		Features:  features.Vectorize(clip.Modality, clip.Features),
		Label:     model.RatingLabel(rating),
		ClipID:    &clipID,
		RunID:     clip.RunID,
		CreatedAt: now,
	}
	events, err := s.repo.RateClip(ctx, id, rating, now, sample, ConfigKeyRatingEvents)
	if err != nil {
		return nil, err
	}

	result := &RateResult{ClipID: id, Rating: rating, RatingEvents: events}
	var logger *slog.Logger
	if s.logger != nil {
		logger = logging.WithClipID(s.logger, id)
		logger.Info("clip rated", "rating", rating, "rating_events", events)
	}

	if events%int64(s.cfg.RetrainInterval) != 0 {
		return result, nil
	}
	stats, err := s.repo.ClipStats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Rated < s.cfg.MinSamples {
		return result, nil
	}

	result.RetrainTriggered = true
	report, err := s.TrainFromRatings(ctx, s.cfg.MinSamples)
	if err != nil {
		if logger != nil {
			logger.Error("retraining after rating failed", "error", err)
		}
		return result, nil
	}
	result.Report = report
	return result, nil
}

// TrainFromRatings refits every modality from its rated clips. A modality
// without enough ratings is reported as not trained; it does not stop the
// others. minSamples <= 0 uses the configured minimum.
func (s *Service) TrainFromRatings(ctx context.Context, minSamples int) (*TrainReport, error) {
	if minSamples <= 0 {
		minSamples = s.cfg.MinSamples
	}

	report := &TrainReport{}
	for _, m := range features.Modalities {
		clips, err := s.repo.ListClips(ctx, ClipFilter{Modality: m, RatedOnly: true})
		if err != nil {
			return nil, fmt.Errorf("failed to load rated %s clips: %w", m, err)
		}

		samples := make([]model.Sample, 0, len(clips))
		for _, c := range clips {
			id := c.ID
			samples = append(samples, model.Sample{
				Features: features.Vectorize(m, c.Features),
				Label:    model.RatingLabel(*c.Rating),
				Origin:   model.OriginRating,
				ClipID:   &id,
			})
		}

		res := ModalityTrainResult{Modality: m, Samples: len(samples)}
		if _, err := s.trainer.TrainWithMin(m, samples, minSamples); err != nil {
			res.Error = err.Error()
			if s.logger != nil {
				level := slog.LevelWarn
				if errors.Is(err, model.ErrInsufficientData) {
					level = slog.LevelInfo
				}
				logging.WithModality(s.logger, string(m)).Log(ctx, level, "model not trained", "samples", len(samples), "error", err)
			}
		} else {
			res.Trained = true
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// RecordHeuristicSamples appends heuristic-labelled samples from a run.
func (s *Service) RecordHeuristicSamples(ctx context.Context, runID string, m features.Modality, samples []model.Sample) error {
	now := time.Now()
	for _, smp := range samples {
		rec := &TrainingSampleRecord{
			Modality:  m,
			Origin:    model.OriginHeuristic,
			Features:  smp.Features,
			Label:     smp.Label,
			RunID:     runID,
			CreatedAt: now,
		}
		if err := s.repo.AddTrainingSample(ctx, rec); err != nil {
			return fmt.Errorf("failed to record heuristic sample: %w", err)
		}
	}
	return nil
}

// HeuristicSamples returns the heuristic-labelled history of m whose vectors
// match the current feature layout.
func (s *Service) HeuristicSamples(ctx context.Context, m features.Modality) ([]model.Sample, error) {
	recs, err := s.repo.ListTrainingSamples(ctx, m, model.OriginHeuristic)
	if err != nil {
		return nil, err
	}
	dim := features.Dim(m)
	out := make([]model.Sample, 0, len(recs))
	for _, r := range recs {
		if len(r.Features) != dim {
			continue
		}
		out = append(out, model.Sample{Features: r.Features, Label: r.Label, Origin: model.OriginHeuristic})
	}
	return out, nil
}

// Statistics summarises clips, ratings and model state.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	cs, err := s.repo.ClipStats(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.CountTrainingSamples(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.ratingEvents(ctx)
	if err != nil {
		return nil, err
	}

	st := &Statistics{
		TotalClips:         cs.Total,
		RatedClips:         cs.Rated,
		UnratedClips:       cs.Total - cs.Rated,
		RatingDistribution: cs.Distribution,
		ClipsByModality:    cs.ByModality,
		Modalities:         make(map[features.Modality]ModalityStats),
		RatingEvents:       events,
		ReadyForTraining:   cs.Rated >= s.cfg.MinSamples,
	}
	if cs.Rated > 0 {
		st.AverageRating = math.Round(float64(cs.RatingSum)/float64(cs.Rated)*100) / 100
	}

	models := make(map[features.Modality]model.Status)
	for _, ms := range s.trainer.Status() {
		models[ms.Modality] = ms
	}
	for _, m := range features.Modalities {
		ms := models[m]
		hist := history[m]
		if hist == nil {
			hist = map[model.Origin]int{}
		}
		rated := cs.RatedBy[m]
		st.Modalities[m] = ModalityStats{
			Clips:             cs.ByModality[m],
			Rated:             rated,
			ModelTrained:      ms.Trained,
			ModelSamples:      ms.SampleCount,
			ModelOrigin:       ms.Origin,
			TrainingSamples:   hist,
			ReadyForTraining:  rated >= s.cfg.MinSamples,
			SamplesUntilReady: max(0, s.cfg.MinSamples-rated),
		}
	}
	return st, nil
}

// TrainingProgress reports how many more ratings each modality needs.
func (s *Service) TrainingProgress(ctx context.Context) (*TrainingProgress, error) {
	cs, err := s.repo.ClipStats(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.ratingEvents(ctx)
	if err != nil {
		return nil, err
	}

	p := &TrainingProgress{
		RatingEvents:      events,
		RetrainInterval:   s.cfg.RetrainInterval,
		RatingsUntilCheck: s.cfg.RetrainInterval - int(events%int64(s.cfg.RetrainInterval)),
	}
	for _, m := range features.Modalities {
		rated := cs.RatedBy[m]
		p.Modalities = append(p.Modalities, Progress{
			Modality:  m,
			Rated:     rated,
			Needed:    s.cfg.MinSamples,
			Ready:     rated >= s.cfg.MinSamples,
			Remaining: max(0, s.cfg.MinSamples-rated),
		})
	}
	return p, nil
}

func (s *Service) ratingEvents(ctx context.Context) (int64, error) {
	v, err := s.repo.GetConfig(ctx, ConfigKeyRatingEvents)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// Get returns a clip or ErrClipNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*ClipRecord, error) {
	clip, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, fmt.Errorf("%w: %d", ErrClipNotFound, id)
	}
	return clip, nil
}

func (s *Service) List(ctx context.Context, filter ClipFilter) ([]*ClipRecord, error) {
	return s.repo.ListClips(ctx, filter)
}

// ReviewQueue returns unrated clips, newest first.
func (s *Service) ReviewQueue(ctx context.Context, limit int) ([]*ClipRecord, error) {
	return s.repo.ListClips(ctx, ClipFilter{UnratedOnly: true, Limit: limit})
}

// Delete removes a clip row and, if deleteFile is set, its file. The training
// history of the clip is kept.
func (s *Service) Delete(ctx context.Context, id int64, deleteFile bool) error {
	clip, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if deleteFile {
		if err := os.Remove(clip.Filepath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete clip file: %w", err)
		}
	}
	if err := s.repo.DeleteClip(ctx, id); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("clip deleted", "clip_id", id, "file_deleted", deleteFile)
	}
	return nil
}

// CleanupOrphans removes rows whose clip file no longer exists.
func (s *Service) CleanupOrphans(ctx context.Context) (int, error) {
	clips, err := s.repo.ListClips(ctx, ClipFilter{})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range clips {
		if _, err := os.Stat(c.Filepath); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := s.repo.DeleteClip(ctx, c.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if s.logger != nil && removed > 0 {
		s.logger.Info("removed orphaned clips", "count", removed)
	}
	return removed, nil
}

// ExportClip copies a clip file into destDir and returns the new path.
func (s *Service) ExportClip(ctx context.Context, id int64, destDir string) (string, error) {
	clip, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	src, err := os.Open(clip.Filepath)
	if err != nil {
		return "", fmt.Errorf("failed to open clip: %w", err)
	}
	defer src.Close()

	dest := filepath.Join(destDir, clip.Filename)
	dst, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to copy clip: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return dest, nil
}

// RunRequest queues a processing run.
type RunRequest struct {
	SourceURL     string
	StartMinute   *float64
	EndMinute     *float64
	MaxAudioClips int
	MaxVideoClips int
	Types         string
	GenerateClips bool
}

// CreateRun stores a pending run for the runner to pick up.
func (s *Service) CreateRun(ctx context.Context, req RunRequest) (*Run, error) {
	if req.SourceURL == "" {
		return nil, fmt.Errorf("source_url is required")
	}
	switch req.Types {
	case "":
		req.Types = TypesBoth
	case TypesAudio, TypesVideo, TypesBoth:
	default:
		return nil, fmt.Errorf("types must be audio, video or both, got %q", req.Types)
	}

	now := time.Now()
	run := &Run{
		ID:            NewID(),
		SourceURL:     req.SourceURL,
		Status:        RunStatusPending,
		StartMinute:   req.StartMinute,
		EndMinute:     req.EndMinute,
		MaxAudioClips: req.MaxAudioClips,
		MaxVideoClips: req.MaxVideoClips,
		Types:         req.Types,
		GenerateClips: req.GenerateClips,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("run queued", "run_id", run.ID, "types", run.Types)
	}
	return run, nil
}

// GetRun returns a run or ErrRunNotFound.
func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	return s.repo.ListRuns(ctx, filter)
}

func (s *Service) ListHighlights(ctx context.Context, runID string) ([]*HighlightRecord, error) {
	return s.repo.ListHighlights(ctx, runID)
}
