package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/logging"
	"github.com/damian-maker/IA-KICK/internal/report"
	"github.com/damian-maker/IA-KICK/internal/selector"
)

// Resolver maps a user-supplied source to something the decoder can open.
type Resolver interface {
	Resolve(ctx context.Context, input string) (string, error)
}

// RunnerConfig holds the Runner's settings.
type RunnerConfig struct {
	OutputDir    string
	PollInterval time.Duration
	ClipDuration float64
	MinGap       float64
}

// Runner picks queued runs from the ledger and executes them one at a time.
type Runner struct {
	session  *Session
	repo     ledger.Repository
	resolver Resolver
	cfg      RunnerConfig
	logger   *slog.Logger

	running atomic.Bool
	paused  atomic.Bool

	mu        sync.Mutex
	currentID string
}

func NewRunner(session *Session, repo ledger.Repository, resolver Resolver, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Runner{
		session:  session,
		repo:     repo,
		resolver: resolver,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "runner"),
	}
}

// Start polls for pending runs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run processor started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("run processor stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.RunNext(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run processor paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run processor resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// CurrentRun returns the id of the run being executed, or "".
func (r *Runner) CurrentRun() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID
}

// StopCurrent asks the active run to stop after its current chunk.
func (r *Runner) StopCurrent() bool {
	return r.session.Stop()
}

// RunNext executes the oldest pending run, if any. It reports whether a run
// was picked up.
func (r *Runner) RunNext(ctx context.Context) bool {
	run, err := r.repo.NextPendingRun(ctx)
	if err != nil {
		r.logger.Error("failed to load pending run", "error", err)
		return false
	}
	if run == nil {
		return false
	}
	if _, err := r.Execute(ctx, run); err != nil && !errors.Is(err, ErrSessionBusy) {
		r.logger.Error("run failed", "run_id", run.ID, "error", err)
	}
	return true
}

// Execute runs one queued run to completion and records its outcome.
func (r *Runner) Execute(ctx context.Context, run *ledger.Run) (*Result, error) {
	logger := logging.WithRunID(r.logger, run.ID)

	r.mu.Lock()
	r.currentID = run.ID
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.currentID = ""
		r.mu.Unlock()
	}()

	if err := r.repo.UpdateRunStatus(ctx, run.ID, ledger.RunStatusRunning, ""); err != nil {
		return nil, fmt.Errorf("failed to mark run running: %w", err)
	}

	fail := func(err error) (*Result, error) {
		// the run context may already be cancelled
		r.repo.UpdateRunStatus(context.Background(), run.ID, ledger.RunStatusFailed, err.Error())
		return nil, err
	}

	source, err := r.resolver.Resolve(ctx, run.SourceURL)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve source: %w", err))
	}
	run.ResolvedURL = source

	var modalities []features.Modality
	for _, m := range features.Modalities {
		if run.Wants(m) {
			modalities = append(modalities, m)
		}
	}

	res, err := r.session.Process(ctx, Request{
		RunID:         run.ID,
		Source:        source,
		SourceURL:     run.SourceURL,
		StartMinute:   run.StartMinute,
		EndMinute:     run.EndMinute,
		MaxAudioClips: run.MaxAudioClips,
		MaxVideoClips: run.MaxVideoClips,
		Modalities:    modalities,
		Progress: func(done, total, skipped int) {
			pct := 100
			if total > 0 {
				pct = done * 100 / total
			}
			if err := r.repo.UpdateRunProgress(ctx, run.ID, pct, done-skipped, skipped); err != nil {
				logger.Warn("failed to update progress", "error", err)
			}
		},
	})
	if errors.Is(err, ErrSessionBusy) {
		r.repo.UpdateRunStatus(ctx, run.ID, ledger.RunStatusPending, "")
		return nil, err
	}
	if err != nil {
		return fail(err)
	}

	outDir := filepath.Join(r.cfg.OutputDir, res.VideoID)
	if run.GenerateClips {
		clips, err := r.session.GenerateClips(ctx, ClipRequest{
			RunID:      run.ID,
			Source:     source,
			SourceURL:  run.SourceURL,
			OutDir:     outDir,
			Highlights: res.Highlights(),
		})
		if err != nil {
			return fail(err)
		}
		logger.Info("clips generated", "count", len(clips))
	}

	reportPath := filepath.Join(outDir, report.FileName)
	err = report.Write(reportPath, &report.Report{
		VideoID:         res.VideoID,
		SourceURL:       run.SourceURL,
		Audio:           report.Entries(res.Audio),
		Video:           report.Entries(res.Video),
		GeneratedAt:     time.Now().UTC(),
		ClipDuration:    r.cfg.ClipDuration,
		MinGap:          r.cfg.MinGap,
		ChunksProcessed: res.ChunksProcessed,
		ChunksSkipped:   res.ChunksSkipped,
		Stopped:         res.Stopped,
	})
	if err != nil {
		return fail(err)
	}

	if err := r.repo.SaveHighlights(ctx, run.ID, highlightRecords(run.ID, res)); err != nil {
		return fail(fmt.Errorf("failed to save highlights: %w", err))
	}

	run.Status = ledger.RunStatusCompleted
	if res.Stopped {
		run.Status = ledger.RunStatusStopped
	}
	run.Progress = 100
	run.ChunksProcessed = res.ChunksProcessed
	run.ChunksSkipped = res.ChunksSkipped
	run.AudioCount = len(res.Audio)
	run.VideoCount = len(res.Video)
	run.ReportPath = reportPath
	if err := r.repo.CompleteRun(ctx, run); err != nil {
		return res, fmt.Errorf("failed to complete run: %w", err)
	}

	logger.Info("run finished", "status", run.Status, "report", logging.SanitizePath(reportPath))
	return res, nil
}

func highlightRecords(runID string, res *Result) []*ledger.HighlightRecord {
	var out []*ledger.HighlightRecord
	add := func(hs []selector.Highlight) {
		for _, h := range hs {
			out = append(out, &ledger.HighlightRecord{
				RunID:          runID,
				Modality:       h.Modality,
				Rank:           h.Rank,
				ChunkIndex:     h.ChunkIndex,
				Start:          h.Start,
				End:            h.End,
				Score:          h.Score,
				HeuristicScore: h.HeuristicScore,
				Strategy:       h.Strategy,
				Features:       h.Features,
				CreatedAt:      h.CreatedAt,
			})
		}
	}
	add(res.Audio)
	add(res.Video)
	return out
}
