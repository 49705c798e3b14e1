package session

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/report"
	"github.com/damian-maker/IA-KICK/internal/selector"
)

// ClipRequest describes which highlights to cut and where.
type ClipRequest struct {
	RunID      string
	Source     string
	SourceURL  string
	OutDir     string
	Prefix     string
	Highlights []selector.Highlight
}

// GenerateClips cuts each highlight from the source into OutDir and
// registers the files in the ledger. A failed cut is logged and skipped;
// a ledger failure stops and is returned, leaving the file on disk.
func (s *Session) GenerateClips(ctx context.Context, req ClipRequest) ([]*ledger.ClipRecord, error) {
	if s.deps.Cutter == nil || s.deps.Ledger == nil {
		return nil, fmt.Errorf("clip generation is not configured")
	}

	var out []*ledger.ClipRecord
	for idx, h := range req.Highlights {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		start := h.Start
		end := h.End
		if s.cfg.ClipDuration > 0 {
			end = start + s.cfg.ClipDuration
		}
		name := report.ClipFilename(req.Prefix, idx, h)
		target := filepath.Join(req.OutDir, name)

		path, err := s.deps.Cutter.Cut(ctx, req.Source, start, end, target)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.logger.Error("failed to cut clip", "file", name, "error", err)
			continue
		}

		id, err := s.deps.Ledger.Register(ctx, ledger.RegisterRequest{
			Filepath:  path,
			Modality:  h.Modality,
			Start:     start,
			End:       end,
			Score:     h.Score,
			Features:  h.Features,
			SourceURL: req.SourceURL,
			RunID:     req.RunID,
		})
		if err != nil {
			return out, fmt.Errorf("failed to register clip %s: %w", name, err)
		}

		abs, _ := filepath.Abs(path)
		out = append(out, &ledger.ClipRecord{
			ID:        id,
			Filename:  filepath.Base(path),
			Filepath:  abs,
			Start:     start,
			End:       end,
			Duration:  end - start,
			Score:     h.Score,
			Modality:  h.Modality,
			Features:  h.Features,
			CreatedAt: time.Now(),
			SourceURL: req.SourceURL,
			RunID:     req.RunID,
		})
		s.logger.Info("clip generated", "clip_id", id, "file", name, "type", h.Modality)
	}
	return out, nil
}
