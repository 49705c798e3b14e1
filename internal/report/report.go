// Package report writes the per-run highlights.json summary and editor
// exports of selected highlights.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/selector"
)

// FileName is the report written into each run's output directory.
const FileName = "highlights.json"

// Entry is one highlight as written to the report.
type Entry struct {
	Rank           int               `json:"rank"`
	Start          float64           `json:"start_time"`
	End            float64           `json:"end_time"`
	Score          float64           `json:"score"`
	HeuristicScore float64           `json:"heuristic_score"`
	Strategy       string            `json:"strategy"`
	Modality       features.Modality `json:"type"`
	Features       features.Map      `json:"features"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Report is the highlights.json document.
type Report struct {
	VideoID         string    `json:"video_id"`
	SourceURL       string    `json:"source_url"`
	Audio           []Entry   `json:"audio_highlights"`
	Video           []Entry   `json:"video_highlights"`
	GeneratedAt     time.Time `json:"generated_at"`
	ClipDuration    float64   `json:"clip_duration"`
	MinGap          float64   `json:"min_gap"`
	ChunksProcessed int       `json:"chunks_processed"`
	ChunksSkipped   int       `json:"chunks_skipped"`
	Stopped         bool      `json:"stopped"`
}

// Entries converts selected highlights, keeping their order.
func Entries(hs []selector.Highlight) []Entry {
	out := make([]Entry, 0, len(hs))
	for _, h := range hs {
		fm := h.Features
		if fm == nil {
			fm = features.Map{}
		}
		out = append(out, Entry{
			Rank:           h.Rank,
			Start:          h.Start,
			End:            h.End,
			Score:          h.Score,
			HeuristicScore: h.HeuristicScore,
			Strategy:       h.Strategy,
			Modality:       h.Modality,
			Features:       fm,
			Timestamp:      h.CreatedAt,
		})
	}
	return out
}

// Write stores r as indented JSON at path, creating parent directories.
func Write(path string, r *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	if r.Audio == nil {
		r.Audio = []Entry{}
	}
	if r.Video == nil {
		r.Video = []Entry{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &r, nil
}
