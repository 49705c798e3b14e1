package api

import (
	"time"

	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/media"
	"github.com/damian-maker/IA-KICK/internal/model"
)

type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	UptimeS int64               `json:"uptime_s"`
	Tools   *media.Capabilities `json:"tools,omitempty"`
}

type StatusResponse struct {
	State        string         `json:"state"`
	SessionBusy  bool           `json:"session_busy"`
	RunnerPaused bool           `json:"runner_paused"`
	ActiveRun    *RunResponse   `json:"active_run,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	TotalClips   int            `json:"total_clips"`
	RatedClips   int            `json:"rated_clips"`
	Models       []model.Status `json:"models,omitempty"`
}

type CreateRunRequest struct {
	SourceURL     string   `json:"source_url"`
	StartMinute   *float64 `json:"start_minute,omitempty"`
	EndMinute     *float64 `json:"end_minute,omitempty"`
	MaxAudioClips int      `json:"max_audio_clips,omitempty"`
	MaxVideoClips int      `json:"max_video_clips,omitempty"`
	Types         string   `json:"types,omitempty"`
	GenerateClips *bool    `json:"generate_clips,omitempty"`
}

type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

type RunResponse struct {
	ID              string   `json:"id"`
	SourceURL       string   `json:"source_url"`
	Status          string   `json:"status"`
	StartMinute     *float64 `json:"start_minute,omitempty"`
	EndMinute       *float64 `json:"end_minute,omitempty"`
	Types           string   `json:"types"`
	GenerateClips   bool     `json:"generate_clips"`
	Progress        int      `json:"progress"`
	ChunksProcessed int      `json:"chunks_processed"`
	ChunksSkipped   int      `json:"chunks_skipped"`
	AudioCount      int      `json:"audio_count"`
	VideoCount      int      `json:"video_count"`
	ReportPath      string   `json:"report_path,omitempty"`
	Error           string   `json:"error,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type HighlightsResponse struct {
	RunID      string                    `json:"run_id"`
	Highlights []*ledger.HighlightRecord `json:"highlights"`
}

type StopResponse struct {
	Stopped bool   `json:"stopped"`
	RunID   string `json:"run_id,omitempty"`
}

type RunnerResponse struct {
	Paused bool `json:"paused"`
}

type ClipsResponse struct {
	Clips []*ledger.ClipRecord `json:"clips"`
	Count int                  `json:"count"`
}

type RateRequest struct {
	Rating int `json:"rating"`
}

type ExportRequest struct {
	OutputDir string `json:"output_dir"`
}

type ExportResponse struct {
	ClipID     int64  `json:"clip_id"`
	OutputPath string `json:"output_path"`
}

type CleanupResponse struct {
	Removed int `json:"removed"`
}

type TrainRequest struct {
	MinSamples int `json:"min_samples,omitempty"`
}

type TrainResponse struct {
	Trained bool                         `json:"trained"`
	Results []ledger.ModalityTrainResult `json:"results"`
	Models  []model.Status               `json:"models,omitempty"`
}

type EDLRequest struct {
	OutputDir string  `json:"output_dir"`
	Title     string  `json:"title,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
}

type EDLResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ClipCount  int    `json:"clip_count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *ledger.Run) RunResponse {
	return RunResponse{
		ID:              r.ID,
		SourceURL:       r.SourceURL,
		Status:          r.Status,
		StartMinute:     r.StartMinute,
		EndMinute:       r.EndMinute,
		Types:           r.Types,
		GenerateClips:   r.GenerateClips,
		Progress:        r.Progress,
		ChunksProcessed: r.ChunksProcessed,
		ChunksSkipped:   r.ChunksSkipped,
		AudioCount:      r.AudioCount,
		VideoCount:      r.VideoCount,
		ReportPath:      r.ReportPath,
		Error:           r.Error,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.Format(time.RFC3339),
	}
}
