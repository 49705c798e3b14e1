package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/report"
)

const defaultFrameRate = 30.0

func createRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRunRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}
		if req.SourceURL == "" {
			WriteError(w, http.StatusBadRequest, "source_url is required", "BAD_REQUEST")
			return
		}
		switch req.Types {
		case "", ledger.TypesAudio, ledger.TypesVideo, ledger.TypesBoth:
		default:
			WriteError(w, http.StatusBadRequest, "types must be audio, video or both", "BAD_REQUEST")
			return
		}
		if req.MaxAudioClips < 0 || req.MaxVideoClips < 0 {
			WriteError(w, http.StatusBadRequest, "clip limits must not be negative", "BAD_REQUEST")
			return
		}
		if req.StartMinute != nil && req.EndMinute != nil && *req.StartMinute > *req.EndMinute {
			WriteError(w, http.StatusBadRequest, "start_minute must not be after end_minute", "INVALID_TIME_RANGE")
			return
		}

		generate := true
		if req.GenerateClips != nil {
			generate = *req.GenerateClips
		}

		run, err := cfg.Ledger.CreateRun(r.Context(), ledger.RunRequest{
			SourceURL:     req.SourceURL,
			StartMinute:   req.StartMinute,
			EndMinute:     req.EndMinute,
			MaxAudioClips: req.MaxAudioClips,
			MaxVideoClips: req.MaxVideoClips,
			Types:         req.Types,
			GenerateClips: generate,
		})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, CreateRunResponse{RunID: run.ID})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 50)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		runs, err := cfg.Ledger.ListRuns(r.Context(), ledger.RunFilter{
			Status: r.URL.Query().Get("status"),
			Limit:  limit,
		})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

func runHighlightsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}

		hs, err := cfg.Ledger.ListHighlights(r.Context(), run.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list highlights", "INTERNAL_ERROR")
			return
		}
		if hs == nil {
			hs = []*ledger.HighlightRecord{}
		}
		WriteJSON(w, http.StatusOK, HighlightsResponse{RunID: run.ID, Highlights: hs})
	}
}

func stopRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		runID := cfg.Runner.CurrentRun()
		stopped := cfg.Runner.StopCurrent()
		if !stopped {
			runID = ""
		}
		WriteJSON(w, http.StatusOK, StopResponse{Stopped: stopped, RunID: runID})
	}
}

func runEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}
		if err := report.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if req.FrameRate < 0 {
			WriteError(w, http.StatusBadRequest, "frame_rate must be positive", "BAD_REQUEST")
			return
		}
		frameRate := req.FrameRate
		if frameRate == 0 {
			frameRate = defaultFrameRate
		}

		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}

		hs, err := cfg.Ledger.ListHighlights(r.Context(), run.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list highlights", "INTERNAL_ERROR")
			return
		}

		mediaPath := run.ResolvedURL
		if mediaPath == "" {
			mediaPath = run.SourceURL
		}
		clips := report.HighlightClips(hs, mediaPath)
		if len(clips) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "run has no highlights", "NO_HIGHLIGHTS")
			return
		}

		title := report.SanitizeName(req.Title, 120)
		if title == "" {
			title = "kickclip_" + shortID(run.ID)
		}

		edl := report.GenerateEDL(clips, title, frameRate)
		outputPath := filepath.Join(req.OutputDir, title+".edl")
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, EDLResponse{
			Status:     "ok",
			Format:     "edl",
			OutputPath: outputPath,
			ClipCount:  len(clips),
		})
	}
}

func lookupRun(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*ledger.Run, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
		return nil, false
	}

	run, err := cfg.Ledger.GetRun(r.Context(), id)
	if errors.Is(err, ledger.ErrRunNotFound) {
		WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	return run, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
