package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/damian-maker/IA-KICK/internal/ledger"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Use(MediaAuthMiddleware(cfg.Repository, cfg.Logger))
		r.Get("/clips/{id}/media", clipMediaHandler(cfg))
		r.Head("/clips/{id}/media", clipMediaHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Post("/runs", createRunHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Post("/runs/stop", stopRunHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Get("/runs/{id}/highlights", runHighlightsHandler(cfg))
		r.Post("/runs/{id}/edl", runEDLHandler(cfg))

		r.Post("/runner/pause", pauseRunnerHandler(cfg))
		r.Post("/runner/resume", resumeRunnerHandler(cfg))

		r.Get("/clips", listClipsHandler(cfg))
		r.Get("/clips/review", reviewQueueHandler(cfg))
		r.Post("/clips/cleanup", cleanupClipsHandler(cfg))
		r.Get("/clips/{id}", getClipHandler(cfg))
		r.Delete("/clips/{id}", deleteClipHandler(cfg))
		r.Post("/clips/{id}/rating", rateClipHandler(cfg))
		r.Post("/clips/{id}/export", exportClipHandler(cfg))

		r.Post("/train", trainHandler(cfg))
		r.Get("/stats", statsHandler(cfg))
		r.Get("/training/progress", trainingProgressHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}
		if cfg.Doctor != nil {
			caps := cfg.Doctor.Get(r.Context())
			resp.Tools = caps
			if !caps.OK() {
				resp.Status = "degraded"
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := StatusResponse{State: "idle"}

		if cfg.Session != nil && cfg.Session.Busy() {
			resp.SessionBusy = true
			resp.State = "processing"
		}
		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			resp.RunnerPaused = true
			if !resp.SessionBusy {
				resp.State = "paused"
			}
		}

		runs, err := cfg.Ledger.ListRuns(ctx, ledger.RunFilter{Limit: 10})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}
		for _, run := range runs {
			if run.Status == ledger.RunStatusRunning && resp.ActiveRun == nil {
				rr := RunToResponse(run)
				resp.ActiveRun = &rr
			}
			if run.Status == ledger.RunStatusFailed && resp.LastError == "" {
				resp.LastError = run.Error
			}
		}

		if stats, err := cfg.Repository.ClipStats(ctx); err == nil {
			resp.TotalClips = stats.Total
			resp.RatedClips = stats.Rated
		}
		if cfg.Models != nil {
			resp.Models = cfg.Models.Status()
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: true})
	}
}

func resumeRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: false})
	}
}

func trainHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrainRequest
		if !decodeOptionalBody(w, r, &req) {
			return
		}
		if req.MinSamples < 0 {
			WriteError(w, http.StatusBadRequest, "min_samples must not be negative", "BAD_REQUEST")
			return
		}

		report, err := cfg.Ledger.TrainFromRatings(r.Context(), req.MinSamples)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := TrainResponse{Trained: report.Trained(), Results: report.Results}
		if cfg.Models != nil {
			resp.Models = cfg.Models.Status()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func statsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.Ledger.Statistics(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to compute statistics", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func trainingProgressHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		progress, err := cfg.Ledger.TrainingProgress(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to compute training progress", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, progress)
	}
}

// decodeOptionalBody decodes a JSON body into v, accepting an empty body.
// It writes a 400 and returns false on malformed input.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return b, nil
}
