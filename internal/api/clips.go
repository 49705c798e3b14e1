package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/playback"
	"github.com/damian-maker/IA-KICK/internal/report"
)

const defaultReviewLimit = 20

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ledger.ClipFilter{RunID: r.URL.Query().Get("run_id")}

		switch t := r.URL.Query().Get("type"); t {
		case "":
		case string(features.Audio), string(features.Video):
			filter.Modality = features.Modality(t)
		default:
			WriteError(w, http.StatusBadRequest, "type must be audio or video", "BAD_REQUEST")
			return
		}

		var err error
		if filter.RatedOnly, err = queryBool(r, "rated"); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if filter.UnratedOnly, err = queryBool(r, "unrated"); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if filter.RatedOnly && filter.UnratedOnly {
			WriteError(w, http.StatusBadRequest, "rated and unrated are exclusive", "BAD_REQUEST")
			return
		}
		if filter.Limit, err = queryInt(r, "limit", 0); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		clips, err := cfg.Ledger.List(r.Context(), filter)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}
		writeClips(w, clips)
	}
}

func reviewQueueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", defaultReviewLimit)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		clips, err := cfg.Ledger.ReviewQueue(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load review queue", "INTERNAL_ERROR")
			return
		}
		writeClips(w, clips)
	}
}

func writeClips(w http.ResponseWriter, clips []*ledger.ClipRecord) {
	if clips == nil {
		clips = []*ledger.ClipRecord{}
	}
	WriteJSON(w, http.StatusOK, ClipsResponse{Clips: clips, Count: len(clips)})
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, ok := lookupClip(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, clip)
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipID(w, r)
		if !ok {
			return
		}
		deleteFile, err := queryBool(r, "delete_file")
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if err := cfg.Ledger.Delete(r.Context(), id, deleteFile); err != nil {
			writeClipError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func rateClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipID(w, r)
		if !ok {
			return
		}

		var req RateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		res, err := cfg.Ledger.Rate(r.Context(), id, req.Rating)
		if err != nil {
			writeClipError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func clipMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, ok := lookupClip(cfg, w, r)
		if !ok {
			return
		}
		if cfg.Playback == nil {
			WriteError(w, http.StatusServiceUnavailable, "playback not available", "UNAVAILABLE")
			return
		}

		err := cfg.Playback.ServeClip(w, r, clip.Filepath)
		if errors.Is(err, playback.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "clip file is missing on disk", "FILE_MISSING")
			return
		}
		if err != nil {
			cfg.Logger.Error("playback error", "error", err, "clip_id", clip.ID)
		}
	}
}

func exportClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipID(w, r)
		if !ok {
			return
		}

		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := report.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		path, err := cfg.Ledger.ExportClip(r.Context(), id, req.OutputDir)
		if err != nil {
			writeClipError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ExportResponse{ClipID: id, OutputPath: path})
	}
}

func cleanupClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := cfg.Ledger.CleanupOrphans(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, CleanupResponse{Removed: removed})
	}
}

func clipID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "clip id must be a positive integer", "BAD_REQUEST")
		return 0, false
	}
	return id, true
}

func lookupClip(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*ledger.ClipRecord, bool) {
	id, ok := clipID(w, r)
	if !ok {
		return nil, false
	}
	clip, err := cfg.Ledger.Get(r.Context(), id)
	if err != nil {
		writeClipError(w, err)
		return nil, false
	}
	return clip, true
}

func writeClipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidRating):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_RATING")
	case errors.Is(err, ledger.ErrClipNotFound):
		WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
