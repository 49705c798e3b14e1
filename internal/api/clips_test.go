package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/ledger"
)

func clipPath(id int64) string {
	return "/clips/" + strconv.FormatInt(id, 10)
}

func TestListClips_Filters(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	a1 := env.addClip(t, "a1.mp4", features.Audio, 10)
	env.addClip(t, "a2.mp4", features.Audio, 60)
	env.addClip(t, "v1.mp4", features.Video, 120)
	if _, err := env.svc.Rate(ctx, a1, 5); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?type=audio", 2},
		{"?type=video", 1},
		{"?rated=true", 1},
		{"?unrated=true", 2},
		{"?type=audio&unrated=true", 1},
		{"?limit=2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/clips"+tt.query, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
			}
			var resp ClipsResponse
			decodeInto(t, rr, &resp)
			if resp.Count != tt.want || len(resp.Clips) != tt.want {
				t.Errorf("count = %d (%d clips), want %d", resp.Count, len(resp.Clips), tt.want)
			}
		})
	}
}

func TestListClips_BadQuery(t *testing.T) {
	env := setupAPI(t)

	for _, q := range []string{"?type=chat", "?rated=maybe", "?limit=-3", "?rated=true&unrated=true"} {
		if rr := env.do(t, http.MethodGet, "/clips"+q, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("GET /clips%s status = %d, want 400", q, rr.Code)
		}
	}
}

func TestReviewQueue(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	rated := env.addClip(t, "a1.mp4", features.Audio, 10)
	env.addClip(t, "a2.mp4", features.Audio, 60)
	env.addClip(t, "v1.mp4", features.Video, 120)
	env.svc.Rate(ctx, rated, 2)

	var resp ClipsResponse
	decodeInto(t, env.do(t, http.MethodGet, "/clips/review", nil), &resp)
	if resp.Count != 2 {
		t.Fatalf("review queue = %d, want 2", resp.Count)
	}
	for _, c := range resp.Clips {
		if c.Rating != nil {
			t.Errorf("clip %d already rated", c.ID)
		}
	}

	decodeInto(t, env.do(t, http.MethodGet, "/clips/review?limit=1", nil), &resp)
	if resp.Count != 1 {
		t.Errorf("limited review queue = %d, want 1", resp.Count)
	}

	body := decodeJSONBody(t, setupAPI(t).do(t, http.MethodGet, "/clips/review", nil))
	if clips, ok := body["clips"].([]interface{}); !ok || len(clips) != 0 {
		t.Errorf("empty queue clips = %v, want []", body["clips"])
	}
}

func TestGetClip(t *testing.T) {
	env := setupAPI(t)
	id := env.addClip(t, "a1.mp4", features.Audio, 10)

	rr := env.do(t, http.MethodGet, clipPath(id), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var clip ledger.ClipRecord
	decodeInto(t, rr, &clip)
	if clip.ID != id || clip.Filename != "a1.mp4" || clip.Modality != features.Audio {
		t.Errorf("clip = %+v", clip)
	}

	if rr := env.do(t, http.MethodGet, "/clips/999", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing clip status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/clips/abc", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rr.Code)
	}
}

func TestRateClip(t *testing.T) {
	env := setupAPI(t)
	id := env.addClip(t, "a1.mp4", features.Audio, 10)

	rr := env.do(t, http.MethodPost, clipPath(id)+"/rating", RateRequest{Rating: 4})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var res ledger.RateResult
	decodeInto(t, rr, &res)
	if res.ClipID != id || res.Rating != 4 || res.RatingEvents != 1 || res.RetrainTriggered {
		t.Errorf("rate result = %+v", res)
	}

	clip, err := env.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if clip.Rating == nil || *clip.Rating != 4 {
		t.Errorf("stored rating = %v, want 4", clip.Rating)
	}
}

func TestRateClip_Errors(t *testing.T) {
	env := setupAPI(t)
	id := env.addClip(t, "a1.mp4", features.Audio, 10)

	tests := []struct {
		name string
		path string
		body any
		want int
		code string
	}{
		{"rating too high", clipPath(id) + "/rating", RateRequest{Rating: 6}, http.StatusBadRequest, "INVALID_RATING"},
		{"rating zero", clipPath(id) + "/rating", RateRequest{Rating: 0}, http.StatusBadRequest, "INVALID_RATING"},
		{"unknown clip", "/clips/999/rating", RateRequest{Rating: 3}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if body := decodeJSONBody(t, rr); body["code"] != tt.code {
				t.Errorf("code = %v, want %s", body["code"], tt.code)
			}
		})
	}
}

func TestRateClip_TriggersRetrain(t *testing.T) {
	env := setupAPI(t)

	var last ledger.RateResult
	for i := 0; i < 5; i++ {
		id := env.addClip(t, "a"+strconv.Itoa(i)+".mp4", features.Audio, float64(i*40))
		rr := env.do(t, http.MethodPost, clipPath(id)+"/rating", RateRequest{Rating: 1 + i})
		decodeInto(t, rr, &last)
	}

	if !last.RetrainTriggered {
		t.Fatalf("fifth rating did not trigger retraining: %+v", last)
	}
	if last.Report == nil || !last.Report.Trained() {
		t.Errorf("retrain report = %+v, want audio trained", last.Report)
	}
	if env.hybrid.Bundle(features.Audio) == nil {
		t.Error("audio bundle not swapped in after retrain")
	}
}

func TestDeleteClip(t *testing.T) {
	env := setupAPI(t)
	keep := env.addClip(t, "keep.mp4", features.Audio, 10)
	drop := env.addClip(t, "drop.mp4", features.Audio, 60)

	if rr := env.do(t, http.MethodDelete, clipPath(keep), nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "keep.mp4")); err != nil {
		t.Errorf("file removed without delete_file: %v", err)
	}

	if rr := env.do(t, http.MethodDelete, clipPath(drop)+"?delete_file=true", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "drop.mp4")); !os.IsNotExist(err) {
		t.Errorf("file still present after delete_file=true")
	}

	if rr := env.do(t, http.MethodDelete, clipPath(drop), nil); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestClipMedia(t *testing.T) {
	env := setupAPI(t)
	id := env.addClip(t, "a1.mp4", features.Audio, 10)
	want := []byte("clip-bytes-a1.mp4")

	rr := env.do(t, http.MethodGet, clipPath(id)+"/media", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if !bytes.Equal(rr.Body.Bytes(), want) {
		t.Errorf("body = %q, want %q", rr.Body.Bytes(), want)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, clipPath(id)+"/media?access_token="+testToken, nil)
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("Range", "bytes=0-3")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusPartialContent || rr.Body.String() != "clip" {
		t.Errorf("range with query token: status = %d, body = %q", rr.Code, rr.Body.String())
	}
}

func TestClipMedia_Guards(t *testing.T) {
	env := setupAPI(t)
	id := env.addClip(t, "a1.mp4", features.Audio, 10)

	req := httptest.NewRequest(http.MethodGet, clipPath(id)+"/media", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.RemoteAddr = "203.0.113.5:5000"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("remote status = %d, want 403", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, clipPath(id)+"/media", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rr.Code)
	}

	os.Remove(filepath.Join(env.dir, "a1.mp4"))
	rr = env.do(t, http.MethodGet, clipPath(id)+"/media", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing file status = %d, want 404", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "FILE_MISSING" {
		t.Errorf("code = %v, want FILE_MISSING", body["code"])
	}
}

func TestExportClip(t *testing.T) {
	env := setupAPI(t)
	id := env.addClip(t, "a1.mp4", features.Audio, 10)
	outDir := t.TempDir()

	rr := env.do(t, http.MethodPost, clipPath(id)+"/export", ExportRequest{OutputDir: outDir})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp ExportResponse
	decodeInto(t, rr, &resp)
	if resp.OutputPath != filepath.Join(outDir, "a1.mp4") {
		t.Errorf("output_path = %q", resp.OutputPath)
	}
	if data, err := os.ReadFile(resp.OutputPath); err != nil || string(data) != "clip-bytes-a1.mp4" {
		t.Errorf("exported file = %q, %v", data, err)
	}

	if rr := env.do(t, http.MethodPost, clipPath(id)+"/export", ExportRequest{OutputDir: "relative/../dir"}); rr.Code != http.StatusBadRequest {
		t.Errorf("traversal status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/clips/999/export", ExportRequest{OutputDir: outDir}); rr.Code != http.StatusNotFound {
		t.Errorf("missing clip status = %d, want 404", rr.Code)
	}
}

func TestCleanupClips(t *testing.T) {
	env := setupAPI(t)
	env.addClip(t, "a1.mp4", features.Audio, 10)
	env.addClip(t, "a2.mp4", features.Audio, 60)
	os.Remove(filepath.Join(env.dir, "a2.mp4"))

	var resp CleanupResponse
	decodeInto(t, env.do(t, http.MethodPost, "/clips/cleanup", nil), &resp)
	if resp.Removed != 1 {
		t.Errorf("removed = %d, want 1", resp.Removed)
	}

	clips, _ := env.svc.List(context.Background(), ledger.ClipFilter{})
	if len(clips) != 1 || clips[0].Filename != "a1.mp4" {
		t.Errorf("remaining clips = %v", clips)
	}
}
