package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/damian-maker/IA-KICK/internal/db"
	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/logging"
	"github.com/damian-maker/IA-KICK/internal/media"
	"github.com/damian-maker/IA-KICK/internal/model"
	"github.com/damian-maker/IA-KICK/internal/playback"
)

const testToken = "test-token-0123456789"

type fakeRunner struct {
	paused  atomic.Bool
	current string
	stopOK  bool
	stopped atomic.Int32
	resumed atomic.Int32
}

func (f *fakeRunner) Pause()             { f.paused.Store(true) }
func (f *fakeRunner) Resume()            { f.resumed.Add(1); f.paused.Store(false) }
func (f *fakeRunner) IsPaused() bool     { return f.paused.Load() }
func (f *fakeRunner) CurrentRun() string { return f.current }
func (f *fakeRunner) StopCurrent() bool {
	f.stopped.Add(1)
	return f.stopOK
}

type fakeSession struct {
	busy bool
}

func (f *fakeSession) Busy() bool { return f.busy }

type testEnv struct {
	router  http.Handler
	cfg     ServerConfig
	svc     *ledger.Service
	repo    ledger.Repository
	hybrid  *model.Hybrid
	runner  *fakeRunner
	session *fakeSession
	dir     string
}

func setupAPI(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := logging.Discard()
	params := model.DefaultParams()
	params.NEstimators = 10
	hybrid := model.NewHybrid(model.NewStore(filepath.Join(dir, "models")), model.HybridConfig{
		Alpha: 0.7, Params: params, MinSamples: 5,
	}, logger)

	repo := ledger.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), ledger.ConfigKeyAuthToken, testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	svc := ledger.NewService(repo, hybrid, ledger.ServiceConfig{RetrainInterval: 5, MinSamples: 5}, logger)

	env := &testEnv{
		svc:     svc,
		repo:    repo,
		hybrid:  hybrid,
		runner:  &fakeRunner{},
		session: &fakeSession{},
		dir:     dir,
	}
	env.cfg = ServerConfig{
		Version:    "test",
		Ledger:     svc,
		Repository: repo,
		Session:    env.session,
		Runner:     env.runner,
		Models:     hybrid,
		Playback:   playback.NewServer(logger),
		Logger:     logger,
		StartTime:  time.Now().Add(-10 * time.Second),
	}
	env.router = NewRouter(env.cfg)
	return env
}

// do sends an authenticated request from the loopback interface.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal error: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) addClip(t *testing.T, name string, m features.Modality, start float64) int64 {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte("clip-bytes-"+name), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	id, err := e.svc.Register(context.Background(), ledger.RegisterRequest{
		Filepath: path,
		Modality: m,
		Start:    start,
		End:      start + 30,
		Score:    0.5,
		Features: features.Map{"rms_mean": start / 100, "motion_mean": start / 50},
		RunID:    "run-1",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return id
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, rr.Body.String())
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := setupAPI(t)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthResponse
	decodeInto(t, rr, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if resp.UptimeS < 10 {
		t.Errorf("uptime_s = %d, want >= 10", resp.UptimeS)
	}
	if resp.Tools != nil {
		t.Error("tools should be omitted without a doctor")
	}
}

type fakeVersion struct{}

func (fakeVersion) Version(ctx context.Context, tool string) (string, error) {
	return "ffmpeg version 6.1", nil
}

func TestHealth_DegradedWithoutTools(t *testing.T) {
	env := setupAPI(t)
	env.cfg.Doctor = media.NewDoctor(fakeVersion{}, filepath.Join(env.dir, "no-ffmpeg"), filepath.Join(env.dir, "no-ffprobe"), logging.Discard())

	rr := httptest.NewRecorder()
	healthHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	decodeInto(t, rr, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Tools == nil || resp.Tools.FFmpeg.Available {
		t.Errorf("tools = %+v, want ffmpeg unavailable", resp.Tools)
	}
}

func TestStatus_Idle(t *testing.T) {
	env := setupAPI(t)
	env.addClip(t, "a.mp4", features.Audio, 10)

	rr := env.do(t, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp StatusResponse
	decodeInto(t, rr, &resp)
	if resp.State != "idle" || resp.SessionBusy || resp.RunnerPaused {
		t.Errorf("status = %+v, want idle", resp)
	}
	if resp.TotalClips != 1 || resp.RatedClips != 0 {
		t.Errorf("clips = %d/%d, want 1/0", resp.TotalClips, resp.RatedClips)
	}
	if len(resp.Models) != len(features.Modalities) {
		t.Errorf("models = %d, want %d", len(resp.Models), len(features.Modalities))
	}
}

func TestStatus_ProcessingWithActiveRun(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	run, err := env.svc.CreateRun(ctx, ledger.RunRequest{SourceURL: "https://kick.com/video/abc"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := env.repo.UpdateRunStatus(ctx, run.ID, ledger.RunStatusRunning, ""); err != nil {
		t.Fatalf("UpdateRunStatus() error = %v", err)
	}
	env.session.busy = true
	env.runner.paused.Store(true)

	rr := env.do(t, http.MethodGet, "/status", nil)
	var resp StatusResponse
	decodeInto(t, rr, &resp)

	if resp.State != "processing" {
		t.Errorf("state = %q, want processing", resp.State)
	}
	if !resp.RunnerPaused {
		t.Error("runner_paused = false, want true")
	}
	if resp.ActiveRun == nil || resp.ActiveRun.ID != run.ID {
		t.Errorf("active_run = %+v, want %s", resp.ActiveRun, run.ID)
	}
}

func TestStatus_PausedAndLastError(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	run, _ := env.svc.CreateRun(ctx, ledger.RunRequest{SourceURL: "https://kick.com/somebody"})
	env.repo.UpdateRunStatus(ctx, run.ID, ledger.RunStatusFailed, "channel is not live")
	env.runner.paused.Store(true)

	body := decodeJSONBody(t, env.do(t, http.MethodGet, "/status", nil))
	if body["state"] != "paused" {
		t.Errorf("state = %v, want paused", body["state"])
	}
	if body["last_error"] != "channel is not live" {
		t.Errorf("last_error = %v", body["last_error"])
	}
}

func TestRunnerPauseResume(t *testing.T) {
	env := setupAPI(t)

	rr := env.do(t, http.MethodPost, "/runner/pause", nil)
	if rr.Code != http.StatusOK || !env.runner.IsPaused() {
		t.Fatalf("pause: status = %d, paused = %v", rr.Code, env.runner.IsPaused())
	}

	rr = env.do(t, http.MethodPost, "/runner/resume", nil)
	if rr.Code != http.StatusOK || env.runner.IsPaused() {
		t.Fatalf("resume: status = %d, paused = %v", rr.Code, env.runner.IsPaused())
	}
	var resp RunnerResponse
	decodeInto(t, rr, &resp)
	if resp.Paused {
		t.Error("paused = true after resume")
	}
}

func TestRunnerUnavailable(t *testing.T) {
	env := setupAPI(t)
	env.cfg.Runner = nil
	router := NewRouter(env.cfg)

	req := httptest.NewRequest(http.MethodPost, "/runner/pause", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestTrain_InsufficientRatings(t *testing.T) {
	env := setupAPI(t)
	env.addClip(t, "a.mp4", features.Audio, 10)

	rr := env.do(t, http.MethodPost, "/train", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp TrainResponse
	decodeInto(t, rr, &resp)
	if resp.Trained {
		t.Error("trained = true with no ratings")
	}
	if len(resp.Results) != len(features.Modalities) {
		t.Fatalf("results = %d, want %d", len(resp.Results), len(features.Modalities))
	}
	for _, r := range resp.Results {
		if r.Trained || r.Error == "" {
			t.Errorf("result %+v, want untrained with error", r)
		}
	}
}

func TestTrain_FromRatings(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		id := env.addClip(t, "audio"+string(rune('a'+i))+".mp4", features.Audio, float64(i*40))
		if _, err := env.svc.Rate(ctx, id, 1+i%5); err != nil {
			t.Fatalf("Rate() error = %v", err)
		}
	}

	rr := env.do(t, http.MethodPost, "/train", TrainRequest{MinSamples: 5})
	var resp TrainResponse
	decodeInto(t, rr, &resp)

	if !resp.Trained {
		t.Fatalf("trained = false: %+v", resp.Results)
	}
	if env.hybrid.Bundle(features.Audio) == nil {
		t.Error("audio bundle not loaded after training")
	}
	if env.hybrid.Bundle(features.Video) != nil {
		t.Error("video bundle should not be trained without ratings")
	}
}

func TestTrain_BadBody(t *testing.T) {
	env := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/train", bytes.NewReader([]byte("{nope")))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/train", TrainRequest{MinSamples: -1})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative min_samples status = %d, want 400", rr.Code)
	}
}

func TestStatsAndProgress(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	a := env.addClip(t, "a.mp4", features.Audio, 10)
	env.addClip(t, "v.mp4", features.Video, 50)
	if _, err := env.svc.Rate(ctx, a, 4); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}

	rr := env.do(t, http.MethodGet, "/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rr.Code)
	}
	var stats ledger.Statistics
	decodeInto(t, rr, &stats)
	if stats.TotalClips != 2 || stats.RatedClips != 1 || stats.AverageRating != 4 {
		t.Errorf("stats = %+v", stats)
	}

	rr = env.do(t, http.MethodGet, "/training/progress", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("progress status = %d", rr.Code)
	}
	var progress ledger.TrainingProgress
	decodeInto(t, rr, &progress)
	if progress.RatingEvents != 1 {
		t.Errorf("rating_events = %d, want 1", progress.RatingEvents)
	}
}
