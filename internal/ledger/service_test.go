package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/damian-maker/IA-KICK/internal/db"
	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/logging"
	"github.com/damian-maker/IA-KICK/internal/model"
)

type fakeTrainer struct {
	calls   atomic.Int32
	samples map[features.Modality]int
	fn      func(m features.Modality, samples []model.Sample, minSamples int) (*model.Bundle, error)
}

func (f *fakeTrainer) TrainWithMin(m features.Modality, samples []model.Sample, minSamples int) (*model.Bundle, error) {
	f.calls.Add(1)
	if f.samples == nil {
		f.samples = make(map[features.Modality]int)
	}
	f.samples[m] = len(samples)
	if f.fn != nil {
		return f.fn(m, samples, minSamples)
	}
	if len(samples) < minSamples {
		return nil, &model.InsufficientDataError{Modality: m, Have: len(samples), Need: minSamples}
	}
	return &model.Bundle{Modality: m, SampleCount: len(samples)}, nil
}

func (f *fakeTrainer) Status() []model.Status {
	return []model.Status{{Modality: features.Audio}, {Modality: features.Video}}
}

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, NewRepository(database.Conn())
}

func setupService(t *testing.T, trainer Trainer, cfg ServiceConfig) (*Service, Repository) {
	t.Helper()
	_, repo := setupTestDB(t)
	return NewService(repo, trainer, cfg, logging.Discard()), repo
}

// writeClip creates a clip file on disk and registers it.
func writeClip(t *testing.T, svc *Service, dir string, name string, m features.Modality, start float64) int64 {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("clip"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	id, err := svc.Register(context.Background(), RegisterRequest{
		Filepath: path,
		Modality: m,
		Start:    start,
		End:      start + 30,
		Score:    start / 10,
		Features: features.Map{"rms_mean": start, "motion_mean": start},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return id
}

func TestService_RegisterIdempotent(t *testing.T) {
	svc, _ := setupService(t, &fakeTrainer{}, ServiceConfig{RetrainInterval: 5, MinSamples: 10})
	ctx := context.Background()
	dir := t.TempDir()

	id1 := writeClip(t, svc, dir, "clip_001.mp4", features.Audio, 10)
	if _, err := svc.Rate(ctx, id1, 4); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	id2 := writeClip(t, svc, dir, "clip_001.mp4", features.Audio, 20)
	if id1 != id2 {
		t.Fatalf("re-register returned id %d, want %d", id2, id1)
	}

	clips, err := svc.List(ctx, ClipFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(clips) != 1 {
		t.Fatalf("len(clips) = %d, want 1", len(clips))
	}
	c := clips[0]
	if c.Start != 20 || c.Duration != 30 {
		t.Errorf("clip not updated: %+v", c)
	}
	if c.Rating == nil || *c.Rating != 4 {
		t.Errorf("rating lost on re-register: %v", c.Rating)
	}
	if !filepath.IsAbs(c.Filepath) {
		t.Errorf("Filepath %q is not absolute", c.Filepath)
	}
}

func TestService_RegisterRejectsUnknownType(t *testing.T) {
	svc, _ := setupService(t, &fakeTrainer{}, ServiceConfig{})
	_, err := svc.Register(context.Background(), RegisterRequest{Filepath: "/tmp/x.mp4", Modality: "both"})
	if !errors.Is(err, features.ErrUnknownModality) {
		t.Fatalf("Register() error = %v, want ErrUnknownModality", err)
	}
}

func TestService_RateValidation(t *testing.T) {
	svc, _ := setupService(t, &fakeTrainer{}, ServiceConfig{RetrainInterval: 5, MinSamples: 10})
	ctx := context.Background()
	id := writeClip(t, svc, t.TempDir(), "a.mp4", features.Audio, 0)

	for _, r := range []int{0, 6, -1} {
		if _, err := svc.Rate(ctx, id, r); !errors.Is(err, ErrInvalidRating) {
			t.Errorf("Rate(%d) error = %v, want ErrInvalidRating", r, err)
		}
	}
	if _, err := svc.Rate(ctx, 9999, 3); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Rate(unknown) error = %v, want ErrClipNotFound", err)
	}
}

func TestService_RateRecordsSampleAndCounter(t *testing.T) {
	svc, repo := setupService(t, &fakeTrainer{}, ServiceConfig{RetrainInterval: 5, MinSamples: 10})
	ctx := context.Background()
	id := writeClip(t, svc, t.TempDir(), "a.mp4", features.Audio, 40)

	res, err := svc.Rate(ctx, id, 3)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if res.RatingEvents != 1 || res.RetrainTriggered {
		t.Errorf("RateResult = %+v", res)
	}
	// re-rating overwrites the rating but still counts as an event
	res, _ = svc.Rate(ctx, id, 5)
	if res.RatingEvents != 2 {
		t.Errorf("RatingEvents = %d, want 2", res.RatingEvents)
	}

	samples, err := repo.ListTrainingSamples(ctx, features.Audio, model.OriginRating)
	if err != nil {
		t.Fatalf("ListTrainingSamples() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if samples[0].Label != 0.5 || samples[1].Label != 1 {
		t.Errorf("labels = %v, %v; want 0.5, 1", samples[0].Label, samples[1].Label)
	}
	if len(samples[0].Features) != features.AudioDim || samples[0].Features[0] != 40 {
		t.Errorf("sample features = %v", samples[0].Features)
	}

	clip, _ := svc.Get(ctx, id)
	if clip.Rating == nil || *clip.Rating != 5 || clip.RatedAt == nil {
		t.Errorf("clip after re-rating = %+v", clip)
	}
}

func TestService_RetrainTrigger(t *testing.T) {
	trainer := &fakeTrainer{}
	svc, _ := setupService(t, trainer, ServiceConfig{RetrainInterval: 2, MinSamples: 3})
	ctx := context.Background()
	dir := t.TempDir()

	var ids []int64
	for i, name := range []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4"} {
		ids = append(ids, writeClip(t, svc, dir, name, features.Audio, float64(i*30)))
	}

	// event 2: interval reached but only 2 rated clips
	svc.Rate(ctx, ids[0], 5)
	res, _ := svc.Rate(ctx, ids[1], 1)
	if res.RetrainTriggered || trainer.calls.Load() != 0 {
		t.Fatalf("retrained with too few ratings: %+v", res)
	}

	// event 3: enough ratings but off interval
	res, _ = svc.Rate(ctx, ids[2], 3)
	if res.RetrainTriggered {
		t.Fatal("retrained off interval")
	}

	// event 4: both conditions hold
	res, err := svc.Rate(ctx, ids[3], 4)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if !res.RetrainTriggered || res.Report == nil {
		t.Fatalf("expected retraining, got %+v", res)
	}
	if trainer.calls.Load() != 2 {
		t.Errorf("trainer calls = %d, want one per modality", trainer.calls.Load())
	}
	if !res.Report.Trained() {
		t.Error("audio should have trained with 4 samples")
	}
	for _, r := range res.Report.Results {
		if r.Modality == features.Video && (r.Trained || r.Error == "") {
			t.Errorf("video result = %+v, want insufficient data", r)
		}
	}
}

func TestService_RetrainFailureDoesNotFailRating(t *testing.T) {
	trainer := &fakeTrainer{fn: func(m features.Modality, s []model.Sample, min int) (*model.Bundle, error) {
		return nil, errors.New("disk full")
	}}
	svc, _ := setupService(t, trainer, ServiceConfig{RetrainInterval: 1, MinSamples: 1})
	id := writeClip(t, svc, t.TempDir(), "a.mp4", features.Video, 0)

	res, err := svc.Rate(context.Background(), id, 2)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if !res.RetrainTriggered || res.Report.Trained() {
		t.Errorf("RateResult = %+v", res)
	}
}

func TestService_TrainFromRatingsWithHybrid(t *testing.T) {
	hybrid := model.NewHybrid(model.NewStore(t.TempDir()), model.HybridConfig{
		Alpha:      0.6,
		Params:     model.DefaultParams(),
		MinSamples: 10,
	}, logging.Discard())
	svc, _ := setupService(t, hybrid, ServiceConfig{RetrainInterval: 100, MinSamples: 10})
	ctx := context.Background()
	dir := t.TempDir()

	for i := 0; i < 10; i++ {
		id := writeClip(t, svc, dir, string(rune('a'+i))+".mp4", features.Audio, float64(i*30))
		if _, err := svc.Rate(ctx, id, 1+i%5); err != nil {
			t.Fatalf("Rate() error = %v", err)
		}
	}

	report, err := svc.TrainFromRatings(ctx, 0)
	if err != nil {
		t.Fatalf("TrainFromRatings() error = %v", err)
	}
	if !report.Trained() {
		t.Fatalf("report = %+v, want audio trained", report)
	}
	if hybrid.Bundle(features.Audio) == nil {
		t.Error("audio bundle not installed")
	}
	if hybrid.Bundle(features.Video) != nil {
		t.Error("video bundle should not exist without ratings")
	}

	// one short of the minimum
	report, _ = svc.TrainFromRatings(ctx, 11)
	if report.Trained() {
		t.Error("trained with fewer samples than required")
	}
}

func TestService_Statistics(t *testing.T) {
	svc, _ := setupService(t, &fakeTrainer{}, ServiceConfig{RetrainInterval: 5, MinSamples: 2})
	ctx := context.Background()
	dir := t.TempDir()

	a := writeClip(t, svc, dir, "a.mp4", features.Audio, 0)
	b := writeClip(t, svc, dir, "b.mp4", features.Audio, 30)
	writeClip(t, svc, dir, "c.mp4", features.Video, 60)
	svc.Rate(ctx, a, 5)
	svc.Rate(ctx, b, 2)

	st, err := svc.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if st.TotalClips != 3 || st.RatedClips != 2 || st.UnratedClips != 1 {
		t.Errorf("counts = %+v", st)
	}
	if st.AverageRating != 3.5 {
		t.Errorf("AverageRating = %v, want 3.5", st.AverageRating)
	}
	if st.RatingDistribution[5] != 1 || st.RatingDistribution[2] != 1 {
		t.Errorf("distribution = %v", st.RatingDistribution)
	}
	if st.ClipsByModality[features.Audio] != 2 || st.ClipsByModality[features.Video] != 1 {
		t.Errorf("by type = %v", st.ClipsByModality)
	}
	if !st.ReadyForTraining || !st.Modalities[features.Audio].ReadyForTraining {
		t.Error("audio should be ready with 2 ratings")
	}
	if st.Modalities[features.Video].SamplesUntilReady != 2 {
		t.Errorf("video SamplesUntilReady = %d, want 2", st.Modalities[features.Video].SamplesUntilReady)
	}
	if st.Modalities[features.Audio].TrainingSamples[model.OriginRating] != 2 {
		t.Errorf("audio history = %v", st.Modalities[features.Audio].TrainingSamples)
	}
	if st.RatingEvents != 2 {
		t.Errorf("RatingEvents = %d, want 2", st.RatingEvents)
	}
}

func TestService_TrainingProgress(t *testing.T) {
	svc, _ := setupService(t, &fakeTrainer{}, ServiceConfig{RetrainInterval: 5, MinSamples: 3})
	ctx := context.Background()
	id := writeClip(t, svc, t.TempDir(), "a.mp4", features.Video, 0)
	svc.Rate(ctx, id, 3)

	p, err := svc.TrainingProgress(ctx)
	if err != nil {
		t.Fatalf("TrainingProgress() error = %v", err)
	}
	if p.RatingsUntilCheck != 4 {
		t.Errorf("RatingsUntilCheck = %d, want 4", p.RatingsUntilCheck)
	}
	for _, m := range p.Modalities {
		if m.Modality == features.Video && (m.Rated != 1 || m.Remaining != 2) {
			t.Errorf("video progress = %+v", m)
		}
	}
}

func TestService_ReviewQueueDeleteCleanup(t *testing.T) {
	svc, _ := setupService(t, &fakeTrainer{}, ServiceConfig{RetrainInterval: 5, MinSamples: 10})
	ctx := context.Background()
	dir := t.TempDir()

	a := writeClip(t, svc, dir, "a.mp4", features.Audio, 0)
	b := writeClip(t, svc, dir, "b.mp4", features.Audio, 30)
	c := writeClip(t, svc, dir, "c.mp4", features.Video, 60)
	svc.Rate(ctx, a, 4)

	queue, err := svc.ReviewQueue(ctx, 10)
	if err != nil {
		t.Fatalf("ReviewQueue() error = %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("len(queue) = %d, want 2", len(queue))
	}

	if err := svc.Delete(ctx, b, true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.mp4")); !errors.Is(err, os.ErrNotExist) {
		t.Error("clip file not deleted")
	}
	if _, err := svc.Get(ctx, b); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrClipNotFound", err)
	}

	os.Remove(filepath.Join(dir, "c.mp4"))
	removed, err := svc.CleanupOrphans(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphans() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := svc.Get(ctx, c); !errors.Is(err, ErrClipNotFound) {
		t.Error("orphan row still present")
	}
	if _, err := svc.Get(ctx, a); err != nil {
		t.Errorf("Get(a) error = %v", err)
	}
}

func TestService_ExportClip(t *testing.T) {
	svc, _ := setupService(t, &fakeTrainer{}, ServiceConfig{})
	id := writeClip(t, svc, t.TempDir(), "a.mp4", features.Audio, 0)

	dest, err := svc.ExportClip(context.Background(), id, filepath.Join(t.TempDir(), "export"))
	if err != nil {
		t.Fatalf("ExportClip() error = %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "clip" {
		t.Errorf("exported file = %q, %v", data, err)
	}
}
