package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/scoring"
)

// HybridConfig configures blending and training.
type HybridConfig struct {
	Alpha      float64
	Params     Params
	MinSamples int
}

// Status describes the model serving one modality.
type Status struct {
	Modality     features.Modality `json:"modality"`
	Trained      bool              `json:"trained"`
	FeatureCount int               `json:"feature_count,omitempty"`
	SampleCount  int               `json:"sample_count,omitempty"`
	Origin       Origin            `json:"origin,omitempty"`
	TrainedAt    *time.Time        `json:"trained_at,omitempty"`
}

// Hybrid serves one bundle per modality and swaps in retrained bundles
// atomically. With no bundle loaded it scores with the heuristic alone.
type Hybrid struct {
	store  *Store
	cfg    HybridConfig
	logger *slog.Logger

	bundles map[features.Modality]*atomic.Pointer[Bundle]
	trainMu sync.Mutex
	warned  sync.Map // "modality/dim" -> struct{}
}

func NewHybrid(store *Store, cfg HybridConfig, logger *slog.Logger) *Hybrid {
	h := &Hybrid{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		bundles: make(map[features.Modality]*atomic.Pointer[Bundle], len(features.Modalities)),
	}
	for _, m := range features.Modalities {
		h.bundles[m] = &atomic.Pointer[Bundle]{}
	}
	return h
}

// LoadAll loads every persisted bundle. Unreadable or incompatible bundles are
// logged and that modality stays heuristic-only.
func (h *Hybrid) LoadAll() {
	for _, m := range features.Modalities {
		b, err := h.store.Load(m)
		switch {
		case errors.Is(err, ErrNoModel):
			h.logger.Info("no model for modality, using heuristic scoring", "modality", m)
		case err != nil:
			h.logger.Warn("ignoring model bundle", "modality", m, "path", h.store.Path(m), "error", err)
		default:
			h.bundles[m].Store(b)
			h.logger.Info("loaded model", "modality", m, "samples", b.SampleCount, "origin", b.Origin)
		}
	}
}

// Bundle returns the bundle currently serving m, or nil.
func (h *Hybrid) Bundle(m features.Modality) *Bundle {
	p, ok := h.bundles[m]
	if !ok {
		return nil
	}
	return p.Load()
}

// Strategy picks how vectors of length dim are scored for m. A bundle trained
// on a different dimension is never consulted.
func (h *Hybrid) Strategy(m features.Modality, dim int) scoring.Strategy {
	b := h.Bundle(m)
	if b == nil {
		return scoring.HeuristicOnly{}
	}
	if b.FeatureCount != dim {
		key := fmt.Sprintf("%s/%d", m, dim)
		if _, seen := h.warned.LoadOrStore(key, struct{}{}); !seen {
			h.logger.Warn("model dimension does not match features, using heuristic",
				"modality", m, "model_features", b.FeatureCount, "features", dim)
		}
		return scoring.HeuristicOnly{}
	}
	return scoring.Blended{Alpha: h.cfg.Alpha, Predictor: b}
}

// Score returns the final score for a vector and the strategy that produced it.
func (h *Hybrid) Score(m features.Modality, v features.Vector, heuristic float64) (float64, string) {
	s := h.Strategy(m, len(v))
	return s.Score(heuristic, v), s.Name()
}

// Train fits a new bundle for m, persists it and then makes it live. Scores
// computed before the swap keep using the previous bundle.
func (h *Hybrid) Train(m features.Modality, samples []Sample) (*Bundle, error) {
	return h.TrainWithMin(m, samples, h.cfg.MinSamples)
}

// TrainWithMin is Train with an explicit minimum sample count.
func (h *Hybrid) TrainWithMin(m features.Modality, samples []Sample, minSamples int) (*Bundle, error) {
	p, ok := h.bundles[m]
	if !ok {
		return nil, fmt.Errorf("train %q: %w", m, features.ErrUnknownModality)
	}

	h.trainMu.Lock()
	defer h.trainMu.Unlock()

	start := time.Now()
	b, err := Train(m, samples, h.cfg.Params, minSamples)
	if err != nil {
		return nil, err
	}
	if err := h.store.Save(b); err != nil {
		return nil, err
	}
	p.Store(b)

	h.logger.Info("model trained",
		"modality", m,
		"samples", b.SampleCount,
		"origin", b.Origin,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return b, nil
}

// Status reports every modality in processing order.
func (h *Hybrid) Status() []Status {
	out := make([]Status, 0, len(features.Modalities))
	for _, m := range features.Modalities {
		st := Status{Modality: m}
		if b := h.Bundle(m); b != nil {
			trainedAt := b.TrainedAt
			st.Trained = true
			st.FeatureCount = b.FeatureCount
			st.SampleCount = b.SampleCount
			st.Origin = b.Origin
			st.TrainedAt = &trainedAt
		}
		out = append(out, st)
	}
	return out
}

// MinSamples is the minimum training set size.
func (h *Hybrid) MinSamples() int {
	return h.cfg.MinSamples
}
