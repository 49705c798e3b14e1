// Package model trains and serves the per-modality highlight regressors that
// are blended with the heuristic score.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/damian-maker/IA-KICK/internal/features"
)

// SchemaVersion is bumped whenever the bundle layout changes. Bundles with any
// other version are refused.
const SchemaVersion = 1

var (
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	ErrInsufficientData  = errors.New("insufficient training data")
	ErrSchemaVersion     = errors.New("unsupported model schema version")
	ErrNoModel           = errors.New("no trained model")
)

// InsufficientDataError reports how many samples were available.
type InsufficientDataError struct {
	Modality features.Modality
	Have     int
	Need     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: have %d samples, need %d", ErrInsufficientData, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// Origin records where the labels of a sample or bundle came from.
type Origin string

const (
	OriginHeuristic Origin = "heuristic"
	OriginRating    Origin = "rating"
)

// Sample is one labelled training example. Labels are in [0, 1].
type Sample struct {
	Features features.Vector `json:"features"`
	Label    float64         `json:"label"`
	Origin   Origin          `json:"origin"`
	ClipID   *int64          `json:"clip_id,omitempty"`
}

// RatingLabel maps a 1-5 star rating onto [0, 1].
func RatingLabel(rating int) float64 {
	return float64(rating-1) / 4
}

// Bundle is everything needed to score a vector: the fitted scaler and
// regressor plus the metadata used to refuse incompatible files.
type Bundle struct {
	SchemaVersion int               `json:"schema_version"`
	Modality      features.Modality `json:"modality"`
	FeatureCount  int               `json:"feature_count"`
	FeatureNames  []string          `json:"feature_names"`
	Origin        Origin            `json:"origin"`
	SampleCount   int               `json:"sample_count"`
	TrainedAt     time.Time         `json:"trained_at"`
	Params        Params            `json:"params"`
	Scaler        *StandardScaler   `json:"scaler"`
	Regressor     *GradientBoosting `json:"regressor"`
}

// Predict scales v and runs the regressor.
func (b *Bundle) Predict(v features.Vector) (float64, error) {
	if len(v) != b.FeatureCount {
		return 0, fmt.Errorf("%s model expects %d features, got %d: %w", b.Modality, b.FeatureCount, len(v), ErrDimensionMismatch)
	}
	scaled, err := b.Scaler.Transform(v)
	if err != nil {
		return 0, err
	}
	return b.Regressor.Predict(scaled)
}

// Validate checks the bundle against the current extractor layout.
func (b *Bundle) Validate() error {
	if b.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, b.SchemaVersion, SchemaVersion)
	}
	want := features.Dim(b.Modality)
	if want == 0 {
		return fmt.Errorf("bundle modality %q: %w", b.Modality, features.ErrUnknownModality)
	}
	if b.Scaler == nil || b.Regressor == nil {
		return fmt.Errorf("bundle is missing its scaler or regressor")
	}
	switch {
	case b.FeatureCount != want,
		len(b.FeatureNames) != want,
		b.Scaler.Dim() != want,
		len(b.Scaler.Scale) != want,
		b.Regressor.NFeatures != want:
		return fmt.Errorf("%s bundle has feature_count %d, extractor produces %d: %w",
			b.Modality, b.FeatureCount, want, ErrDimensionMismatch)
	}
	for i, name := range features.Names(b.Modality) {
		if b.FeatureNames[i] != name {
			return fmt.Errorf("%s bundle feature %d is %q, want %q: %w",
				b.Modality, i, b.FeatureNames[i], name, ErrDimensionMismatch)
		}
	}
	if !b.Regressor.validTrees() {
		return fmt.Errorf("%s bundle has a malformed tree", b.Modality)
	}
	return nil
}

// Train fits a scaler and a fresh regressor on the full sample set. Bundles
// trained on any rated sample are marked with OriginRating.
func Train(m features.Modality, samples []Sample, p Params, minSamples int) (*Bundle, error) {
	dim := features.Dim(m)
	if dim == 0 {
		return nil, fmt.Errorf("train %q: %w", m, features.ErrUnknownModality)
	}
	if len(samples) < minSamples || len(samples) == 0 {
		return nil, &InsufficientDataError{Modality: m, Have: len(samples), Need: minSamples}
	}

	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	origin := OriginHeuristic
	for i, s := range samples {
		if len(s.Features) != dim {
			return nil, fmt.Errorf("sample %d has %d features, %s needs %d: %w", i, len(s.Features), m, dim, ErrDimensionMismatch)
		}
		x[i] = s.Features
		y[i] = s.Label
		if s.Origin == OriginRating {
			origin = OriginRating
		}
	}

	scaler, err := FitScaler(x)
	if err != nil {
		return nil, err
	}
	scaled := make([][]float64, len(x))
	for i, row := range x {
		scaled[i], _ = scaler.Transform(row)
	}

	p = p.withDefaults()
	reg, err := FitGradientBoosting(scaled, y, p)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		SchemaVersion: SchemaVersion,
		Modality:      m,
		FeatureCount:  dim,
		FeatureNames:  append([]string(nil), features.Names(m)...),
		Origin:        origin,
		SampleCount:   len(samples),
		TrainedAt:     time.Now().UTC(),
		Params:        p,
		Scaler:        scaler,
		Regressor:     reg,
	}, nil
}

// Store persists one bundle file per modality in a directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the bundle file for m.
func (s *Store) Path(m features.Modality) string {
	return filepath.Join(s.dir, string(m)+"_model.json")
}

// Save writes b atomically: readers see either the old file or the new one.
func (s *Store) Save(b *Bundle) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode %s bundle: %w", b.Modality, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+string(b.Modality)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(b.Modality)); err != nil {
		return fmt.Errorf("failed to install bundle: %w", err)
	}
	return nil
}

// Load reads and validates the bundle for m. A missing file yields ErrNoModel.
func (s *Store) Load(m features.Modality) (*Bundle, error) {
	data, err := os.ReadFile(s.Path(m))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", m, ErrNoModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s bundle: %w", m, err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode %s bundle: %w", m, err)
	}
	if b.Modality != m {
		return nil, fmt.Errorf("bundle file for %s holds a %s model", m, b.Modality)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
