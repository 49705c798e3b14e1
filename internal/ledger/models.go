package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/model"
)

var (
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrClipNotFound  = errors.New("clip not found")
	ErrRunNotFound   = errors.New("run not found")
)

const (
	MinRating = 1
	MaxRating = 5

	// ConfigKeyRatingEvents counts every accepted rating, across restarts.
	ConfigKeyRatingEvents = "rating_events"
	ConfigKeyAuthToken    = "auth_token"
)

// ClipRecord is one generated clip file and its feedback.
type ClipRecord struct {
	ID        int64             `json:"id"`
	Filename  string            `json:"filename"`
	Filepath  string            `json:"filepath"`
	Start     float64           `json:"start_time"`
	End       float64           `json:"end_time"`
	Duration  float64           `json:"duration"`
	Score     float64           `json:"score"`
	Modality  features.Modality `json:"clip_type"`
	Features  features.Map      `json:"features"`
	Rating    *int              `json:"rating,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	RatedAt   *time.Time        `json:"rated_at,omitempty"`
	SourceURL string            `json:"source_url,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
}

// ClipFilter narrows ListClips. Zero values mean no constraint.
type ClipFilter struct {
	Modality    features.Modality
	RatedOnly   bool
	UnratedOnly bool
	RunID       string
	Limit       int
}

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusStopped   = "stopped"
	RunStatusFailed    = "failed"

	TypesAudio = "audio"
	TypesVideo = "video"
	TypesBoth  = "both"
)

// Run is one queued or finished processing request.
type Run struct {
	ID              string    `json:"id"`
	SourceURL       string    `json:"source_url"`
	ResolvedURL     string    `json:"resolved_url,omitempty"`
	Status          string    `json:"status"`
	StartMinute     *float64  `json:"start_minute,omitempty"`
	EndMinute       *float64  `json:"end_minute,omitempty"`
	MaxAudioClips   int       `json:"max_audio_clips"`
	MaxVideoClips   int       `json:"max_video_clips"`
	Types           string    `json:"types"`
	GenerateClips   bool      `json:"generate_clips"`
	Progress        int       `json:"progress"`
	ChunksProcessed int       `json:"chunks_processed"`
	ChunksSkipped   int       `json:"chunks_skipped"`
	AudioCount      int       `json:"audio_count"`
	VideoCount      int       `json:"video_count"`
	ReportPath      string    `json:"report_path,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Wants reports whether the run analyses modality m.
func (r *Run) Wants(m features.Modality) bool {
	return r.Types == "" || r.Types == TypesBoth || r.Types == string(m)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status string
	Limit  int
}

// HighlightRecord is a selected highlight persisted against its run.
type HighlightRecord struct {
	ID             int64             `json:"id"`
	RunID          string            `json:"run_id"`
	Modality       features.Modality `json:"type"`
	Rank           int               `json:"rank"`
	ChunkIndex     int               `json:"chunk_index"`
	Start          float64           `json:"start_time"`
	End            float64           `json:"end_time"`
	Score          float64           `json:"score"`
	HeuristicScore float64           `json:"heuristic_score"`
	Strategy       string            `json:"strategy"`
	Features       features.Map      `json:"features"`
	CreatedAt      time.Time         `json:"created_at"`
}

// TrainingSampleRecord is one row of the append-only training history.
type TrainingSampleRecord struct {
	ID        int64             `json:"id"`
	Modality  features.Modality `json:"clip_type"`
	Origin    model.Origin      `json:"origin"`
	Features  features.Vector   `json:"features"`
	Label     float64           `json:"label"`
	ClipID    *int64            `json:"clip_id,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ClipStats are aggregate counts over the clips table.
type ClipStats struct {
	Total        int
	Rated        int
	RatingSum    int
	Distribution map[int]int
	ByModality   map[features.Modality]int
	RatedBy      map[features.Modality]int
}

// ModalityStats summarises feedback and model state for one modality.
type ModalityStats struct {
	Clips             int                  `json:"clips"`
	Rated             int                  `json:"rated"`
	ModelTrained      bool                 `json:"model_trained"`
	ModelSamples      int                  `json:"model_samples"`
	ModelOrigin       model.Origin         `json:"model_origin,omitempty"`
	TrainingSamples   map[model.Origin]int `json:"training_samples"`
	ReadyForTraining  bool                 `json:"ready_for_training"`
	SamplesUntilReady int                  `json:"samples_until_ready"`
}

// Statistics is the read-only dashboard summary.
type Statistics struct {
	TotalClips         int                                 `json:"total_clips"`
	RatedClips         int                                 `json:"rated_clips"`
	UnratedClips       int                                 `json:"unrated_clips"`
	AverageRating      float64                             `json:"average_rating"`
	RatingDistribution map[int]int                         `json:"rating_distribution"`
	ClipsByModality    map[features.Modality]int           `json:"clips_by_type"`
	Modalities         map[features.Modality]ModalityStats `json:"modalities"`
	RatingEvents       int64                               `json:"rating_events"`
	ReadyForTraining   bool                                `json:"ready_for_training"`
}

// ModalityTrainResult is the outcome of training one modality.
type ModalityTrainResult struct {
	Modality features.Modality `json:"modality"`
	Samples  int               `json:"samples"`
	Trained  bool              `json:"trained"`
	Error    string            `json:"error,omitempty"`
}

// TrainReport covers one TrainFromRatings call.
type TrainReport struct {
	Results []ModalityTrainResult `json:"results"`
}

// Trained reports whether any modality produced a new bundle.
func (r *TrainReport) Trained() bool {
	if r == nil {
		return false
	}
	for _, res := range r.Results {
		if res.Trained {
			return true
		}
	}
	return false
}

// RateResult is returned by Service.Rate.
type RateResult struct {
	ClipID           int64        `json:"clip_id"`
	Rating           int          `json:"rating"`
	RatingEvents     int64        `json:"rating_events"`
	RetrainTriggered bool         `json:"retrain_triggered"`
	Report           *TrainReport `json:"report,omitempty"`
}

// Progress tells a reviewer how far each modality is from the next training.
type Progress struct {
	Modality  features.Modality `json:"modality"`
	Rated     int               `json:"rated"`
	Needed    int               `json:"needed"`
	Ready     bool              `json:"ready"`
	Remaining int               `json:"remaining"`
}

// TrainingProgress is returned by Service.TrainingProgress.
type TrainingProgress struct {
	Modalities        []Progress `json:"modalities"`
	RatingEvents      int64      `json:"rating_events"`
	RetrainInterval   int        `json:"retrain_interval"`
	RatingsUntilCheck int        `json:"ratings_until_check"`
}

// NewID returns a random run identifier.
func NewID() string {
	return uuid.NewString()
}
