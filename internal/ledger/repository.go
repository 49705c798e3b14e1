package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/damian-maker/IA-KICK/internal/features"
	"github.com/damian-maker/IA-KICK/internal/model"
)

// Repository is the persistence boundary of the ledger. Getters return
// (nil, nil) when the row does not exist.
type Repository interface {
	UpsertClip(ctx context.Context, clip *ClipRecord) (int64, error)
	GetClip(ctx context.Context, id int64) (*ClipRecord, error)
	ListClips(ctx context.Context, filter ClipFilter) ([]*ClipRecord, error)
	SetRating(ctx context.Context, id int64, rating int, ratedAt time.Time) error
	RateClip(ctx context.Context, id int64, rating int, ratedAt time.Time, sample *TrainingSampleRecord, counterKey string) (int64, error)
	DeleteClip(ctx context.Context, id int64) error
	ClipStats(ctx context.Context) (*ClipStats, error)

	AddTrainingSample(ctx context.Context, s *TrainingSampleRecord) error
	ListTrainingSamples(ctx context.Context, m features.Modality, origin model.Origin) ([]*TrainingSampleRecord, error)
	CountTrainingSamples(ctx context.Context) (map[features.Modality]map[model.Origin]int, error)

	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	NextPendingRun(ctx context.Context) (*Run, error)
	UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateRunProgress(ctx context.Context, id string, progress, processed, skipped int) error
	CompleteRun(ctx context.Context, run *Run) error

	SaveHighlights(ctx context.Context, runID string, highlights []*HighlightRecord) error
	ListHighlights(ctx context.Context, runID string) ([]*HighlightRecord, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	IncrementCounter(ctx context.Context, key string) (int64, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const clipColumns = "id, filename, filepath, start_time, end_time, duration, score, clip_type, features, rating, created_at, rated_at, source_url, run_id"

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) UpsertClip(ctx context.Context, c *ClipRecord) (int64, error) {
	feats, err := json.Marshal(c.Features)
	if err != nil {
		return 0, fmt.Errorf("failed to encode features: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO clips (filename, filepath, start_time, end_time, duration, score, clip_type, features, created_at, source_url, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			filename = excluded.filename,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			duration = excluded.duration,
			score = excluded.score,
			clip_type = excluded.clip_type,
			features = excluded.features,
			source_url = excluded.source_url,
			run_id = excluded.run_id
		RETURNING id
	`, c.Filename, c.Filepath, c.Start, c.End, c.Duration, c.Score, string(c.Modality), string(feats),
		c.CreatedAt.UTC().Format(time.RFC3339), nullString(c.SourceURL), nullString(c.RunID)).Scan(&id)
	return id, err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id int64) (*ClipRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+clipColumns+" FROM clips WHERE id = ?", id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanClip(row rowScanner) (*ClipRecord, error) {
	var c ClipRecord
	var clipType, feats, createdAt string
	var rating sql.NullInt64
	var ratedAt, sourceURL, runID sql.NullString

	err := row.Scan(&c.ID, &c.Filename, &c.Filepath, &c.Start, &c.End, &c.Duration, &c.Score,
		&clipType, &feats, &rating, &createdAt, &ratedAt, &sourceURL, &runID)
	if err != nil {
		return nil, err
	}

	c.Modality = features.Modality(clipType)
	if err := json.Unmarshal([]byte(feats), &c.Features); err != nil {
		return nil, fmt.Errorf("clip %d has malformed features: %w", c.ID, err)
	}
	if rating.Valid {
		v := int(rating.Int64)
		c.Rating = &v
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if ratedAt.Valid {
		t, _ := time.Parse(time.RFC3339, ratedAt.String)
		c.RatedAt = &t
	}
	c.SourceURL = sourceURL.String
	c.RunID = runID.String
	return &c, nil
}

// ListClips returns clips newest first.
func (r *SQLiteRepository) ListClips(ctx context.Context, f ClipFilter) ([]*ClipRecord, error) {
	q := sq.Select(clipColumns).From("clips").OrderBy("created_at DESC", "id DESC")
	if f.Modality != "" {
		q = q.Where(sq.Eq{"clip_type": string(f.Modality)})
	}
	if f.RatedOnly {
		q = q.Where(sq.NotEq{"rating": nil})
	}
	if f.UnratedOnly {
		q = q.Where(sq.Eq{"rating": nil})
	}
	if f.RunID != "" {
		q = q.Where(sq.Eq{"run_id": f.RunID})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*ClipRecord
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) SetRating(ctx context.Context, id int64, rating int, ratedAt time.Time) error {
	return setRating(ctx, r.db, id, rating, ratedAt)
}

func setRating(ctx context.Context, q execQuerier, id int64, rating int, ratedAt time.Time) error {
	res, err := q.ExecContext(ctx, "UPDATE clips SET rating = ?, rated_at = ? WHERE id = ?",
		rating, ratedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrClipNotFound, id)
	}
	return nil
}

// RateClip stores a rating, appends its training sample and bumps the
// rating counter in one transaction, returning the new counter value.
// Nothing is written when any step fails.
func (r *SQLiteRepository) RateClip(ctx context.Context, id int64, rating int, ratedAt time.Time, sample *TrainingSampleRecord, counterKey string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := setRating(ctx, tx, id, rating, ratedAt); err != nil {
		return 0, fmt.Errorf("failed to save rating: %w", err)
	}
	if err := addTrainingSample(ctx, tx, sample); err != nil {
		return 0, fmt.Errorf("failed to record training sample: %w", err)
	}
	events, err := incrementCounter(ctx, tx, counterKey)
	if err != nil {
		return 0, fmt.Errorf("failed to count rating: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return events, nil
}

func (r *SQLiteRepository) DeleteClip(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) ClipStats(ctx context.Context) (*ClipStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT clip_type, rating, COUNT(*) FROM clips GROUP BY clip_type, rating
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := &ClipStats{
		Distribution: make(map[int]int),
		ByModality:   make(map[features.Modality]int),
		RatedBy:      make(map[features.Modality]int),
	}
	for rows.Next() {
		var clipType string
		var rating sql.NullInt64
		var n int
		if err := rows.Scan(&clipType, &rating, &n); err != nil {
			return nil, err
		}
		m := features.Modality(clipType)
		st.Total += n
		st.ByModality[m] += n
		if rating.Valid {
			st.Rated += n
			st.RatedBy[m] += n
			st.RatingSum += int(rating.Int64) * n
			st.Distribution[int(rating.Int64)] += n
		}
	}
	return st, rows.Err()
}

func (r *SQLiteRepository) AddTrainingSample(ctx context.Context, s *TrainingSampleRecord) error {
	return addTrainingSample(ctx, r.db, s)
}

func addTrainingSample(ctx context.Context, q execQuerier, s *TrainingSampleRecord) error {
	feats, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	var clipID sql.NullInt64
	if s.ClipID != nil {
		clipID = sql.NullInt64{Int64: *s.ClipID, Valid: true}
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO training_samples (clip_type, origin, features, feature_count, label, clip_id, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(s.Modality), string(s.Origin), string(feats), len(s.Features), s.Label, clipID,
		nullString(s.RunID), s.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListTrainingSamples(ctx context.Context, m features.Modality, origin model.Origin) ([]*TrainingSampleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, clip_type, origin, features, label, clip_id, run_id, created_at
		FROM training_samples WHERE clip_type = ? AND origin = ? ORDER BY id
	`, string(m), string(origin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TrainingSampleRecord
	for rows.Next() {
		var s TrainingSampleRecord
		var clipType, orig, feats, createdAt string
		var clipID sql.NullInt64
		var runID sql.NullString
		if err := rows.Scan(&s.ID, &clipType, &orig, &feats, &s.Label, &clipID, &runID, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(feats), &s.Features); err != nil {
			return nil, fmt.Errorf("training sample %d has malformed features: %w", s.ID, err)
		}
		s.Modality = features.Modality(clipType)
		s.Origin = model.Origin(orig)
		if clipID.Valid {
			id := clipID.Int64
			s.ClipID = &id
		}
		s.RunID = runID.String
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CountTrainingSamples(ctx context.Context) (map[features.Modality]map[model.Origin]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT clip_type, origin, COUNT(*) FROM training_samples GROUP BY clip_type, origin")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[features.Modality]map[model.Origin]int)
	for rows.Next() {
		var clipType, origin string
		var n int
		if err := rows.Scan(&clipType, &origin, &n); err != nil {
			return nil, err
		}
		m := features.Modality(clipType)
		if out[m] == nil {
			out[m] = make(map[model.Origin]int)
		}
		out[m][model.Origin(origin)] = n
	}
	return out, rows.Err()
}

const runColumns = "id, source_url, resolved_url, status, start_minute, end_minute, max_audio_clips, max_video_clips, types, generate_clips, progress, chunks_processed, chunks_skipped, audio_count, video_count, report_path, error, created_at, updated_at"

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, source_url, status, start_minute, end_minute, max_audio_clips, max_video_clips, types, generate_clips, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SourceURL, run.Status, nullFloat(run.StartMinute), nullFloat(run.EndMinute),
		run.MaxAudioClips, run.MaxVideoClips, run.Types, boolToInt(run.GenerateClips),
		run.CreatedAt.UTC().Format(time.RFC3339), run.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var resolved, report, errMsg sql.NullString
	var startMin, endMin sql.NullFloat64
	var generate int
	var createdAt, updatedAt string

	err := row.Scan(&run.ID, &run.SourceURL, &resolved, &run.Status, &startMin, &endMin,
		&run.MaxAudioClips, &run.MaxVideoClips, &run.Types, &generate, &run.Progress,
		&run.ChunksProcessed, &run.ChunksSkipped, &run.AudioCount, &run.VideoCount,
		&report, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.ResolvedURL = resolved.String
	run.ReportPath = report.String
	run.Error = errMsg.String
	run.GenerateClips = generate == 1
	if startMin.Valid {
		v := startMin.Float64
		run.StartMinute = &v
	}
	if endMin.Valid {
		v := endMin.Float64
		run.EndMinute = &v
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, f RunFilter) ([]*Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := sq.Select(runColumns).From("runs").OrderBy("created_at DESC", "rowid DESC").Limit(uint64(limit))
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// NextPendingRun returns the oldest pending run.
func (r *SQLiteRepository) NextPendingRun(ctx context.Context) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT 1", RunStatusPending)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?",
		status, nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateRunProgress(ctx context.Context, id string, progress, processed, skipped int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE runs SET progress = ?, chunks_processed = ?, chunks_skipped = ?, updated_at = ? WHERE id = ?",
		progress, processed, skipped, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// CompleteRun stores the final counters, report location and status of run.
func (r *SQLiteRepository) CompleteRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, resolved_url = ?, progress = ?, chunks_processed = ?, chunks_skipped = ?,
			audio_count = ?, video_count = ?, report_path = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, run.Status, nullString(run.ResolvedURL), run.Progress, run.ChunksProcessed, run.ChunksSkipped,
		run.AudioCount, run.VideoCount, nullString(run.ReportPath), nullString(run.Error),
		time.Now().UTC().Format(time.RFC3339), run.ID)
	return err
}

// SaveHighlights replaces the highlights of a run in one transaction.
func (r *SQLiteRepository) SaveHighlights(ctx context.Context, runID string, highlights []*HighlightRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM highlights WHERE run_id = ?", runID); err != nil {
		return err
	}
	for _, h := range highlights {
		feats, err := json.Marshal(h.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO highlights (run_id, clip_type, rank, chunk_index, start_time, end_time, score, heuristic_score, strategy, features, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, string(h.Modality), h.Rank, h.ChunkIndex, h.Start, h.End, h.Score, h.HeuristicScore,
			h.Strategy, string(feats), h.CreatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListHighlights returns a run's highlights grouped by type, in rank order.
func (r *SQLiteRepository) ListHighlights(ctx context.Context, runID string) ([]*HighlightRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, clip_type, rank, chunk_index, start_time, end_time, score, heuristic_score, strategy, features, created_at
		FROM highlights WHERE run_id = ? ORDER BY clip_type, rank
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HighlightRecord
	for rows.Next() {
		var h HighlightRecord
		var clipType, feats, createdAt string
		if err := rows.Scan(&h.ID, &h.RunID, &clipType, &h.Rank, &h.ChunkIndex, &h.Start, &h.End,
			&h.Score, &h.HeuristicScore, &h.Strategy, &feats, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(feats), &h.Features); err != nil {
			return nil, fmt.Errorf("highlight %d has malformed features: %w", h.ID, err)
		}
		h.Modality = features.Modality(clipType)
		h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// IncrementCounter atomically adds one to an integer config value and returns
// the new value. A missing key starts from zero.
func (r *SQLiteRepository) IncrementCounter(ctx context.Context, key string) (int64, error) {
	return incrementCounter(ctx, r.db, key)
}

func incrementCounter(ctx context.Context, q execQuerier, key string) (int64, error) {
	var value string
	err := q.QueryRowContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
