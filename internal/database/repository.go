package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/subvox/subvox/pkg/models"
)

var (
	// ErrNotFound maps pgx.ErrNoRows for client-facing lookups
	ErrNotFound = errors.New("not found")
	// ErrIllegalTransition marks a status move the state machine forbids
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrTerminal marks an attempt to re-run a job that already reached READY
	ErrTerminal = errors.New("job already in a terminal state")
)

// PersistenceError indicates the bulk subtitle save failed. Fatal to the run.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("subtitle persistence failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Videos

const videoColumns = `id, filename, storage_key, status, duration, config, error_msg, attempts, created_at, updated_at`

func scanVideo(row pgx.Row) (*models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.Filename, &video.StorageKey, &video.Status, &video.Duration,
		&video.Config, &video.ErrorMsg, &video.Attempts, &video.CreatedAt, &video.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan video: %w", err)
	}
	return &video, nil
}

// CreateVideo creates a new video record in UPLOADING
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		video.ID = uuid.New().String()
	}
	if video.Status == "" {
		video.Status = models.VideoStatusUploading
	}

	query := `
		INSERT INTO videos (id, filename, storage_key, status, duration, config)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		video.ID, video.Filename, video.StorageKey, video.Status, video.Duration, video.Config,
	).Scan(&video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	return scanVideo(r.db.Pool.QueryRow(ctx, query, id))
}

// UpdateVideoStatus moves a video through the state machine, refusing
// transitions the machine does not define.
func (r *Repository) UpdateVideoStatus(ctx context.Context, id, to string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var from string
	err = tx.QueryRow(ctx, `SELECT status FROM videos WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	_, err = tx.Exec(ctx, `UPDATE videos SET status = $2, updated_at = now() WHERE id = $1`, id, to)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	return tx.Commit(ctx)
}

// StartAttempt claims one pipeline run for a video: bumps the attempt
// counter, clears the previous failure reason, and puts the job back in
// PROCESSING. A job that already reached READY is refused — the terminal
// guard against stale or duplicate deliveries.
func (r *Repository) StartAttempt(ctx context.Context, id string) (*models.Video, error) {
	query := `
		UPDATE videos
		SET status = $2, attempts = attempts + 1, error_msg = '', updated_at = now()
		WHERE id = $1 AND status IN ($2, $3)
		RETURNING ` + videoColumns

	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query, id,
		models.VideoStatusProcessing, models.VideoStatusError))
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing video from a terminal one
		if _, getErr := r.GetVideo(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrTerminal
	}
	return video, err
}

// MarkError records a failed run: status ERROR plus the failure reason
func (r *Repository) MarkError(ctx context.Context, id, reason string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE videos SET status = $2, error_msg = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, models.VideoStatusError, reason, models.VideoStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark video errored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIllegalTransition
	}
	return nil
}

// DeleteVideo removes a video; its subtitles cascade
func (r *Repository) DeleteVideo(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Subtitles

const subtitleColumns = `id, video_id, start_time, end_time, text_original, text_translated, confidence, created_at`

func scanSubtitle(row pgx.Row) (*models.Subtitle, error) {
	var sub models.Subtitle
	err := row.Scan(
		&sub.ID, &sub.VideoID, &sub.StartTime, &sub.EndTime,
		&sub.TextOriginal, &sub.TextTranslated, &sub.Confidence, &sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subtitle: %w", err)
	}
	return &sub, nil
}

// ReplaceSubtitles persists one pipeline run's segments and moves the video
// to READY in a single transaction. Delete-before-insert keeps a retried run
// from duplicating rows left by a partial prior save. The per-video advisory
// lock serializes against concurrent manual edits.
func (r *Repository) ReplaceSubtitles(ctx context.Context, videoID string, segments []models.Segment) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback(ctx)

	if err := lockVideo(ctx, tx, videoID); err != nil {
		return &PersistenceError{Err: err}
	}

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM videos WHERE id = $1 FOR UPDATE`, videoID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &PersistenceError{Err: fmt.Errorf("video %s: %w", videoID, ErrNotFound)}
	}
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("failed to read status: %w", err)}
	}
	if !models.CanTransition(status, models.VideoStatusReady) {
		return &PersistenceError{Err: fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, status, models.VideoStatusReady)}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM subtitles WHERE video_id = $1`, videoID); err != nil {
		return &PersistenceError{Err: fmt.Errorf("failed to clear prior subtitles: %w", err)}
	}

	batch := &pgx.Batch{}
	for _, seg := range segments {
		batch.Queue(`
			INSERT INTO subtitles (video_id, start_time, end_time, text_original, text_translated, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, videoID, seg.Start, seg.End, seg.TextOriginal, seg.TextTranslated, seg.Confidence)
	}

	br := tx.SendBatch(ctx, batch)
	for range segments {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return &PersistenceError{Err: fmt.Errorf("failed to insert subtitle: %w", err)}
		}
	}
	if err := br.Close(); err != nil {
		return &PersistenceError{Err: fmt.Errorf("failed to close batch: %w", err)}
	}

	_, err = tx.Exec(ctx, `UPDATE videos SET status = $2, error_msg = '', updated_at = now() WHERE id = $1`,
		videoID, models.VideoStatusReady)
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("failed to mark video ready: %w", err)}
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Err: fmt.Errorf("failed to commit: %w", err)}
	}

	return nil
}

// ListSubtitles returns a video's subtitles ordered by start time. Manual
// edits may produce overlaps, so readers always sort here.
func (r *Repository) ListSubtitles(ctx context.Context, videoID string) ([]*models.Subtitle, error) {
	query := `SELECT ` + subtitleColumns + ` FROM subtitles WHERE video_id = $1 ORDER BY start_time`

	rows, err := r.db.Pool.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtitles: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subtitle
	for rows.Next() {
		sub, err := scanSubtitle(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// GetSubtitle retrieves one subtitle by ID
func (r *Repository) GetSubtitle(ctx context.Context, id int64) (*models.Subtitle, error) {
	query := `SELECT ` + subtitleColumns + ` FROM subtitles WHERE id = $1`
	return scanSubtitle(r.db.Pool.QueryRow(ctx, query, id))
}

// CreateSubtitle inserts one manual subtitle
func (r *Repository) CreateSubtitle(ctx context.Context, sub *models.Subtitle) error {
	query := `
		INSERT INTO subtitles (video_id, start_time, end_time, text_original, text_translated, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		sub.VideoID, sub.StartTime, sub.EndTime, sub.TextOriginal, sub.TextTranslated, sub.Confidence,
	).Scan(&sub.ID, &sub.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create subtitle: %w", err)
	}

	return nil
}

// UpdateSubtitle persists an edited subtitle under the per-video lock
func (r *Repository) UpdateSubtitle(ctx context.Context, sub *models.Subtitle) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockVideo(ctx, tx, sub.VideoID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE subtitles
		SET start_time = $2, end_time = $3, text_original = $4, text_translated = $5, confidence = $6
		WHERE id = $1
	`, sub.ID, sub.StartTime, sub.EndTime, sub.TextOriginal, sub.TextTranslated, sub.Confidence)
	if err != nil {
		return fmt.Errorf("failed to update subtitle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// DeleteSubtitle removes exactly one subtitle row
func (r *Repository) DeleteSubtitle(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM subtitles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subtitle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Neighbors returns up to limit persisted subtitles on each side of a start
// time, both ordered ascending. Point re-translation reconstructs its context
// from these instead of an in-memory list.
func (r *Repository) Neighbors(ctx context.Context, videoID string, startTime float64, limit int) (before, after []*models.Subtitle, err error) {
	beforeQuery := `
		SELECT ` + subtitleColumns + ` FROM subtitles
		WHERE video_id = $1 AND start_time < $2
		ORDER BY start_time DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, beforeQuery, videoID, startTime, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query preceding neighbors: %w", err)
	}
	for rows.Next() {
		sub, scanErr := scanSubtitle(rows)
		if scanErr != nil {
			rows.Close()
			return nil, nil, scanErr
		}
		before = append(before, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	// reverse into ascending order
	for i, j := 0, len(before)-1; i < j; i, j = i+1, j-1 {
		before[i], before[j] = before[j], before[i]
	}

	afterQuery := `
		SELECT ` + subtitleColumns + ` FROM subtitles
		WHERE video_id = $1 AND start_time > $2
		ORDER BY start_time
		LIMIT $3
	`
	rows, err = r.db.Pool.Query(ctx, afterQuery, videoID, startTime, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query following neighbors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		sub, scanErr := scanSubtitle(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		after = append(after, sub)
	}

	return before, after, rows.Err()
}

// lockVideo takes the per-video advisory lock for the current transaction,
// serializing subtitle mutation against the bulk save.
func lockVideo(ctx context.Context, tx pgx.Tx, videoID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, videoID)
	if err != nil {
		return fmt.Errorf("failed to take video lock: %w", err)
	}
	return nil
}
