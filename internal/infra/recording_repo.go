package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/avelichko/dreamscribe/internal/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRecordingRepo struct {
	pool       *pgxpool.Pool
	maxRetries int
}

func NewPostgresRecordingRepo(pool *pgxpool.Pool, maxRetries int) ports.RecordingRepository {
	return &PostgresRecordingRepo{pool: pool, maxRetries: maxRetries}
}

func (r *PostgresRecordingRepo) InsertRecording(ctx context.Context, rec *models.Recording) error {
	query := `
		INSERT INTO recordings (id, status)
		VALUES ($1, $2)
		RETURNING created_at
	`
	if rec.Status == "" {
		rec.Status = models.RecordingPending
	}
	row := r.pool.QueryRow(ctx, query, rec.ID, rec.Status)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (r *PostgresRecordingRepo) GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	query := `
		SELECT id, status, transcript, created_at
		FROM recordings
		WHERE id = $1
	`

	var rec models.Recording

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Status,
		&rec.Transcript,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get recording: %w", err)
	}

	return &rec, nil
}

func (r *PostgresRecordingRepo) SetRecording(ctx context.Context, id uuid.UUID, status string, transcript *string) error {
	query := `
		UPDATE recordings
		SET status = $1, transcript = $2
		WHERE id = $3
	`
	_, err := r.pool.Exec(ctx, query, status, transcript, id)
	if err != nil {
		return fmt.Errorf("set recording: %w", err)
	}
	return nil
}

func (r *PostgresRecordingRepo) MarkRecordingProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE recordings
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	_, err := r.pool.Exec(ctx, query, models.RecordingProcessing, id, models.RecordingPending)
	if err != nil {
		return fmt.Errorf("mark recording processing: %w", err)
	}
	return nil
}

func (r *PostgresRecordingRepo) InsertSegment(ctx context.Context, seg *models.Segment) error {
	query := `
		INSERT INTO segments (id, recording_id, sequence_index, storage_key, transcription_status, retry_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING updated_at
	`
	if seg.Status == "" {
		seg.Status = models.SegmentPending
	}
	row := r.pool.QueryRow(ctx, query,
		seg.ID, seg.RecordingID, seg.SequenceIndex, seg.StorageKey, seg.Status,
	)
	if err := row.Scan(&seg.UpdatedAt); err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (r *PostgresRecordingRepo) GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	query := `
		SELECT id, recording_id, sequence_index, storage_key, transcription_status,
		       transcript, retry_count, last_error_kind, last_error, updated_at
		FROM segments
		WHERE id = $1
	`

	var s models.Segment

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.RecordingID,
		&s.SequenceIndex,
		&s.StorageKey,
		&s.Status,
		&s.Transcript,
		&s.RetryCount,
		&s.LastErrorKind,
		&s.LastError,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get segment: %w", err)
	}

	return &s, nil
}

func (r *PostgresRecordingRepo) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	return nil
}

func (r *PostgresRecordingRepo) ListSegments(ctx context.Context, recordingID uuid.UUID) ([]models.Segment, error) {
	query := `
		SELECT id, recording_id, sequence_index, storage_key, transcription_status,
		       transcript, retry_count, last_error_kind, last_error, updated_at
		FROM segments
		WHERE recording_id = $1
		ORDER BY sequence_index ASC
	`

	rows, err := r.pool.Query(ctx, query, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []models.Segment
	for rows.Next() {
		var s models.Segment
		if err := rows.Scan(
			&s.ID,
			&s.RecordingID,
			&s.SequenceIndex,
			&s.StorageKey,
			&s.Status,
			&s.Transcript,
			&s.RetryCount,
			&s.LastErrorKind,
			&s.LastError,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

// TransitionSegment is the single concurrency-safety primitive for segment
// state: the UPDATE matches on the expected current status, so a lost race
// shows up as zero affected rows instead of a silent overwrite.
func (r *PostgresRecordingRepo) TransitionSegment(ctx context.Context, id uuid.UUID, t ports.SegmentTransition) error {
	query := `
		UPDATE segments
		SET transcription_status = $1,
		    transcript = $2,
		    last_error_kind = $3,
		    last_error = $4,
		    updated_at = now()
		WHERE id = $5 AND transcription_status = $6
	`
	tag, err := r.pool.Exec(ctx, query,
		t.To, t.Transcript, t.ErrorKind, t.ErrorMsg, id, t.From,
	)
	if err != nil {
		return fmt.Errorf("transition segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	return nil
}

func (r *PostgresRecordingRepo) IncrementRetry(ctx context.Context, id uuid.UUID) (int, bool, error) {
	query := `
		UPDATE segments
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING retry_count
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("increment retry: %w", err)
	}
	return count, count >= r.maxRetries, nil
}

func (r *PostgresRecordingRepo) ReclaimStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE segments
		SET transcription_status = $1, updated_at = now()
		WHERE transcription_status = $2
		  AND updated_at < now() - ($3 * interval '1 second')
	`
	tag, err := r.pool.Exec(ctx, query,
		models.SegmentPending, models.SegmentProcessing, olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRecordingRepo) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM segments
		WHERE transcription_status = $1
		  AND updated_at < now() - ($2 * interval '1 second')
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, models.SegmentPending, olderThan.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresRecordingRepo) ListRecoverable(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT recording_id
		FROM segments
		WHERE transcription_status = $1
		  AND retry_count < $2
		  AND (last_error_kind IS NULL OR last_error_kind NOT IN ($3, $4))
		GROUP BY recording_id
		ORDER BY min(updated_at) ASC
		LIMIT $5
	`
	rows, err := r.pool.Query(ctx, query,
		models.SegmentFailed, r.maxRetries,
		models.ErrKindPermanent, models.ErrKindExhausted,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recoverable: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recoverable: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
