package ports

import (
	"context"
	"time"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/google/uuid"
)

// SegmentTransition describes one compare-and-set status hop. Transcript and
// error fields are written as given, so completing a segment clears its error
// and failing one clears any stale transcript.
type SegmentTransition struct {
	From       string
	To         string
	Transcript *string
	ErrorKind  *string
	ErrorMsg   *string
}

type RecordingRepository interface {
	InsertRecording(ctx context.Context, rec *models.Recording) error
	GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	SetRecording(ctx context.Context, id uuid.UUID, status string, transcript *string) error

	// MarkRecordingProcessing moves a pending recording to processing;
	// a no-op for recordings already past pending.
	MarkRecordingProcessing(ctx context.Context, id uuid.UUID) error

	InsertSegment(ctx context.Context, seg *models.Segment) error
	GetSegment(ctx context.Context, id uuid.UUID) (*models.Segment, error)
	DeleteSegment(ctx context.Context, id uuid.UUID) error

	// ListSegments returns the recording's segments ordered by sequence index.
	ListSegments(ctx context.Context, recordingID uuid.UUID) ([]models.Segment, error)

	// TransitionSegment is a compare-and-set: it fails with ErrConflict
	// when the stored status does not match t.From.
	TransitionSegment(ctx context.Context, id uuid.UUID, t SegmentTransition) error

	// IncrementRetry bumps retry_count atomically; exhausted reports that
	// the configured cap has been reached.
	IncrementRetry(ctx context.Context, id uuid.UUID) (count int, exhausted bool, err error)

	// ReclaimStaleProcessing flips segments stuck in processing longer
	// than olderThan back to pending.
	ReclaimStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)

	// ListStalePending returns segments sitting in pending longer than
	// olderThan, oldest first.
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)

	// ListRecoverable returns recordings that still own failed segments
	// with retry budget left.
	ListRecoverable(ctx context.Context, limit int) ([]uuid.UUID, error)
}
