package ports

import (
	"context"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/google/uuid"
)

// RecoveryReport aggregates the outcome of one recovery run.
type RecoveryReport struct {
	Recovered     int
	StillFailed   int
	DeadLettered  int
	HasTranscript bool
}

// SegmentEvent is emitted when a segment's transcript becomes available.
type SegmentEvent struct {
	RecordingID   uuid.UUID
	SegmentID     uuid.UUID
	SequenceIndex int
	Text          string
}

type RecoveryService interface {
	// Recover re-attempts every retryable failed segment of the recording
	// and reports the aggregate outcome. Returns ErrRecoveryInProgress if
	// another run already holds the recording's lock.
	Recover(ctx context.Context, recordingID uuid.UUID) (*RecoveryReport, error)

	// TranscribeSegment runs a single transcription attempt for a pending
	// segment.
	TranscribeSegment(ctx context.Context, segmentID uuid.UUID) error

	Events() <-chan SegmentEvent
}

type RecordingAssembler interface {
	// Finalize recomputes the recording's overall status once every
	// segment settled and assembles the combined transcript.
	Finalize(ctx context.Context, recordingID uuid.UUID) (*models.Recording, error)
}
