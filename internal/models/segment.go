package models

import (
	"time"

	"github.com/google/uuid"
)

// StorageKey is an opaque reference to a stored audio blob. It is not a URL:
// fetching the audio requires resolving the key through the storage gateway.
type StorageKey string

const (
	SegmentPending    = "pending"
	SegmentProcessing = "processing"
	SegmentCompleted  = "completed"
	SegmentFailed     = "failed"
)

// Error kinds recorded on segments that failed transcription.
const (
	ErrKindTransient = "transient"
	ErrKindPermanent = "permanent"
	ErrKindExhausted = "recovery_exhausted"
)

type Segment struct {
	ID            uuid.UUID  `db:"id"`
	RecordingID   uuid.UUID  `db:"recording_id"`
	SequenceIndex int        `db:"sequence_index"`
	StorageKey    StorageKey `db:"storage_key"` // immutable after creation
	Status        string     `db:"transcription_status"`
	Transcript    *string    `db:"transcript"` // set only when completed
	RetryCount    int        `db:"retry_count"`
	LastErrorKind *string    `db:"last_error_kind"`
	LastError     *string    `db:"last_error"`
	UpdatedAt     time.Time  `db:"updated_at"`
}
