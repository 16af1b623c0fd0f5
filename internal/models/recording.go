package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RecordingPending         = "pending"
	RecordingProcessing      = "processing"
	RecordingCompleted       = "completed"
	RecordingPartiallyFailed = "partially_failed"
	RecordingFailed          = "failed"
)

type Recording struct {
	ID         uuid.UUID `db:"id"`
	Status     string    `db:"status"`
	Transcript *string   `db:"transcript"` // nullable until assembled
	CreatedAt  time.Time `db:"created_at"`
}
