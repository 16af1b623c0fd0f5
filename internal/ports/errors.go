package ports

import (
	"errors"
	"fmt"

	"github.com/avelichko/dreamscribe/internal/models"
)

var (
	// ErrConflict reports a compare-and-set transition whose expected
	// status no longer matched the stored row.
	ErrConflict = errors.New("segment status conflict")

	// ErrRecoveryInProgress reports that another recovery run already
	// holds the lock for this recording.
	ErrRecoveryInProgress = errors.New("recovery already in progress")

	ErrNotFound = errors.New("not found")
)

type StorageErrorKind string

const (
	StorageNotFound    StorageErrorKind = "not_found"
	StorageUnavailable StorageErrorKind = "unavailable"
)

type StorageError struct {
	Kind StorageErrorKind
	Key  models.StorageKey
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: key=%s: %v", e.Kind, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type TranscriptionErrorKind string

const (
	// TranscriptionTransient covers timeouts, rate limits and 5xx-class
	// failures; the caller should retry with backoff.
	TranscriptionTransient TranscriptionErrorKind = "transient"
	// TranscriptionPermanent covers corrupt or unsupported audio; the
	// caller must not retry.
	TranscriptionPermanent TranscriptionErrorKind = "permanent"
)

type TranscriptionError struct {
	Kind    TranscriptionErrorKind
	Message string
	Err     error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("transcription %s: %s", e.Kind, e.Message)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
