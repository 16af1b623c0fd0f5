package ports

import (
	"context"
	"time"

	"github.com/avelichko/dreamscribe/internal/models"
)

// PresignedURL is a short-lived authenticated URL for a stored blob. It is
// the only form in which segment audio leaves the storage layer; storage
// keys never cross this boundary outward.
type PresignedURL struct {
	URL       string
	ExpiresAt time.Time
}

type StorageGateway interface {
	// PresignGet resolves a storage key to a time-limited read URL.
	// Safe to call repeatedly for the same key.
	PresignGet(ctx context.Context, key models.StorageKey) (PresignedURL, error)

	// PresignPut issues a time-limited upload URL for a new blob.
	PresignPut(ctx context.Context, key models.StorageKey) (PresignedURL, error)

	Delete(ctx context.Context, key models.StorageKey) error
}
