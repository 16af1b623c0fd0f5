package ports

import "context"

type TranscriptionClient interface {
	// Transcribe converts the audio behind a presigned URL into text.
	// Storage keys are not accepted here: callers resolve them through
	// the StorageGateway first.
	Transcribe(ctx context.Context, audio PresignedURL) (string, error)
}
