package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/avelichko/dreamscribe/internal/ports"
)

// Assembler recomputes a recording's overall status once its segments have
// settled and builds the combined transcript.
type Assembler struct {
	repo ports.RecordingRepository
	log  *zap.SugaredLogger
}

func NewAssembler(repo ports.RecordingRepository, log *zap.SugaredLogger) *Assembler {
	return &Assembler{repo: repo, log: log}
}

// Finalize joins completed transcripts in sequence order with single spaces.
// While any segment is still pending or processing nothing is assembled and
// the recording keeps its current status. A mix of completed and failed
// segments produces a degraded transcript from the completed subset; the
// partially_failed status is the consumer's signal that it is incomplete.
func (a *Assembler) Finalize(ctx context.Context, recordingID uuid.UUID) (*models.Recording, error) {
	segments, err := a.repo.ListSegments(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	var completed, failed int
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg.Status {
		case models.SegmentCompleted:
			completed++
			if seg.Transcript != nil {
				parts = append(parts, *seg.Transcript)
			}
		case models.SegmentFailed:
			failed++
		}
	}

	if len(segments) == 0 || completed+failed < len(segments) {
		// still in flight; a later invocation finishes the job
		return a.repo.GetRecording(ctx, recordingID)
	}

	switch {
	case failed == 0:
		transcript := strings.Join(parts, " ")
		if err := a.repo.SetRecording(ctx, recordingID, models.RecordingCompleted, &transcript); err != nil {
			return nil, fmt.Errorf("set recording completed: %w", err)
		}
		a.log.Infow("recording completed", "recording", recordingID, "segments", completed)

	case completed == 0:
		if err := a.repo.SetRecording(ctx, recordingID, models.RecordingFailed, nil); err != nil {
			return nil, fmt.Errorf("set recording failed: %w", err)
		}
		a.log.Warnw("recording failed", "recording", recordingID, "segments", failed)

	default:
		transcript := strings.Join(parts, " ")
		if err := a.repo.SetRecording(ctx, recordingID, models.RecordingPartiallyFailed, &transcript); err != nil {
			return nil, fmt.Errorf("set recording partially failed: %w", err)
		}
		a.log.Warnw("recording partially failed", "recording", recordingID,
			"completed", completed, "failed", failed)
	}

	return a.repo.GetRecording(ctx, recordingID)
}
