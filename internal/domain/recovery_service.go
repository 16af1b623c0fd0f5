package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/avelichko/dreamscribe/internal/ports"
)

// RecoveryService re-attempts transcription for failed segments. Segments
// are processed one at a time in sequence order: the upstream transcription
// API is rate-limited per account, and sequential attempts keep recovery
// logs reproducible between runs.
type RecoveryService struct {
	repo      ports.RecordingRepository
	storage   ports.StorageGateway
	stt       ports.TranscriptionClient
	assembler *Assembler
	log       *zap.SugaredLogger

	maxRetries int

	mu     sync.Mutex
	active map[uuid.UUID]struct{}

	events chan ports.SegmentEvent
}

func NewRecoveryService(
	repo ports.RecordingRepository,
	storage ports.StorageGateway,
	stt ports.TranscriptionClient,
	assembler *Assembler,
	maxRetries int,
	log *zap.SugaredLogger,
) *RecoveryService {
	return &RecoveryService{
		repo:       repo,
		storage:    storage,
		stt:        stt,
		assembler:  assembler,
		log:        log,
		maxRetries: maxRetries,
		active:     make(map[uuid.UUID]struct{}),
		events:     make(chan ports.SegmentEvent, 100),
	}
}

func (s *RecoveryService) Events() <-chan ports.SegmentEvent { return s.events }

// Recover runs one recovery pass over the recording. At most one pass per
// recording may be in flight; a concurrent call gets ErrRecoveryInProgress
// instead of duplicating work. The segment-level compare-and-set transitions
// stay as the second line of defense.
func (s *RecoveryService) Recover(ctx context.Context, recordingID uuid.UUID) (*ports.RecoveryReport, error) {
	if !s.tryLock(recordingID) {
		return nil, ports.ErrRecoveryInProgress
	}
	defer s.unlock(recordingID)

	s.log.Infow("recovery started", "recording", recordingID)

	segments, err := s.repo.ListSegments(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	report := &ports.RecoveryReport{}

	for i := range segments {
		seg := &segments[i]
		if seg.Status != models.SegmentFailed {
			continue
		}
		if seg.RetryCount >= s.maxRetries || isTerminalKind(seg.LastErrorKind) {
			// dead-lettered: stays failed until a human steps in
			report.DeadLettered++
			continue
		}

		switch s.attempt(ctx, seg) {
		case outcomeRecovered:
			report.Recovered++
		case outcomeStillFailed:
			report.StillFailed++
		case outcomeDeadLettered:
			report.DeadLettered++
		case outcomeSkipped:
			// conflict: another worker owns the segment, not our failure
		}
	}

	rec, err := s.assembler.Finalize(ctx, recordingID)
	if err != nil {
		s.log.Errorw("finalize after recovery", "recording", recordingID, "err", err)
	} else if rec != nil {
		report.HasTranscript = rec.Status == models.RecordingCompleted
	}

	s.log.Infow("recovery finished", "recording", recordingID,
		"recovered", report.Recovered,
		"still_failed", report.StillFailed,
		"dead_lettered", report.DeadLettered,
	)

	return report, nil
}

// TranscribeSegment runs a single transcription attempt for a pending
// segment: the initial dispatch after upload, and re-dispatch of segments a
// recovery pass sent back to pending.
func (s *RecoveryService) TranscribeSegment(ctx context.Context, segmentID uuid.UUID) error {
	seg, err := s.repo.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if seg == nil {
		return ports.ErrNotFound
	}

	if err := s.repo.MarkRecordingProcessing(ctx, seg.RecordingID); err != nil {
		s.log.Errorw("mark recording processing", "recording", seg.RecordingID, "err", err)
	}

	err = s.repo.TransitionSegment(ctx, seg.ID, ports.SegmentTransition{
		From: models.SegmentPending,
		To:   models.SegmentProcessing,
	})
	if errors.Is(err, ports.ErrConflict) {
		// already claimed elsewhere
		return nil
	}
	if err != nil {
		return err
	}

	text, err := s.transcribeByKey(ctx, seg.StorageKey)
	if err != nil {
		s.log.Warnw("segment transcription failed", "segment", seg.ID, "err", err)
		s.recordFailure(ctx, seg, err)
		return err
	}

	if err := s.complete(ctx, seg, text); err != nil {
		return err
	}

	s.log.Infow("segment transcribed", "segment", seg.ID, "chars", len(text))
	return nil
}

// attempt drives one failed segment through a full recovery attempt.
func (s *RecoveryService) attempt(ctx context.Context, seg *models.Segment) attemptOutcome {
	err := s.repo.TransitionSegment(ctx, seg.ID, ports.SegmentTransition{
		From: models.SegmentFailed,
		To:   models.SegmentProcessing,
	})
	if errors.Is(err, ports.ErrConflict) {
		s.log.Infow("segment claimed elsewhere", "segment", seg.ID)
		return outcomeSkipped
	}
	if err != nil {
		s.log.Errorw("claim segment", "segment", seg.ID, "err", err)
		return outcomeStillFailed
	}

	text, err := s.transcribeByKey(ctx, seg.StorageKey)
	if err != nil {
		return s.recordFailure(ctx, seg, err)
	}

	if err := s.complete(ctx, seg, text); err != nil {
		s.log.Errorw("complete segment", "segment", seg.ID, "err", err)
		return outcomeStillFailed
	}

	s.log.Infow("segment recovered", "segment", seg.ID, "index", seg.SequenceIndex)
	return outcomeRecovered
}

// transcribeByKey resolves the storage key to a presigned URL and feeds the
// URL to the transcription client. The key itself never reaches the client.
func (s *RecoveryService) transcribeByKey(ctx context.Context, key models.StorageKey) (string, error) {
	audioURL, err := s.storage.PresignGet(ctx, key)
	if err != nil {
		return "", err
	}
	return s.stt.Transcribe(ctx, audioURL)
}

func (s *RecoveryService) complete(ctx context.Context, seg *models.Segment, text string) error {
	if err := s.repo.TransitionSegment(ctx, seg.ID, ports.SegmentTransition{
		From:       models.SegmentProcessing,
		To:         models.SegmentCompleted,
		Transcript: &text,
	}); err != nil {
		return err
	}

	s.emit(ports.SegmentEvent{
		RecordingID:   seg.RecordingID,
		SegmentID:     seg.ID,
		SequenceIndex: seg.SequenceIndex,
		Text:          text,
	})
	return nil
}

// recordFailure applies the retry policy for a segment whose attempt failed
// while it sits in processing.
func (s *RecoveryService) recordFailure(ctx context.Context, seg *models.Segment, cause error) attemptOutcome {
	kind, msg := classifyFailure(cause)

	if kind == models.ErrKindPermanent {
		// not retried even once more, regardless of remaining budget
		s.failSegment(ctx, seg.ID, models.ErrKindPermanent, msg)
		return outcomeDeadLettered
	}

	count, exhausted, err := s.repo.IncrementRetry(ctx, seg.ID)
	if err != nil {
		s.log.Errorw("increment retry", "segment", seg.ID, "err", err)
		s.failSegment(ctx, seg.ID, models.ErrKindTransient, msg)
		return outcomeStillFailed
	}

	if exhausted {
		s.failSegment(ctx, seg.ID, models.ErrKindExhausted, msg)
		s.log.Warnw("segment dead-lettered", "segment", seg.ID, "retries", count)
		return outcomeDeadLettered
	}

	if err := s.repo.TransitionSegment(ctx, seg.ID, ports.SegmentTransition{
		From:      models.SegmentProcessing,
		To:        models.SegmentPending,
		ErrorKind: strPtr(models.ErrKindTransient),
		ErrorMsg:  &msg,
	}); err != nil {
		s.log.Errorw("requeue segment", "segment", seg.ID, "err", err)
	}

	s.log.Infow("segment requeued", "segment", seg.ID, "retries", count)
	return outcomeStillFailed
}

func (s *RecoveryService) failSegment(ctx context.Context, id uuid.UUID, kind, msg string) {
	if err := s.repo.TransitionSegment(ctx, id, ports.SegmentTransition{
		From:      models.SegmentProcessing,
		To:        models.SegmentFailed,
		ErrorKind: &kind,
		ErrorMsg:  &msg,
	}); err != nil {
		s.log.Errorw("fail segment", "segment", id, "kind", kind, "err", err)
	}
}

func (s *RecoveryService) emit(ev ports.SegmentEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warnw("segment event dropped", "segment", ev.SegmentID)
	}
}

func (s *RecoveryService) tryLock(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *RecoveryService) unlock(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

type attemptOutcome int

const (
	outcomeRecovered attemptOutcome = iota
	outcomeStillFailed
	outcomeDeadLettered
	outcomeSkipped
)

// classifyFailure maps gateway and transcription errors onto the retry
// policy. A missing blob is permanent: retrying cannot bring it back.
func classifyFailure(err error) (kind string, msg string) {
	var te *ports.TranscriptionError
	if errors.As(err, &te) {
		if te.Kind == ports.TranscriptionPermanent {
			return models.ErrKindPermanent, te.Message
		}
		return models.ErrKindTransient, te.Message
	}

	var se *ports.StorageError
	if errors.As(err, &se) {
		if se.Kind == ports.StorageNotFound {
			return models.ErrKindPermanent, se.Error()
		}
		return models.ErrKindTransient, se.Error()
	}

	return models.ErrKindTransient, err.Error()
}

func isTerminalKind(kind *string) bool {
	return kind != nil && (*kind == models.ErrKindPermanent || *kind == models.ErrKindExhausted)
}

func strPtr(s string) *string { return &s }
