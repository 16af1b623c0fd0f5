package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/avelichko/dreamscribe/internal/ports"
)

type stubRecovery struct {
	mu          sync.Mutex
	recovered   []uuid.UUID
	transcribed []uuid.UUID
	done        chan uuid.UUID
}

func newStubRecovery() *stubRecovery {
	return &stubRecovery{done: make(chan uuid.UUID, 16)}
}

func (s *stubRecovery) Recover(_ context.Context, recordingID uuid.UUID) (*ports.RecoveryReport, error) {
	s.mu.Lock()
	s.recovered = append(s.recovered, recordingID)
	s.mu.Unlock()
	s.done <- recordingID
	return &ports.RecoveryReport{}, nil
}

func (s *stubRecovery) TranscribeSegment(_ context.Context, segmentID uuid.UUID) error {
	s.mu.Lock()
	s.transcribed = append(s.transcribed, segmentID)
	s.mu.Unlock()
	return nil
}

func (s *stubRecovery) Events() <-chan ports.SegmentEvent { return nil }

func (s *stubRecovery) recoverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recovered)
}

type stubRepo struct {
	mu           sync.Mutex
	reclaimCalls int
	stalePending []uuid.UUID
	recoverable  []uuid.UUID
}

func (r *stubRepo) InsertRecording(context.Context, *models.Recording) error { return nil }
func (r *stubRepo) GetRecording(context.Context, uuid.UUID) (*models.Recording, error) {
	return nil, nil
}
func (r *stubRepo) SetRecording(context.Context, uuid.UUID, string, *string) error { return nil }
func (r *stubRepo) MarkRecordingProcessing(context.Context, uuid.UUID) error       { return nil }
func (r *stubRepo) InsertSegment(context.Context, *models.Segment) error           { return nil }
func (r *stubRepo) GetSegment(context.Context, uuid.UUID) (*models.Segment, error) {
	return nil, nil
}
func (r *stubRepo) DeleteSegment(context.Context, uuid.UUID) error { return nil }
func (r *stubRepo) ListSegments(context.Context, uuid.UUID) ([]models.Segment, error) {
	return nil, nil
}
func (r *stubRepo) TransitionSegment(context.Context, uuid.UUID, ports.SegmentTransition) error {
	return nil
}
func (r *stubRepo) IncrementRetry(context.Context, uuid.UUID) (int, bool, error) {
	return 0, false, nil
}

func (r *stubRepo) ReclaimStaleProcessing(context.Context, time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclaimCalls++
	return 0, nil
}

func (r *stubRepo) ListStalePending(context.Context, time.Duration, int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stalePending, nil
}

func (r *stubRepo) ListRecoverable(context.Context, int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recoverable, nil
}

func newTestPool(cfg Config) (*Pool, *stubRecovery, *stubRepo) {
	recovery := newStubRecovery()
	repo := &stubRepo{}
	return NewPool(recovery, repo, cfg, zap.NewNop().Sugar()), recovery, repo
}

func TestPoolRunsSubmittedJob(t *testing.T) {
	p, recovery, _ := newTestPool(Config{SweepInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	recID := uuid.New()
	if !p.Submit(recID) {
		t.Fatal("submit rejected")
	}

	select {
	case got := <-recovery.done:
		if got != recID {
			t.Errorf("recovered %s, want %s", got, recID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestPoolCoalescesDuplicateSubmissions(t *testing.T) {
	// no workers draining the queue yet, so the first submit stays queued
	p, _, _ := newTestPool(Config{SweepInterval: time.Hour})

	recID := uuid.New()
	if !p.Submit(recID) {
		t.Fatal("first submit rejected")
	}
	if p.Submit(recID) {
		t.Error("duplicate submit accepted while job still queued")
	}
	if !p.Submit(uuid.New()) {
		t.Error("unrelated submit rejected")
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	p, _, _ := newTestPool(Config{QueueSize: 1, SweepInterval: time.Hour})

	if !p.Submit(uuid.New()) {
		t.Fatal("first submit rejected")
	}
	overflowID := uuid.New()
	if p.Submit(overflowID) {
		t.Fatal("submit accepted past queue capacity")
	}

	// the rejected id must not stay marked as queued
	p.mu.Lock()
	_, stuck := p.queued[overflowID]
	p.mu.Unlock()
	if stuck {
		t.Error("rejected recording left in dedupe set")
	}
}

func TestSweepReconcilesStaleState(t *testing.T) {
	p, recovery, repo := newTestPool(Config{SweepInterval: time.Hour})

	segID := uuid.New()
	recID := uuid.New()
	repo.stalePending = []uuid.UUID{segID}
	repo.recoverable = []uuid.UUID{recID}

	p.sweep(context.Background())

	if repo.reclaimCalls != 1 {
		t.Errorf("reclaim called %d times, want 1", repo.reclaimCalls)
	}
	if len(recovery.transcribed) != 1 || recovery.transcribed[0] != segID {
		t.Errorf("transcribed = %v, want [%s]", recovery.transcribed, segID)
	}

	select {
	case got := <-p.jobs:
		if got != recID {
			t.Errorf("queued %s, want %s", got, recID)
		}
	default:
		t.Error("recoverable recording not queued")
	}
}

func TestSweepDoesNotRequeueAlreadyQueuedRecording(t *testing.T) {
	p, recovery, repo := newTestPool(Config{SweepInterval: time.Hour})

	recID := uuid.New()
	repo.recoverable = []uuid.UUID{recID}

	p.Submit(recID)
	p.sweep(context.Background())

	if got := len(p.jobs); got != 1 {
		t.Errorf("queue holds %d jobs, want 1", got)
	}
	if n := recovery.recoverCount(); n != 0 {
		t.Errorf("recover ran %d times with no workers started", n)
	}
}
