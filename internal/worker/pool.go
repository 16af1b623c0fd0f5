package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/ports"
)

// Pool dispatches recovery runs onto a bounded set of workers. The default
// deployment runs a single worker: the upstream transcription API enforces
// per-account rate limits, so jobs drain one at a time.
type Pool struct {
	recovery ports.RecoveryService
	repo     ports.RecordingRepository
	cfg      Config
	log      *zap.SugaredLogger

	jobs chan uuid.UUID

	mu     sync.Mutex
	queued map[uuid.UUID]struct{}

	wg sync.WaitGroup
}

type Config struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	StaleAfter    time.Duration
}

func NewPool(recovery ports.RecoveryService, repo ports.RecordingRepository, cfg Config, log *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Pool{
		recovery: recovery,
		repo:     repo,
		cfg:      cfg,
		log:      log,
		jobs:     make(chan uuid.UUID, cfg.QueueSize),
		queued:   make(map[uuid.UUID]struct{}),
	}
}

// Start launches the workers and the periodic sweeper. They run until ctx
// is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}

	p.wg.Add(1)
	go p.runSweeper(ctx)
}

// Stop blocks until all workers have exited.
func (p *Pool) Stop() { p.wg.Wait() }

// Submit enqueues a recovery run for the recording. A recording already
// waiting in the queue is not enqueued twice.
func (p *Pool) Submit(recordingID uuid.UUID) bool {
	p.mu.Lock()
	if _, dup := p.queued[recordingID]; dup {
		p.mu.Unlock()
		return false
	}
	p.queued[recordingID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- recordingID:
		return true
	default:
		p.mu.Lock()
		delete(p.queued, recordingID)
		p.mu.Unlock()
		p.log.Warnw("recovery queue full", "recording", recordingID)
		return false
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case recID := <-p.jobs:
			p.mu.Lock()
			delete(p.queued, recID)
			p.mu.Unlock()

			report, err := p.recovery.Recover(ctx, recID)
			switch {
			case errors.Is(err, ports.ErrRecoveryInProgress):
				p.log.Infow("recovery busy", "worker", id, "recording", recID)
			case err != nil:
				p.log.Errorw("recovery run", "worker", id, "recording", recID, "err", err)
			default:
				p.log.Infow("recovery done", "worker", id, "recording", recID,
					"recovered", report.Recovered,
					"still_failed", report.StillFailed,
					"dead_lettered", report.DeadLettered,
				)
			}
		}
	}
}

func (p *Pool) runSweeper(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep reconciles state left behind by crashed or stalled runs: segments
// orphaned in processing go back to pending, long-pending segments get
// re-dispatched, and recordings that still own retryable failed segments
// are queued for recovery.
func (p *Pool) sweep(ctx context.Context) {
	if n, err := p.repo.ReclaimStaleProcessing(ctx, p.cfg.StaleAfter); err != nil {
		p.log.Errorw("reclaim stale processing", "err", err)
	} else if n > 0 {
		p.log.Infow("reclaimed orphaned segments", "count", n)
	}

	segIDs, err := p.repo.ListStalePending(ctx, p.cfg.StaleAfter, 32)
	if err != nil {
		p.log.Errorw("list stale pending", "err", err)
	}
	for _, sid := range segIDs {
		if err := p.recovery.TranscribeSegment(ctx, sid); err != nil {
			p.log.Warnw("re-dispatch segment", "segment", sid, "err", err)
		}
	}

	recIDs, err := p.repo.ListRecoverable(ctx, 16)
	if err != nil {
		p.log.Errorw("list recoverable", "err", err)
		return
	}
	for _, rid := range recIDs {
		p.Submit(rid)
	}
}
