package domain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/avelichko/dreamscribe/internal/ports"
)

// fakeRepo is an in-memory RecordingRepository with the same compare-and-set
// semantics as the postgres implementation.
type fakeRepo struct {
	mu         sync.Mutex
	maxRetries int

	recordings map[uuid.UUID]*models.Recording
	segments   map[uuid.UUID]*models.Segment

	// one-shot injected conflicts, keyed by segment id
	forceConflict map[uuid.UUID]bool

	transitions       int
	setRecordingCalls int
}

func newFakeRepo(maxRetries int) *fakeRepo {
	return &fakeRepo{
		maxRetries:    maxRetries,
		recordings:    make(map[uuid.UUID]*models.Recording),
		segments:      make(map[uuid.UUID]*models.Segment),
		forceConflict: make(map[uuid.UUID]bool),
	}
}

func (f *fakeRepo) InsertRecording(_ context.Context, rec *models.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	cp.CreatedAt = time.Now()
	f.recordings[rec.ID] = &cp
	return nil
}

func (f *fakeRepo) GetRecording(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recordings[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) SetRecording(_ context.Context, id uuid.UUID, status string, transcript *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRecordingCalls++
	if rec, ok := f.recordings[id]; ok {
		rec.Status = status
		rec.Transcript = transcript
	}
	return nil
}

func (f *fakeRepo) MarkRecordingProcessing(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.recordings[id]; ok && rec.Status == models.RecordingPending {
		rec.Status = models.RecordingProcessing
	}
	return nil
}

func (f *fakeRepo) InsertSegment(_ context.Context, seg *models.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *seg
	cp.UpdatedAt = time.Now()
	f.segments[seg.ID] = &cp
	return nil
}

func (f *fakeRepo) GetSegment(_ context.Context, id uuid.UUID) (*models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seg, ok := f.segments[id]
	if !ok {
		return nil, nil
	}
	cp := *seg
	return &cp, nil
}

func (f *fakeRepo) DeleteSegment(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.segments, id)
	return nil
}

func (f *fakeRepo) ListSegments(_ context.Context, recordingID uuid.UUID) ([]models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Segment
	for _, seg := range f.segments {
		if seg.RecordingID == recordingID {
			out = append(out, *seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out, nil
}

func (f *fakeRepo) TransitionSegment(_ context.Context, id uuid.UUID, t ports.SegmentTransition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.forceConflict[id] {
		delete(f.forceConflict, id)
		return ports.ErrConflict
	}

	seg, ok := f.segments[id]
	if !ok || seg.Status != t.From {
		return ports.ErrConflict
	}

	seg.Status = t.To
	seg.Transcript = t.Transcript
	seg.LastErrorKind = t.ErrorKind
	seg.LastError = t.ErrorMsg
	seg.UpdatedAt = time.Now()
	f.transitions++
	return nil
}

func (f *fakeRepo) IncrementRetry(_ context.Context, id uuid.UUID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seg, ok := f.segments[id]
	if !ok {
		return 0, false, ports.ErrNotFound
	}
	seg.RetryCount++
	return seg.RetryCount, seg.RetryCount >= f.maxRetries, nil
}

func (f *fakeRepo) ReclaimStaleProcessing(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, seg := range f.segments {
		if seg.Status == models.SegmentProcessing && seg.UpdatedAt.Before(cutoff) {
			seg.Status = models.SegmentPending
			seg.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ListStalePending(_ context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []uuid.UUID
	for _, seg := range f.segments {
		if seg.Status == models.SegmentPending && seg.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, seg.ID)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListRecoverable(_ context.Context, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, seg := range f.segments {
		if seg.Status != models.SegmentFailed || seg.RetryCount >= f.maxRetries {
			continue
		}
		if seg.LastErrorKind != nil &&
			(*seg.LastErrorKind == models.ErrKindPermanent || *seg.LastErrorKind == models.ErrKindExhausted) {
			continue
		}
		if !seen[seg.RecordingID] && len(out) < limit {
			seen[seg.RecordingID] = true
			out = append(out, seg.RecordingID)
		}
	}
	return out, nil
}

func (f *fakeRepo) segment(id uuid.UUID) models.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.segments[id]
}

func (f *fakeRepo) recording(id uuid.UUID) models.Recording {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.recordings[id]
}

type fakeStorage struct {
	mu   sync.Mutex
	errs map[models.StorageKey]error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{errs: make(map[models.StorageKey]error)}
}

func urlFor(key models.StorageKey) string {
	return "https://blobs.test/" + string(key)
}

func (f *fakeStorage) PresignGet(_ context.Context, key models.StorageKey) (ports.PresignedURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return ports.PresignedURL{}, err
	}
	return ports.PresignedURL{URL: urlFor(key), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeStorage) PresignPut(_ context.Context, key models.StorageKey) (ports.PresignedURL, error) {
	return ports.PresignedURL{URL: urlFor(key), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeStorage) Delete(_ context.Context, _ models.StorageKey) error { return nil }

type sttResult struct {
	text string
	err  error
}

// fakeSTT replays scripted results per URL, consumed in order.
type fakeSTT struct {
	mu     sync.Mutex
	script map[string][]sttResult
	calls  []string

	started chan struct{} // signalled at call start when non-nil
	block   chan struct{} // call waits for close when non-nil
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{script: make(map[string][]sttResult)}
}

func (f *fakeSTT) Transcribe(_ context.Context, audio ports.PresignedURL) (string, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, audio.URL)

	rs := f.script[audio.URL]
	if len(rs) == 0 {
		return "", &ports.TranscriptionError{Kind: ports.TranscriptionTransient, Message: "no scripted result"}
	}
	r := rs[0]
	f.script[audio.URL] = rs[1:]
	return r.text, r.err
}

func (f *fakeSTT) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestService(maxRetries int) (*RecoveryService, *fakeRepo, *fakeStorage, *fakeSTT) {
	repo := newFakeRepo(maxRetries)
	storage := newFakeStorage()
	stt := newFakeSTT()
	log := zap.NewNop().Sugar()
	assembler := NewAssembler(repo, log)
	svc := NewRecoveryService(repo, storage, stt, assembler, maxRetries, log)
	return svc, repo, storage, stt
}

func seedRecording(repo *fakeRepo, status string) uuid.UUID {
	id := uuid.New()
	repo.InsertRecording(context.Background(), &models.Recording{ID: id, Status: status})
	return id
}

func seedSegment(repo *fakeRepo, recID uuid.UUID, idx int, status string, retry int, errKind *string) *models.Segment {
	seg := &models.Segment{
		ID:            uuid.New(),
		RecordingID:   recID,
		SequenceIndex: idx,
		StorageKey:    models.StorageKey(recID.String() + "/" + uuid.New().String()),
		Status:        status,
		RetryCount:    retry,
		LastErrorKind: errKind,
	}
	repo.InsertSegment(context.Background(), seg)
	repo.mu.Lock()
	repo.segments[seg.ID].RetryCount = retry
	repo.mu.Unlock()
	return seg
}

func seedCompletedSegment(repo *fakeRepo, recID uuid.UUID, idx int, transcript string) *models.Segment {
	seg := seedSegment(repo, recID, idx, models.SegmentCompleted, 0, nil)
	repo.mu.Lock()
	repo.segments[seg.ID].Transcript = &transcript
	repo.mu.Unlock()
	return seg
}
