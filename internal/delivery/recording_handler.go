package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/models"
	"github.com/avelichko/dreamscribe/internal/ports"
)

type RecordingHandler struct {
	repo      ports.RecordingRepository
	recovery  ports.RecoveryService
	assembler ports.RecordingAssembler
	storage   ports.StorageGateway
	log       *zap.SugaredLogger
}

func NewRecordingHandler(
	repo ports.RecordingRepository,
	recovery ports.RecoveryService,
	assembler ports.RecordingAssembler,
	storage ports.StorageGateway,
	log *zap.SugaredLogger,
) *RecordingHandler {
	return &RecordingHandler{
		repo:      repo,
		recovery:  recovery,
		assembler: assembler,
		storage:   storage,
		log:       log,
	}
}

type recordingResponse struct {
	ID         uuid.UUID `json:"id"`
	Status     string    `json:"status"`
	Transcript *string   `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

type segmentResponse struct {
	ID            uuid.UUID `json:"id"`
	RecordingID   uuid.UUID `json:"recording_id"`
	SequenceIndex int       `json:"sequence_index"`
	StorageKey    string    `json:"storage_key"`
	Status        string    `json:"transcription_status"`
}

// POST /recordings
func (h *RecordingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID *uuid.UUID `json:"id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body allowed

	rec := &models.Recording{ID: uuid.New(), Status: models.RecordingPending}
	if req.ID != nil {
		rec.ID = *req.ID
	}

	if err := h.repo.InsertRecording(r.Context(), rec); err != nil {
		http.Error(w, "failed to create recording: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.Infow("recording created", "recording", rec.ID)
	writeJSON(w, http.StatusCreated, toRecordingResponse(rec))
}

// POST /recordings/{id}/segments
func (h *RecordingHandler) AddSegment(w http.ResponseWriter, r *http.Request) {
	recID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		SegmentID     *uuid.UUID `json:"segment_id"`
		SequenceIndex int        `json:"sequence_index"`
		StorageKey    string     `json:"storage_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.StorageKey == "" {
		http.Error(w, "missing storage_key", http.StatusBadRequest)
		return
	}
	if req.SequenceIndex < 0 {
		http.Error(w, "invalid sequence_index", http.StatusBadRequest)
		return
	}

	seg := &models.Segment{
		ID:            uuid.New(),
		RecordingID:   recID,
		SequenceIndex: req.SequenceIndex,
		StorageKey:    models.StorageKey(req.StorageKey),
		Status:        models.SegmentPending,
	}
	if req.SegmentID != nil {
		seg.ID = *req.SegmentID
	}

	if err := h.repo.InsertSegment(r.Context(), seg); err != nil {
		http.Error(w, "failed to create segment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.Infow("segment created", "segment", seg.ID, "recording", recID, "index", seg.SequenceIndex)

	// transcription outlives the request
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.recovery.TranscribeSegment(ctx, seg.ID); err != nil {
			h.log.Warnw("initial transcription failed", "segment", seg.ID, "err", err)
		}
	}()

	writeJSON(w, http.StatusCreated, segmentResponse{
		ID:            seg.ID,
		RecordingID:   seg.RecordingID,
		SequenceIndex: seg.SequenceIndex,
		StorageKey:    string(seg.StorageKey),
		Status:        seg.Status,
	})
}

// DELETE /recordings/{id}/segments/{sid}
func (h *RecordingHandler) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	segID, ok := parseID(w, r, "sid")
	if !ok {
		return
	}

	seg, err := h.repo.GetSegment(r.Context(), segID)
	if err != nil {
		http.Error(w, "failed to load segment: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if seg == nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}

	if err := h.repo.DeleteSegment(r.Context(), segID); err != nil {
		http.Error(w, "failed to delete segment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// best-effort blob cleanup
	if err := h.storage.Delete(r.Context(), seg.StorageKey); err != nil {
		h.log.Warnw("delete segment blob", "segment", segID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// GET /recordings/{id}/segments/status
func (h *RecordingHandler) SegmentStatus(w http.ResponseWriter, r *http.Request) {
	recID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	segments, err := h.repo.ListSegments(r.Context(), recID)
	if err != nil {
		http.Error(w, "failed to list segments: "+err.Error(), http.StatusInternalServerError)
		return
	}

	type entry struct {
		SegmentID           uuid.UUID `json:"segment_id"`
		SequenceIndex       int       `json:"sequence_index"`
		TranscriptionStatus string    `json:"transcription_status"`
		RetryCount          int       `json:"retry_count"`
		Error               *string   `json:"error,omitempty"`
	}

	entries := make([]entry, 0, len(segments))
	for _, seg := range segments {
		e := entry{
			SegmentID:           seg.ID,
			SequenceIndex:       seg.SequenceIndex,
			TranscriptionStatus: seg.Status,
			RetryCount:          seg.RetryCount,
		}
		if seg.LastErrorKind != nil {
			msg := *seg.LastErrorKind
			if seg.LastError != nil {
				msg = fmt.Sprintf("%s: %s", *seg.LastErrorKind, *seg.LastError)
			}
			e.Error = &msg
		}
		entries = append(entries, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{"segments": entries})
}

// POST /recordings/{id}/force-recovery
func (h *RecordingHandler) ForceRecovery(w http.ResponseWriter, r *http.Request) {
	recID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	report, err := h.recovery.Recover(r.Context(), recID)
	if errors.Is(err, ports.ErrRecoveryInProgress) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"error":   "recovery already in progress",
		})
		return
	}
	if err != nil {
		h.log.Errorw("force recovery", "recording", recID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"recovered_count":     report.Recovered,
		"still_failed_count":  report.StillFailed,
		"dead_lettered_count": report.DeadLettered,
		"has_transcript":      report.HasTranscript,
	})
}

// POST /recordings/{id}/finish
func (h *RecordingHandler) Finish(w http.ResponseWriter, r *http.Request) {
	recID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.assembler.Finalize(r.Context(), recID)
	if err != nil {
		http.Error(w, "failed to finalize: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "recording not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toRecordingResponse(rec))
}

// GET /recordings/{id}/transcript
func (h *RecordingHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	recID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.repo.GetRecording(r.Context(), recID)
	if err != nil {
		http.Error(w, "failed to load recording: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "recording not found", http.StatusNotFound)
		return
	}
	if rec.Transcript == nil {
		http.Error(w, "transcript not ready", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transcript": *rec.Transcript,
		"status":     rec.Status,
	})
}

// POST /recordings/{id}/upload-url?filename=...
func (h *RecordingHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	recID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}

	key := models.StorageKey(fmt.Sprintf("recordings/%s/%s", recID, filename))

	u, err := h.storage.PresignPut(r.Context(), key)
	if err != nil {
		http.Error(w, "failed to presign upload: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upload_url": u.URL,
		"upload_key": string(key),
		"expires_at": u.ExpiresAt,
	})
}

func toRecordingResponse(rec *models.Recording) recordingResponse {
	return recordingResponse{
		ID:         rec.ID,
		Status:     rec.Status,
		Transcript: rec.Transcript,
		CreatedAt:  rec.CreatedAt,
	}
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		http.Error(w, "missing "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
