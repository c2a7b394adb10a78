package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bobarin/kanjivoice/internal/cache"
	"github.com/bobarin/kanjivoice/internal/models"
	"github.com/bobarin/kanjivoice/internal/queue"
)

const maxBatchReadings = 5000

var hashPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

type Handler struct {
	cache *cache.Manager
	queue *queue.Queue // nil when REDIS_URL is not set
}

func NewHandler(manager *cache.Manager, q *queue.Queue) *Handler {
	return &Handler{
		cache: manager,
		queue: q,
	}
}

// GenerateAudio handles POST /v1/audio
// Returns the cached file for the reading, synthesizing it first on a miss.
// The request blocks until synthesis finishes or times out.
func (h *Handler) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "Text is required")
		return
	}

	res, err := h.cache.Resolve(r.Context(), req.Text)
	if err != nil {
		status, message := resolveErrorStatus(err)
		if status >= 500 {
			log.Printf("[API] Resolve %q failed: %v", req.Text, err)
		}
		respondError(w, status, message)
		return
	}

	respondJSON(w, http.StatusOK, models.AudioResponse{
		Literal: req.Literal,
		Hash:    res.Hash,
		Path:    res.Path,
		URL:     h.cache.PublicURL(res.Path),
		Text:    res.Text,
		Cached:  res.Cached,
	})
}

// ListAudio handles GET /v1/audio
// Query params:
//   - limit:  max results per page (default 50, max 500)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListAudio(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	entries := h.cache.Entries()
	total := len(entries)
	start := min(offset, total)
	end := min(start+limit, total)

	page := make([]models.AudioResponse, 0, end-start)
	for _, e := range entries[start:end] {
		page = append(page, h.audioResponse(e))
	}

	respondJSON(w, http.StatusOK, models.ListAudioResponse{
		Entries: page,
		Total:   total,
	})
}

// GetAudio handles GET /v1/audio/{hash}
func (h *Handler) GetAudio(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(chi.URLParam(r, "hash"))
	if !hashPattern.MatchString(hash) {
		respondError(w, http.StatusBadRequest, "Invalid hash")
		return
	}

	entry, ok := h.cache.EntryByHash(models.ContentHash(hash))
	if !ok {
		respondError(w, http.StatusNotFound, "Audio not found")
		return
	}

	respondJSON(w, http.StatusOK, h.audioResponse(entry))
}

// CreateBatch handles POST /v1/batches
// Queues every reading for background synthesis; poll GET /v1/batches/{id} for progress.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Batch generation is not configured")
		return
	}

	var req models.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate
	if len(req.Readings) == 0 {
		respondError(w, http.StatusBadRequest, "At least one reading is required")
		return
	}
	if len(req.Readings) > maxBatchReadings {
		respondError(w, http.StatusBadRequest, "Too many readings (max "+strconv.Itoa(maxBatchReadings)+")")
		return
	}

	status, err := h.queue.EnqueueGenerateAudio(r.Context(), req.Readings)
	if err != nil {
		log.Printf("[API] Failed to enqueue batch: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to queue batch")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateBatchResponse{
		BatchID: status.ID,
		Status:  status.Status,
		Total:   status.Total,
	})
}

// GetBatch handles GET /v1/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "Batch generation is not configured")
		return
	}

	batchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid batch ID")
		return
	}

	status, err := h.queue.GetStatus(r.Context(), batchID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get batch")
		return
	}
	if status == nil {
		respondError(w, http.StatusNotFound, "Batch not found")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) audioResponse(e models.CacheEntry) models.AudioResponse {
	return models.AudioResponse{
		Hash:   e.Hash,
		Path:   e.Path,
		URL:    h.cache.PublicURL(e.Path),
		Text:   e.Text,
		Cached: true,
	}
}

// resolveErrorStatus maps a Resolve error onto an HTTP status and client message.
func resolveErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, cache.ErrEmptyText):
		return http.StatusBadRequest, "Text is empty after normalization"
	case errors.Is(err, cache.ErrSynthesisTimedOut):
		return http.StatusGatewayTimeout, "Speech synthesis timed out"
	case errors.Is(err, cache.ErrSynthesisFailed):
		return http.StatusBadGateway, "Speech synthesis failed"
	case errors.Is(err, cache.ErrStorageFailed):
		return http.StatusInternalServerError, "Failed to store audio"
	default:
		// Client went away; nobody reads this.
		return http.StatusServiceUnavailable, "Request cancelled"
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
