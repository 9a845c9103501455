package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/raged/internal/queue"
)

// EnrichmentHandler serves the /enrichment/* introspection and control routes.
type EnrichmentHandler struct {
	svc *queue.Service
}

func NewEnrichmentHandler(svc *queue.Service) *EnrichmentHandler {
	return &EnrichmentHandler{svc: svc}
}

// Status handles GET /enrichment/status/:baseId?collection=....
func (h *EnrichmentHandler) Status(w http.ResponseWriter, r *http.Request) {
	baseID := chi.URLParam(r, "baseId")
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		writeError(w, http.StatusBadRequest, "collection query parameter is required")
		return
	}

	status, err := h.svc.DocumentEnrichmentStatus(r.Context(), collection, baseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Stats handles GET /enrichment/stats?collection=....
func (h *EnrichmentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")

	stats, err := h.svc.Stats(r.Context(), collection)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type enqueueRequestDTO struct {
	Collection string `json:"collection"`
	BaseID     string `json:"baseId"`
}

// Enqueue handles POST /enrichment/enqueue.
func (h *EnrichmentHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var dto enqueueRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.Collection == "" || dto.BaseID == "" {
		writeError(w, http.StatusBadRequest, "collection and baseId are required")
		return
	}

	n, err := h.svc.EnqueueForDocument(r.Context(), dto.Collection, dto.BaseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"enqueued": n})
}

type clearRequestDTO struct {
	Collection string   `json:"collection"`
	Statuses   []string `json:"statuses,omitempty"`
}

// Clear handles POST /enrichment/clear.
func (h *EnrichmentHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var dto clearRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.Collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}
	statuses := dto.Statuses
	if len(statuses) == 0 {
		statuses = []string{"pending", "processing", "dead"}
	}

	n, err := h.svc.Clear(r.Context(), dto.Collection, statuses)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}
