package handlers

import (
	"net/http"

	"github.com/spherical-ai/raged/internal/storage"
)

// CollectionsHandler serves GET /collections.
type CollectionsHandler struct {
	documents *storage.DocumentRepository
}

func NewCollectionsHandler(documents *storage.DocumentRepository) *CollectionsHandler {
	return &CollectionsHandler{documents: documents}
}

// List handles GET /collections.
func (h *CollectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	stats, err := h.documents.CollectionStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": stats})
}
