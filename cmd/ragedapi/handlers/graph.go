package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/raged/internal/query"
)

// GraphHandler serves GET /graph/entity/:name.
type GraphHandler struct {
	svc *query.GraphService
}

func NewGraphHandler(svc *query.GraphService) *GraphHandler {
	return &GraphHandler{svc: svc}
}

// Entity handles GET /graph/entity/:name?collection=...&depth=....
func (h *GraphHandler) Entity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		writeError(w, http.StatusBadRequest, "collection query parameter is required")
		return
	}
	depth := query.DefaultGraphDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			depth = d
		}
	}

	result, err := h.svc.Expand(r.Context(), collection, name, depth)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
