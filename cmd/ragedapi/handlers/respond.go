// Package handlers provides HTTP handlers for the ragedapi server.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spherical-ai/raged/internal/blobstore"
	"github.com/spherical-ai/raged/internal/embedding"
	"github.com/spherical-ai/raged/internal/filterdsl"
	"github.com/spherical-ai/raged/internal/query"
	"github.com/spherical-ai/raged/internal/queue"
	"github.com/spherical-ai/raged/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a domain error to the status codes named in the
// route table, falling back to 500 for anything unrecognised.
func writeServiceError(w http.ResponseWriter, err error) {
	var filterErr *filterdsl.FilterValidationError
	switch {
	case errors.As(err, &filterErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrDimMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, queue.ErrTaskNotFound), errors.Is(err, query.ErrNoMatch):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, query.ErrNoRawPayload):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrChunkIDInvalid), errors.Is(err, queue.ErrChunkIDInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, query.ErrBlobUnavailable), errors.Is(err, blobstore.ErrBlobStoreUnavailable),
		errors.Is(err, embedding.ErrUpstreamService):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
