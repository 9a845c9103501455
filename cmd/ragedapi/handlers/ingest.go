package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/spherical-ai/raged/internal/ingest"
	"github.com/spherical-ai/raged/internal/observability"
)

// IngestHandler serves POST /ingest.
type IngestHandler struct {
	logger *observability.Logger
	svc    *ingest.Service
}

func NewIngestHandler(logger *observability.Logger, svc *ingest.Service) *IngestHandler {
	return &IngestHandler{logger: logger, svc: svc}
}

type itemDTO struct {
	BaseID   string  `json:"baseId"`
	Text     string  `json:"text,omitempty"`
	URL      string  `json:"url,omitempty"`
	Source   string  `json:"source"`
	DocType  string  `json:"docType,omitempty"`
	MimeType string  `json:"mimeType,omitempty"`
	Path     *string `json:"path,omitempty"`
	Lang     *string `json:"lang,omitempty"`
	RepoID   *string `json:"repoId,omitempty"`
	RepoURL  *string `json:"repoUrl,omitempty"`
	ItemURL  *string `json:"itemUrl,omitempty"`
}

type ingestRequestDTO struct {
	Collection string    `json:"collection"`
	Items      []itemDTO `json:"items"`
	Enrich     bool      `json:"enrich,omitempty"`
	Overwrite  bool      `json:"overwrite,omitempty"`
}

// Ingest handles POST /ingest.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var dto ingestRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.Collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}
	if len(dto.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	items := make([]ingest.Item, len(dto.Items))
	for i, it := range dto.Items {
		items[i] = ingest.Item{
			BaseID: it.BaseID, Text: it.Text, URL: it.URL, Source: it.Source,
			DocType: it.DocType, MimeType: it.MimeType, Path: it.Path, Lang: it.Lang,
			RepoID: it.RepoID, RepoURL: it.RepoURL, ItemURL: it.ItemURL,
		}
	}

	result, err := h.svc.Ingest(r.Context(), ingest.Request{
		Collection: dto.Collection,
		Items:      items,
		Enrich:     dto.Enrich,
		Overwrite:  dto.Overwrite,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("collection", dto.Collection).Msg("ingest failed")
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
