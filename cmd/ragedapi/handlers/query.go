package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical-ai/raged/internal/cache"
	"github.com/spherical-ai/raged/internal/observability"
	"github.com/spherical-ai/raged/internal/query"
)

// QueryHandler serves POST /query and its two companion endpoints, caching
// successful /query responses behind a fingerprint of the resolved request.
type QueryHandler struct {
	logger   *observability.Logger
	svc      *query.Service
	cache    cache.Client
	cacheTTL time.Duration
}

func NewQueryHandler(logger *observability.Logger, svc *query.Service, c cache.Client, cacheTTL time.Duration) *QueryHandler {
	return &QueryHandler{logger: logger, svc: svc, cache: c, cacheTTL: cacheTTL}
}

type queryRequestDTO struct {
	Collection  string          `json:"collection"`
	Query       string          `json:"query,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Strategy    string          `json:"strategy,omitempty"`
	TopK        int             `json:"topK,omitempty"`
	MinScore    *float64        `json:"minScore,omitempty"`
	GraphEntity string          `json:"graphEntity,omitempty"`
	GraphDepth  int             `json:"graphDepth,omitempty"`
}

func decodeQueryRequest(r *http.Request) (query.Request, *queryRequestDTO, error) {
	var dto queryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		return query.Request{}, nil, err
	}
	return query.Request{
		Collection:  dto.Collection,
		Query:       dto.Query,
		Filter:      dto.Filter,
		Strategy:    dto.Strategy,
		TopK:        dto.TopK,
		MinScore:    dto.MinScore,
		GraphEntity: dto.GraphEntity,
		GraphDepth:  dto.GraphDepth,
	}, &dto, nil
}

// Query handles POST /query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, dto, err := decodeQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.Collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}

	ctx := r.Context()
	key := fingerprintKey(dto)

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, key); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.Write(cached)
			return
		}
	}

	resp, err := h.svc.Query(ctx, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.cache != nil && h.cacheTTL > 0 {
		_ = h.cache.Set(ctx, key, body, h.cacheTTL)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// DownloadFirst handles POST /query/download-first.
func (h *QueryHandler) DownloadFirst(w http.ResponseWriter, r *http.Request) {
	req, dto, err := decodeQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.Collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}

	result, err := h.svc.DownloadFirst(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	mimeType := result.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("X-Document-Base-Id", result.BaseID)
	w.Write(result.Data)
}

// FulltextFirst handles POST /query/fulltext-first.
func (h *QueryHandler) FulltextFirst(w http.ResponseWriter, r *http.Request) {
	req, dto, err := decodeQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.Collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}

	result, err := h.svc.FulltextFirst(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"baseId": result.BaseID, "text": result.Text})
}

// fingerprintKey derives a stable cache key from the caller-visible parts
// of a query request, hashing the filter body so arbitrary JSON shapes
// still collapse to a short key.
func fingerprintKey(dto *queryRequestDTO) string {
	h := sha256.New()
	h.Write(dto.Filter)
	filterHash := hex.EncodeToString(h.Sum(nil))
	minScore := ""
	if dto.MinScore != nil {
		minScore = strconv.FormatFloat(*dto.MinScore, 'g', -1, 64)
	}
	return cache.QueryCacheKey(dto.Collection, dto.Strategy, dto.Query, strconv.Itoa(dto.TopK), filterHash,
		minScore, dto.GraphEntity, strconv.Itoa(dto.GraphDepth))
}
