package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/raged/internal/observability"
	"github.com/spherical-ai/raged/internal/queue"
)

// TasksHandler serves the worker-facing claim/result/fail/recover-stale
// protocol under /internal/tasks.
type TasksHandler struct {
	logger *observability.Logger
	svc    *queue.Service
}

func NewTasksHandler(logger *observability.Logger, svc *queue.Service) *TasksHandler {
	return &TasksHandler{logger: logger, svc: svc}
}

type claimRequestDTO struct {
	WorkerID string `json:"workerId"`
}

type claimResponseDTO struct {
	TaskID         string          `json:"taskId"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"maxAttempts"`
	DocumentChunks []chunkDTO      `json:"documentChunks"`
}

type chunkDTO struct {
	ChunkIndex int    `json:"chunkIndex"`
	Text       string `json:"text"`
}

// Claim handles POST /internal/tasks/claim. Returns 204 when the queue has
// nothing eligible, per the route table's documented empty case.
func (h *TasksHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var dto claimRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "workerId is required")
		return
	}

	result, err := h.svc.Claim(r.Context(), dto.WorkerID)
	if err == queue.ErrNoTask {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("worker", dto.WorkerID).Msg("task claim failed")
		writeServiceError(w, err)
		return
	}

	chunks := make([]chunkDTO, len(result.DocumentChunks))
	for i, c := range result.DocumentChunks {
		chunks[i] = chunkDTO{ChunkIndex: c.ChunkIndex, Text: c.Text}
	}
	writeJSON(w, http.StatusOK, claimResponseDTO{
		TaskID:         result.Task.ID.String(),
		Payload:        result.Task.Payload,
		Attempt:        result.Task.Attempt,
		MaxAttempts:    result.Task.MaxAttempts,
		DocumentChunks: chunks,
	})
}

type resultRequestDTO struct {
	ChunkID string         `json:"chunkId"`
	Tier2   map[string]any `json:"tier2,omitempty"`
	Tier3   map[string]any `json:"tier3,omitempty"`
}

// Result handles POST /internal/tasks/:id/result.
func (h *TasksHandler) Result(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var dto resultRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.ChunkID == "" {
		writeError(w, http.StatusBadRequest, "chunkId is required")
		return
	}

	err = h.svc.SubmitResult(r.Context(), taskID, queue.SubmitResult{
		ChunkID: dto.ChunkID,
		Tier2:   dto.Tier2,
		Tier3:   dto.Tier3,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type failRequestDTO struct {
	Message string `json:"message"`
}

// Fail handles POST /internal/tasks/:id/fail.
func (h *TasksHandler) Fail(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var dto failRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.Message == "" {
		dto.Message = "worker reported failure"
	}

	if err := h.svc.Fail(r.Context(), taskID, dto.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RecoverStale handles POST /internal/tasks/recover-stale.
func (h *TasksHandler) RecoverStale(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RecoverStale(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"recovered": n})
}
