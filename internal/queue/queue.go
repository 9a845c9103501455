// Package queue implements the Postgres-backed, lease-based enrichment
// task queue: enqueue, claim, submit-result, fail, and stale-lease
// recovery, plus the introspection operations the HTTP worker protocol
// exposes. Every state transition here is a single row-locked
// transaction; nothing holds a lock across a suspension point.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/raged/internal/storage"
)

// Sentinel errors the HTTP worker protocol maps to status codes.
var (
	// ErrNoTask indicates the queue had nothing eligible to claim; the
	// worker protocol maps this to 204 No Content.
	ErrNoTask = errors.New("no task available")
	// ErrTaskNotFound indicates a result/fail was submitted for an id
	// that doesn't exist; maps to 404.
	ErrTaskNotFound = storage.ErrNotFound
	// ErrChunkIDInvalid indicates a malformed "<baseId>:<index>" chunk id;
	// maps to 400.
	ErrChunkIDInvalid = storage.ErrChunkIDInvalid
)

// Config tunes the queue's lease/retry behaviour.
type Config struct {
	LeaseDuration   time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	EnqueuePageSize int
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		LeaseDuration:   300 * time.Second,
		MaxAttempts:     3,
		RetryDelay:      60 * time.Second,
		EnqueuePageSize: 1000,
	}
}

// Service implements the enrichment queue's state machine over the
// storage repositories.
type Service struct {
	tasks *storage.TaskRepository
	chunks *storage.ChunkRepository
	docs  *storage.DocumentRepository
	graph *storage.GraphRepository
	cfg   Config
}

// New builds a queue Service over the shared repository bundle.
func New(repos *storage.Repositories, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 300 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 60 * time.Second
	}
	if cfg.EnqueuePageSize <= 0 {
		cfg.EnqueuePageSize = 1000
	}
	return &Service{tasks: repos.Tasks, chunks: repos.Chunks, docs: repos.Documents, graph: repos.Graph, cfg: cfg}
}

// EnqueueChunks enqueues one task per chunk, in pages of cfg.EnqueuePageSize
// committed independently (each page is one transaction, itself batched
// into INSERTs of 100 rows by TaskRepository.EnqueueBatch), bounding the
// memory and lock footprint of enqueueing a very large document. Returns
// the number of tasks enqueued.
func (s *Service) EnqueueChunks(ctx context.Context, collection, baseID string, chunks []storage.Chunk) (int, error) {
	total := 0
	pageSize := s.cfg.EnqueuePageSize
	for start := 0; start < len(chunks); start += pageSize {
		end := start + pageSize
		if end > len(chunks) {
			end = len(chunks)
		}
		page := chunks[start:end]
		payloads := make([]storage.TaskPayload, len(page))
		for i, c := range page {
			payloads[i] = storage.TaskPayload{
				ChunkID:    storage.ChunkID(baseID, c.ChunkIndex),
				BaseID:     baseID,
				ChunkIndex: c.ChunkIndex,
				Collection: collection,
				DocType:    c.DocType,
				Text:       c.Text,
				Source:     c.Source,
				Tier1Meta:  c.Tier1Meta,
			}
		}

		tx, err := s.tasks.BeginTx(ctx)
		if err != nil {
			return total, fmt.Errorf("begin enqueue tx: %w", err)
		}
		if err := s.tasks.EnqueueBatch(ctx, tx, payloads, s.cfg.MaxAttempts); err != nil {
			_ = tx.Rollback()
			return total, err
		}
		if err := tx.Commit(); err != nil {
			return total, fmt.Errorf("commit enqueue tx: %w", err)
		}
		total += len(payloads)
	}
	return total, nil
}

// EnqueueForDocument fetches every chunk of the named document and enqueues
// one task each, for the /enrichment/enqueue endpoint re-enqueueing an
// already-ingested document.
func (s *Service) EnqueueForDocument(ctx context.Context, collection, baseID string) (int, error) {
	doc, err := s.docs.GetByBaseID(ctx, collection, baseID)
	if err != nil {
		return 0, err
	}
	chunks, err := s.chunks.ByDocument(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	return s.EnqueueChunks(ctx, collection, baseID, chunks)
}

// ClaimResult is returned to a worker on a successful claim.
type ClaimResult struct {
	Task          storage.Task
	Payload       storage.TaskPayload
	DocumentChunks []storage.Chunk
}

// Claim atomically selects the oldest eligible pending task, marks it
// processing under the worker's lease, transitions the claimed chunk to
// "processing", and returns the full current text of every chunk in the
// task's document — workers computing document-level summaries need
// them. Returns ErrNoTask when the queue is empty.
func (s *Service) Claim(ctx context.Context, workerID string) (*ClaimResult, error) {
	tx, err := s.tasks.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	task, err := s.tasks.Claim(ctx, tx, workerID, s.cfg.LeaseDuration)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, err
	}

	var payload storage.TaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}

	doc, err := s.docs.GetByBaseID(ctx, payload.Collection, payload.BaseID)
	if err != nil {
		return nil, fmt.Errorf("resolve claimed task's document: %w", err)
	}
	if err := s.chunks.SetEnrichmentStatus(ctx, tx, doc.ID, payload.ChunkIndex, storage.EnrichmentStatusProcessing); err != nil {
		return nil, fmt.Errorf("mark chunk processing: %w", err)
	}
	chunks, err := s.chunks.ByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load document chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return &ClaimResult{Task: task, Payload: payload, DocumentChunks: chunks}, nil
}

// ParsedChunkID is a validated "<baseId>:<index>" chunk identifier.
type ParsedChunkID struct {
	BaseID string
	Index  int
}

// ParseChunkID validates and splits a chunk id of the form
// "<baseId>:<index>". baseId may itself contain colons, so the split is
// on the last colon; index must be a non-negative integer.
func ParseChunkID(chunkID string) (ParsedChunkID, error) {
	i := strings.LastIndex(chunkID, ":")
	if i < 0 || i == len(chunkID)-1 {
		return ParsedChunkID{}, fmt.Errorf("%w: %q has no <baseId>:<index> separator", ErrChunkIDInvalid, chunkID)
	}
	baseID := chunkID[:i]
	if baseID == "" {
		return ParsedChunkID{}, fmt.Errorf("%w: %q has empty baseId", ErrChunkIDInvalid, chunkID)
	}
	index, err := strconv.Atoi(chunkID[i+1:])
	if err != nil || index < 0 {
		return ParsedChunkID{}, fmt.Errorf("%w: %q index is not a non-negative integer", ErrChunkIDInvalid, chunkID)
	}
	return ParsedChunkID{BaseID: baseID, Index: index}, nil
}

// SubmitResult is the DTO a worker posts for a completed task.
type SubmitResult struct {
	ChunkID string
	Tier2   map[string]any
	Tier3   map[string]any
}

// entityMention is the wire shape of one entity a worker reports having
// found in a chunk, carried in tier2["entities"].
type entityMention struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// relationshipMention is the wire shape of one directed edge a worker
// reports, carried in tier2["relationships"].
type relationshipMention struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// decodeMentions round-trips the named key of a tier2 map through JSON into
// the given slice type; tier2 is itself decoded from request JSON into
// map[string]any, so a nested array arrives as []interface{} of
// map[string]interface{} and needs this re-decode to reach a typed slice.
func decodeMentions[T any](tier2 map[string]any, key string) []T {
	raw, ok := tier2[key]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// SubmitResult applies a worker's enrichment result: stores tier2/tier3 on
// the chunk (after stripping and promoting summary fields to the parent
// document), append-merges any entities/relationships the worker reported
// in tier2["entities"]/tier2["relationships"] into the graph tables, marks
// the chunk enriched, and completes the task. The whole operation is one
// transaction — a malformed chunkId or task lookup failure rejects the
// entire submission.
func (s *Service) SubmitResult(ctx context.Context, taskID uuid.UUID, res SubmitResult) error {
	parsed, err := ParseChunkID(res.ChunkID)
	if err != nil {
		return err
	}

	tx, err := s.tasks.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin submit-result tx: %w", err)
	}
	defer tx.Rollback()

	task, err := s.tasks.Get(ctx, tx, taskID)
	if err != nil {
		return err
	}

	var payload storage.TaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode task payload: %w", err)
	}
	if payload.BaseID != parsed.BaseID || payload.ChunkIndex != parsed.Index {
		return fmt.Errorf("%w: chunkId %q does not match task's chunk %s:%d",
			ErrChunkIDInvalid, res.ChunkID, payload.BaseID, payload.ChunkIndex)
	}

	doc, err := s.docs.GetByBaseID(ctx, payload.Collection, payload.BaseID)
	if err != nil {
		return fmt.Errorf("resolve task's document: %w", err)
	}

	summary, short, medium, long, err := s.chunks.ApplyEnrichment(ctx, tx, doc.ID, parsed.Index, res.Tier2, res.Tier3)
	if err != nil {
		return err
	}
	if summary != nil || short != nil || medium != nil || long != nil {
		if err := s.docs.PromoteSummaries(ctx, tx, doc.ID, summary, short, medium, long); err != nil {
			return err
		}
	}

	for _, e := range decodeMentions[entityMention](res.Tier2, "entities") {
		if e.Name == "" || e.Type == "" {
			continue
		}
		var desc *string
		if e.Description != "" {
			desc = &e.Description
		}
		if err := s.graph.MergeEntity(ctx, tx, payload.Collection, e.Name, e.Type, desc); err != nil {
			return err
		}
	}
	for _, rel := range decodeMentions[relationshipMention](res.Tier2, "relationships") {
		if rel.Source == "" || rel.Target == "" || rel.Type == "" {
			continue
		}
		if err := s.graph.MergeRelationship(ctx, tx, payload.Collection, rel.Source, rel.Target, rel.Type, doc.ID); err != nil {
			return err
		}
	}

	if err := s.tasks.Complete(ctx, tx, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// Fail records a worker-reported failure. If attempts remain, the task
// returns to pending with a bumped attempt count and a delayed run_after
// (fixed 60s delay per the spec's retry-policy Open Question). Otherwise
// the task is marked dead and the chunk records a terminal _error blob in
// tier3_meta.
func (s *Service) Fail(ctx context.Context, taskID uuid.UUID, message string) error {
	tx, err := s.tasks.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback()

	task, err := s.tasks.Get(ctx, tx, taskID)
	if err != nil {
		return err
	}

	if task.Attempt < task.MaxAttempts {
		if err := s.tasks.Retry(ctx, tx, taskID, task.Attempt+1, s.cfg.RetryDelay); err != nil {
			return err
		}
		return tx.Commit()
	}

	var payload storage.TaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode task payload: %w", err)
	}
	doc, err := s.docs.GetByBaseID(ctx, payload.Collection, payload.BaseID)
	if err != nil {
		return fmt.Errorf("resolve task's document: %w", err)
	}

	if err := s.tasks.Kill(ctx, tx, taskID); err != nil {
		return err
	}
	taskErr := storage.TaskError{
		Message:     message,
		TaskID:      taskID.String(),
		Attempt:     task.Attempt,
		MaxAttempts: task.MaxAttempts,
		Final:       true,
		FailedAt:    time.Now().UTC(),
		ChunkIndex:  payload.ChunkIndex,
	}
	if err := s.chunks.RecordFailure(ctx, tx, doc.ID, payload.ChunkIndex, taskErr); err != nil {
		return err
	}
	return tx.Commit()
}

// RecoverStale moves every task whose lease has expired back to pending,
// without bumping attempt, and reports how many were recovered.
func (s *Service) RecoverStale(ctx context.Context) (int64, error) {
	tx, err := s.tasks.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin recover-stale tx: %w", err)
	}
	defer tx.Rollback()

	n, err := s.tasks.RecoverStale(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit recover-stale tx: %w", err)
	}
	return n, nil
}

// Stats reports queue introspection: tasks by status across all
// collections, and chunks by enrichment_status, optionally scoped to one
// collection.
type Stats struct {
	Tasks  storage.StatusCounts
	Chunks storage.ChunkStatusCounts
}

// Stats returns queue and chunk status counts.
func (s *Service) Stats(ctx context.Context, collection string) (Stats, error) {
	taskCounts, err := s.tasks.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	chunkCounts, err := s.chunks.EnrichmentStatusCounts(ctx, collection)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Tasks: taskCounts, Chunks: chunkCounts}, nil
}

// SearchTasks finds tasks for a collection, optionally filtered by free
// text over payload->>'text' | source | baseId | docType.
func (s *Service) SearchTasks(ctx context.Context, collection, text string) ([]storage.Task, error) {
	return s.tasks.Search(ctx, collection, text)
}

// DocumentStatus is the per-document enrichment summary returned by
// GET /enrichment/status/:baseId.
type DocumentStatus struct {
	BaseID       string                     `json:"baseId"`
	Collection   string                     `json:"collection"`
	TotalChunks  int                        `json:"totalChunks"`
	StatusCounts map[storage.EnrichmentStatus]int `json:"statusCounts"`
	Chunks       []ChunkStatus              `json:"chunks"`
}

// ChunkStatus is one chunk's enrichment state within DocumentStatus.
type ChunkStatus struct {
	ChunkIndex int                     `json:"chunkIndex"`
	Status     storage.EnrichmentStatus `json:"status"`
	EnrichedAt *time.Time              `json:"enrichedAt,omitempty"`
}

// DocumentEnrichmentStatus reports the enrichment state of every chunk of
// a document named by its caller-facing base id.
func (s *Service) DocumentEnrichmentStatus(ctx context.Context, collection, baseID string) (DocumentStatus, error) {
	doc, err := s.docs.GetByBaseID(ctx, collection, baseID)
	if err != nil {
		return DocumentStatus{}, err
	}
	chunks, err := s.chunks.ByDocument(ctx, doc.ID)
	if err != nil {
		return DocumentStatus{}, err
	}

	out := DocumentStatus{
		BaseID:       baseID,
		Collection:   collection,
		TotalChunks:  len(chunks),
		StatusCounts: make(map[storage.EnrichmentStatus]int),
	}
	for _, c := range chunks {
		out.StatusCounts[c.EnrichmentStatus]++
		out.Chunks = append(out.Chunks, ChunkStatus{
			ChunkIndex: c.ChunkIndex,
			Status:     c.EnrichmentStatus,
			EnrichedAt: c.EnrichedAt,
		})
	}
	return out, nil
}

// Clear bulk-deletes non-completed tasks for a collection, optionally
// restricted to a caller-supplied subset of storage.ClearStatuses.
func (s *Service) Clear(ctx context.Context, collection string, statuses []string) (int64, error) {
	var parsed []storage.TaskStatus
	for _, st := range statuses {
		ts := storage.TaskStatus(st)
		allowed := false
		for _, ok := range storage.ClearStatuses {
			if ts == ok {
				allowed = true
				break
			}
		}
		if !allowed {
			return 0, fmt.Errorf("status %q cannot be cleared (must be one of pending/processing/dead)", st)
		}
		parsed = append(parsed, ts)
	}
	return s.tasks.Clear(ctx, collection, parsed)
}
