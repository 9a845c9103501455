// Package storage provides database models and repositories for the retrieval service.
package storage

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EnrichmentStatus represents the lifecycle state of a chunk's async enrichment.
type EnrichmentStatus string

const (
	EnrichmentStatusNone       EnrichmentStatus = "none"
	EnrichmentStatusPending    EnrichmentStatus = "pending"
	EnrichmentStatusProcessing EnrichmentStatus = "processing"
	EnrichmentStatusEnriched   EnrichmentStatus = "enriched"
	EnrichmentStatusFailed     EnrichmentStatus = "failed"
)

// TaskStatus represents the lifecycle state of an enrichment task row.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusDead       TaskStatus = "dead"
	TaskStatusCompleted  TaskStatus = "completed"
)

// EnrichmentQueueName is the single queue name the core operates on.
const EnrichmentQueueName = "enrichment"

// Document is a logical source ingested once per (collection, identity_key).
type Document struct {
	ID            uuid.UUID `json:"id" db:"id"`
	BaseID        string    `json:"baseId" db:"base_id"`
	Collection    string    `json:"collection" db:"collection"`
	Source        string    `json:"source" db:"source"`
	IdentityKey   string    `json:"identityKey" db:"identity_key"`
	MimeType      string    `json:"mimeType" db:"mime_type"`
	IngestedAt    time.Time `json:"ingestedAt" db:"ingested_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
	LastSeen      time.Time `json:"lastSeen" db:"last_seen"`
	Summary       *string   `json:"summary,omitempty" db:"summary"`
	SummaryShort  *string   `json:"summaryShort,omitempty" db:"summary_short"`
	SummaryMedium *string   `json:"summaryMedium,omitempty" db:"summary_medium"`
	SummaryLong   *string   `json:"summaryLong,omitempty" db:"summary_long"`
	RawData       []byte    `json:"-" db:"raw_data"`
	RawKey        *string   `json:"rawKey,omitempty" db:"raw_key"`
}

// Chunk is one embedded fragment of a document.
type Chunk struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	DocumentID       uuid.UUID        `json:"documentId" db:"document_id"`
	ChunkIndex       int              `json:"chunkIndex" db:"chunk_index"`
	Text             string           `json:"text" db:"text"`
	Embedding        pgvector.Vector  `json:"-" db:"embedding"`
	DocType          string           `json:"docType" db:"doc_type"`
	Source           string           `json:"source" db:"source"`
	Path             *string          `json:"path,omitempty" db:"path"`
	Lang             *string          `json:"lang,omitempty" db:"lang"`
	RepoID           *string          `json:"repoId,omitempty" db:"repo_id"`
	RepoURL          *string          `json:"repoUrl,omitempty" db:"repo_url"`
	ItemURL          *string          `json:"itemUrl,omitempty" db:"item_url"`
	Tier1Meta        json.RawMessage  `json:"tier1Meta" db:"tier1_meta"`
	Tier2Meta        json.RawMessage  `json:"tier2Meta,omitempty" db:"tier2_meta"`
	Tier3Meta        json.RawMessage  `json:"tier3Meta,omitempty" db:"tier3_meta"`
	EnrichmentStatus EnrichmentStatus `json:"enrichmentStatus" db:"enrichment_status"`
	EnrichedAt       *time.Time       `json:"enrichedAt,omitempty" db:"enriched_at"`
	CreatedAt        time.Time        `json:"createdAt" db:"created_at"`
}

// ChunkID returns the externally quoted identifier "<documentBaseId>:<chunkIndex>".
func ChunkID(baseID string, index int) string {
	return baseID + ":" + strconv.Itoa(index)
}

// Task is one unit of enrichment work, leased by workers.
type Task struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Queue       string          `json:"queue" db:"queue"`
	Status      TaskStatus      `json:"status" db:"status"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Attempt     int             `json:"attempt" db:"attempt"`
	MaxAttempts int             `json:"maxAttempts" db:"max_attempts"`
	RunAfter    time.Time       `json:"runAfter" db:"run_after"`
	LeasedUntil *time.Time      `json:"leasedUntil,omitempty" db:"leased_until"`
	WorkerID    *string         `json:"workerId,omitempty" db:"worker_id"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	CompletedAt *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// TaskPayload is the JSON shape stored in Task.Payload.
type TaskPayload struct {
	ChunkID    string          `json:"chunkId"`
	BaseID     string          `json:"baseId"`
	ChunkIndex int             `json:"chunkIndex"`
	Collection string          `json:"collection"`
	DocType    string          `json:"docType"`
	Text       string          `json:"text"`
	Source     string          `json:"source"`
	Tier1Meta  json.RawMessage `json:"tier1Meta,omitempty"`
}

// TaskError is the reserved "_error" blob recorded in tier3_meta on final failure.
type TaskError struct {
	Message     string    `json:"message"`
	TaskID      string    `json:"taskId"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	Final       bool      `json:"final"`
	FailedAt    time.Time `json:"failedAt"`
	ChunkIndex  int       `json:"chunkIndex"`
}

// Entity is an append-merge extracted named entity.
type Entity struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Collection   string    `json:"collection" db:"collection"`
	Name         string    `json:"name" db:"name"`
	Type         string    `json:"type" db:"type"`
	Description  *string   `json:"description,omitempty" db:"description"`
	MentionCount int       `json:"mentionCount" db:"mention_count"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Relationship is a directed, append-merge edge between two entities.
type Relationship struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Collection   string    `json:"collection" db:"collection"`
	SourceEntity string    `json:"sourceEntity" db:"source_entity"`
	TargetEntity string    `json:"targetEntity" db:"target_entity"`
	Type         string    `json:"type" db:"type"`
	DocumentID   uuid.UUID `json:"documentId" db:"document_id"`
	MentionCount int       `json:"mentionCount" db:"mention_count"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}
