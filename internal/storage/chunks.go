package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository persists Chunk rows and runs the three query-service
// retrieval strategies (semantic, metadata, full-text) over them.
type ChunkRepository struct {
	db Beginner
}

// ReplaceAll deletes a document's existing chunks and inserts the new set in
// one transaction, as required by the ingestion service's atomic re-ingest
// contract. Every chunk's embedding must share dimension with the rest of
// the batch and with dim; a mismatch aborts before any write and returns
// ErrDimMismatch.
func (r *ChunkRepository) ReplaceAll(ctx context.Context, tx DB, documentID uuid.UUID, chunks []Chunk, dim int) ([]Chunk, error) {
	for i := range chunks {
		if len(chunks[i].Embedding.Slice()) != dim {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, want %d",
				ErrDimMismatch, i, len(chunks[i].Embedding.Slice()), dim)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("delete existing chunks: %w", err)
	}

	now := time.Now().UTC()
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.ID = uuid.New()
		c.DocumentID = documentID
		c.ChunkIndex = i
		c.CreatedAt = now
		if c.EnrichmentStatus == "" {
			c.EnrichmentStatus = EnrichmentStatusNone
		}
		if c.Tier1Meta == nil {
			c.Tier1Meta = []byte(`{}`)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, text, embedding,
				doc_type, source, path, lang, repo_id, repo_url, item_url,
				tier1_meta, tier2_meta, tier3_meta, enrichment_status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, c.ID, c.DocumentID, c.ChunkIndex, c.Text, c.Embedding, c.DocType,
			c.Source, c.Path, c.Lang, c.RepoID, c.RepoURL, c.ItemURL,
			c.Tier1Meta, c.Tier2Meta, c.Tier3Meta, c.EnrichmentStatus, c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// ByDocument returns all chunks of a document in chunk_index order.
func (r *ChunkRepository) ByDocument(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, text, embedding, doc_type, source,
		       path, lang, repo_id, repo_url, item_url, tier1_meta, tier2_meta,
		       tier3_meta, enrichment_status, enriched_at, created_at
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ByChunkIndex fetches a single chunk identified by (documentID, chunkIndex).
func (r *ChunkRepository) ByChunkIndex(ctx context.Context, documentID uuid.UUID, chunkIndex int) (Chunk, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, document_id, chunk_index, text, embedding, doc_type, source,
		       path, lang, repo_id, repo_url, item_url, tier1_meta, tier2_meta,
		       tier3_meta, enrichment_status, enriched_at, created_at
		FROM chunks WHERE document_id = $1 AND chunk_index = $2
	`, documentID, chunkIndex)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return Chunk{}, ErrNotFound
	}
	return c, err
}

// SetEnrichmentStatus transitions a chunk's enrichment_status (used by the
// queue when a task is claimed).
func (r *ChunkRepository) SetEnrichmentStatus(ctx context.Context, tx DB, documentID uuid.UUID, chunkIndex int, status EnrichmentStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE chunks SET enrichment_status = $1 WHERE document_id = $2 AND chunk_index = $3
	`, status, documentID, chunkIndex)
	return err
}

// ApplyEnrichment stores the worker-submitted tier2/tier3 metadata, marks the
// chunk enriched, and returns the tier3 summary fields so the caller can
// promote them to the parent document (spec's "strip summary keys, promote
// to document" rule).
func (r *ChunkRepository) ApplyEnrichment(ctx context.Context, tx DB, documentID uuid.UUID, chunkIndex int, tier2, tier3 map[string]any) (summary, summaryShort, summaryMedium, summaryLong *string, err error) {
	clean, summary, short, medium, long := stripSummaryKeys(tier3)
	tier2JSON, err := marshalOrNull(tier2)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	tier3JSON, err := marshalOrNull(clean)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE chunks
		SET enrichment_status = $1, enriched_at = $2, tier2_meta = $3, tier3_meta = $4
		WHERE document_id = $5 AND chunk_index = $6
	`, EnrichmentStatusEnriched, now, tier2JSON, tier3JSON, documentID, chunkIndex)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("apply enrichment: %w", err)
	}
	return summary, short, medium, long, nil
}

// RecordFailure marks a chunk failed and writes the reserved _error blob
// into tier3_meta, per the queue's final-failure contract.
func (r *ChunkRepository) RecordFailure(ctx context.Context, tx DB, documentID uuid.UUID, chunkIndex int, taskErr TaskError) error {
	blob, err := marshalOrNull(map[string]any{"_error": taskErr})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE chunks SET enrichment_status = $1, tier3_meta = $2
		WHERE document_id = $3 AND chunk_index = $4
	`, EnrichmentStatusFailed, blob, documentID, chunkIndex)
	return err
}

// SemanticSearchResult is one scored row from a vector kNN query.
type SemanticSearchResult struct {
	Chunk    Chunk
	Document Document
	Score    float64
}

// SemanticSearch runs a cosine-distance kNN query, converting distance to
// similarity (1 - d) and rejecting anything below minScore. filterSQL/args
// come from the filter DSL compiler, compiled with placeholders starting at
// $3 ($1 is the collection, $2 the query vector).
func (r *ChunkRepository) SemanticSearch(ctx context.Context, collection string, query pgvector.Vector, filterSQL string, filterArgs []any, minScore float64, topK int) ([]SemanticSearchResult, error) {
	args := []any{collection, query}
	args = append(args, filterArgs...)
	args = append(args, topK)
	topKPos := len(args)

	sqlText := fmt.Sprintf(`
		SELECT %s, c.embedding <=> $2 AS distance
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.collection = $1 %s
		ORDER BY distance ASC, d.id ASC, c.chunk_index ASC
		LIMIT $%d
	`, joinedColumns, filterSQL, topKPos)

	rows, err := r.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var out []SemanticSearchResult
	for rows.Next() {
		c, d, distance, err := scanJoinedWithDistance(rows)
		if err != nil {
			return nil, err
		}
		score := 1 - distance
		if score < minScore {
			continue
		}
		out = append(out, SemanticSearchResult{Chunk: c, Document: d, Score: score})
	}
	return out, rows.Err()
}

// MetadataSearch scans chunks joined to documents under the filter only,
// ordered by chunks.created_at DESC; every result scores 1.0.
func (r *ChunkRepository) MetadataSearch(ctx context.Context, collection string, filterSQL string, filterArgs []any, topK int) ([]SemanticSearchResult, error) {
	args := []any{collection}
	args = append(args, filterArgs...)
	args = append(args, topK)
	topKPos := len(args)

	sqlText := fmt.Sprintf(`
		SELECT %s
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.collection = $1 %s
		ORDER BY c.created_at DESC, d.id ASC, c.chunk_index ASC
		LIMIT $%d
	`, joinedColumns, filterSQL, topKPos)

	rows, err := r.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata search: %w", err)
	}
	defer rows.Close()

	var out []SemanticSearchResult
	for rows.Next() {
		c, d, err := scanJoined(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SemanticSearchResult{Chunk: c, Document: d, Score: 1.0})
	}
	return out, rows.Err()
}

// FullTextSearch runs a websearch_to_tsquery match, falling back to ILIKE
// when useILIKE is set (the caller retries with this set to true after a
// tsquery syntax error, per spec's INVALID_TSQUERY recovery policy).
func (r *ChunkRepository) FullTextSearch(ctx context.Context, collection, queryText string, filterSQL string, filterArgs []any, topK int, useILIKE bool) ([]SemanticSearchResult, error, bool) {
	args := []any{collection, queryText}
	args = append(args, filterArgs...)
	args = append(args, topK)
	topKPos := len(args)

	var predicate string
	if useILIKE {
		predicate = "c.text ILIKE '%' || $2 || '%'"
	} else {
		predicate = "to_tsvector('simple', c.text) @@ websearch_to_tsquery('simple', $2)"
	}

	sqlText := fmt.Sprintf(`
		SELECT %s
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.collection = $1 AND %s %s
		ORDER BY c.created_at DESC, d.id ASC, c.chunk_index ASC
		LIMIT $%d
	`, joinedColumns, predicate, filterSQL, topKPos)

	rows, err := r.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		if !useILIKE && isTSQuerySyntaxError(err) {
			return nil, nil, true
		}
		return nil, fmt.Errorf("fulltext search: %w", err), false
	}
	defer rows.Close()

	var out []SemanticSearchResult
	for rows.Next() {
		c, d, err := scanJoined(rows)
		if err != nil {
			return nil, err, false
		}
		out = append(out, SemanticSearchResult{Chunk: c, Document: d, Score: 1.0})
	}
	return out, rows.Err(), false
}

// isTSQuerySyntaxError reports whether a Postgres error is a tsquery syntax
// error, by matching the error text "syntax error in tsquery".
func isTSQuerySyntaxError(err error) bool {
	return strings.Contains(err.Error(), "syntax error in tsquery")
}

// ChunkStatusCounts is the per-enrichment-status chunk count returned
// alongside task StatusCounts by /enrichment/stats.
type ChunkStatusCounts struct {
	None       int64 `json:"none"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Enriched   int64 `json:"enriched"`
	Failed     int64 `json:"failed"`
}

// EnrichmentStatusCounts counts chunks by enrichment_status, optionally
// restricted to one collection (empty string means every collection).
func (r *ChunkRepository) EnrichmentStatusCounts(ctx context.Context, collection string) (ChunkStatusCounts, error) {
	var c ChunkStatusCounts
	query := `
		SELECT c.enrichment_status, COUNT(*)
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE ($1 = '' OR d.collection = $1)
		GROUP BY c.enrichment_status
	`
	rows, err := r.db.QueryContext(ctx, query, collection)
	if err != nil {
		return c, fmt.Errorf("chunk status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status EnrichmentStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch status {
		case EnrichmentStatusNone:
			c.None = n
		case EnrichmentStatusPending:
			c.Pending = n
		case EnrichmentStatusProcessing:
			c.Processing = n
		case EnrichmentStatusEnriched:
			c.Enriched = n
		case EnrichmentStatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// Search finds chunks (joined to their document) by collection and an
// optional free-text filter over chunks.text | documents.source |
// chunks.doc_type | documents.summary*, with automatic ILIKE fallback on
// invalid tsquery input.
func (r *ChunkRepository) Search(ctx context.Context, collection, text string, topK int) ([]SemanticSearchResult, error) {
	rows, err := r.searchQuery(ctx, collection, text, topK, false)
	if err != nil && isTSQuerySyntaxError(err) {
		rows, err = r.searchQuery(ctx, collection, text, topK, true)
	}
	if err != nil {
		return nil, fmt.Errorf("chunk search: %w", err)
	}
	defer rows.Close()

	var out []SemanticSearchResult
	for rows.Next() {
		c, d, err := scanJoined(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SemanticSearchResult{Chunk: c, Document: d, Score: 1.0})
	}
	return out, rows.Err()
}

func (r *ChunkRepository) searchQuery(ctx context.Context, collection, text string, topK int, ilike bool) (*sql.Rows, error) {
	predicate := `to_tsvector('simple', c.text || ' ' || d.source || ' ' || c.doc_type || ' ' ||
		coalesce(d.summary, '') || ' ' || coalesce(d.summary_short, '') || ' ' ||
		coalesce(d.summary_medium, '') || ' ' || coalesce(d.summary_long, '')) @@ websearch_to_tsquery('simple', $2)`
	if ilike {
		predicate = `(c.text ILIKE '%' || $2 || '%' OR d.source ILIKE '%' || $2 || '%' OR c.doc_type ILIKE '%' || $2 || '%'
			OR coalesce(d.summary, '') ILIKE '%' || $2 || '%' OR coalesce(d.summary_short, '') ILIKE '%' || $2 || '%'
			OR coalesce(d.summary_medium, '') ILIKE '%' || $2 || '%' OR coalesce(d.summary_long, '') ILIKE '%' || $2 || '%')`
	}
	predicate = "($2 = '' OR " + predicate + ")"
	query := fmt.Sprintf(`
		SELECT %s
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.collection = $1 AND %s
		ORDER BY c.created_at DESC, d.id ASC, c.chunk_index ASC
		LIMIT $3
	`, joinedColumns, predicate)
	return r.db.QueryContext(ctx, query, collection, text, topK)
}

const joinedColumns = `
	c.id, c.document_id, c.chunk_index, c.text, c.embedding, c.doc_type, c.source,
	c.path, c.lang, c.repo_id, c.repo_url, c.item_url, c.tier1_meta, c.tier2_meta,
	c.tier3_meta, c.enrichment_status, c.enriched_at, c.created_at,
	d.id, d.base_id, d.collection, d.source, d.identity_key, d.mime_type,
	d.ingested_at, d.updated_at, d.last_seen, d.summary, d.summary_short,
	d.summary_medium, d.summary_long`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (Chunk, error) {
	var c Chunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.Embedding,
		&c.DocType, &c.Source, &c.Path, &c.Lang, &c.RepoID, &c.RepoURL, &c.ItemURL,
		&c.Tier1Meta, &c.Tier2Meta, &c.Tier3Meta, &c.EnrichmentStatus, &c.EnrichedAt, &c.CreatedAt)
	return c, err
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanJoined(rows *sql.Rows) (Chunk, Document, error) {
	var c Chunk
	var d Document
	err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.Embedding,
		&c.DocType, &c.Source, &c.Path, &c.Lang, &c.RepoID, &c.RepoURL, &c.ItemURL,
		&c.Tier1Meta, &c.Tier2Meta, &c.Tier3Meta, &c.EnrichmentStatus, &c.EnrichedAt, &c.CreatedAt,
		&d.ID, &d.BaseID, &d.Collection, &d.Source, &d.IdentityKey, &d.MimeType,
		&d.IngestedAt, &d.UpdatedAt, &d.LastSeen, &d.Summary, &d.SummaryShort,
		&d.SummaryMedium, &d.SummaryLong)
	if err != nil {
		return Chunk{}, Document{}, fmt.Errorf("scan joined row: %w", err)
	}
	return c, d, nil
}

func scanJoinedWithDistance(rows *sql.Rows) (Chunk, Document, float64, error) {
	var c Chunk
	var d Document
	var distance float64
	err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.Embedding,
		&c.DocType, &c.Source, &c.Path, &c.Lang, &c.RepoID, &c.RepoURL, &c.ItemURL,
		&c.Tier1Meta, &c.Tier2Meta, &c.Tier3Meta, &c.EnrichmentStatus, &c.EnrichedAt, &c.CreatedAt,
		&d.ID, &d.BaseID, &d.Collection, &d.Source, &d.IdentityKey, &d.MimeType,
		&d.IngestedAt, &d.UpdatedAt, &d.LastSeen, &d.Summary, &d.SummaryShort,
		&d.SummaryMedium, &d.SummaryLong, &distance)
	if err != nil {
		return Chunk{}, Document{}, 0, fmt.Errorf("scan joined row: %w", err)
	}
	return c, d, distance, nil
}
