package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentRepository persists Document rows.
type DocumentRepository struct {
	db Beginner
}

// UpsertInput carries the fields that may change on re-ingest.
type UpsertInput struct {
	BaseID      string
	Collection  string
	Source      string
	IdentityKey string
	MimeType    string
	Overwrite   bool
	RawData     []byte
	RawKey      *string
}

// Upsert creates the document on first sight of (collection, identity_key),
// or refreshes last_seen (and, when overwrite is set, content) otherwise.
// Returns the resulting row and whether it was newly created.
func (r *DocumentRepository) Upsert(ctx context.Context, tx DB, in UpsertInput) (Document, bool, error) {
	now := time.Now().UTC()

	var existing Document
	err := tx.QueryRowContext(ctx, `
		SELECT id, base_id, collection, source, identity_key, mime_type,
		       ingested_at, updated_at, last_seen, summary, summary_short,
		       summary_medium, summary_long, raw_data, raw_key
		FROM documents WHERE collection = $1 AND identity_key = $2
	`, in.Collection, in.IdentityKey).Scan(
		&existing.ID, &existing.BaseID, &existing.Collection, &existing.Source,
		&existing.IdentityKey, &existing.MimeType, &existing.IngestedAt,
		&existing.UpdatedAt, &existing.LastSeen, &existing.Summary,
		&existing.SummaryShort, &existing.SummaryMedium, &existing.SummaryLong,
		&existing.RawData, &existing.RawKey,
	)

	switch {
	case err == sql.ErrNoRows:
		doc := Document{
			ID:          uuid.New(),
			BaseID:      in.BaseID,
			Collection:  in.Collection,
			Source:      in.Source,
			IdentityKey: in.IdentityKey,
			MimeType:    in.MimeType,
			IngestedAt:  now,
			UpdatedAt:   now,
			LastSeen:    now,
			RawData:     in.RawData,
			RawKey:      in.RawKey,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, base_id, collection, source, identity_key,
				mime_type, ingested_at, updated_at, last_seen, raw_data, raw_key)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, doc.ID, doc.BaseID, doc.Collection, doc.Source, doc.IdentityKey,
			doc.MimeType, doc.IngestedAt, doc.UpdatedAt, doc.LastSeen, doc.RawData, doc.RawKey)
		if err != nil {
			return Document{}, false, fmt.Errorf("insert document: %w", err)
		}
		return doc, true, nil

	case err != nil:
		return Document{}, false, fmt.Errorf("lookup document: %w", err)
	}

	existing.UpdatedAt = now
	existing.LastSeen = now
	if in.Overwrite {
		existing.Source = in.Source
		existing.MimeType = in.MimeType
		existing.RawData = in.RawData
		existing.RawKey = in.RawKey
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET updated_at = $1, last_seen = $2, source = $3, mime_type = $4,
		    raw_data = $5, raw_key = $6
		WHERE id = $7
	`, existing.UpdatedAt, existing.LastSeen, existing.Source, existing.MimeType,
		existing.RawData, existing.RawKey, existing.ID)
	if err != nil {
		return Document{}, false, fmt.Errorf("update document: %w", err)
	}
	return existing, false, nil
}

// GetByCollectionAndIdentity fetches a document by its natural key.
func (r *DocumentRepository) GetByCollectionAndIdentity(ctx context.Context, collection, identityKey string) (Document, error) {
	return r.scanOne(ctx, `
		SELECT id, base_id, collection, source, identity_key, mime_type,
		       ingested_at, updated_at, last_seen, summary, summary_short,
		       summary_medium, summary_long, raw_data, raw_key
		FROM documents WHERE collection = $1 AND identity_key = $2
	`, collection, identityKey)
}

// GetByBaseID fetches a document by its caller-facing base id within a collection.
func (r *DocumentRepository) GetByBaseID(ctx context.Context, collection, baseID string) (Document, error) {
	return r.scanOne(ctx, `
		SELECT id, base_id, collection, source, identity_key, mime_type,
		       ingested_at, updated_at, last_seen, summary, summary_short,
		       summary_medium, summary_long, raw_data, raw_key
		FROM documents WHERE collection = $1 AND base_id = $2
	`, collection, baseID)
}

// GetByID fetches a document by primary key.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (Document, error) {
	return r.scanOne(ctx, `
		SELECT id, base_id, collection, source, identity_key, mime_type,
		       ingested_at, updated_at, last_seen, summary, summary_short,
		       summary_medium, summary_long, raw_data, raw_key
		FROM documents WHERE id = $1
	`, id)
}

func (r *DocumentRepository) scanOne(ctx context.Context, query string, args ...any) (Document, error) {
	var d Document
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&d.ID, &d.BaseID, &d.Collection, &d.Source, &d.IdentityKey, &d.MimeType,
		&d.IngestedAt, &d.UpdatedAt, &d.LastSeen, &d.Summary, &d.SummaryShort,
		&d.SummaryMedium, &d.SummaryLong, &d.RawData, &d.RawKey,
	)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// PromoteSummaries writes document-level summary fields, called when a
// worker's enrichment result carries tier3 summary fields. The document's
// bare summary takes the submitted summary value, falling back to
// summary_medium when no explicit summary was submitted.
func (r *DocumentRepository) PromoteSummaries(ctx context.Context, tx DB, id uuid.UUID, summary, short, medium, long *string) error {
	if summary == nil {
		summary = medium
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET summary = COALESCE($1, summary),
		    summary_short = COALESCE($2, summary_short),
		    summary_medium = COALESCE($3, summary_medium),
		    summary_long = COALESCE($4, summary_long)
		WHERE id = $5
	`, summary, short, medium, long, id)
	if err != nil {
		return fmt.Errorf("promote summaries: %w", err)
	}
	return nil
}

// CollectionCounts is the per-collection document/chunk count returned by
// GET /collections.
type CollectionCounts struct {
	Collection string `json:"collection"`
	Documents  int64  `json:"documents"`
	Chunks     int64  `json:"chunks"`
}

// CollectionStats returns document and chunk counts grouped by collection.
func (r *DocumentRepository) CollectionStats(ctx context.Context) ([]CollectionCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.collection, COUNT(DISTINCT d.id), COUNT(c.id)
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		GROUP BY d.collection
		ORDER BY d.collection
	`)
	if err != nil {
		return nil, fmt.Errorf("collection stats: %w", err)
	}
	defer rows.Close()

	var out []CollectionCounts
	for rows.Next() {
		var c CollectionCounts
		if err := rows.Scan(&c.Collection, &c.Documents, &c.Chunks); err != nil {
			return nil, fmt.Errorf("scan collection stats: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BeginTx opens a transaction on the underlying pool.
func (r *DocumentRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}
