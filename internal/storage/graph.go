package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// GraphRepository persists the append-merge entity/relationship graph and
// serves the bounded neighbour traversal behind GET /graph/entity/:name.
type GraphRepository struct {
	db Beginner
}

// MergeEntity inserts or increments the mention count of (collection, name, type).
func (r *GraphRepository) MergeEntity(ctx context.Context, tx DB, collection, name, entityType string, description *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, collection, name, type, description, mention_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, now(), now())
		ON CONFLICT (collection, name, type) DO UPDATE
		SET mention_count = entities.mention_count + 1,
		    description = COALESCE(EXCLUDED.description, entities.description),
		    updated_at = now()
	`, uuid.New(), collection, name, entityType, description)
	if err != nil {
		return fmt.Errorf("merge entity: %w", err)
	}
	return nil
}

// MergeRelationship inserts or increments the mention count of a directed edge.
func (r *GraphRepository) MergeRelationship(ctx context.Context, tx DB, collection, source, target, relType string, documentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (id, collection, source_entity, target_entity, type, document_id, mention_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, now(), now())
		ON CONFLICT (collection, source_entity, target_entity, type, document_id) DO UPDATE
		SET mention_count = relationships.mention_count + 1, updated_at = now()
	`, uuid.New(), collection, source, target, relType, documentID)
	if err != nil {
		return fmt.Errorf("merge relationship: %w", err)
	}
	return nil
}

// GetEntity fetches a single entity by (collection, name).
func (r *GraphRepository) GetEntity(ctx context.Context, collection, name string) (Entity, error) {
	var e Entity
	err := r.db.QueryRowContext(ctx, `
		SELECT id, collection, name, type, description, mention_count, created_at, updated_at
		FROM entities WHERE collection = $1 AND name = $2 ORDER BY mention_count DESC LIMIT 1
	`, collection, name).Scan(&e.ID, &e.Collection, &e.Name, &e.Type, &e.Description,
		&e.MentionCount, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// Neighbours returns the relationships directly touching the given entity
// name, both inbound and outbound, capped to limit rows.
func (r *GraphRepository) Neighbours(ctx context.Context, collection, name string, limit int) ([]Relationship, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, collection, source_entity, target_entity, type, document_id, mention_count, created_at, updated_at
		FROM relationships
		WHERE collection = $1 AND (source_entity = $2 OR target_entity = $2)
		ORDER BY mention_count DESC
		LIMIT $3
	`, collection, name, limit)
	if err != nil {
		return nil, fmt.Errorf("neighbours: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.Collection, &rel.SourceEntity, &rel.TargetEntity,
			&rel.Type, &rel.DocumentID, &rel.MentionCount, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// DocumentsMentioning returns the distinct documents that mention an entity,
// derived from the relationships recorded against it.
func (r *GraphRepository) DocumentsMentioning(ctx context.Context, collection, name string, limit int) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT d.id, d.base_id, d.collection, d.source, d.identity_key, d.mime_type,
		       d.ingested_at, d.updated_at, d.last_seen, d.summary, d.summary_short,
		       d.summary_medium, d.summary_long
		FROM documents d
		JOIN relationships r ON r.document_id = d.id
		WHERE r.collection = $1 AND (r.source_entity = $2 OR r.target_entity = $2)
		LIMIT $3
	`, collection, name, limit)
	if err != nil {
		return nil, fmt.Errorf("documents mentioning: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.BaseID, &d.Collection, &d.Source, &d.IdentityKey,
			&d.MimeType, &d.IngestedAt, &d.UpdatedAt, &d.LastSeen, &d.Summary,
			&d.SummaryShort, &d.SummaryMedium, &d.SummaryLong); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
