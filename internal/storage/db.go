package storage

import (
	"context"
	"database/sql"
	"errors"
)

// Sentinel errors returned by repositories. Transport layers map these to
// HTTP status codes; nothing below this package knows about HTTP.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrDimMismatch    = errors.New("VECTOR_DIM_MISMATCH")
	ErrChunkIDInvalid = errors.New("CHUNK_ID_INVALID")
)

// DB is the narrow subset of *sql.DB (or *sql.Tx) repositories depend on.
// Accepting this interface rather than a concrete type lets callers pass
// either a pooled connection or an open transaction to the same repository
// methods.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Beginner is implemented by *sql.DB; used where a repository needs to open
// its own transaction rather than accept one from the caller.
type Beginner interface {
	DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Repositories bundles the repository set the rest of the service depends on.
type Repositories struct {
	Documents *DocumentRepository
	Chunks    *ChunkRepository
	Tasks     *TaskRepository
	Graph     *GraphRepository
}

// NewRepositories constructs the repository bundle over a shared pool.
func NewRepositories(db Beginner) *Repositories {
	return &Repositories{
		Documents: &DocumentRepository{db: db},
		Chunks:    &ChunkRepository{db: db},
		Tasks:     &TaskRepository{db: db},
		Graph:     &GraphRepository{db: db},
	}
}
