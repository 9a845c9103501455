package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
)

//go:embed migrations/0001_init.sql
var initSchema string

// Migrate applies the schema to a fresh database. It is intentionally a
// single idempotent script (CREATE ... IF NOT EXISTS throughout) rather than
// a versioned migration chain — the teacher pack has no migration runner of
// its own, and the spec names a single fixed schema, not an evolving one.
func Migrate(ctx context.Context, db Beginner, vectorDim int) error {
	sqlText := strings.ReplaceAll(initSchema, "__VECTOR_DIM__", strconv.Itoa(vectorDim))
	for _, stmt := range splitStatements(sqlText) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func splitStatements(sqlText string) []string {
	return strings.Split(sqlText, ";\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
