package repository

import (
	"context"
	"database/sql"

	"github.com/feilong2k/codemaestro/internal/infrastructure/persistence/sqlite"
)

// getExecutor returns the ambient transaction or the plain database
func getExecutor(ctx context.Context, db *sql.DB) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, db)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
