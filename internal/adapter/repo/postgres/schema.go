package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id uuid PRIMARY KEY,
		title text,
		messages jsonb NOT NULL DEFAULT '[]'::jsonb,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reference_cache (
		query text PRIMARY KEY,
		results jsonb NOT NULL,
		created_at timestamptz NOT NULL
	)`,
}

// EnsureSchema creates the tables this service needs if they are missing.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=postgres.EnsureSchema: %w", err)
		}
	}
	return nil
}
