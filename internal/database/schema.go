// internal/database/schema.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS lobby_sessions (
	lobby_id         TEXT PRIMARY KEY,
	lobby_code       TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'active',
	started_at       TIMESTAMPTZ NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ,
	end_reason       TEXT
);

CREATE TABLE IF NOT EXISTS lobby_activity (
	id          BIGSERIAL PRIMARY KEY,
	lobby_id    TEXT NOT NULL REFERENCES lobby_sessions (lobby_id),
	lobby_code  TEXT NOT NULL,
	type        TEXT NOT NULL,
	player_name TEXT,
	payload     JSONB,
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS lobby_activity_lobby_idx ON lobby_activity (lobby_id, occurred_at);
`

// EnsureSchema creates the activity tables if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
