// internal/database/activity.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityLog persists the lobby activity feed and one session row per lobby.
type ActivityLog struct {
	pool *pgxpool.Pool
}

func NewActivityLog(pool *pgxpool.Pool) *ActivityLog {
	return &ActivityLog{pool: pool}
}

// InsertBatch writes every record in one transaction; either all land or none do.
func (a *ActivityLog) InsertBatch(ctx context.Context, batch []models.Activity) error {
	if len(batch) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batch {
			if err := insertActivityTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insert activity %s for %s: %w", rec.Type, rec.LobbyCode, err)
			}
		}
		return nil
	})
}

func insertActivityTx(ctx context.Context, tx pgx.Tx, rec models.Activity) error {
	at := time.UnixMilli(rec.Timestamp).UTC()

	upsertSessionQ := `
		INSERT INTO lobby_sessions (lobby_id, lobby_code, status, started_at, last_activity_at)
		VALUES ($1, $2, 'active', $3, $3)
		ON CONFLICT (lobby_id)
		DO UPDATE SET last_activity_at = GREATEST(lobby_sessions.last_activity_at, EXCLUDED.last_activity_at)
	`
	if _, err := tx.Exec(ctx, upsertSessionQ, rec.LobbyID, rec.LobbyCode, at); err != nil {
		return err
	}

	var payload []byte
	if rec.Payload != nil {
		var err error
		if payload, err = json.Marshal(rec.Payload); err != nil {
			return err
		}
	}
	insertQ := `
		INSERT INTO lobby_activity (lobby_id, lobby_code, type, player_name, payload, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`
	if _, err := tx.Exec(ctx, insertQ, rec.LobbyID, rec.LobbyCode, string(rec.Type), rec.PlayerName, payload, at); err != nil {
		return err
	}

	if rec.Type == models.ActivityLobbyClosed {
		reason, _ := rec.Payload["reason"].(string)
		closeQ := `
			UPDATE lobby_sessions
			SET status = 'closed', ended_at = $2, end_reason = NULLIF($3, '')
			WHERE lobby_id = $1 AND status = 'active'
		`
		if _, err := tx.Exec(ctx, closeQ, rec.LobbyID, at, reason); err != nil {
			return err
		}
	}
	return nil
}

// MarkLobbyExpired flags a still-active session as expired. It reports whether a row changed.
func (a *ActivityLog) MarkLobbyExpired(ctx context.Context, lobbyID string) (bool, error) {
	var changed bool
	err := pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE lobby_sessions
			SET status = 'expired', ended_at = NOW(), end_reason = 'inactivity'
			WHERE lobby_id = $1 AND status = 'active'
		`
		tag, err := tx.Exec(ctx, q, lobbyID)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() > 0
		return nil
	})
	return changed, err
}

// SessionStatus returns the status column of a lobby session.
func (a *ActivityLog) SessionStatus(ctx context.Context, lobbyID string) (string, error) {
	var status string
	err := a.pool.QueryRow(ctx, `SELECT status FROM lobby_sessions WHERE lobby_id = $1`, lobbyID).Scan(&status)
	return status, err
}

// CountActivity returns how many activity rows exist for a lobby.
func (a *ActivityLog) CountActivity(ctx context.Context, lobbyID string) (int, error) {
	var n int
	err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lobby_activity WHERE lobby_id = $1`, lobbyID).Scan(&n)
	return n, err
}
