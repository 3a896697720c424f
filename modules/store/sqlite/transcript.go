package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sibylhq/sibyl/internal/store"
)

// transcriptStore implements store.TranscriptStore on SQLite.
type transcriptStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ store.TranscriptStore = (*transcriptStore)(nil)

// Append implements store.TranscriptStore.
func (t *transcriptStore) Append(ctx context.Context, sessionID string, turn store.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	sources, err := json.Marshal(turn.Sources)
	if err != nil {
		return fmt.Errorf("sqlite: marshal sources: %w", err)
	}
	used, err := json.Marshal(turn.UsedSources)
	if err != nil {
		return fmt.Errorf("sqlite: marshal used_sources: %w", err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, seq, user_message, bot_response, sources, used_sources, created_at)
		VALUES (?, ?, COALESCE((SELECT MAX(seq) FROM turns WHERE session_id = ?), 0) + 1,
		        ?, ?, ?, ?, ?)`,
		turn.ID, sessionID, sessionID,
		turn.UserMessage, turn.BotResponse, string(sources), string(used),
		turn.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: append turn: %w", err)
	}
	return nil
}

// Recent implements store.TranscriptStore.
func (t *transcriptStore) Recent(ctx context.Context, sessionID string, n int) ([]store.Turn, error) {
	query := `
		SELECT id, user_message, bot_response, sources, used_sources, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY seq DESC`
	args := []any{sessionID}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent turns: %w", err)
	}
	defer rows.Close()

	var turns []store.Turn
	for rows.Next() {
		var (
			turn      store.Turn
			sources   string
			used      string
			createdAt string
		)
		if err := rows.Scan(&turn.ID, &turn.UserMessage, &turn.BotResponse, &sources, &used, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &turn.Sources); err != nil {
			return nil, fmt.Errorf("sqlite: decode sources: %w", err)
		}
		if err := json.Unmarshal([]byte(used), &turn.UsedSources); err != nil {
			return nil, fmt.Errorf("sqlite: decode used_sources: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse timestamp: %w", err)
		}
		turn.Timestamp = ts
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate turns: %w", err)
	}

	// Query returned newest first; callers expect oldest first.
	slices.Reverse(turns)
	return turns, nil
}

// Delete implements store.TranscriptStore.
func (t *transcriptStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete session: %w", err)
	}
	return nil
}
