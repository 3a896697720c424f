package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sibylhq/sibyl/internal/store"
)

// settingsStore implements store.SettingsStore on SQLite. The settings
// object is stored as one JSON payload per user: the schema never needs to
// chase the open set of credential keys.
type settingsStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ store.SettingsStore = (*settingsStore)(nil)

// Get implements store.SettingsStore.
func (s *settingsStore) Get(ctx context.Context, userID string) (store.Settings, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM settings WHERE user_id = ?`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Settings{}, store.ErrNotFound
	}
	if err != nil {
		return store.Settings{}, fmt.Errorf("sqlite: get settings: %w", err)
	}

	var out store.Settings
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return store.Settings{}, fmt.Errorf("sqlite: decode settings: %w", err)
	}
	return out, nil
}

// Put implements store.SettingsStore.
func (s *settingsStore) Put(ctx context.Context, userID string, settings store.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("sqlite: encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, payload, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT (user_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		userID, string(payload))
	if err != nil {
		return fmt.Errorf("sqlite: put settings: %w", err)
	}
	return nil
}
