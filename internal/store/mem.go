package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemSettings is an in-memory SettingsStore.
type MemSettings struct {
	mu   sync.RWMutex
	data map[string]Settings
}

// Compile-time interface check.
var _ SettingsStore = (*MemSettings)(nil)

// NewMemSettings creates an empty in-memory settings store.
func NewMemSettings() *MemSettings {
	return &MemSettings{data: make(map[string]Settings)}
}

// Get implements SettingsStore.
func (m *MemSettings) Get(_ context.Context, userID string) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.data[userID]
	if !ok {
		return Settings{}, ErrNotFound
	}
	return s, nil
}

// Put implements SettingsStore.
func (m *MemSettings) Put(_ context.Context, userID string, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[userID] = s
	return nil
}

// MemTranscripts is an in-memory TranscriptStore.
type MemTranscripts struct {
	mu   sync.RWMutex
	data map[string][]Turn
}

// Compile-time interface check.
var _ TranscriptStore = (*MemTranscripts)(nil)

// NewMemTranscripts creates an empty in-memory transcript store.
func NewMemTranscripts() *MemTranscripts {
	return &MemTranscripts{data: make(map[string][]Turn)}
}

// Append implements TranscriptStore.
func (m *MemTranscripts) Append(_ context.Context, sessionID string, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[sessionID] = append(m.data[sessionID], turn)
	return nil
}

// Recent implements TranscriptStore.
func (m *MemTranscripts) Recent(_ context.Context, sessionID string, n int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.data[sessionID]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Delete implements TranscriptStore.
func (m *MemTranscripts) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, sessionID)
	return nil
}
