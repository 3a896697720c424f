// Package sourcetest provides a configurable mock Adapter for tests.
package sourcetest

import (
	"context"
	"sync/atomic"

	"github.com/sibylhq/sibyl/internal/source"
)

// MockAdapter implements source.Adapter with injectable behavior.
// The zero value is a healthy adapter that returns no documents.
type MockAdapter struct {
	IDValue     source.ID
	SearchFunc  func(ctx context.Context, query string, limit int) ([]source.Document, error)
	HealthyFunc func() bool

	searchCalls atomic.Int64
}

// Search delegates to SearchFunc and counts the call.
func (m *MockAdapter) Search(ctx context.Context, query string, limit int) ([]source.Document, error) {
	m.searchCalls.Add(1)
	if m.SearchFunc == nil {
		return nil, nil
	}
	return m.SearchFunc(ctx, query, limit)
}

// Healthy delegates to HealthyFunc, defaulting to true.
func (m *MockAdapter) Healthy() bool {
	if m.HealthyFunc == nil {
		return true
	}
	return m.HealthyFunc()
}

// ID returns the configured id.
func (m *MockAdapter) ID() source.ID { return m.IDValue }

// SearchCalls returns how many times Search was invoked.
func (m *MockAdapter) SearchCalls() int { return int(m.searchCalls.Load()) }
