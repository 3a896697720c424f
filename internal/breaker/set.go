package breaker

import (
	"sync"

	"github.com/sibylhq/sibyl/internal/source"
)

// Set holds one breaker per source, created lazily with a shared config.
type Set struct {
	mu            sync.Mutex
	cfg           Config
	breakers      map[source.ID]*Breaker
	onStateChange func(id source.ID, from, to State)
}

// NewSet creates a Set. onStateChange may be nil; it is attached to every
// breaker the set creates.
func NewSet(cfg Config, onStateChange func(id source.ID, from, to State)) *Set {
	cfg.defaults()
	return &Set{
		cfg:           cfg,
		breakers:      make(map[source.ID]*Breaker),
		onStateChange: onStateChange,
	}
}

// Get returns the breaker for id, creating it on first use.
func (s *Set) Get(id source.ID) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[id]
	if !ok {
		b = New(s.cfg)
		if s.onStateChange != nil {
			fn := s.onStateChange
			b.OnStateChange(func(from, to State) { fn(id, from, to) })
		}
		s.breakers[id] = b
	}
	return b
}

// State returns the current state for id. Sources never seen are Closed.
func (s *Set) State(id source.ID) State {
	s.mu.Lock()
	b, ok := s.breakers[id]
	s.mu.Unlock()

	if !ok {
		return Closed
	}
	return b.State()
}
