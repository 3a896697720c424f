// Package rategate provides per-source admission control combining a token
// bucket (burst smoothing) with a sliding window counter (upstream quota).
// A request is admitted only when both bounds allow it; otherwise Acquire
// sleeps until the earliest instant both would admit, or gives up when that
// instant lies beyond the context deadline.
package rategate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

// ErrDeadlineExceeded is returned when the gate cannot admit the request
// before the context deadline.
var ErrDeadlineExceeded = errors.New("rategate: cannot admit before deadline")

// Config bounds one source.
type Config struct {
	// Burst is the token bucket capacity.
	Burst int `yaml:"burst"`

	// RefillPerSec is the bucket refill rate in tokens per second.
	RefillPerSec float64 `yaml:"refill_per_sec"`

	// WindowLimit is the maximum number of requests per rolling window.
	WindowLimit int `yaml:"window_limit"`

	// Window is the rolling window duration.
	Window time.Duration `yaml:"window"`
}

// defaults fills zero values with the permissive defaults.
func (c *Config) defaults() {
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.RefillPerSec <= 0 {
		c.RefillPerSec = 5
	}
	if c.WindowLimit <= 0 {
		c.WindowLimit = 60
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

// Gate admits requests per source. Safe for concurrent use; mutation is
// serialized per source so one slow source never blocks another.
type Gate struct {
	mu       sync.Mutex
	defaults Config
	perID    map[source.ID]Config
	states   map[source.ID]*state

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// state is the mutable limiter state for one source.
type state struct {
	mu           sync.Mutex
	cfg          Config
	tokens       float64
	lastRefill   time.Time
	events       []time.Time // admission timestamps inside the window, oldest first
	penaltyUntil time.Time   // set by Penalize on upstream 429
}

// New creates a Gate. overrides maps source ids to non-default bounds;
// sources absent from the map use defaults.
func New(defaults Config, overrides map[source.ID]Config) *Gate {
	defaults.defaults()
	per := make(map[source.ID]Config, len(overrides))
	for id, cfg := range overrides {
		cfg.defaults()
		per[id] = cfg
	}
	return &Gate{
		defaults: defaults,
		perID:    per,
		states:   make(map[source.ID]*state),
		now:      time.Now,
	}
}

// Acquire blocks until the source admits one request or the context ends.
// It returns nil on admission, ErrDeadlineExceeded when the computed
// next-admit instant lies past the context deadline, and ctx.Err() when the
// context is cancelled while sleeping.
func (g *Gate) Acquire(ctx context.Context, id source.ID) error {
	st := g.state(id)

	for {
		st.mu.Lock()
		now := g.now()
		st.refill(now)
		st.prune(now)

		wait := st.nextAdmit(now)
		if wait <= 0 {
			st.tokens--
			st.events = append(st.events, now)
			st.mu.Unlock()
			return nil
		}
		st.mu.Unlock()

		if deadline, ok := ctx.Deadline(); ok && now.Add(wait).After(deadline) {
			return ErrDeadlineExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Penalize records an upstream 429: the bucket is drained, and when the
// response carried a Retry-After the source admits nothing until it has
// elapsed. A 429 without the header still drains the bucket, so the next
// admit waits for a full refill.
func (g *Gate) Penalize(id source.ID, retryAfter time.Duration) {
	st := g.state(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.tokens = 0
	if retryAfter <= 0 {
		return
	}
	until := g.now().Add(retryAfter)
	if until.After(st.penaltyUntil) {
		st.penaltyUntil = until
	}
}

// Remaining returns the number of requests the sliding window still admits.
// Used by status reporting only.
func (g *Gate) Remaining(id source.ID) int {
	st := g.state(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.prune(g.now())
	return st.cfg.WindowLimit - len(st.events)
}

// state returns the per-source state, creating it lazily.
func (g *Gate) state(id source.ID) *state {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[id]
	if !ok {
		cfg, found := g.perID[id]
		if !found {
			cfg = g.defaults
		}
		st = &state{
			cfg:        cfg,
			tokens:     float64(cfg.Burst),
			lastRefill: g.now(),
		}
		g.states[id] = st
	}
	return st
}

// refill adds tokens for the elapsed time, clamped to the bucket capacity.
// Caller holds st.mu.
func (st *state) refill(now time.Time) {
	elapsed := now.Sub(st.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	st.tokens += elapsed * st.cfg.RefillPerSec
	if cap := float64(st.cfg.Burst); st.tokens > cap {
		st.tokens = cap
	}
	st.lastRefill = now
}

// prune drops window events older than the rolling window. Caller holds st.mu.
func (st *state) prune(now time.Time) {
	cutoff := now.Add(-st.cfg.Window)
	i := 0
	for i < len(st.events) && st.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		st.events = st.events[i:]
	}
}

// nextAdmit returns how long until both bounds admit one request.
// Zero or negative means admit now. Caller holds st.mu.
func (st *state) nextAdmit(now time.Time) time.Duration {
	var wait time.Duration

	if until := st.penaltyUntil.Sub(now); until > wait {
		wait = until
	}

	if st.tokens < 1 {
		need := (1 - st.tokens) / st.cfg.RefillPerSec
		if d := time.Duration(need * float64(time.Second)); d > wait {
			wait = d
		}
	}

	if len(st.events) >= st.cfg.WindowLimit {
		// The oldest event must slide out of the window first.
		oldest := st.events[len(st.events)-st.cfg.WindowLimit]
		if d := oldest.Add(st.cfg.Window).Sub(now); d > wait {
			wait = d
		}
	}

	return wait
}
