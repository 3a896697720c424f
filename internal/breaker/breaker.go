// Package breaker implements a three-state circuit breaker that isolates a
// failing source. One breaker exists per source for the lifetime of the
// process; state does not survive restart.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker's position.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns a human-readable label for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("breaker: circuit open")

// Config controls the failure thresholds and recovery schedule.
type Config struct {
	// FailureThreshold is the failure rate in [0,1] that trips the
	// breaker once MinSamples results are in the window. Default: 0.5.
	FailureThreshold float64 `yaml:"failure_threshold"`

	// MinSamples is the minimum number of results in the rolling window
	// before the rate is meaningful. Default: 5.
	MinSamples int `yaml:"min_samples"`

	// Window is the rolling sample window. Default: 60s.
	Window time.Duration `yaml:"window"`

	// CoolDown is how long the breaker stays open before probing.
	// Doubled after every failed probe round, capped at CoolDownMax.
	// Default: 30s.
	CoolDown time.Duration `yaml:"cool_down"`

	// CoolDownMax caps the doubled cooldown. Default: 5m.
	CoolDownMax time.Duration `yaml:"cool_down_max"`

	// Probes is the number of concurrent half-open probes that must all
	// succeed before closing. Default: 2.
	Probes int `yaml:"probes"`
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = 0.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.CoolDownMax <= 0 {
		c.CoolDownMax = 5 * time.Minute
	}
	if c.Probes <= 0 {
		c.Probes = 2
	}
}

type sample struct {
	at time.Time
	ok bool
}

// Breaker is one circuit. Safe for concurrent use.
type Breaker struct {
	cfg Config

	// onStateChange is called outside the lock on every transition.
	// Keeps the breaker decoupled from logging and metrics.
	onStateChange func(from, to State)

	mu            sync.Mutex
	state         State
	samples       []sample
	cooldown      time.Duration
	reopenAt      time.Time
	probeInFlight int
	probeOK       int
	probeFailed   bool

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	cfg.defaults()
	return &Breaker{
		cfg:      cfg,
		state:    Closed,
		cooldown: cfg.CoolDown,
		now:      time.Now,
	}
}

// OnStateChange registers a transition callback. Must be set before use.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.onStateChange = fn
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrOpen until the cooldown elapses, then admits up to Probes concurrent
// probe calls in half-open.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	var transition *[2]State
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return nil

	case Open:
		if b.now().Before(b.reopenAt) {
			b.mu.Unlock()
			return ErrOpen
		}
		// Cooldown elapsed: begin a probe round.
		transition = &[2]State{Open, HalfOpen}
		b.state = HalfOpen
		b.probeInFlight = 1
		b.probeOK = 0
		b.probeFailed = false
		b.mu.Unlock()

	case HalfOpen:
		if b.probeInFlight >= b.cfg.Probes {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probeInFlight++
		b.mu.Unlock()
	}

	if transition != nil && b.onStateChange != nil {
		b.onStateChange(transition[0], transition[1])
	}
	return nil
}

// Report records the outcome of an admitted call. Cancelled calls must not
// be reported; the caller filters those out along with permanent 4xx
// client errors.
func (b *Breaker) Report(success bool) {
	b.mu.Lock()

	var from, to State
	changed := false

	switch b.state {
	case Closed:
		now := b.now()
		b.samples = append(b.samples, sample{at: now, ok: success})
		b.pruneLocked(now)
		if b.tripLocked() {
			from, to, changed = Closed, Open, true
			b.openLocked(now)
		}

	case HalfOpen:
		if b.probeInFlight > 0 {
			b.probeInFlight--
		}
		if success {
			b.probeOK++
		} else {
			b.probeFailed = true
		}

		if b.probeFailed {
			// Any probe failure reopens with a doubled cooldown.
			from, to, changed = HalfOpen, Open, true
			b.cooldown *= 2
			if b.cooldown > b.cfg.CoolDownMax {
				b.cooldown = b.cfg.CoolDownMax
			}
			b.openLocked(b.now())
		} else if b.probeOK >= b.cfg.Probes {
			from, to, changed = HalfOpen, Closed, true
			b.state = Closed
			b.samples = nil
			b.cooldown = b.cfg.CoolDown
		}

	case Open:
		// A straggler from before the trip; the window already decided.
	}

	b.mu.Unlock()

	if changed && b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Surface open-but-cooled as open; Allow performs the actual transition.
	return b.state
}

// openLocked moves to Open and schedules the next probe round.
// Caller holds b.mu.
func (b *Breaker) openLocked(now time.Time) {
	b.state = Open
	b.reopenAt = now.Add(b.cooldown)
	b.samples = nil
	b.probeInFlight = 0
	b.probeOK = 0
	b.probeFailed = false
}

// pruneLocked drops samples outside the rolling window. Caller holds b.mu.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = b.samples[i:]
	}
}

// tripLocked reports whether the failure rate over the window crosses the
// threshold. Caller holds b.mu.
func (b *Breaker) tripLocked() bool {
	if len(b.samples) < b.cfg.MinSamples {
		return false
	}
	failed := 0
	for _, s := range b.samples {
		if !s.ok {
			failed++
		}
	}
	return float64(failed)/float64(len(b.samples)) >= b.cfg.FailureThreshold
}
