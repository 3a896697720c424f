package rategate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sibylhq/sibyl/internal/source"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGate(cfg Config) (*Gate, *fakeClock) {
	// Anchor at the real clock so context deadlines compare sensibly.
	clock := &fakeClock{t: time.Now()}
	g := New(cfg, nil)
	g.now = clock.now
	return g, clock
}

func TestAcquireWithinBurst(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(Config{Burst: 3, RefillPerSec: 1, WindowLimit: 100, Window: time.Minute})

	for i := range 3 {
		if err := g.Acquire(context.Background(), source.Jira); err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
	}
}

func TestTokensNeverNegativeNorAboveBurst(t *testing.T) {
	t.Parallel()

	g, clock := newTestGate(Config{Burst: 2, RefillPerSec: 100, WindowLimit: 1000, Window: time.Minute})

	st := g.state(source.Slack)
	for range 2 {
		if err := g.Acquire(context.Background(), source.Slack); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if st.tokens < 0 {
		t.Errorf("tokens = %f, want >= 0", st.tokens)
	}

	// A long idle period must not overfill the bucket.
	clock.advance(time.Hour)
	st.mu.Lock()
	st.refill(clock.now())
	if st.tokens > 2 {
		t.Errorf("tokens = %f, want <= burst (2)", st.tokens)
	}
	st.mu.Unlock()
}

func TestAcquireDeadlineExceeded(t *testing.T) {
	t.Parallel()

	// One token, glacial refill: the second Acquire cannot be admitted soon.
	g, _ := newTestGate(Config{Burst: 1, RefillPerSec: 0.001, WindowLimit: 100, Window: time.Minute})

	if err := g.Acquire(context.Background(), source.GitHub); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.Acquire(ctx, source.GitHub); !errors.Is(err, ErrDeadlineExceeded) {
		t.Errorf("second Acquire = %v, want ErrDeadlineExceeded", err)
	}
}

func TestSlidingWindowBlocks(t *testing.T) {
	t.Parallel()

	g, clock := newTestGate(Config{Burst: 100, RefillPerSec: 100, WindowLimit: 2, Window: time.Minute})

	for range 2 {
		if err := g.Acquire(context.Background(), source.Web); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx, source.Web); !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Acquire over window = %v, want ErrDeadlineExceeded", err)
	}

	// After the window slides, admission resumes.
	clock.advance(61 * time.Second)
	if err := g.Acquire(context.Background(), source.Web); err != nil {
		t.Errorf("Acquire after window slide: %v", err)
	}
}

func TestPenalizeDelaysAdmission(t *testing.T) {
	t.Parallel()

	g, clock := newTestGate(Config{Burst: 10, RefillPerSec: 10, WindowLimit: 100, Window: time.Minute})

	g.Penalize(source.Confluence, 30*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx, source.Confluence); !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Acquire under penalty = %v, want ErrDeadlineExceeded", err)
	}

	clock.advance(31 * time.Second)
	if err := g.Acquire(context.Background(), source.Confluence); err != nil {
		t.Errorf("Acquire after penalty: %v", err)
	}
}

func TestPenalizeWithoutRetryAfterDrainsBucket(t *testing.T) {
	t.Parallel()

	g, clock := newTestGate(Config{Burst: 10, RefillPerSec: 1, WindowLimit: 100, Window: time.Minute})

	// A 429 with no Retry-After header arrives as a zero duration.
	g.Penalize(source.Slack, 0)

	// The drained bucket blocks until the refill trickles one token back.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx, source.Slack); !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Acquire after drain = %v, want ErrDeadlineExceeded", err)
	}

	clock.advance(2 * time.Second)
	if err := g.Acquire(context.Background(), source.Slack); err != nil {
		t.Errorf("Acquire after refill: %v", err)
	}
}

func TestPenaltyDoesNotShrink(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(Config{})
	g.Penalize(source.Jira, time.Minute)
	g.Penalize(source.Jira, time.Second)

	st := g.state(source.Jira)
	st.mu.Lock()
	defer st.mu.Unlock()
	if got := st.penaltyUntil.Sub(g.now()); got < 59*time.Second {
		t.Errorf("penaltyUntil-now = %v, want >= 59s", got)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	t.Parallel()

	g, _ := newTestGate(Config{Burst: 1, RefillPerSec: 0.001, WindowLimit: 100, Window: time.Minute})
	if err := g.Acquire(context.Background(), source.Linear); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// No deadline on the context, so Acquire goes to sleep and must wake on cancel.
	if err := g.Acquire(ctx, source.Linear); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire cancelled = %v, want context.Canceled", err)
	}
}

func TestPerSourceOverride(t *testing.T) {
	t.Parallel()

	g := New(Config{}, map[source.ID]Config{
		source.Slack: {Burst: 1, RefillPerSec: 0.001, WindowLimit: 100, Window: time.Minute},
	})

	// Default source gets the permissive bucket.
	for range 5 {
		if err := g.Acquire(context.Background(), source.Jira); err != nil {
			t.Fatalf("default Acquire: %v", err)
		}
	}

	// Overridden source runs out after one.
	if err := g.Acquire(context.Background(), source.Slack); err != nil {
		t.Fatalf("slack Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx, source.Slack); !errors.Is(err, ErrDeadlineExceeded) {
		t.Errorf("slack second Acquire = %v, want ErrDeadlineExceeded", err)
	}
}
