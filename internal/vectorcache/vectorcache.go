// Package vectorcache is the persistent semantic index over previously
// fetched chunks. Lookups are brute-force cosine over all stored vectors,
// which stays comfortably fast at the default capacity; persistence is
// SQLite so the cache survives restarts.
package vectorcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sibylhq/sibyl/internal/embed"
	"github.com/sibylhq/sibyl/internal/source"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

// Config bounds the cache.
type Config struct {
	// Capacity is the maximum number of stored chunks before eviction.
	// Default: 100000.
	Capacity int `yaml:"capacity"`

	// MinScore is the similarity floor: Query never returns hits scoring
	// below it regardless of what the caller asks for. Default: 0.35.
	MinScore float64 `yaml:"min_score"`
}

func (c *Config) defaults() {
	if c.Capacity <= 0 {
		c.Capacity = 100000
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.35
	}
}

// Entry is one stored chunk with its vector.
type Entry struct {
	Source  source.ID
	DocID   string
	Ordinal int
	Title   string
	URL     string
	Body    string
	Vector  []float32
}

// Hit is a query result.
type Hit struct {
	Entry
	Score float64
}

// Cache is the SQLite-backed index. Safe for concurrent use; SQLite
// serializes writes behind a single connection.
type Cache struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// Open opens (creating if necessary) the cache database at path. The
// database uses WAL mode, a 5 s busy timeout, and a single connection.
func Open(path string, cfg Config, logger *slog.Logger) (*Cache, error) {
	cfg.defaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("vectorcache: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorcache: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vectorcache: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vectorcache: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Cache{
		db:     db,
		cfg:    cfg,
		logger: logger.With("component", "vectorcache"),
		now:    time.Now,
	}, nil
}

// Insert stores entries in one transaction. Keyed on (source, doc_id,
// ordinal): re-inserting an existing chunk replaces its content and vector
// without creating a duplicate, so fire-and-forget writers need no
// read-before-write.
func (c *Cache) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorcache: begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (source, doc_id, ordinal, title, url, body, embedding, created_at, last_hit_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, doc_id, ordinal) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			body = excluded.body,
			embedding = excluded.embedding,
			last_hit_at = excluded.last_hit_at`)
	if err != nil {
		return fmt.Errorf("vectorcache: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := c.now().Unix()
	for _, e := range entries {
		if len(e.Vector) != embed.Dim {
			return fmt.Errorf("vectorcache: entry %s/%s has %d dims, want %d", e.Source, e.DocID, len(e.Vector), embed.Dim)
		}
		emb, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("vectorcache: encode embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, string(e.Source), e.DocID, e.Ordinal, e.Title, e.URL, e.Body, string(emb), now, now); err != nil {
			return fmt.Errorf("vectorcache: insert %s/%s/%d: %w", e.Source, e.DocID, e.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vectorcache: commit insert: %w", err)
	}
	return nil
}

// Query returns up to k chunks scoring at least minScore against vector,
// best first. minScore is clamped up to the configured floor. Returned
// chunks have their last_hit_at refreshed, which is what makes eviction LRU.
func (c *Cache) Query(ctx context.Context, vector []float32, k int, minScore float64) ([]Hit, error) {
	if len(vector) != embed.Dim {
		return nil, fmt.Errorf("vectorcache: query vector has %d dims, want %d", len(vector), embed.Dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if minScore < c.cfg.MinScore {
		minScore = c.cfg.MinScore
	}

	rows, err := c.db.QueryContext(ctx, `SELECT source, doc_id, ordinal, title, url, body, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("vectorcache: query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			e       Entry
			src     string
			embText string
		)
		if err := rows.Scan(&src, &e.DocID, &e.Ordinal, &e.Title, &e.URL, &e.Body, &embText); err != nil {
			return nil, fmt.Errorf("vectorcache: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(embText), &e.Vector); err != nil {
			c.logger.Warn("skipping chunk with undecodable embedding", "source", src, "doc_id", e.DocID)
			continue
		}
		e.Source = source.ID(src)

		if score := embed.Cosine(vector, e.Vector); score >= minScore {
			hits = append(hits, Hit{Entry: e, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorcache: iterate: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}

	if err := c.touch(ctx, hits); err != nil {
		// Recency bookkeeping must not fail the lookup.
		c.logger.Warn("failed to refresh last_hit_at", "error", err)
	}

	return hits, nil
}

// touch refreshes last_hit_at and bumps hit_count for the returned hits.
func (c *Cache) touch(ctx context.Context, hits []Hit) error {
	if len(hits) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := c.now().Unix()
	for _, h := range hits {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunks SET last_hit_at = ?, hit_count = hit_count + 1 WHERE source = ? AND doc_id = ? AND ordinal = ?`,
			now, string(h.Source), h.DocID, h.Ordinal); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Evict deletes least-recently-hit chunks until at most target remain.
// Returns the number of deleted rows.
func (c *Cache) Evict(ctx context.Context, target int) (int, error) {
	if target < 0 {
		target = 0
	}

	count, err := c.Count(ctx)
	if err != nil {
		return 0, err
	}
	excess := count - target
	if excess <= 0 {
		return 0, nil
	}

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM chunks WHERE rowid IN (
			SELECT rowid FROM chunks ORDER BY last_hit_at ASC, created_at ASC LIMIT ?
		)`, excess)
	if err != nil {
		return 0, fmt.Errorf("vectorcache: evict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("vectorcache: evict rows affected: %w", err)
	}

	c.logger.Info("evicted chunks", "deleted", n, "target", target)
	return int(n), nil
}

// EvictOverCapacity trims the cache down to its configured capacity.
func (c *Cache) EvictOverCapacity(ctx context.Context) (int, error) {
	return c.Evict(ctx, c.cfg.Capacity)
}

// Count returns the number of stored chunks.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectorcache: count: %w", err)
	}
	return n, nil
}

// DeleteSource removes every chunk belonging to one source. Used when a
// source is disconnected from settings.
func (c *Cache) DeleteSource(ctx context.Context, id source.ID) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, string(id))
	if err != nil {
		return 0, fmt.Errorf("vectorcache: delete source %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Flush forces the WAL into the main database file. Called on shutdown and
// by the maintenance job so a crash loses at most the recent window.
func (c *Cache) Flush(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("vectorcache: checkpoint: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (c *Cache) Close() error {
	var errs []string
	if err := c.Flush(context.Background()); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("vectorcache: close: %s", strings.Join(errs, "; "))
	}
	return nil
}
