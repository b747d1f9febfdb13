package db

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prdeck/prdeck/internal/pr"
)

// DefaultCacheTTL is how long a cached PR list stays fresh. Reloads that
// bypass the cache refresh it regardless.
const DefaultCacheTTL = 90 * time.Second

// Cache is a TTL cache of PR lists backed by the pr_cache table. A
// stale or unreadable entry is just a miss; the worker fetches fresh.
type Cache struct {
	db     *DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCache creates a Cache over db with the given TTL. A zero ttl uses
// DefaultCacheTTL.
func NewCache(database *DB, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: database, ttl: ttl, logger: logger, now: time.Now}
}

// Get returns the cached PR list for repoKey if it is still fresh.
func (c *Cache) Get(repoKey string) ([]pr.PR, bool) {
	var payload []byte
	var fetchedAt string
	err := c.db.conn.QueryRow(
		`SELECT payload, fetched_at FROM pr_cache WHERE repo_key = ?`, repoKey,
	).Scan(&payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("reading pr cache", "repo", repoKey, "error", err)
		return nil, false
	}

	at, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil || c.now().UTC().Sub(at) > c.ttl {
		return nil, false
	}

	var prs []pr.PR
	if err := json.Unmarshal(payload, &prs); err != nil {
		c.logger.Warn("decoding pr cache", "repo", repoKey, "error", err)
		return nil, false
	}
	return prs, true
}

// Put stores the PR list for repoKey, replacing any previous entry.
func (c *Cache) Put(repoKey string, prs []pr.PR) {
	payload, err := json.Marshal(prs)
	if err != nil {
		c.logger.Warn("encoding pr cache", "repo", repoKey, "error", err)
		return
	}
	_, err = c.db.conn.Exec(`
		INSERT INTO pr_cache (repo_key, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(repo_key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		repoKey, payload, c.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		c.logger.Warn("writing pr cache", "repo", repoKey, "error", err)
	}
}
