// Package querycache memoizes CloudWatch-style queries in an embedded
// sqlite database, grounded in the transactional key-value store
// pattern the teacher used for its vector-memory backend, fronted by a
// generic in-memory TTL cache for hot keys.
package querycache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loglens/loglens/internal/infra"
	"github.com/loglens/loglens/internal/observability"
)

// TTL policy per query type, per the component design.
const (
	ttlListLogGroups    = 15 * time.Minute
	ttlRecentQuery      = 1 * time.Minute
	ttlHistoricalQuery  = 24 * time.Hour
	ttlLogStatistics    = 5 * time.Minute
	ttlOther            = 1 * time.Hour
	recentQueryCutoff   = 5 * time.Minute
)

// Default eviction limits.
const (
	DefaultMaxSizeBytes = 500 * 1024 * 1024
	DefaultMaxEntries   = 10_000
	evictionBatch       = 100
	evictionTargetRatio = 0.90
)

// Cache is the process-wide Query Cache. All writes serialize through
// db's connection; GetOrSet-style callers share a fronting TTLCache to
// avoid a round-trip to sqlite on every hit.
type Cache struct {
	db       *sql.DB
	front    *infra.TTLCache[string, []byte]
	path     string
	maxBytes int64
	maxCount int
	tracer   *observability.Tracer

	stopSweeper chan struct{}
	sweeperDone chan struct{}
}

// Config configures a Cache.
type Config struct {
	Path          string // empty means in-memory
	MaxSizeBytes  int64
	MaxEntries    int
	SweepInterval time.Duration

	// Tracer, if set, wraps each sqlite read/write in a db.* span. Nil
	// disables tracing entirely rather than emitting no-op spans, so
	// callers that never wired a tracer (tests, scripts) pay nothing.
	Tracer *observability.Tracer
}

// Open creates or attaches to the query-cache database at cfg.Path and
// starts the background sweeper.
func Open(cfg Config) (*Cache, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("querycache: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("querycache: migrate: %w", err)
	}

	maxBytes := cfg.MaxSizeBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSizeBytes
	}
	maxCount := cfg.MaxEntries
	if maxCount <= 0 {
		maxCount = DefaultMaxEntries
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	c := &Cache{
		db:          db,
		front:       infra.NewTTLCache[string, []byte](infra.CacheConfig{DefaultTTL: ttlOther, MaxSize: 2048}),
		path:        path,
		maxBytes:    maxBytes,
		maxCount:    maxCount,
		tracer:      cfg.Tracer,
		stopSweeper: make(chan struct{}),
		sweeperDone: make(chan struct{}),
	}
	go c.sweepLoop(interval)
	return c, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	query_type TEXT NOT NULL,
	log_group TEXT,
	start_time INTEGER,
	end_time INTEGER,
	payload BLOB NOT NULL,
	size_bytes INTEGER NOT NULL,
	log_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_group_window ON cache_entries(log_group, start_time, end_time);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_entries_last_accessed ON cache_entries(last_accessed);
`

// Close stops the sweeper and closes the database.
func (c *Cache) Close() error {
	close(c.stopSweeper)
	<-c.sweeperDone
	c.front.Stop()
	return c.db.Close()
}

// Key computes the canonical cache key for a query: SHA-256 over
// canonical JSON of {type, ...sorted kwargs}, with any "start"/"end"
// keys floored to the minute so sub-minute jitter still collides.
func Key(queryType string, kwargs map[string]any) string {
	normalized := make(map[string]any, len(kwargs)+1)
	for k, v := range kwargs {
		normalized[k] = v
	}
	normalized["type"] = queryType

	if start, ok := normalized["start"]; ok {
		normalized["start"] = floorToMinute(start)
	}
	if end, ok := normalized["end"]; ok {
		normalized["end"] = floorToMinute(end)
	}

	canon := canonicalJSON(normalized)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

func floorToMinute(v any) int64 {
	var ms int64
	switch n := v.(type) {
	case int64:
		ms = n
	case int:
		ms = int64(n)
	case float64:
		ms = int64(n)
	default:
		return 0
	}
	return (ms / 60000) * 60000
}

// canonicalJSON renders m with sorted keys so semantically identical
// kwargs always hash to the same key regardless of map iteration order.
func canonicalJSON(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b, _ := json.Marshal(orderedPairs(m, keys))
	return string(b)
}

func orderedPairs(m map[string]any, keys []string) []any {
	pairs := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// TTLFor returns the TTL that should be applied to a newly written
// entry of queryType, given its end-time (if known).
func TTLFor(queryType string, endTimeMs int64, endTimeKnown bool) time.Duration {
	switch queryType {
	case "list_log_groups":
		return ttlListLogGroups
	case "get_log_statistics":
		return ttlLogStatistics
	case "fetch_logs", "search_logs":
		if !endTimeKnown {
			return ttlRecentQuery
		}
		age := time.Since(time.UnixMilli(endTimeMs))
		if age < recentQueryCutoff {
			return ttlRecentQuery
		}
		return ttlHistoricalQuery
	default:
		return ttlOther
	}
}

// traceDB wraps fn in a db.<operation> span on the entries table when a
// tracer is configured; otherwise it runs fn untraced.
func (c *Cache) traceDB(ctx context.Context, operation string, fn func(context.Context)) {
	if c.tracer == nil {
		fn(ctx)
		return
	}
	spanCtx, span := c.tracer.TraceDatabaseQuery(ctx, operation, "cache_entries")
	defer span.End()
	fn(spanCtx)
}

// Get returns the cached payload for (queryType, kwargs), or nil if
// absent or expired. An expired entry is deleted as a side effect. A
// cache hit bumps hit_count and last_accessed.
func (c *Cache) Get(ctx context.Context, queryType string, kwargs map[string]any) ([]byte, bool) {
	key := Key(queryType, kwargs)

	if payload, ok := c.front.Get(key); ok {
		c.bumpHit(ctx, key)
		return payload, true
	}

	var payload []byte
	var expiresAt int64
	var found bool
	c.traceDB(ctx, "select", func(spanCtx context.Context) {
		row := c.db.QueryRowContext(spanCtx, `SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?`, key)
		found = row.Scan(&payload, &expiresAt) == nil
	})
	if !found {
		return nil, false
	}

	if time.Now().Unix() >= expiresAt {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
		return nil, false
	}

	c.bumpHit(ctx, key)
	c.front.SetWithTTL(key, payload, time.Until(time.Unix(expiresAt, 0)))
	return payload, true
}

func (c *Cache) bumpHit(ctx context.Context, key string) {
	now := time.Now().Unix()
	_, _ = c.db.ExecContext(ctx, `UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed = ? WHERE cache_key = ?`, now, key)
}

// Set inserts or replaces the entry for (queryType, kwargs). logGroup,
// start and end are denormalized into their own columns purely to
// support the (log_group, start_time, end_time) index; the canonical
// key is still derived from Key(). logCount records how many log
// events the cached payload represents, so Statistics can report a
// "total logs cached" figure independent of byte size.
func (c *Cache) Set(ctx context.Context, queryType string, kwargs map[string]any, payload []byte, ttl time.Duration, logCount int) error {
	key := Key(queryType, kwargs)
	now := time.Now()

	logGroup, _ := kwargs["log_group"].(string)
	start := toInt64(kwargs["start"])
	end := toInt64(kwargs["end"])

	var err error
	c.traceDB(ctx, "upsert", func(spanCtx context.Context) {
		_, err = c.db.ExecContext(spanCtx, `
			INSERT INTO cache_entries (cache_key, query_type, log_group, start_time, end_time, payload, size_bytes, log_count, created_at, expires_at, last_accessed, hit_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(cache_key) DO UPDATE SET
				payload = excluded.payload,
				size_bytes = excluded.size_bytes,
				log_count = excluded.log_count,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at,
				last_accessed = excluded.last_accessed
		`, key, queryType, logGroup, start, end, payload, len(payload), logCount, now.Unix(), now.Add(ttl).Unix(), now.Unix())
	})
	if err != nil {
		return fmt.Errorf("querycache: set: %w", err)
	}

	c.front.SetWithTTL(key, payload, ttl)
	return c.enforceLimits(ctx)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Clear removes all entries, or only those for logGroup if non-empty.
func (c *Cache) Clear(ctx context.Context, logGroup string) error {
	c.front.Clear()
	if logGroup == "" {
		_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`)
		return err
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE log_group = ?`, logGroup)
	return err
}

// Stats reports process-wide cache statistics.
type Stats struct {
	EntryCount    int
	TotalBytes    int64
	TotalMB       float64
	TotalLogs     int64
	TotalLogsHits int64
	ExpiredCount  int
	StoragePath   string
	// FrontHitRate is the hit rate of the in-memory front cache that
	// sits in front of the SQLite-backed rows above (0.0-1.0).
	FrontHitRate float64
}

// Statistics returns current cache statistics: entry count, byte size
// (and its MB equivalent), total log events cached, total hits,
// expired-but-unswept entries, the database's storage path, and the
// front (in-memory) cache's hit rate.
func (c *Cache) Statistics(ctx context.Context) (Stats, error) {
	s := Stats{StoragePath: c.path, FrontHitRate: c.front.Stats().HitRate}
	row := c.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size_bytes),0), COALESCE(SUM(log_count),0), COALESCE(SUM(hit_count),0) FROM cache_entries`)
	if err := row.Scan(&s.EntryCount, &s.TotalBytes, &s.TotalLogs, &s.TotalLogsHits); err != nil {
		return s, err
	}
	s.TotalMB = float64(s.TotalBytes) / (1024 * 1024)

	row = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE expires_at < ?`, time.Now().Unix())
	if err := row.Scan(&s.ExpiredCount); err != nil {
		return s, err
	}
	return s, nil
}

// enforceLimits deletes expired rows, then evicts least-recently-used
// batches while the cache remains over its 90%-of-cap targets.
func (c *Cache) enforceLimits(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, time.Now().Unix()); err != nil {
		return err
	}

	for {
		stats, err := c.Statistics(ctx)
		if err != nil {
			return err
		}
		overSize := stats.TotalBytes > int64(float64(c.maxBytes)*evictionTargetRatio)
		overCount := stats.EntryCount > int(float64(c.maxCount)*evictionTargetRatio)
		if !overSize && !overCount {
			return nil
		}
		if _, err := c.db.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE cache_key IN (
				SELECT cache_key FROM cache_entries ORDER BY last_accessed ASC LIMIT ?
			)`, evictionBatch); err != nil {
			return err
		}
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.sweeperDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = c.enforceLimits(ctx)
			cancel()
		case <-c.stopSweeper:
			return
		}
	}
}
