// Package resultcache keeps oversized tool results out of the LLM's
// context window by swapping them for a compact summary envelope and
// serving paginated, filterable chunks on demand. It is backed by an
// embedded sqlite database using the same transactional key-value
// pattern as the query cache.
package resultcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DefaultTTL is applied to every cached result unless overridden.
	DefaultTTL = time.Hour

	// DefaultMaxSizeBytes is the size cap that triggers LRU eviction.
	DefaultMaxSizeBytes = 100 * 1024 * 1024
	evictionTargetRatio = 0.80

	// MaxChunkLimit is the hard ceiling fetch_chunk enforces regardless
	// of what a caller requests.
	MaxChunkLimit = 200

	// maxSampleEvents bounds how many representative events are
	// embedded in a summary.
	maxSampleEvents = 5

	// FetchInstructions is the fixed guidance string returned alongside
	// every cached summary telling the LLM how to retrieve chunks.
	FetchInstructions = "This result was too large to include inline. Call fetch_cached_result_chunk(cache_id=<cache_id>, offset=0, limit=<=200) to page through it."
)

// Cache is the process-wide Result Cache.
type Cache struct {
	db       *sql.DB
	maxBytes int64
}

// Config configures a Cache.
type Config struct {
	Path         string
	MaxSizeBytes int64
}

// Open creates or attaches to the result-cache database at cfg.Path.
func Open(cfg Config) (*Cache, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("resultcache: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("resultcache: migrate: %w", err)
	}

	maxBytes := cfg.MaxSizeBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSizeBytes
	}
	return &Cache{db: db, maxBytes: maxBytes}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS cached_results (
	cache_id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	query_params TEXT NOT NULL,
	result_data TEXT NOT NULL,
	event_count INTEGER NOT NULL,
	data_size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cached_results_expires ON cached_results(expires_at);
CREATE INDEX IF NOT EXISTS idx_cached_results_created ON cached_results(created_at DESC);
`

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// CacheID derives the primary key for a (toolName, params) pair:
// "result_" + 16 hex characters of SHA256(toolName||canonicalParams).
func CacheID(toolName string, params map[string]any) string {
	paramsJSON, _ := json.Marshal(params)
	sum := sha256.Sum256(append([]byte(toolName), paramsJSON...))
	return "result_" + hex.EncodeToString(sum[:])[:16]
}

// Summary mirrors models.ResultSummary but is kept local to avoid an
// import cycle with the envelope helpers below; callers map it onto
// models.ResultSummary at the orchestrator boundary.
type Summary struct {
	CacheID         string         `json:"cache_id"`
	TotalEvents     int            `json:"total_events"`
	TimeRange       *TimeRange     `json:"time_range,omitempty"`
	SampleEvents    []string       `json:"sample_events,omitempty"`
	EventStatistics map[string]int `json:"event_statistics"`
}

// TimeRange bounds a set of events.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Span  int64 `json:"span_ms"`
}

// Envelope is the structure returned to the LLM in place of the full
// tool result, per to_context_dict in the component design.
type Envelope struct {
	Cached        bool           `json:"cached"`
	CacheID       string         `json:"cache_id"`
	Summary       Summary        `json:"summary"`
	OriginalQuery map[string]any `json:"original_query"`
	CacheInfo     CacheInfo      `json:"cache_info"`
	Instructions  string         `json:"instructions"`
}

// CacheInfo reports when an entry was cached and how long it remains
// valid.
type CacheInfo struct {
	CachedAt          time.Time `json:"cached_at"`
	ExpiresInSeconds  int64     `json:"expires_in_seconds"`
}

// Cache writes a tool result under (toolName, params), evicting if the
// size cap is exceeded, and returns the summary envelope that should
// replace the result in the conversation.
func (c *Cache) Cache(ctx context.Context, toolName string, params map[string]any, result map[string]any, ttl time.Duration) (Envelope, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id := CacheID(toolName, params)
	events := extractEvents(result)
	summary := summarize(id, events)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("resultcache: marshal result: %w", err)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return Envelope{}, fmt.Errorf("resultcache: marshal params: %w", err)
	}

	now := time.Now()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cached_results (cache_id, tool_name, query_params, result_data, event_count, data_size_bytes, created_at, expires_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(cache_id) DO UPDATE SET
			tool_name = excluded.tool_name,
			query_params = excluded.query_params,
			result_data = excluded.result_data,
			event_count = excluded.event_count,
			data_size_bytes = excluded.data_size_bytes,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed
	`, id, toolName, string(paramsJSON), string(resultJSON), len(events), len(resultJSON), now.Unix(), now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return Envelope{}, fmt.Errorf("resultcache: insert: %w", err)
	}

	if err := c.enforceSizeCap(ctx); err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Cached:        true,
		CacheID:       id,
		Summary:       summary,
		OriginalQuery: params,
		CacheInfo: CacheInfo{
			CachedAt:         now,
			ExpiresInSeconds: int64(ttl.Seconds()),
		},
		Instructions: FetchInstructions,
	}, nil
}

// extractEvents looks for result["events"] or result["logs"], returning
// each element re-marshaled as a map for uniform downstream handling.
func extractEvents(result map[string]any) []map[string]any {
	raw, ok := result["events"]
	if !ok {
		raw, ok = result["logs"]
		if !ok {
			return nil
		}
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	events := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			events = append(events, m)
		}
	}
	return events
}

func summarize(cacheID string, events []map[string]any) Summary {
	s := Summary{
		CacheID:         cacheID,
		TotalEvents:     len(events),
		EventStatistics: classifyEvents(events),
	}
	if len(events) > 0 {
		s.TimeRange = timeRangeOf(events)
		s.SampleEvents = sampleOf(events)
	}
	return s
}

func timeRangeOf(events []map[string]any) *TimeRange {
	var min, max int64
	first := true
	for _, e := range events {
		ts := timestampOf(e)
		if first {
			min, max = ts, ts
			first = false
			continue
		}
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return &TimeRange{Start: min, End: max, Span: max - min}
}

func timestampOf(e map[string]any) int64 {
	switch v := e["timestamp"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// sampleOf returns the first, last and evenly-spaced middle messages,
// up to maxSampleEvents items.
func sampleOf(events []map[string]any) []string {
	n := len(events)
	if n <= maxSampleEvents {
		out := make([]string, n)
		for i, e := range events {
			out[i] = messageOf(e)
		}
		return out
	}

	idxs := make([]int, 0, maxSampleEvents)
	idxs = append(idxs, 0)
	step := float64(n-1) / float64(maxSampleEvents-1)
	for i := 1; i < maxSampleEvents-1; i++ {
		idxs = append(idxs, int(float64(i)*step))
	}
	idxs = append(idxs, n-1)

	out := make([]string, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, messageOf(events[i]))
	}
	return out
}

func messageOf(e map[string]any) string {
	if s, ok := e["message"].(string); ok {
		return s
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// classifyEvents buckets events by a case-insensitive substring scan of
// their message for ERROR/EXCEPTION, WARN, INFO, DEBUG, falling back to
// OTHER.
func classifyEvents(events []map[string]any) map[string]int {
	counts := map[string]int{"ERROR": 0, "WARN": 0, "INFO": 0, "DEBUG": 0, "OTHER": 0}
	for _, e := range events {
		msg := strings.ToUpper(messageOf(e))
		switch {
		case strings.Contains(msg, "ERROR") || strings.Contains(msg, "EXCEPTION"):
			counts["ERROR"]++
		case strings.Contains(msg, "WARN"):
			counts["WARN"]++
		case strings.Contains(msg, "INFO"):
			counts["INFO"]++
		case strings.Contains(msg, "DEBUG"):
			counts["DEBUG"]++
		default:
			counts["OTHER"]++
		}
	}
	return counts
}

// ChunkRequest parameterizes FetchChunk.
type ChunkRequest struct {
	CacheID       string
	Offset        int
	Limit         int
	FilterPattern string
	TimeStart     int64
	TimeEnd       int64
}

// ChunkResult is returned from FetchChunk.
type ChunkResult struct {
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
	Hint           string   `json:"hint,omitempty"`
	Events         []string `json:"events,omitempty"`
	Count          int      `json:"count"`
	Offset         int      `json:"offset"`
	Limit          int      `json:"limit"`
	TotalFiltered  int      `json:"total_filtered"`
	TotalCached    int      `json:"total_cached"`
	HasMore        bool     `json:"has_more"`
	FiltersApplied []string `json:"filters_applied,omitempty"`
}

// FetchChunk loads the cached entry, applies substring then time-window
// filters in order, and paginates the result.
func (c *Cache) FetchChunk(ctx context.Context, req ChunkRequest) ChunkResult {
	limit := req.Limit
	if limit <= 0 || limit > MaxChunkLimit {
		limit = MaxChunkLimit
	}

	var resultData string
	var expiresAt int64
	row := c.db.QueryRowContext(ctx, `SELECT result_data, expires_at FROM cached_results WHERE cache_id = ?`, req.CacheID)
	if err := row.Scan(&resultData, &expiresAt); err != nil {
		return ChunkResult{Success: false, Error: "not found", Hint: "the cache_id may be stale or never existed; re-run the original query"}
	}

	if time.Now().Unix() >= expiresAt {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cached_results WHERE cache_id = ?`, req.CacheID)
		return ChunkResult{Success: false, Error: "expired", Hint: "the cached result expired; re-run the original query"}
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(resultData), &result); err != nil {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cached_results WHERE cache_id = ?`, req.CacheID)
		return ChunkResult{Success: false, Error: "corrupted cache entry", Hint: "action_required: the entry was removed; re-run the original query"}
	}

	_, _ = c.db.ExecContext(ctx, `UPDATE cached_results SET last_accessed = ?, access_count = access_count + 1 WHERE cache_id = ?`, time.Now().Unix(), req.CacheID)

	events := extractEvents(result)
	var applied []string

	if req.FilterPattern != "" {
		events = filterBySubstring(events, req.FilterPattern)
		applied = append(applied, "filter_pattern")
	}
	if req.TimeStart != 0 || req.TimeEnd != 0 {
		events = filterByTimeWindow(events, req.TimeStart, req.TimeEnd)
		applied = append(applied, "time_window")
	}

	totalFiltered := len(events)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if offset > totalFiltered {
		offset = totalFiltered
	}
	if end > totalFiltered {
		end = totalFiltered
	}
	page := events[offset:end]

	out := make([]string, len(page))
	for i, e := range page {
		out[i] = messageOf(e)
	}

	return ChunkResult{
		Success:        true,
		Events:         out,
		Count:          len(out),
		Offset:         offset,
		Limit:          limit,
		TotalFiltered:  totalFiltered,
		TotalCached:    len(extractEvents(result)),
		HasMore:        offset+len(out) < totalFiltered,
		FiltersApplied: applied,
	}
}

func filterBySubstring(events []map[string]any, pattern string) []map[string]any {
	needle := strings.ToLower(pattern)
	var out []map[string]any
	for _, e := range events {
		if strings.Contains(strings.ToLower(messageOf(e)), needle) {
			out = append(out, e)
		}
	}
	return out
}

func filterByTimeWindow(events []map[string]any, start, end int64) []map[string]any {
	var out []map[string]any
	for _, e := range events {
		ts := timestampOf(e)
		if start != 0 && ts < start {
			continue
		}
		if end != 0 && ts > end {
			continue
		}
		out = append(out, e)
	}
	return out
}

// enforceSizeCap evicts least-recently-accessed entries until the total
// payload size is at or below evictionTargetRatio of the cap.
func (c *Cache) enforceSizeCap(ctx context.Context) error {
	for {
		var total int64
		row := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(data_size_bytes),0) FROM cached_results`)
		if err := row.Scan(&total); err != nil {
			return err
		}
		if total <= int64(float64(c.maxBytes)*evictionTargetRatio) {
			return nil
		}
		if _, err := c.db.ExecContext(ctx, `
			DELETE FROM cached_results WHERE cache_id IN (
				SELECT cache_id FROM cached_results ORDER BY last_accessed ASC LIMIT 10
			)`); err != nil {
			return err
		}
	}
}

// ValidationReport is returned by ValidateAndClean.
type ValidationReport struct {
	TotalEntries    int      `json:"total_entries"`
	CorruptedCount  int      `json:"corrupted_count"`
	CorruptedIDs    []string `json:"corrupted_ids"`
	CorruptionRate  float64  `json:"corruption_rate"`
}

// ValidateAndClean scans every row, deletes any whose payload fails to
// parse as JSON, and reports the outcome. It is an administrative
// operation, not part of the hot read/write path.
func (c *Cache) ValidateAndClean(ctx context.Context) (ValidationReport, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT cache_id, result_data FROM cached_results`)
	if err != nil {
		return ValidationReport{}, err
	}
	defer rows.Close()

	var report ValidationReport
	var corrupted []string
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return ValidationReport{}, err
		}
		report.TotalEntries++
		var v any
		if json.Unmarshal([]byte(data), &v) != nil {
			corrupted = append(corrupted, id)
		}
	}
	if err := rows.Err(); err != nil {
		return ValidationReport{}, err
	}

	for _, id := range corrupted {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cached_results WHERE cache_id = ?`, id); err != nil {
			return ValidationReport{}, err
		}
	}

	report.CorruptedCount = len(corrupted)
	report.CorruptedIDs = corrupted
	if report.TotalEntries > 0 {
		report.CorruptionRate = float64(report.CorruptedCount) / float64(report.TotalEntries)
	}
	return report, nil
}
