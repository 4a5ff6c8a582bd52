package models

import "time"

// QueryCacheEntry is a memoized CloudWatch query result keyed by the
// canonical request the tool executed.
type QueryCacheEntry struct {
	Key        string    `json:"key"`
	ToolName   string    `json:"tool_name"`
	Payload    []byte    `json:"payload"`
	SizeBytes  int       `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastHitAt  time.Time `json:"last_hit_at"`
	HitCount   int       `json:"hit_count"`
}

// Expired reports whether the entry is stale as of now.
func (e *QueryCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// ResultCacheEntry is an out-of-context tool result stored so the
// orchestrator can hand the LLM a small summary envelope and fetch
// additional chunks on demand.
type ResultCacheEntry struct {
	Key         string    `json:"key"`
	ToolName    string    `json:"tool_name"`
	TotalEvents int       `json:"total_events"`
	ChunkCount  int       `json:"chunk_count"`
	Chunks      [][]byte  `json:"-"`
	SizeBytes   int       `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastHitAt   time.Time `json:"last_hit_at"`
}

// Expired reports whether the entry has outlived its TTL.
func (e *ResultCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// ResultSummary is the envelope handed back to the LLM in place of a
// full, oversized tool result.
type ResultSummary struct {
	CacheKey        string           `json:"cache_key"`
	TotalEvents     int              `json:"total_events"`
	ChunkCount      int              `json:"chunk_count"`
	TimeRange       *TimeRange       `json:"time_range,omitempty"`
	SampleEvents    []string         `json:"sample_events,omitempty"`
	EventStatistics *EventStatistics `json:"event_statistics,omitempty"`
}

// TimeRange bounds a set of log events.
type TimeRange struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// EventStatistics summarizes a set of log events without reproducing
// them verbatim.
type EventStatistics struct {
	Count          int            `json:"count"`
	LevelCounts    map[string]int `json:"level_counts,omitempty"`
	LogGroupCounts map[string]int `json:"log_group_counts,omitempty"`
}
