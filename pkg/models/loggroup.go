package models

import "time"

// LogGroupLifecycle is the loading state of the log-group index.
type LogGroupLifecycle string

const (
	LogGroupIndexUninitialized LogGroupLifecycle = "uninitialized"
	LogGroupIndexLoading       LogGroupLifecycle = "loading"
	LogGroupIndexReady         LogGroupLifecycle = "ready"
	LogGroupIndexError         LogGroupLifecycle = "error"
)

// LogGroupInfo describes one CloudWatch log group as catalogued by the
// log-group index at session start.
type LogGroupInfo struct {
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	StoredBytes     int64     `json:"stored_bytes"`
	RetentionDays   int       `json:"retention_days,omitempty"`
	CreationTime    time.Time `json:"creation_time,omitempty"`
}

// LogGroupStats summarizes the catalogued groups for the system prompt
// and for programmatic callers.
type LogGroupStats struct {
	TotalGroups    int               `json:"total_groups"`
	TotalBytes     int64             `json:"total_bytes"`
	CategoryCounts map[string]int    `json:"category_counts"`
	Lifecycle      LogGroupLifecycle `json:"lifecycle"`
	LoadedAt       time.Time         `json:"loaded_at,omitempty"`
	// RefreshCoalesceRate is the fraction of Load/Refresh calls that
	// were served by an in-flight refresh rather than triggering a new
	// CloudWatch DescribeLogGroups sweep (0.0-1.0).
	RefreshCoalesceRate float64 `json:"refresh_coalesce_rate"`
}
