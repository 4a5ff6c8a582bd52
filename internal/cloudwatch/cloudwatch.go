// Package cloudwatch defines the adapter contract for the three
// CloudWatch Logs operations the tool layer exposes, plus a typed
// error taxonomy. The concrete AWS implementation is a thin wrapper
// around aws-sdk-go-v2/service/cloudwatchlogs; the wire-level I/O
// internals of that SDK are out of scope for this repository.
package cloudwatch

import (
	"context"
	"time"
)

// LogEvent is a single CloudWatch log event as returned by fetch or
// search operations.
type LogEvent struct {
	LogGroup  string    `json:"log_group"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	StreamID  string    `json:"stream_id,omitempty"`
}

// LogGroupSummary is one row of a ListLogGroups result.
type LogGroupSummary struct {
	Name          string    `json:"name"`
	StoredBytes   int64     `json:"stored_bytes"`
	RetentionDays int       `json:"retention_days,omitempty"`
	CreationTime  time.Time `json:"creation_time,omitempty"`
}

// ListLogGroupsInput parameterizes a ListLogGroups call.
type ListLogGroupsInput struct {
	Prefix    string
	PageToken string
	Limit     int
}

// ListLogGroupsOutput is a single page of log groups.
type ListLogGroupsOutput struct {
	Groups        []LogGroupSummary
	NextPageToken string
}

// FetchLogsInput parameterizes a single log-group time-range fetch.
type FetchLogsInput struct {
	LogGroup      string
	StartTime     time.Time
	EndTime       time.Time
	FilterPattern string
	Limit         int
}

// FetchLogsOutput is the result of a fetch.
type FetchLogsOutput struct {
	Events  []LogEvent
	HasMore bool
}

// SearchLogsInput parameterizes a multi-group pattern search.
type SearchLogsInput struct {
	LogGroupPatterns []string
	SearchPattern    string
	StartTime        time.Time
	EndTime          time.Time
	Limit            int
}

// SearchLogsOutput is the result of a search.
type SearchLogsOutput struct {
	Events       []LogEvent
	GroupsSearch []string
	HasMore      bool
}

// ErrorKind classifies adapter failures so callers can branch without
// string-matching messages.
type ErrorKind string

const (
	ErrNotFound       ErrorKind = "not_found"
	ErrAuthentication ErrorKind = "authentication"
	ErrRateLimit      ErrorKind = "rate_limit"
	ErrInvalidParam   ErrorKind = "invalid_parameter"
	ErrGeneric        ErrorKind = "generic"
)

// Error wraps a CloudWatch adapter failure with its kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Adapter is the CloudWatch Logs surface the tool layer depends on.
type Adapter interface {
	ListLogGroups(ctx context.Context, in ListLogGroupsInput) (ListLogGroupsOutput, error)
	FetchLogs(ctx context.Context, in FetchLogsInput) (FetchLogsOutput, error)
	SearchLogs(ctx context.Context, in SearchLogsInput) (SearchLogsOutput, error)
}
