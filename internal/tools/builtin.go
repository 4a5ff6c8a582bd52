package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loglens/loglens/internal/cloudwatch"
	"github.com/loglens/loglens/internal/datetime"
	"github.com/loglens/loglens/internal/observability"
	"github.com/loglens/loglens/internal/querycache"
	"github.com/loglens/loglens/internal/resultcache"
	"github.com/loglens/loglens/internal/sanitizer"
)

// Deps are the collaborators the built-in tools dispatch into.
type Deps struct {
	CloudWatch  cloudwatch.Adapter
	QueryCache  *querycache.Cache
	ResultCache *resultcache.Cache
	Sanitizer   *sanitizer.Sanitizer
	Logger      *observability.Logger
}

const (
	listLogGroupsSchema = `{
		"type": "object",
		"properties": {
			"prefix": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"additionalProperties": false
	}`

	fetchLogsSchema = `{
		"type": "object",
		"properties": {
			"log_group": {"type": "string"},
			"start_time": {},
			"end_time": {},
			"filter_pattern": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 1000}
		},
		"required": ["log_group", "start_time"],
		"additionalProperties": false
	}`

	searchLogsSchema = `{
		"type": "object",
		"properties": {
			"log_group_patterns": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"search_pattern": {"type": "string"},
			"start_time": {},
			"end_time": {},
			"limit": {"type": "integer", "minimum": 1, "maximum": 1000}
		},
		"required": ["log_group_patterns", "search_pattern", "start_time"],
		"additionalProperties": false
	}`

	fetchCachedResultChunkSchema = `{
		"type": "object",
		"properties": {
			"cache_id": {"type": "string"},
			"offset": {"type": "integer", "minimum": 0},
			"limit": {"type": "integer", "minimum": 1, "maximum": 200},
			"filter_pattern": {"type": "string"},
			"time_start": {"type": "integer"},
			"time_end": {"type": "integer"}
		},
		"required": ["cache_id"],
		"additionalProperties": false
	}`
)

// RegisterBuiltins wires the four built-in CloudWatch tools into r.
func RegisterBuiltins(r *Registry, deps Deps) {
	r.Register("list_log_groups", "List available CloudWatch log groups, optionally filtered by a name prefix.", listLogGroupsSchema, deps.listLogGroups)
	r.Register("fetch_logs", "Fetch log events from a single CloudWatch log group within a time range.", fetchLogsSchema, deps.fetchLogs)
	r.Register("search_logs", "Search for a pattern across multiple CloudWatch log groups within a time range.", searchLogsSchema, deps.searchLogs)
	r.Register("fetch_cached_result_chunk", "Fetch a page of events from a previously cached oversized tool result.", fetchCachedResultChunkSchema, deps.fetchCachedResultChunk)
}

func (d Deps) listLogGroups(ctx context.Context, args map[string]any) (map[string]any, error) {
	prefix, _ := args["prefix"].(string)
	limit := intArg(args, "limit", 100)

	cacheKwargs := map[string]any{"prefix": prefix, "limit": limit}
	if d.QueryCache != nil {
		if cached, ok := d.QueryCache.Get(ctx, "list_log_groups", cacheKwargs); ok {
			return decodeCachedResult(cached)
		}
	}

	out, err := d.CloudWatch.ListLogGroups(ctx, cloudwatch.ListLogGroupsInput{Prefix: prefix, Limit: limit})
	if err != nil {
		return errorResult(err), nil
	}

	groups := make([]any, 0, len(out.Groups))
	for _, g := range out.Groups {
		groups = append(groups, map[string]any{
			"name":           g.Name,
			"stored_bytes":   g.StoredBytes,
			"retention_days": g.RetentionDays,
		})
	}
	result := map[string]any{
		"success":         true,
		"log_groups":      groups,
		"count":           len(groups),
		"next_page_token": out.NextPageToken,
	}

	if d.QueryCache != nil {
		cacheResult(ctx, d.QueryCache, "list_log_groups", cacheKwargs, result, querycache.TTLFor("list_log_groups", 0, false), d.Logger)
	}
	return result, nil
}

func (d Deps) fetchLogs(ctx context.Context, args map[string]any) (map[string]any, error) {
	logGroup, _ := args["log_group"].(string)
	if logGroup == "" {
		return nil, errors.New("fetch_logs: log_group is required")
	}

	start, end, endKnown, err := resolveTimeRange(args)
	if err != nil {
		return nil, err
	}
	filterPattern, _ := args["filter_pattern"].(string)
	limit := intArg(args, "limit", 1000)

	cacheKwargs := map[string]any{
		"log_group":      logGroup,
		"start_time":     start.UnixMilli(),
		"filter_pattern": filterPattern,
		"limit":          limit,
	}
	if endKnown {
		cacheKwargs["end_time"] = end.UnixMilli()
	}
	if d.QueryCache != nil {
		if cached, ok := d.QueryCache.Get(ctx, "fetch_logs", cacheKwargs); ok {
			return decodeCachedResult(cached)
		}
	}

	out, err := d.CloudWatch.FetchLogs(ctx, cloudwatch.FetchLogsInput{
		LogGroup:      logGroup,
		StartTime:     start,
		EndTime:       end,
		FilterPattern: filterPattern,
		Limit:         limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	result := d.buildEventsResult(out.Events, logGroup, out.HasMore)

	endMs := int64(0)
	if endKnown {
		endMs = end.UnixMilli()
	}
	if d.QueryCache != nil {
		cacheResult(ctx, d.QueryCache, "fetch_logs", cacheKwargs, result, querycache.TTLFor("fetch_logs", endMs, endKnown), d.Logger)
	}
	return result, nil
}

func (d Deps) searchLogs(ctx context.Context, args map[string]any) (map[string]any, error) {
	patterns, err := stringSliceArg(args, "log_group_patterns")
	if err != nil {
		return nil, err
	}
	searchPattern, _ := args["search_pattern"].(string)

	start, end, endKnown, err := resolveTimeRange(args)
	if err != nil {
		return nil, err
	}
	limit := intArg(args, "limit", 1000)

	cacheKwargs := map[string]any{
		"log_group_patterns": patterns,
		"search_pattern":     searchPattern,
		"start_time":         start.UnixMilli(),
		"limit":              limit,
	}
	if endKnown {
		cacheKwargs["end_time"] = end.UnixMilli()
	}
	if d.QueryCache != nil {
		if cached, ok := d.QueryCache.Get(ctx, "search_logs", cacheKwargs); ok {
			return decodeCachedResult(cached)
		}
	}

	out, err := d.CloudWatch.SearchLogs(ctx, cloudwatch.SearchLogsInput{
		LogGroupPatterns: patterns,
		SearchPattern:    searchPattern,
		StartTime:        start,
		EndTime:          end,
		Limit:            limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	result := d.buildEventsResult(out.Events, "", out.HasMore)
	result["groups_searched"] = out.GroupsSearch

	endMs := int64(0)
	if endKnown {
		endMs = end.UnixMilli()
	}
	if d.QueryCache != nil {
		cacheResult(ctx, d.QueryCache, "search_logs", cacheKwargs, result, querycache.TTLFor("search_logs", endMs, endKnown), d.Logger)
	}
	return result, nil
}

func (d Deps) fetchCachedResultChunk(ctx context.Context, args map[string]any) (map[string]any, error) {
	cacheID, _ := args["cache_id"].(string)
	if cacheID == "" {
		return nil, errors.New("fetch_cached_result_chunk: cache_id is required")
	}
	filterPattern, _ := args["filter_pattern"].(string)

	req := resultcache.ChunkRequest{
		CacheID:       cacheID,
		Offset:        intArg(args, "offset", 0),
		Limit:         intArg(args, "limit", 100),
		FilterPattern: filterPattern,
		TimeStart:     int64(intArg(args, "time_start", 0)),
		TimeEnd:       int64(intArg(args, "time_end", 0)),
	}

	chunk := d.ResultCache.FetchChunk(ctx, req)
	return map[string]any{
		"success":         chunk.Success,
		"error":           chunk.Error,
		"hint":            chunk.Hint,
		"events":          chunk.Events,
		"count":           chunk.Count,
		"offset":          chunk.Offset,
		"limit":           chunk.Limit,
		"total_filtered":  chunk.TotalFiltered,
		"total_cached":    chunk.TotalCached,
		"has_more":        chunk.HasMore,
		"filters_applied": chunk.FiltersApplied,
	}, nil
}

// buildEventsResult converts adapter events into the events-bearing map
// shape extractEvents expects, sanitizing message content before it
// ever reaches the LLM or a shared cache.
func (d Deps) buildEventsResult(events []cloudwatch.LogEvent, logGroup string, hasMore bool) map[string]any {
	rawEvents := make([]map[string]any, 0, len(events))
	for _, e := range events {
		group := e.LogGroup
		if group == "" {
			group = logGroup
		}
		rawEvents = append(rawEvents, map[string]any{
			"log_group": group,
			"timestamp": e.Timestamp.UnixMilli(),
			"message":   e.Message,
			"stream_id": e.StreamID,
		})
	}

	sanitized := rawEvents
	if d.Sanitizer != nil {
		sanitized, _ = d.Sanitizer.SanitizeEvents(rawEvents)
	}

	eventsAny := make([]any, len(sanitized))
	for i, e := range sanitized {
		eventsAny[i] = e
	}

	return map[string]any{
		"success":  true,
		"events":   eventsAny,
		"count":    len(eventsAny),
		"has_more": hasMore,
	}
}

func resolveTimeRange(args map[string]any) (start, end time.Time, endKnown bool, err error) {
	startNorm := datetime.NormalizeTimestamp(args["start_time"])
	if startNorm == nil {
		return time.Time{}, time.Time{}, false, errors.New("invalid or missing start_time")
	}
	start = time.UnixMilli(startNorm.TimestampMs)

	if raw, ok := args["end_time"]; ok && raw != nil {
		endNorm := datetime.NormalizeTimestamp(raw)
		if endNorm != nil {
			end = time.UnixMilli(endNorm.TimestampMs)
			endKnown = true
		}
	}
	return start, end, endKnown, nil
}

func intArg(args map[string]any, key string, def int) int {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

func stringSliceArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%s is required and must be a non-empty array", key)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must contain only strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func errorResult(err error) map[string]any {
	var cwErr *cloudwatch.Error
	if errors.As(err, &cwErr) {
		return map[string]any{"success": false, "error": cwErr.Message, "error_kind": string(cwErr.Kind)}
	}
	return map[string]any{"success": false, "error": err.Error()}
}
