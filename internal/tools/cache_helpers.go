package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loglens/loglens/internal/observability"
	"github.com/loglens/loglens/internal/querycache"
)

// decodeCachedResult unmarshals a query-cache hit back into the map
// shape handlers return.
func decodeCachedResult(payload []byte) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// cacheResult marshals result and writes it to the query cache under
// (queryType, kwargs), logging but not failing the call on error: a
// cache-write failure should never fail the tool invocation itself.
// The event count recorded alongside the payload comes from the
// handler's own "count" field so Statistics can report total logs
// cached independent of payload byte size.
func cacheResult(ctx context.Context, cache *querycache.Cache, queryType string, kwargs map[string]any, result map[string]any, ttl time.Duration, logger *observability.Logger) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	logCount, _ := result["count"].(int)
	if err := cache.Set(ctx, queryType, kwargs, payload, ttl, logCount); err != nil && logger != nil {
		logger.Warn(ctx, "query cache write failed", "query_type", queryType, "error", err)
	}
}
