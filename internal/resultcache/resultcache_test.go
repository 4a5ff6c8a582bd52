package resultcache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func makeResult(n int) map[string]any {
	events := make([]any, n)
	for i := 0; i < n; i++ {
		events[i] = map[string]any{"message": fmt.Sprintf("Event %d", i), "timestamp": float64(i * 1000)}
	}
	return map[string]any{"events": events}
}

func TestCacheIDIsStableAndReplacesRow(t *testing.T) {
	c, err := Open(Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	params := map[string]any{"log_group": "g"}

	env1, err := c.Cache(ctx, "fetch_logs", params, makeResult(10), time.Hour)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	env2, err := c.Cache(ctx, "fetch_logs", params, makeResult(20), time.Hour)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	if env1.CacheID != env2.CacheID {
		t.Fatalf("expected identical cache_id for identical (tool,params), got %s vs %s", env1.CacheID, env2.CacheID)
	}

	report, err := c.ValidateAndClean(ctx)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.TotalEntries != 1 {
		t.Fatalf("expected single row after replace, got %d", report.TotalEntries)
	}
}

func TestFetchChunkReturnsFirstNEvents(t *testing.T) {
	c, err := Open(Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	env, err := c.Cache(ctx, "fetch_logs", map[string]any{"log_group": "g"}, makeResult(1000), time.Hour)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	if env.Summary.TotalEvents != 1000 {
		t.Fatalf("expected 1000 total events in summary, got %d", env.Summary.TotalEvents)
	}

	chunk := c.FetchChunk(ctx, ChunkRequest{CacheID: env.CacheID, Offset: 0, Limit: 100})
	if !chunk.Success {
		t.Fatalf("expected success, got error: %s", chunk.Error)
	}
	if chunk.Count != 100 {
		t.Fatalf("expected 100 events, got %d", chunk.Count)
	}
	if chunk.Events[0] != "Event 0" {
		t.Fatalf("expected first event to be Event 0, got %s", chunk.Events[0])
	}
	if !chunk.HasMore {
		t.Fatalf("expected has_more=true when offset+limit < total")
	}
}

func TestFetchChunkLimitClampedTo200(t *testing.T) {
	c, err := Open(Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	env, _ := c.Cache(ctx, "fetch_logs", map[string]any{"log_group": "g"}, makeResult(500), time.Hour)

	chunk := c.FetchChunk(ctx, ChunkRequest{CacheID: env.CacheID, Limit: 999})
	if chunk.Limit != MaxChunkLimit {
		t.Fatalf("expected limit clamped to %d, got %d", MaxChunkLimit, chunk.Limit)
	}
	if chunk.Count != MaxChunkLimit {
		t.Fatalf("expected %d events returned, got %d", MaxChunkLimit, chunk.Count)
	}
}

func TestFetchChunkNotFound(t *testing.T) {
	c, err := Open(Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	chunk := c.FetchChunk(context.Background(), ChunkRequest{CacheID: "result_doesnotexist"})
	if chunk.Success {
		t.Fatalf("expected failure for unknown cache_id")
	}
}

func TestFetchChunkExpired(t *testing.T) {
	c, err := Open(Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	env, _ := c.Cache(ctx, "fetch_logs", map[string]any{"log_group": "g"}, makeResult(5), -time.Second)

	chunk := c.FetchChunk(ctx, ChunkRequest{CacheID: env.CacheID})
	if chunk.Success {
		t.Fatalf("expected expired entry to fail")
	}
}
