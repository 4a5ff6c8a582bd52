package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/loglens/loglens/internal/budget"
	"github.com/loglens/loglens/internal/observability"
	"github.com/loglens/loglens/internal/resultcache"
	"github.com/loglens/loglens/pkg/models"
)

// dispatchResult is the outcome of running one ToolCallRequest: the
// tool message appended to history, the decoded result map (for
// self-direction analysis), and whether a cache-guidance note should
// be queued.
type dispatchResult struct {
	message          *models.Message
	decoded          map[string]any
	toolName         string
	cachedEnvelope   bool
	cacheGuidanceID  string
	logGroupFromArgs string
}

// dispatchToolCalls executes each ToolCallRequest in order, emitting
// lifecycle records to registered listeners and applying the
// Result-Cache decision after each invocation, per the tool dispatch
// algorithm.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, calls []models.ToolCall) []dispatchResult {
	out := make([]dispatchResult, 0, len(calls))
	for _, call := range calls {
		out = append(out, o.dispatchOne(ctx, call))
	}
	return out
}

func (o *Orchestrator) dispatchOne(ctx context.Context, call models.ToolCall) dispatchResult {
	ctx = observability.AddToolCallID(ctx, call.ID)
	started := time.Now()

	record := models.ToolCallRecord{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Stage:      models.ToolCallPending,
		Input:      call.Input,
		StartedAt:  started,
	}
	o.emitToolRecord(record)
	record.Stage = models.ToolCallRunning
	o.emitToolRecord(record)
	o.events.RecordToolStart(ctx, call.Name, json.RawMessage(call.Input))

	logGroup := logGroupFromArgs(call.Input)

	var args map[string]any
	if err := json.Unmarshal(call.Input, &args); err != nil && len(call.Input) > 0 {
		result := map[string]any{"success": false, "error": "invalid tool arguments: " + err.Error()}
		o.events.RecordToolEnd(ctx, call.Name, time.Since(started), nil, err)
		return o.finishDispatch(ctx, record, call, args, result, true, logGroup)
	}

	spanCtx, span := o.tracer.TraceToolExecution(ctx, call.Name)
	decoded, err := o.toolRegistry.Execute(spanCtx, call.Name, call.Input)
	o.tracer.RecordError(span, err)
	span.End()
	if err != nil {
		result := map[string]any{"success": false, "error": err.Error()}
		o.events.RecordToolEnd(ctx, call.Name, time.Since(started), nil, err)
		return o.finishDispatch(ctx, record, call, args, result, true, logGroup)
	}

	o.events.RecordToolEnd(ctx, call.Name, time.Since(started), decoded, nil)
	return o.finishDispatch(ctx, record, call, args, decoded, false, logGroup)
}

func (o *Orchestrator) finishDispatch(ctx context.Context, record models.ToolCallRecord, call models.ToolCall, args map[string]any, result map[string]any, isError bool, logGroup string) dispatchResult {
	record.FinishedAt = time.Now()
	content := marshalResult(result)

	toolResult := models.ToolResult{ToolCallID: call.ID, Content: content, IsError: isError}

	dr := dispatchResult{
		decoded:          result,
		toolName:         call.Name,
		logGroupFromArgs: logGroup,
	}

	if !isError && o.opts.EnableResultCaching {
		if envelope, cached := o.maybeCacheResult(ctx, call.Name, args, result); cached {
			toolResult.Content = marshalResult(envelopeToMap(envelope))
			toolResult.FromCache = true
			toolResult.CacheKey = envelope.CacheID
			dr.cachedEnvelope = true
			dr.cacheGuidanceID = envelope.CacheID
		}
	}

	if isError {
		record.Stage = models.ToolCallError
		record.Err = result["error"].(string)
	} else {
		record.Stage = models.ToolCallSuccess
	}
	record.Result = &toolResult
	o.emitToolRecord(record)

	dr.message = &models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		Content:     toolResult.Content,
		ToolResults: []models.ToolResult{toolResult},
		CreatedAt:   time.Now(),
	}
	return dr
}

// maybeCacheResult applies the Result-Cache decision: if the result's
// estimated token size exceeds the configured threshold or would
// overflow the remaining budget, it is replaced by a summary envelope.
func (o *Orchestrator) maybeCacheResult(ctx context.Context, toolName string, args map[string]any, result map[string]any) (resultcache.Envelope, bool) {
	usage := o.budget.Account(o.history)
	tokens, err := budget.EstimateJSONTokens(result)
	if err != nil {
		return resultcache.Envelope{}, false
	}
	should, _ := o.budget.ShouldCache(usage, tokens, o.opts.CacheLargeResultsThreshold)
	if !should {
		return resultcache.Envelope{}, false
	}

	envelope, err := o.resultCache.Cache(ctx, toolName, args, result, resultcache.DefaultTTL)
	if err != nil {
		return resultcache.Envelope{}, false
	}
	return envelope, true
}

func envelopeToMap(e resultcache.Envelope) map[string]any {
	return map[string]any{
		"cached":         e.Cached,
		"cache_id":       e.CacheID,
		"summary":        e.Summary,
		"original_query": e.OriginalQuery,
		"cache_info":     e.CacheInfo,
		"instructions":   e.Instructions,
	}
}

func logGroupFromArgs(raw json.RawMessage) string {
	var args struct {
		LogGroup string `json:"log_group"`
	}
	if err := json.Unmarshal(raw, &args); err == nil {
		return args.LogGroup
	}
	return ""
}

func (o *Orchestrator) emitToolRecord(record models.ToolCallRecord) {
	for _, fn := range o.toolListeners {
		fn(record)
	}
}
