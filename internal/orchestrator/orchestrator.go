// Package orchestrator drives the per-session message loop: turning a
// user message into zero or more tool-calling iterations against an
// LLM provider, applying self-direction nudges, budget-triggered
// pruning, and out-of-context result caching along the way.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loglens/loglens/internal/budget"
	"github.com/loglens/loglens/internal/llm"
	"github.com/loglens/loglens/internal/loggroups"
	"github.com/loglens/loglens/internal/observability"
	"github.com/loglens/loglens/internal/resultcache"
	"github.com/loglens/loglens/internal/tools"
	tokenusage "github.com/loglens/loglens/internal/usage"
	"github.com/loglens/loglens/pkg/models"
)

// Severity classifies a Notification delivered to a context
// notification callback.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is an advisory event: caching occurred, history was
// pruned, or the session is approaching its budget limit.
type Notification struct {
	Severity Severity
	Message  string
}

// StreamFragment is one piece of a streamed chat_stream reply.
type StreamFragment struct {
	Text string
	Done bool
	Err  error
}

// Config constructs an Orchestrator. Model selects the provider's
// model id; SystemPrompt is the fixed assistant persona/instructions
// text, with the log-group catalog (if LogGroupIndex is set) appended
// at render time so catalog refreshes are reflected without rebuilding
// the orchestrator.
type Config struct {
	Provider      llm.Provider
	Model         string
	SystemPrompt  string
	Tools         *tools.Registry
	ResultCache   *resultcache.Cache
	LogGroupIndex *loggroups.Index
	Options       Options
	BudgetConfig  budget.Config

	// UsageTracker, if set, records token usage and estimated cost for
	// every completed LLM turn. Optional: a nil tracker disables
	// accounting with no other behavior change.
	UsageTracker *tokenusage.Tracker

	// Tracer wraps LLM and tool-dispatch calls in spans. Optional: a nil
	// Tracer is replaced with a no-op tracer so callers never need a nil
	// check of their own.
	Tracer *observability.Tracer

	// EventStore backs run/tool lifecycle event recording, used for
	// offline timeline reconstruction rather than metrics. Optional: a
	// nil store is replaced with a bounded in-memory one.
	EventStore observability.EventStore
}

// Orchestrator owns one session's conversation, budget tracker, and
// retry bookkeeping. It is not safe for concurrent use: per the
// single-session model, each session drives its own Orchestrator from
// one goroutine at a time.
type Orchestrator struct {
	provider      llm.Provider
	model         string
	systemPrompt  string
	toolRegistry  *tools.Registry
	resultCache   *resultcache.Cache
	logGroupIndex *loggroups.Index
	opts          Options
	budget        *budget.Tracker
	usageTracker  *tokenusage.Tracker
	tracer        *observability.Tracer
	events        *observability.EventRecorder
	eventStore    observability.EventStore
	sessionID     string

	history []*models.Message

	pendingCacheGuidance string
	pendingInjection     string

	toolListeners []func(models.ToolCallRecord)
	notifyFns     []func(Notification)
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	opts := cfg.Options.normalized()
	budgetCfg := cfg.BudgetConfig
	if budgetCfg.ContextWindow == 0 {
		budgetCfg = budget.DefaultConfig(cfg.Model)
	}
	tracker := budget.New(budgetCfg)

	tracer := cfg.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "loglens"})
	}

	eventStore := cfg.EventStore
	if eventStore == nil {
		eventStore = observability.NewMemoryEventStore(2000)
	}

	o := &Orchestrator{
		provider:      cfg.Provider,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		toolRegistry:  cfg.Tools,
		resultCache:   cfg.ResultCache,
		logGroupIndex: cfg.LogGroupIndex,
		opts:          opts,
		budget:        tracker,
		usageTracker:  cfg.UsageTracker,
		tracer:        tracer,
		events:        observability.NewEventRecorder(eventStore, nil),
		eventStore:    eventStore,
		sessionID:     uuid.NewString(),
	}
	tracker.SetSystemPrompt(o.renderSystemPrompt())
	return o
}

func (o *Orchestrator) renderSystemPrompt() string {
	if o.logGroupIndex == nil {
		return o.systemPrompt
	}
	return o.systemPrompt + "\n\n" + o.logGroupIndex.RenderSystemPrompt()
}

// RegisterToolListener attaches fn to be invoked once per
// ToolCallRecord transition, synchronously, in the orchestrator's own
// execution context.
func (o *Orchestrator) RegisterToolListener(fn func(models.ToolCallRecord)) {
	o.toolListeners = append(o.toolListeners, fn)
}

// SetContextNotificationCallback attaches fn to be invoked for
// advisory events: caching occurred, history pruned, approaching
// budget limit.
func (o *Orchestrator) SetContextNotificationCallback(fn func(Notification)) {
	o.notifyFns = append(o.notifyFns, fn)
}

// InjectContextUpdate enqueues a one-shot system note delivered to the
// LLM at the start of the next turn. Cache guidance, if pending, takes
// precedence over an ad-hoc injection.
func (o *Orchestrator) InjectContextUpdate(text string) {
	o.pendingInjection = text
}

// ClearHistory discards the conversation, keeping budget/tool/callback
// configuration intact.
func (o *Orchestrator) ClearHistory() {
	o.history = nil
	o.pendingCacheGuidance = ""
	o.pendingInjection = ""
}

// SessionID returns this orchestrator's session identifier, the key
// usage and event records are attributed under.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// GetHistory returns a snapshot of the current conversation.
func (o *Orchestrator) GetHistory() []*models.Message {
	out := make([]*models.Message, len(o.history))
	copy(out, o.history)
	return out
}

// RecentEvents returns this session's recorded run/tool lifecycle
// events, sorted oldest first. Intended for offline debugging (a
// "what did the agent actually do" timeline), not for driving
// conversational behavior.
func (o *Orchestrator) RecentEvents() ([]*observability.Event, error) {
	return o.eventStore.GetBySessionID(o.sessionID)
}

// recordUsage feeds one completed LLM turn's token counts into the
// optional usage tracker. A nil tracker is a no-op.
func (o *Orchestrator) recordUsage(u llm.Usage) {
	if o.usageTracker == nil {
		return
	}
	o.usageTracker.Record(tokenusage.Record{
		Provider:  o.provider.Name(),
		Model:     o.model,
		SessionID: o.sessionID,
		Usage: tokenusage.Usage{
			InputTokens:  int64(u.InputTokens),
			OutputTokens: int64(u.OutputTokens),
		},
	})
}

func (o *Orchestrator) notify(sev Severity, msg string) {
	n := Notification{Severity: sev, Message: msg}
	for _, fn := range o.notifyFns {
		fn(n)
	}
}

// Chat runs the message loop for one user turn and returns the final
// assistant text.
func (o *Orchestrator) Chat(ctx context.Context, userText string) (string, error) {
	var final string
	err := o.runTurn(ctx, userText, func(text string) {
		final = text
	}, nil)
	return final, err
}

// ChatStream runs the message loop for one user turn, streaming only
// the final assistant text fragment-by-fragment; tool-calling phases
// remain non-streaming. The returned channel is closed once the turn
// ends.
func (o *Orchestrator) ChatStream(ctx context.Context, userText string) <-chan StreamFragment {
	out := make(chan StreamFragment, 16)
	go func() {
		defer close(out)
		err := o.runTurn(ctx, userText, nil, func(frag llm.Fragment) {
			out <- StreamFragment{Text: frag.Text, Done: frag.Done, Err: frag.Err}
		})
		if err != nil {
			out <- StreamFragment{Err: err, Done: true}
		}
	}()
	return out
}

// runTurn implements the seven-step message loop. onFinal receives the
// completed text for a non-streaming Chat call; onFragment, if
// non-nil, receives streamed fragments for the terminal (no-tool-call)
// LLM turn instead.
func (o *Orchestrator) runTurn(ctx context.Context, userText string, onFinal func(string), onFragment func(llm.Fragment)) error {
	runID := uuid.NewString()
	ctx = observability.AddSessionID(ctx, o.sessionID)
	ctx = observability.AddRunID(ctx, runID)
	turnStarted := time.Now()
	o.events.RecordRunStart(ctx, runID, map[string]any{"user_text_len": len(userText)})

	var turnErr error
	defer func() { o.events.RecordRunEnd(ctx, time.Since(turnStarted), turnErr) }()

	// Step 1: append the user message.
	o.appendMessage(&models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userText,
		CreatedAt: time.Now(),
	})

	retry := newRetryState()
	iteration := 0

	for {
		// Step 2: update the budget tracker; prune if warranted.
		o.maybePrune()

		// Step 3: build the outgoing message list.
		outgoing := o.buildOutgoing()

		// Step 4: call the LLM.
		defs := o.toolRegistry.Definitions()
		streamFinal := onFragment != nil && iteration == 0

		spanCtx, span := o.tracer.TraceLLMRequest(ctx, o.provider.Name(), o.model)
		var resp llm.Response
		var err error
		if streamFinal {
			resp, err = o.streamTerminalTurn(spanCtx, outgoing, defs, onFragment)
		} else {
			resp, err = o.provider.Chat(spanCtx, o.model, o.systemPrompt, outgoing, defs)
		}
		o.tracer.RecordError(span, err)
		span.End()
		if err != nil {
			turnErr = err
			return o.handleLLMError(err, onFinal)
		}
		o.recordUsage(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			// Step 5: no tool calls.
			cond, warrantsNudge := o.evaluateTextForNudge(resp.Content, retry)
			if warrantsNudge && o.opts.AutoRetryEnabled && retry.tryStrategy(cond, o.opts.MaxRetryAttempts) {
				o.appendMessage(o.syntheticSystemMessage(nudgeGuidance(cond, o.opts, retry.lastLogGroup)))
				iteration++
				if err := sleepOrDone(ctx, iterationBackoff(iteration)); err != nil {
					turnErr = err
					return err
				}
				continue
			}

			o.appendMessage(&models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Content:   resp.Content,
				CreatedAt: time.Now(),
			})
			if onFinal != nil {
				onFinal(resp.Content)
			}
			return nil
		}

		// Step 6: dispatch tool calls.
		iteration++
		if iteration > o.opts.MaxToolIterations {
			stall := "I've reached the maximum number of tool-calling steps for this turn without a final answer. Please rephrase or narrow the request."
			o.appendMessage(&models.Message{ID: uuid.NewString(), Role: models.RoleAssistant, Content: stall, CreatedAt: time.Now()})
			if onFinal != nil {
				onFinal(stall)
			}
			return nil
		}

		calls := toModelToolCalls(resp.ToolCalls)
		o.appendMessage(&models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
			CreatedAt: time.Now(),
		})

		results := o.dispatchToolCalls(ctx, calls)
		for _, r := range results {
			o.appendMessage(r.message)
			if r.cachedEnvelope {
				o.queueCacheGuidance(r.cacheGuidanceID)
			}
		}

		cond, warrantsNudge := o.evaluateResultsForNudge(results, retry)
		if warrantsNudge && o.opts.AutoRetryEnabled && retry.tryStrategy(cond, o.opts.MaxRetryAttempts) {
			o.appendMessage(o.syntheticSystemMessage(nudgeGuidance(cond, o.opts, retry.lastLogGroup)))
			if err := sleepOrDone(ctx, iterationBackoff(iteration)); err != nil {
				turnErr = err
				return err
			}
		}
	}
}

func (o *Orchestrator) streamTerminalTurn(ctx context.Context, outgoing []llm.Message, defs []llm.ToolDefinition, onFragment func(llm.Fragment)) (llm.Response, error) {
	fragments, err := o.provider.StreamChat(ctx, o.model, o.systemPrompt, outgoing, defs)
	if err != nil {
		return llm.Response{}, err
	}
	var text string
	for frag := range fragments {
		if frag.Err != nil {
			return llm.Response{}, frag.Err
		}
		text += frag.Text
		onFragment(frag)
		if frag.Done {
			break
		}
	}
	return llm.Response{Content: text, FinishReason: llm.FinishStop}, nil
}

func (o *Orchestrator) handleLLMError(err error, onFinal func(string)) error {
	llmErr, ok := err.(*llm.Error)
	if !ok {
		return err
	}
	msg := fmt.Sprintf("I couldn't complete that request: %s", llmErr.Message)
	o.appendMessage(&models.Message{ID: uuid.NewString(), Role: models.RoleAssistant, Content: msg, CreatedAt: time.Now()})
	o.notify(SeverityError, msg)
	if onFinal != nil {
		onFinal(msg)
	}
	return nil
}

func (o *Orchestrator) appendMessage(m *models.Message) {
	o.history = append(o.history, m)
}

func (o *Orchestrator) syntheticSystemMessage(text string) *models.Message {
	return &models.Message{ID: uuid.NewString(), Role: models.RoleSystem, Content: text, CreatedAt: time.Now(), Important: true}
}

// queueCacheGuidance enqueues the single-slot cache-guidance injection;
// a second oversized result cached within the same turn overwrites the
// first, per the documented race behavior.
func (o *Orchestrator) queueCacheGuidance(cacheID string) {
	if !o.opts.EnableAutoFetchGuidance {
		return
	}
	o.pendingCacheGuidance = fmt.Sprintf(
		"A tool result was too large for context and was cached as %q. Call fetch_cached_result_chunk(cache_id=%q, offset=0, limit=%d) to page through it.",
		cacheID, cacheID, o.opts.InitialChunkSize,
	)
}

// buildOutgoing assembles [system prompt] + any pending injection
// (cache guidance wins, consumed once) + conversation history.
func (o *Orchestrator) buildOutgoing() []llm.Message {
	system := o.renderSystemPrompt()
	out := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	if o.pendingCacheGuidance != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: o.pendingCacheGuidance})
		o.pendingCacheGuidance = ""
	} else if o.pendingInjection != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: o.pendingInjection})
		o.pendingInjection = ""
	}

	out = append(out, toProviderMessages(o.history)...)
	return out
}

func (o *Orchestrator) maybePrune() {
	if !o.opts.EnableHistoryPruning {
		o.budget.Account(o.history)
		return
	}
	usage := o.budget.Account(o.history)
	if !usage.ShouldPrune {
		return
	}
	targetTokens := usage.HistoryTokens / 3
	indices := o.budget.PrunableIndices(o.history, targetTokens)
	if len(indices) == 0 {
		return
	}
	remaining, removed := budget.Prune(o.history, indices)
	o.history = remaining
	o.notify(SeverityWarning, fmt.Sprintf("context was %s full; pruned %d older messages to stay within budget",
		tokenusage.FormatPercentage(usage.UtilizationRatio*100), len(removed)))
}

func toModelToolCalls(calls []llm.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		input := c.Arguments
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		out = append(out, models.ToolCall{ID: c.ID, Name: c.Name, Input: input})
	}
	return out
}
