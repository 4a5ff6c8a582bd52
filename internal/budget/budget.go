package budget

import (
	"sort"

	"github.com/loglens/loglens/pkg/models"
)

// Strategy names the split of the "remaining" 86% of the context window
// between conversation history and tool results.
type Strategy string

const (
	// StrategyAdaptive splits 55% history / 45% results.
	StrategyAdaptive Strategy = "adaptive"
	// StrategyHistoryFocused splits 65% history / 35% results.
	StrategyHistoryFocused Strategy = "history_focused"
	// StrategyResultFocused splits 40% history / 60% results.
	StrategyResultFocused Strategy = "result_focused"
)

func (s Strategy) split() (historyFrac, resultFrac float64) {
	switch s {
	case StrategyHistoryFocused:
		return 0.65, 0.35
	case StrategyResultFocused:
		return 0.40, 0.60
	default:
		return 0.55, 0.45
	}
}

// Fixed fractions of the context window, load-bearing per the session
// configuration contract: system prompt, response reserve and safety
// buffer are carved off before history/results split the remainder.
const (
	SystemFraction   = 0.05
	ResponseFraction = 0.04
	SafetyFraction   = 0.05
	RemainingFraction = 1 - SystemFraction - ResponseFraction - SafetyFraction
)

// Utilization bands drive status color in a hosting UI; the tracker
// only needs the thresholds.
const (
	UtilizationGreenMax  = 0.71
	UtilizationYellowMax = 0.86
)

// Config parameterizes a Tracker. All fields have sane defaults applied
// by New; callers typically only set ContextWindow and Strategy.
type Config struct {
	ContextWindow    int
	Strategy         Strategy
	PruneThreshold   float64 // utilization at/above which pruning is recommended
	KeepRecentNonSys int     // most-recent non-system messages that are never pruned
	Counter          Counter
}

// DefaultConfig returns a Config sized for the given model.
func DefaultConfig(model string) Config {
	return Config{
		ContextWindow:    ModelContextWindow(model),
		Strategy:         StrategyAdaptive,
		PruneThreshold:   0.80,
		KeepRecentNonSys: 4,
		Counter:          EstimateTokens,
	}
}

func (c Config) normalized() Config {
	if c.ContextWindow <= 0 {
		c.ContextWindow = ModelContextWindow("")
	}
	if c.Strategy == "" {
		c.Strategy = StrategyAdaptive
	}
	if c.PruneThreshold <= 0 {
		c.PruneThreshold = 0.80
	}
	if c.KeepRecentNonSys <= 0 {
		c.KeepRecentNonSys = 4
	}
	if c.Counter == nil {
		c.Counter = EstimateTokens
	}
	return c
}

// Allocate derives a BudgetAllocation from a Config. The four
// sub-budgets plus the safety buffer always sum to ContextWindow.
func Allocate(cfg Config) models.BudgetAllocation {
	cfg = cfg.normalized()
	total := cfg.ContextWindow

	system := int(float64(total) * SystemFraction)
	response := int(float64(total) * ResponseFraction)
	safety := int(float64(total) * SafetyFraction)
	remaining := total - system - response - safety

	historyFrac, resultFrac := cfg.Strategy.split()
	history := int(float64(remaining) * historyFrac)
	result := remaining - history
	_ = resultFrac

	return models.BudgetAllocation{
		TotalTokens:     total,
		SystemTokens:    system,
		ResponseReserve: response,
		SafetyBuffer:    safety,
		HistoryBudget:   history,
		ResultBudget:    result,
		Strategy:        string(cfg.Strategy),
	}
}

// Tracker accounts for the tokens a single session's conversation will
// consume in its next LLM request. It holds no lock: the orchestrator
// drives it from a single goroutine per session.
type Tracker struct {
	cfg          Config
	alloc        models.BudgetAllocation
	systemTokens int
}

// New creates a Tracker from cfg, defaulting any unset fields.
func New(cfg Config) *Tracker {
	cfg = cfg.normalized()
	return &Tracker{
		cfg:   cfg,
		alloc: Allocate(cfg),
	}
}

// Allocation returns the tracker's fixed per-session allocation.
func (t *Tracker) Allocation() models.BudgetAllocation {
	return t.alloc
}

// SetSystemPrompt records the token cost of the system prompt.
func (t *Tracker) SetSystemPrompt(text string) int {
	t.systemTokens = t.cfg.Counter(text)
	return t.systemTokens
}

// usableTokens is the total window minus the safety buffer: the ceiling
// a real request must not cross.
func (t *Tracker) usableTokens() int {
	return t.alloc.TotalTokens - t.alloc.SafetyBuffer
}

// Account walks messages and returns the resulting usage. Tool-role
// messages are charged to the result sub-budget; everything else
// (including their preceding assistant tool_calls) is charged to
// history. System messages are counted but reported separately via
// SetSystemPrompt, not double-charged here.
func (t *Tracker) Account(messages []*models.Message) models.BudgetUsage {
	var historyTokens, resultTokens int

	for _, m := range messages {
		n := t.messageTokens(m)
		if m.Role == models.RoleTool {
			resultTokens += n
		} else if m.Role != models.RoleSystem {
			historyTokens += n
		}
	}

	total := t.systemTokens + historyTokens + resultTokens
	usable := t.usableTokens()
	var utilization float64
	if usable > 0 {
		utilization = float64(total) / float64(usable)
	}

	return models.BudgetUsage{
		HistoryTokens:    historyTokens,
		ResultTokens:     resultTokens,
		TotalTokens:      total,
		UtilizationRatio: utilization,
		ShouldPrune:      utilization >= t.cfg.PruneThreshold,
	}
}

// messageTokens returns the cached estimate on m if present, otherwise
// computes and caches one.
func (t *Tracker) messageTokens(m *models.Message) int {
	if n := m.EstimatedTokens(); n >= 0 {
		return n
	}
	n := t.cfg.Counter(m.Content)
	for _, tc := range m.ToolCalls {
		n += t.cfg.Counter(string(tc.Input)) + t.cfg.Counter(tc.Name)
	}
	for _, tr := range m.ToolResults {
		n += t.cfg.Counter(tr.Content)
	}
	m.SetEstimatedTokens(n)
	return n
}

// CanFit reports whether a prospective result of the given token size
// would fit within the remaining usable budget, alongside its token
// count.
func (t *Tracker) CanFit(usage models.BudgetUsage, tokens int) (bool, int) {
	return usage.TotalTokens+tokens <= t.usableTokens(), tokens
}

// ShouldCache reports whether a prospective tool result should be
// routed through the result cache instead of appended verbatim: either
// it exceeds threshold tokens, or it would not fit in the remaining
// budget.
func (t *Tracker) ShouldCache(usage models.BudgetUsage, resultTokens, threshold int) (bool, int) {
	if threshold <= 0 {
		threshold = 5000
	}
	fits, _ := t.CanFit(usage, resultTokens)
	return resultTokens > threshold || !fits, resultTokens
}

// PrunableIndices selects indices into messages eligible for removal to
// free at least targetTokens, honoring: never prune system or
// "important" messages; always preserve the KeepRecentNonSys most
// recent non-system messages. Indices are returned in ascending order,
// oldest-eligible first, which is also the order PruneThreshold scans
// accumulate tokens in.
func (t *Tracker) PrunableIndices(messages []*models.Message, targetTokens int) []int {
	keep := t.cfg.KeepRecentNonSys
	protected := make(map[int]bool, keep)

	kept := 0
	for i := len(messages) - 1; i >= 0 && kept < keep; i-- {
		if messages[i].Role == models.RoleSystem {
			continue
		}
		protected[i] = true
		kept++
	}

	var candidates []int
	for i, m := range messages {
		if m.Role == models.RoleSystem || m.Important || protected[i] {
			continue
		}
		candidates = append(candidates, i)
	}

	if targetTokens <= 0 {
		return candidates
	}

	sort.Ints(candidates)
	var selected []int
	var freed int
	for _, i := range candidates {
		if freed >= targetTokens {
			break
		}
		selected = append(selected, i)
		freed += t.messageTokens(messages[i])
	}
	return selected
}

// Prune removes the messages at indices (which must be sorted
// ascending, as returned by PrunableIndices) and returns the surviving
// slice together with the removed messages, preserving relative order
// in both.
func Prune(messages []*models.Message, indices []int) (remaining, removed []*models.Message) {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	remaining = make([]*models.Message, 0, len(messages)-len(indices))
	removed = make([]*models.Message, 0, len(indices))
	for i, m := range messages {
		if drop[i] {
			removed = append(removed, m)
		} else {
			remaining = append(remaining, m)
		}
	}
	return remaining, removed
}
