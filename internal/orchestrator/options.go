package orchestrator

// Options is the recognized session configuration, per the session
// configuration table: toggles and tunables that shape self-direction,
// caching, and pruning behavior without touching the message loop's
// control flow.
type Options struct {
	// MaxToolIterations bounds step-6 loops per user turn.
	MaxToolIterations int
	// MaxRetryAttempts bounds self-direction nudges per user turn.
	MaxRetryAttempts int
	// AutoRetryEnabled toggles self-direction nudging entirely.
	AutoRetryEnabled bool
	// IntentDetectionEnabled toggles intent-without-action scanning.
	IntentDetectionEnabled bool
	// TimeExpansionFactor is the multiplier recommended to the LLM on
	// an expand_time nudge.
	TimeExpansionFactor int
	// EnableResultCaching toggles out-of-context result caching.
	EnableResultCaching bool
	// CacheLargeResultsThreshold is the token threshold above which a
	// tool result is replaced with a summary envelope.
	CacheLargeResultsThreshold int
	// InitialChunkSize is the limit suggested in cache-guidance
	// injections.
	InitialChunkSize int
	// EnableAutoFetchGuidance toggles cache-guidance injection.
	EnableAutoFetchGuidance bool
	// EnableHistoryPruning toggles budget-triggered pruning.
	EnableHistoryPruning bool
	// PIISanitizationEnabled toggles pre-LLM redaction of tool results.
	// Tools already sanitize event payloads; this also gates
	// sanitization of the final assistant-visible tool message content.
	PIISanitizationEnabled bool
	// LogGroupsSidebarVisible is a UI flag consumed by an external
	// terminal UI, not by this package; carried through for passthrough
	// completeness only.
	LogGroupsSidebarVisible bool
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxToolIterations:          10,
		MaxRetryAttempts:           3,
		AutoRetryEnabled:           true,
		IntentDetectionEnabled:     true,
		TimeExpansionFactor:        4,
		EnableResultCaching:        true,
		CacheLargeResultsThreshold: 5000,
		InitialChunkSize:           100,
		EnableAutoFetchGuidance:    true,
		EnableHistoryPruning:       true,
		PIISanitizationEnabled:     true,
		LogGroupsSidebarVisible:    true,
	}
}

// normalized clamps MaxToolIterations to its documented 1-100 range and
// fills in zero-valued tunables with sane floors.
func (o Options) normalized() Options {
	if o.MaxToolIterations < 1 {
		o.MaxToolIterations = 1
	}
	if o.MaxToolIterations > 100 {
		o.MaxToolIterations = 100
	}
	if o.MaxRetryAttempts < 0 {
		o.MaxRetryAttempts = 0
	}
	if o.TimeExpansionFactor < 1 {
		o.TimeExpansionFactor = 4
	}
	if o.CacheLargeResultsThreshold <= 0 {
		o.CacheLargeResultsThreshold = 5000
	}
	if o.InitialChunkSize <= 0 {
		o.InitialChunkSize = 100
	}
	return o
}
