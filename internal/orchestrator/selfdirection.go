package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

// nudgeCondition names one of the self-direction signals the guidance
// table keys off.
type nudgeCondition string

const (
	conditionEmptyLogs          nudgeCondition = "empty_logs"
	conditionLogGroupNotFound   nudgeCondition = "log_group_not_found"
	conditionIntentSearchLogs   nudgeCondition = "intent_search_logs"
	conditionIntentListGroups   nudgeCondition = "intent_list_log_groups"
	conditionIntentExpandTime   nudgeCondition = "intent_expand_time"
	conditionIntentChangeFilter nudgeCondition = "intent_change_filter"
)

// analysisClassPattern matches statements about analyzing data already
// in hand; these never trigger an intent-without-action nudge even
// though they mention logs.
var analysisClassPattern = regexp.MustCompile(`(?i)\b(analyz\w*|summariz\w*|review(ing)?|look(ing)? (at|over)|examin\w*)\b`)

// intentPatterns map a condition to phrasing that signals an assistant
// intends to take an action but issued no tool call.
var intentPatterns = map[nudgeCondition]*regexp.Regexp{
	conditionIntentSearchLogs:   regexp.MustCompile(`(?i)\b(i('| wi)ll|let me|i'?m going to|i will now)\b[^.]{0,40}\b(search|query|look (for|through))\b[^.]{0,40}\blogs?\b`),
	conditionIntentListGroups:   regexp.MustCompile(`(?i)\b(i('| wi)ll|let me|i'?m going to)\b[^.]{0,40}\b(list|check|enumerate)\b[^.]{0,40}\blog groups?\b`),
	conditionIntentExpandTime:   regexp.MustCompile(`(?i)\b(i('| wi)ll|let me|i'?m going to)\b[^.]{0,40}\b(expand|widen|extend|go (further|farther)) back\b|[^.]{0,40}\btime range\b`),
	conditionIntentChangeFilter: regexp.MustCompile(`(?i)\b(i('| wi)ll|let me|i'?m going to)\b[^.]{0,40}\b(try|use) a different\b[^.]{0,40}\bfilter\b`),
}

// givingUpPattern matches phrasing equivalent to "no results found /
// unable to find / unfortunately could not."
var givingUpPattern = regexp.MustCompile(`(?i)\b(no results? (were |was )?found|unable to find|couldn'?t find|could not find|unfortunately,? (i )?(could not|couldn'?t|was unable))\b`)

// detectIntentWithoutAction scans text (from a no-tool-call assistant
// turn) for an unexecuted-action signal, ignoring analysis-class
// statements entirely.
func detectIntentWithoutAction(text string) (nudgeCondition, bool) {
	if analysisClassPattern.MatchString(text) {
		return "", false
	}
	// Check in table order for determinism; only one nudge fires per
	// turn so the first match wins.
	order := []nudgeCondition{
		conditionIntentSearchLogs,
		conditionIntentListGroups,
		conditionIntentExpandTime,
		conditionIntentChangeFilter,
	}
	for _, cond := range order {
		if intentPatterns[cond].MatchString(text) {
			return cond, true
		}
	}
	return "", false
}

// detectPrematureGivingUp reports whether text reads as giving up,
// which only matters when paired with an empty prior tool result.
func detectPrematureGivingUp(text string, priorResultEmpty bool) bool {
	return priorResultEmpty && givingUpPattern.MatchString(text)
}

// isEmptyToolResult reports whether a decoded tool result map
// represents zero returned events/groups.
func isEmptyToolResult(result map[string]any) bool {
	if v, ok := result["count"]; ok {
		if n, ok := asInt(v); ok {
			return n == 0
		}
	}
	if events, ok := result["events"].([]any); ok {
		return len(events) == 0
	}
	if groups, ok := result["log_groups"].([]any); ok {
		return len(groups) == 0
	}
	return false
}

// isLogGroupNotFound reports whether a decoded tool result represents
// a not-found error on a log-group-scoped tool.
func isLogGroupNotFound(result map[string]any) bool {
	success, ok := result["success"].(bool)
	if ok && success {
		return false
	}
	errMsg, _ := result["error"].(string)
	kind, _ := result["error_kind"].(string)
	return kind == "not_found" || strings.Contains(strings.ToLower(errMsg), "not found")
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// nudgeGuidance renders the synthetic system message text for cond,
// per the self-direction guidance table.
func nudgeGuidance(cond nudgeCondition, opts Options, lastLogGroup string) string {
	switch cond {
	case conditionEmptyLogs:
		return fmt.Sprintf("The previous query returned no log events. Expand the time range by roughly %dx or broaden the filter pattern, then try again.", opts.TimeExpansionFactor)
	case conditionLogGroupNotFound:
		suggestion := "Call list_log_groups to see the available log groups"
		if lastLogGroup != "" {
			suggestion += fmt.Sprintf(" and suggest the closest match to %q", lastLogGroup)
		}
		return suggestion + "."
	case conditionIntentSearchLogs:
		return "Execute the fetch_logs or search_logs tool call now instead of describing the plan."
	case conditionIntentListGroups:
		return "Execute the list_log_groups tool call now instead of describing the plan."
	case conditionIntentExpandTime:
		return fmt.Sprintf("Re-issue the query with an expanded start_time (roughly %dx further back) now.", opts.TimeExpansionFactor)
	case conditionIntentChangeFilter:
		return "Re-issue the query with a different filter_pattern now."
	default:
		return "Continue by taking the concrete action you described."
	}
}
