package datetime

import (
	"fmt"
	"time"
)

// FormatLoadedAt renders a log-group catalog's load timestamp for the
// system prompt: the absolute UTC instant plus a relative-time
// qualifier, e.g. "2026-07-30T10:00:00Z (5 minutes ago)". Callers that
// render a catalog summary use this instead of a bare RFC3339 stamp so
// the model (and a human skimming the transcript) can judge staleness
// without doing date arithmetic.
func FormatLoadedAt(loadedAt time.Time) string {
	if loadedAt.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", loadedAt.Format(time.RFC3339), FormatRelativeTime(loadedAt, time.Now()))
}

// FormatRelativeTime returns a human-readable relative time string.
// Examples: "just now", "5 minutes ago", "2 hours ago", "yesterday", "3 days ago"
func FormatRelativeTime(t time.Time, now time.Time) string {
	diff := now.Sub(t)

	if diff < 0 {
		// Future time
		diff = -diff
		return formatFuture(diff)
	}

	return formatPast(diff)
}

func formatPast(diff time.Duration) string {
	seconds := int64(diff.Seconds())

	if seconds < 60 {
		return "just now"
	}

	minutes := seconds / 60
	if minutes == 1 {
		return "1 minute ago"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes ago", minutes)
	}

	hours := minutes / 60
	if hours == 1 {
		return "1 hour ago"
	}
	if hours < 24 {
		return fmt.Sprintf("%d hours ago", hours)
	}

	days := hours / 24
	if days == 1 {
		return "yesterday"
	}
	if days < 7 {
		return fmt.Sprintf("%d days ago", days)
	}

	weeks := days / 7
	if weeks == 1 {
		return "1 week ago"
	}
	if weeks < 4 {
		return fmt.Sprintf("%d weeks ago", weeks)
	}

	months := days / 30
	if months == 1 {
		return "1 month ago"
	}
	if months < 12 {
		return fmt.Sprintf("%d months ago", months)
	}

	years := days / 365
	if years == 1 {
		return "1 year ago"
	}
	return fmt.Sprintf("%d years ago", years)
}

func formatFuture(diff time.Duration) string {
	seconds := int64(diff.Seconds())

	if seconds < 60 {
		return "in a moment"
	}

	minutes := seconds / 60
	if minutes == 1 {
		return "in 1 minute"
	}
	if minutes < 60 {
		return fmt.Sprintf("in %d minutes", minutes)
	}

	hours := minutes / 60
	if hours == 1 {
		return "in 1 hour"
	}
	if hours < 24 {
		return fmt.Sprintf("in %d hours", hours)
	}

	days := hours / 24
	if days == 1 {
		return "tomorrow"
	}
	if days < 7 {
		return fmt.Sprintf("in %d days", days)
	}

	weeks := days / 7
	if weeks == 1 {
		return "in 1 week"
	}
	if weeks < 4 {
		return fmt.Sprintf("in %d weeks", weeks)
	}

	months := days / 30
	if months == 1 {
		return "in 1 month"
	}
	if months < 12 {
		return fmt.Sprintf("in %d months", months)
	}

	years := days / 365
	if years == 1 {
		return "in 1 year"
	}
	return fmt.Sprintf("in %d years", years)
}
