package datetime

import (
	"strings"
	"time"
)

// ResolveUserTimezone validates a configured timezone string.
// If invalid or empty, it falls back to the host system's timezone.
// Returns "UTC" as a last resort.
func ResolveUserTimezone(configured string) string {
	trimmed := strings.TrimSpace(configured)
	if trimmed != "" {
		if isValidTimezone(trimmed) {
			return trimmed
		}
	}
	// Fall back to host timezone
	host := getHostTimezone()
	if host != "" {
		return host
	}
	return "UTC"
}

// isValidTimezone checks if a timezone string is valid by attempting to load it.
func isValidTimezone(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// getHostTimezone returns the host system's timezone.
func getHostTimezone() string {
	loc := time.Now().Location()
	if loc != nil && loc.String() != "" {
		return loc.String()
	}
	return ""
}
