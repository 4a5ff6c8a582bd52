// Package sanitizer redacts likely-sensitive substrings from log
// payloads before they reach the LLM. It is a stateless pure function
// over strings and event records, grounded in the ordered-regex
// redaction idiom used by the observability package's Logger.
package sanitizer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Pattern is one named redaction rule. Patterns are evaluated in the
// order they appear in a Sanitizer's pattern set.
type Pattern struct {
	Name        string
	Regexp      *regexp.Regexp
	Replacement string
	Enabled     bool
}

// DefaultPatterns returns the default, ordered pattern set described in
// the component design: email, IPs, payment/identity numbers, cloud and
// API credentials, and embedded URL passwords.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{"email", regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[EMAIL_REDACTED]", true},
		{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]", true},
		{"ipv6", regexp.MustCompile(`\b(?:[a-fA-F0-9]{1,4}:){2,7}[a-fA-F0-9]{1,4}\b`), "[IP_REDACTED]", true},
		{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), "[CC_REDACTED]", true},
		{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]", true},
		{"us_phone", regexp.MustCompile(`\b\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`), "[PHONE_REDACTED]", true},
		{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[AWS_KEY_REDACTED]", true},
		{"aws_secret_key", regexp.MustCompile(`(?i)(aws_secret_access_key|secret[_-]?key)[\s:=]+["']?([A-Za-z0-9/+=]{40})["']?`), "[AWS_SECRET_REDACTED]", true},
		{"api_key", regexp.MustCompile(`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?|sk-[a-zA-Z0-9]{20,}`), "[API_KEY_REDACTED]", true},
		{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]{16,}`), "[TOKEN_REDACTED]", true},
		{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?:[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----)?`), "[PRIVATE_KEY_REDACTED]", true},
		{"url_password", regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.\-]*://[^\s:/@]+):[^\s@/]+@`), "$1:[PASSWORD_REDACTED]@", true},
	}
}

// Sanitizer applies an ordered set of Patterns to text and structured
// event data. The zero value is not usable; construct with New.
type Sanitizer struct {
	patterns []Pattern
	enabled  bool
}

// Option configures a Sanitizer at construction time.
type Option func(*Sanitizer)

// WithPatterns appends custom patterns after the default set.
func WithPatterns(patterns ...Pattern) Option {
	return func(s *Sanitizer) {
		s.patterns = append(s.patterns, patterns...)
	}
}

// Disabled constructs a Sanitizer whose operations are identity
// functions reporting zero redactions, per the toggle contract.
func Disabled() *Sanitizer {
	return &Sanitizer{enabled: false}
}

// New constructs an enabled Sanitizer with the default pattern set plus
// any additional patterns supplied via options.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{patterns: DefaultPatterns(), enabled: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of sanitizing one piece of text.
type Result struct {
	SanitizedText string
	Counts        map[string]int
	Total         int
}

// Sanitize replaces sensitive substrings in text with opaque tokens,
// applying every enabled pattern in order. Over-redaction is preferred
// to under-redaction: structural characters surrounding a match (log
// levels, timestamps, brackets) are left untouched.
func (s *Sanitizer) Sanitize(text string) Result {
	if s == nil || !s.enabled {
		return Result{SanitizedText: text, Counts: map[string]int{}, Total: 0}
	}

	counts := make(map[string]int)
	out := text
	for _, p := range s.patterns {
		if !p.Enabled {
			continue
		}
		matches := p.Regexp.FindAllStringIndex(out, -1)
		if len(matches) == 0 {
			continue
		}
		counts[p.Name] += len(matches)
		out = p.Regexp.ReplaceAllString(out, p.Replacement)
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return Result{SanitizedText: out, Counts: counts, Total: total}
}

// SanitizeEvents sanitizes the "message" field of each event in place,
// returning the mutated slice and the aggregate per-pattern counts.
func (s *Sanitizer) SanitizeEvents(events []map[string]any) ([]map[string]any, map[string]int) {
	total := make(map[string]int)
	for _, e := range events {
		msg, ok := e["message"].(string)
		if !ok {
			continue
		}
		r := s.Sanitize(msg)
		e["message"] = r.SanitizedText
		for k, v := range r.Counts {
			total[k] += v
		}
	}
	return events, total
}

// SanitizeDict sanitizes string values of obj. If keysWhitelist is
// non-empty, only those keys are sanitized; otherwise every string
// value is processed. Non-string values pass through unchanged.
func (s *Sanitizer) SanitizeDict(obj map[string]any, keysWhitelist ...string) (map[string]any, map[string]int) {
	total := make(map[string]int)
	var allow map[string]bool
	if len(keysWhitelist) > 0 {
		allow = make(map[string]bool, len(keysWhitelist))
		for _, k := range keysWhitelist {
			allow[k] = true
		}
	}

	for k, v := range obj {
		if allow != nil && !allow[k] {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		r := s.Sanitize(str)
		obj[k] = r.SanitizedText
		for name, c := range r.Counts {
			total[name] += c
		}
	}
	return obj, total
}

// Summary renders per-pattern counts as a human-readable phrase, e.g.
// "3 Email, 2 Ipv4, 1 Aws Key" or "No sensitive data redacted".
func Summary(counts map[string]int) string {
	if len(counts) == 0 {
		return "No sensitive data redacted"
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if counts[name] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", counts[name], titleCase(name)))
	}
	if len(parts) == 0 {
		return "No sensitive data redacted"
	}
	return strings.Join(parts, ", ")
}

func titleCase(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
