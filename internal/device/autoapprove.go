package device

import (
	"encoding/json"
	"strings"
)

// ParsePatterns decodes a project's auto-approval tag pattern. The stored
// value may be a JSON list, a JSON scalar, or a comma-separated string.
func ParsePatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		var patterns []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		return patterns
	}

	list, ok := decoded.([]any)
	if !ok {
		return []string{raw}
	}
	var patterns []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			patterns = append(patterns, s)
		}
	}
	return patterns
}

// MatchesAutoApproval reports whether any tag contains any pattern, ignoring case.
func MatchesAutoApproval(patterns, tags []string) bool {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, p := range patterns {
			if strings.Contains(lower, strings.ToLower(p)) {
				return true
			}
		}
	}
	return false
}
