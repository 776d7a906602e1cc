package cache

import "fmt"

// RateLimitKey is the per-credential request counter for the current window.
func RateLimitKey(tier, credentialID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", tier, credentialID)
}
