package common

import "time"

// IsFresh returns true if the given timestamp is within the TTL window.
// A zero timestamp is never fresh.
func IsFresh(at time.Time, ttl time.Duration) bool {
	if at.IsZero() {
		return false
	}
	return time.Since(at) < ttl
}
