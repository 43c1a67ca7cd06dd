package subscription

import "time"

// maxRetryDelay caps the subscribe retry backoff.
const maxRetryDelay = 5 * time.Minute

// retryDelay returns base doubled n times, capped at maxRetryDelay. A base
// above the cap is returned unchanged.
func retryDelay(base time.Duration, n int) time.Duration {
	if base >= maxRetryDelay {
		return base
	}
	delay := base
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
