package retry

import (
	"math"
	"time"
)

// MaxDelay matches the ceiling the platform scheduler applies to backoff.
const MaxDelay = 5 * time.Hour

// Backoff is exponential: Base, 2*Base, 4*Base...
type Backoff struct {
	Base time.Duration
	// MaxAttempts of 0 retries forever
	MaxAttempts int
}

// Delay returns the wait before the given attempt (1-based) is retried.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if d <= 0 || d > float64(MaxDelay) {
		return MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt has used up the budget.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
