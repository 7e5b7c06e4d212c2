package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ReconnectBackoff yields the delay before each reconnect attempt: attempt n
// waits Base*n for n in [1, MaxAttempts]; once MaxAttempts consecutive
// attempts have been spent it yields Cooldown and starts counting again.
// It is not safe for concurrent use.
type ReconnectBackoff struct {
	Base        time.Duration
	MaxAttempts int
	Cooldown    time.Duration

	attempts int
}

func NewReconnectBackoff(base time.Duration, maxAttempts int, cooldown time.Duration) *ReconnectBackoff {
	if base <= 0 {
		base = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &ReconnectBackoff{Base: base, MaxAttempts: maxAttempts, Cooldown: cooldown}
}

// Next returns the delay for the next attempt and advances the counter.
func (b *ReconnectBackoff) Next() time.Duration {
	if b.attempts >= b.MaxAttempts {
		b.attempts = 0
		return b.Cooldown
	}
	b.attempts++
	return b.Base * time.Duration(b.attempts)
}

// Attempts reports consecutive attempts since the last reset or cooldown.
func (b *ReconnectBackoff) Attempts() int { return b.attempts }

// Reset is called once a connection is established.
func (b *ReconnectBackoff) Reset() { b.attempts = 0 }
