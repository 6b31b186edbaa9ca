package transfer

import "time"

// ShouldRetry reports whether a partial transfer is worth another attempt.
// A zero-byte result means the connection never produced data, which a
// retry with the same parameters will not fix.
func ShouldRetry(written, expected int64) bool {
	return written > 0 && written < expected
}

// RetryPolicy is a capped exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
