package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRetryPolicy_Delay tests the capped exponential backoff.
func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 15 * time.Second}

	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(2))
	assert.Equal(t, 15*time.Second, p.Delay(3))
	assert.Equal(t, 15*time.Second, p.Delay(64))
	assert.Equal(t, 2*time.Second, p.Delay(-1))
}

// TestShouldRetry tests which partial results are worth another attempt.
func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name              string
		written, expected int64
		want              bool
	}{
		{"no data", 0, 1000, false},
		{"partial", 400, 1000, true},
		{"one byte short", 999, 1000, true},
		{"complete", 1000, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.written, tt.expected))
		})
	}
}
