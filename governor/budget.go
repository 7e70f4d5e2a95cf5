package governor

import (
	"sync"
	"time"
)

// TokenBudget enforces a maximum number of estimated provider tokens per
// clock hour. A max of 0 means unlimited.
type TokenBudget struct {
	max  int
	used int
	hour time.Time
	mu   sync.Mutex
}

// NewTokenBudget creates a budget with the given hourly cap.
func NewTokenBudget(max int) *TokenBudget {
	return &TokenBudget{max: max}
}

// EstimateTokens approximates token usage from text at one token per four
// bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func (b *TokenBudget) roll(now time.Time) {
	h := now.Truncate(time.Hour)
	if !h.Equal(b.hour) {
		b.hour = h
		b.used = 0
	}
}

// Add records token usage for the hour containing now.
func (b *TokenBudget) Add(tokens int, now time.Time) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(now)
	b.used += tokens
}

// Check reports whether budget is left. When exhausted it also returns the
// time until the next hour starts.
func (b *TokenBudget) Check(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(now)
	if b.max > 0 && b.used >= b.max {
		return false, b.hour.Add(time.Hour).Sub(now)
	}
	return true, 0
}

// Used returns tokens consumed in the hour containing now.
func (b *TokenBudget) Used(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll(now)
	return b.used
}

// Remaining returns how many tokens are left this hour, or -1 when unlimited.
func (b *TokenBudget) Remaining(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}
	b.roll(now)
	if b.used >= b.max {
		return 0
	}
	return b.max - b.used
}
