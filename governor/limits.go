package governor

import "time"

// Limits are the process-wide safety constants. A Governor copies them at
// construction and exposes no way to change them afterwards, so neither agents
// nor request content can relax them.
type Limits struct {
	// MaxInputLength is the maximum request length in runes.
	MaxInputLength int
	// RateLimit is the number of requests a caller may submit per RatePeriod.
	// Zero disables rate limiting.
	RateLimit  int
	RatePeriod time.Duration
	// FailureThreshold is the number of consecutive provider failures that
	// opens a circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects calls before a probe.
	Cooldown time.Duration
	// TokenBudgetPerHour caps estimated provider tokens per clock hour. Zero
	// disables the budget.
	TokenBudgetPerHour int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxInputLength:     5000,
		RateLimit:          30,
		RatePeriod:         time.Minute,
		FailureThreshold:   3,
		Cooldown:           60 * time.Second,
		TokenBudgetPerHour: 250_000,
	}
}

// withDefaults fills zero-valued fields that have no meaningful zero.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxInputLength <= 0 {
		l.MaxInputLength = d.MaxInputLength
	}
	if l.RatePeriod <= 0 {
		l.RatePeriod = d.RatePeriod
	}
	if l.FailureThreshold <= 0 {
		l.FailureThreshold = d.FailureThreshold
	}
	if l.Cooldown <= 0 {
		l.Cooldown = d.Cooldown
	}
	return l
}
