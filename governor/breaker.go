package governor

import "time"

// CircuitState is the circuit breaker state of a provider.
type CircuitState int

const (
	// StateClosed - normal operation, calls allowed
	StateClosed CircuitState = iota
	// StateHalfOpen - cooldown elapsed, a single probe call is allowed
	StateHalfOpen
	// StateOpen - failing, calls skipped until the cooldown elapses
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ProviderHealth is the breaker bookkeeping for one provider.
type ProviderHealth struct {
	ProviderID          string
	State               CircuitState
	ConsecutiveFailures int
	CooldownUntil       time.Time
	ProbeInFlight       bool
	ProbeStartedAt      time.Time
	LastTransition      time.Time
}

// CooldownRemaining returns how long an open circuit keeps rejecting calls.
func (h ProviderHealth) CooldownRemaining(now time.Time) time.Duration {
	if h.State != StateOpen || !now.Before(h.CooldownUntil) {
		return 0
	}
	return h.CooldownUntil.Sub(now)
}

type breakerEvent int

const (
	eventAllow breakerEvent = iota
	eventSuccess
	eventFailure
	eventRelease // probe abandoned without an outcome
)

// transition is the breaker state machine. It is a pure function of the
// current health, the event, the time and the limits; the returned bool is
// only meaningful for eventAllow.
func transition(h ProviderHealth, ev breakerEvent, now time.Time, l Limits) (ProviderHealth, bool) {
	switch ev {
	case eventAllow:
		switch h.State {
		case StateClosed:
			return h, true
		case StateOpen:
			if now.Before(h.CooldownUntil) {
				return h, false
			}
			h.State = StateHalfOpen
			h.LastTransition = now
			h.ProbeInFlight = true
			h.ProbeStartedAt = now
			return h, true
		case StateHalfOpen:
			// A probe that never reported back is considered lost after one
			// cooldown period.
			if h.ProbeInFlight && now.Before(h.ProbeStartedAt.Add(l.Cooldown)) {
				return h, false
			}
			h.ProbeInFlight = true
			h.ProbeStartedAt = now
			return h, true
		}

	case eventSuccess:
		switch h.State {
		case StateClosed:
			h.ConsecutiveFailures = 0
		case StateHalfOpen:
			h.State = StateClosed
			h.ConsecutiveFailures = 0
			h.ProbeInFlight = false
			h.LastTransition = now
		case StateOpen:
			// late success from a call admitted before the circuit opened
		}
		return h, true

	case eventFailure:
		h.ConsecutiveFailures++
		switch h.State {
		case StateClosed:
			if h.ConsecutiveFailures >= l.FailureThreshold {
				h.State = StateOpen
				h.CooldownUntil = now.Add(l.Cooldown)
				h.LastTransition = now
			}
		case StateHalfOpen:
			h.State = StateOpen
			h.CooldownUntil = now.Add(l.Cooldown)
			h.ProbeInFlight = false
			h.LastTransition = now
		case StateOpen:
		}
		return h, true

	case eventRelease:
		if h.State == StateHalfOpen {
			h.ProbeInFlight = false
		}
		return h, true
	}
	return h, false
}
