package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the admission and execution failure taxonomy. Typed
// errors below carry detail and match these via errors.Is.
var (
	ErrValidation         = errors.New("invalid request")
	ErrInjectionDetected  = errors.New("injection detected")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrAgentTimeout       = errors.New("agent timed out")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrShuttingDown       = errors.New("shutting down")
	ErrStoreClosed        = errors.New("memory store closed")
)

// ValidationError reports malformed or oversized input.
type ValidationError struct {
	Reason string
	Length int
	Max    int
}

func (e *ValidationError) Error() string {
	if e.Max > 0 {
		return fmt.Sprintf("invalid request: %s (%d > %d)", e.Reason, e.Length, e.Max)
	}
	return "invalid request: " + e.Reason
}

// Is makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InjectionError reports that the input matched an adversarial pattern.
type InjectionError struct {
	Pattern string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("injection detected: input matched %q", e.Pattern)
}

// Is makes errors.Is(err, ErrInjectionDetected) succeed.
func (e *InjectionError) Is(target error) bool { return target == ErrInjectionDetected }

// RateLimitError rejects a request and tells the caller when to retry.
type RateLimitError struct {
	Scope      string // "caller" or "tokens"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s limit %d), retry after %s", e.Scope, e.Limit, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimitExceeded) succeed.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// ProviderAttempt records the outcome of one provider in a fallback chain.
type ProviderAttempt struct {
	ProviderID string
	Skipped    bool // circuit open, not called
	Err        error
}

// AllProvidersFailedError is returned when every provider in a chain was
// skipped or failed.
type AllProvidersFailedError struct {
	Attempts []ProviderAttempt
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		switch {
		case a.Skipped:
			parts = append(parts, a.ProviderID+": circuit open")
		case a.Err != nil:
			parts = append(parts, a.ProviderID+": "+a.Err.Error())
		default:
			parts = append(parts, a.ProviderID+": failed")
		}
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrAllProvidersFailed) succeed.
func (e *AllProvidersFailedError) Is(target error) bool { return target == ErrAllProvidersFailed }

// AgentError wraps a failure raised while running a single agent.
type AgentError struct {
	AgentID string
	Err     error
}

func (e *AgentError) Error() string { return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err) }

func (e *AgentError) Unwrap() error { return e.Err }

// IsAdmissionError reports whether err is a caller-facing rejection that
// happens before dispatch.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInjectionDetected) ||
		errors.Is(err, ErrRateLimitExceeded)
}
