// Package governor is the admission gate of the swarm. It validates input,
// detects prompt injection, enforces per-caller rate limits and an hourly
// token budget, and keeps circuit breaker bookkeeping for every generative
// provider.
//
// All shared state (rate windows, provider health, token budget) is guarded
// so that concurrent dispatches never lose updates. Limits are fixed at
// construction.
package governor

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/metrics"
)

// maxTrackedCallers bounds the rate window map before expired windows are
// swept.
const maxTrackedCallers = 4096

// Recorder receives audit events. A memory store satisfies it.
type Recorder interface {
	RecordEvent(actor, action string, details map[string]any) error
}

// Options configures a Governor.
type Options struct {
	Limits   Limits
	Clock    func() time.Time
	Logger   logging.Logger
	Metrics  *metrics.Metrics
	Recorder Recorder
}

// Governor enforces admission control and circuit breaking.
type Governor struct {
	limits   Limits
	now      func() time.Time
	logger   logging.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	budget   *TokenBudget

	mu        sync.Mutex
	windows   map[string]*RateWindow
	providers map[string]ProviderHealth
}

// New creates a Governor with DefaultLimits unless overridden.
func New(optFns ...func(o *Options)) *Governor {
	opts := Options{
		Limits: DefaultLimits(),
		Clock:  time.Now,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	limits := opts.Limits.withDefaults()
	return &Governor{
		limits:    limits,
		now:       opts.Clock,
		logger:    logging.OrNoOp(opts.Logger),
		metrics:   opts.Metrics,
		recorder:  opts.Recorder,
		budget:    NewTokenBudget(limits.TokenBudgetPerHour),
		windows:   make(map[string]*RateWindow),
		providers: make(map[string]ProviderHealth),
	}
}

// Limits returns a copy of the configured limits.
func (g *Governor) Limits() Limits { return g.limits }

// Validate rejects oversized, malformed or adversarial input. Empty and
// whitespace-only input is valid.
func (g *Governor) Validate(req core.Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return nil
	}
	if !utf8.ValidString(req.Text) {
		err := &core.ValidationError{Reason: "input is not valid UTF-8"}
		g.reject(req, "validation", err)
		return err
	}
	if n := utf8.RuneCountInString(req.Text); n > g.limits.MaxInputLength {
		err := &core.ValidationError{Reason: "input too long", Length: n, Max: g.limits.MaxInputLength}
		g.reject(req, "validation", err)
		return err
	}
	lower := strings.ToLower(req.Text)
	for _, re := range injectionPatterns {
		if re.MatchString(lower) {
			err := &core.InjectionError{Pattern: re.String()}
			g.reject(req, "injection", err)
			return err
		}
	}
	return nil
}

// CheckRate counts one request against the caller's window.
func (g *Governor) CheckRate(caller string) error {
	if g.limits.RateLimit <= 0 {
		return nil
	}
	now := g.now()

	g.mu.Lock()
	w, ok := g.windows[caller]
	if !ok {
		if len(g.windows) >= maxTrackedCallers {
			g.sweepWindows(now)
		}
		w = &RateWindow{Limit: g.limits.RateLimit, Period: g.limits.RatePeriod}
		g.windows[caller] = w
	}
	allowed, retry := w.admit(now)
	g.mu.Unlock()

	if allowed {
		return nil
	}
	err := &core.RateLimitError{Scope: "caller", Limit: g.limits.RateLimit, RetryAfter: retry}
	g.reject(core.Request{CallerID: caller}, "rate_limit", err)
	return err
}

// sweepWindows drops windows that have rolled over. Callers must hold g.mu.
func (g *Governor) sweepWindows(now time.Time) {
	for k, w := range g.windows {
		if w.expired(now) {
			delete(g.windows, k)
		}
	}
}

// RateWindow returns a copy of the caller's current window.
func (g *Governor) RateWindow(caller string) (RateWindow, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[caller]
	if !ok {
		return RateWindow{}, false
	}
	return *w, true
}

// CheckBudget rejects admission while the hourly token budget is exhausted.
func (g *Governor) CheckBudget() error {
	ok, retry := g.budget.Check(g.now())
	if ok {
		return nil
	}
	err := &core.RateLimitError{Scope: "tokens", Limit: g.limits.TokenBudgetPerHour, RetryAfter: retry}
	g.reject(core.Request{}, "token_budget", err)
	return err
}

// RecordUsage adds provider token usage to the hourly budget.
func (g *Governor) RecordUsage(tokens int) {
	g.budget.Add(tokens, g.now())
}

// TokensUsed returns the tokens consumed in the current hour.
func (g *Governor) TokensUsed() int { return g.budget.Used(g.now()) }

// Allow reports whether a call to provider may proceed. An open circuit whose
// cooldown has elapsed moves to half-open and admits exactly one probe.
func (g *Governor) Allow(provider string) bool {
	now := g.now()

	g.mu.Lock()
	prev := g.healthLocked(provider)
	next, ok := transition(prev, eventAllow, now, g.limits)
	g.providers[provider] = next
	g.mu.Unlock()

	g.observeTransition(prev, next)
	return ok
}

// RecordOutcome reports the result of a provider call.
func (g *Governor) RecordOutcome(provider string, success bool) {
	ev := eventFailure
	if success {
		ev = eventSuccess
	}
	now := g.now()

	g.mu.Lock()
	prev := g.healthLocked(provider)
	next, _ := transition(prev, ev, now, g.limits)
	g.providers[provider] = next
	g.mu.Unlock()

	g.observeTransition(prev, next)
}

// Release gives back a half-open probe slot when the call was abandoned
// without an outcome, for example because the caller cancelled.
func (g *Governor) Release(provider string) {
	now := g.now()

	g.mu.Lock()
	next, _ := transition(g.healthLocked(provider), eventRelease, now, g.limits)
	g.providers[provider] = next
	g.mu.Unlock()
}

// Health returns the breaker state of a provider. Unknown providers are
// reported as closed.
func (g *Governor) Health(provider string) ProviderHealth {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthLocked(provider)
}

// Snapshot returns the health of every provider seen so far, sorted by id.
func (g *Governor) Snapshot() []ProviderHealth {
	g.mu.Lock()
	out := make([]ProviderHealth, 0, len(g.providers))
	for _, h := range g.providers {
		out = append(out, h)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

func (g *Governor) healthLocked(provider string) ProviderHealth {
	h, ok := g.providers[provider]
	if !ok {
		h = ProviderHealth{ProviderID: provider, State: StateClosed}
	}
	return h
}

func (g *Governor) observeTransition(prev, next ProviderHealth) {
	if prev.State == next.State {
		return
	}
	g.metrics.SetBreakerState(next.ProviderID, float64(next.State))
	details := map[string]any{
		"provider": next.ProviderID,
		"from":     prev.State.String(),
		"to":       next.State.String(),
		"failures": next.ConsecutiveFailures,
	}
	if next.State == StateOpen {
		g.logger.Warn("circuit opened", "provider", next.ProviderID, "failures", next.ConsecutiveFailures, "cooldown_until", next.CooldownUntil)
	} else {
		g.logger.Info("circuit state changed", "provider", next.ProviderID, "from", prev.State.String(), "to", next.State.String())
	}
	g.audit("breaker_transition", details)
}

func (g *Governor) reject(req core.Request, reason string, err error) {
	g.metrics.IncRejection(reason)
	g.logger.Warn("request rejected", "reason", reason, "caller", req.CallerID, "correlation_id", req.CorrelationID, "error", err)
	details := map[string]any{"reason": reason, "error": err.Error()}
	if req.CallerID != "" {
		details["caller"] = req.CallerID
	}
	if req.Text != "" {
		details["preview"] = ScrubPII(truncate(req.Text, 200))
	}
	g.audit("request_rejected", details)
}

func (g *Governor) audit(action string, details map[string]any) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.RecordEvent("governor", action, details); err != nil {
		g.logger.Debug("audit record dropped", "action", action, "error", err)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
