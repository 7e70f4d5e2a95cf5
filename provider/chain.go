// Package provider implements the ordered fallback chain over generative
// backends. Each provider is guarded by a circuit breaker; open circuits are
// skipped without being called and every attempt reports its outcome back to
// the guard.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/governor"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/metrics"
	"github.com/hupe1980/agentswarm/model"
)

// Guard is the circuit breaker and budget bookkeeping the chain reports to.
// *governor.Governor implements it.
type Guard interface {
	Allow(providerID string) bool
	RecordOutcome(providerID string, success bool)
	Release(providerID string)
	RecordUsage(tokens int)
}

var _ Guard = (*governor.Governor)(nil)

// Provider is a named generative backend.
type Provider struct {
	ID    string
	Model model.Model
}

// Options configures a Chain.
type Options struct {
	Guard   Guard
	Logger  logging.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Chain tries providers in fixed priority order until one succeeds.
type Chain struct {
	providers []Provider
	guard     Guard
	logger    logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewChain creates a chain over providers in the given order. Without a
// Guard, providers are never skipped.
func NewChain(providers []Provider, optFns ...func(o *Options)) *Chain {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Guard == nil {
		opts.Guard = noGuard{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agentswarm/provider")
	}
	return &Chain{
		providers: append([]Provider(nil), providers...),
		guard:     opts.Guard,
		logger:    logging.OrNoOp(opts.Logger),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
}

// Providers returns provider ids in priority order.
func (c *Chain) Providers() []string {
	ids := make([]string, len(c.providers))
	for i, p := range c.providers {
		ids[i] = p.ID
	}
	return ids
}

// Result is a successful chain invocation.
type Result struct {
	ProviderID string
	Response   model.Response
	Attempts   []core.ProviderAttempt
}

// Invoke sends req to the first available provider that succeeds. Caller
// cancellation stops the chain without counting against the provider.
// Exhaustion returns *core.AllProvidersFailedError.
func (c *Chain) Invoke(ctx context.Context, req model.Request) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "provider.chain")
	defer span.End()

	attempts := make([]core.ProviderAttempt, 0, len(c.providers))
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return Result{Attempts: attempts}, err
		}
		if !c.guard.Allow(p.ID) {
			c.metrics.IncProviderCall(p.ID, "skipped")
			c.logger.Debug("provider skipped, circuit open", "provider", p.ID)
			attempts = append(attempts, core.ProviderAttempt{ProviderID: p.ID, Skipped: true})
			continue
		}

		start := time.Now()
		resp, err := model.Collect(ctx, p.Model, req)
		dur := time.Since(start)

		if err != nil && ctx.Err() != nil {
			// the caller gave up; the provider is not to blame
			c.guard.Release(p.ID)
			span.SetStatus(codes.Error, "cancelled")
			return Result{Attempts: attempts}, fmt.Errorf("provider %s: %w", p.ID, ctx.Err())
		}

		c.logProviderCall(p.ID, tokensOf(req, resp, err), dur, err)
		if err != nil {
			c.guard.RecordOutcome(p.ID, false)
			c.metrics.IncProviderCall(p.ID, "failure")
			attempts = append(attempts, core.ProviderAttempt{ProviderID: p.ID, Err: err})
			continue
		}

		c.guard.RecordOutcome(p.ID, true)
		c.guard.RecordUsage(tokensOf(req, resp, nil))
		c.metrics.IncProviderCall(p.ID, "success")
		attempts = append(attempts, core.ProviderAttempt{ProviderID: p.ID})
		span.SetAttributes(attribute.String("provider", p.ID), attribute.Int("attempts", len(attempts)))
		return Result{ProviderID: p.ID, Response: resp, Attempts: attempts}, nil
	}

	err := &core.AllProvidersFailedError{Attempts: attempts}
	span.RecordError(err)
	span.SetStatus(codes.Error, "all providers failed")
	c.logger.Warn("all providers failed", "attempts", len(attempts))
	return Result{Attempts: attempts}, err
}

// Complete is a convenience wrapper returning only the response text.
func (c *Chain) Complete(ctx context.Context, instructions, prompt string) (string, error) {
	res, err := c.Invoke(ctx, model.NewRequest(instructions, prompt))
	if err != nil {
		return "", err
	}
	return res.Response.Text, nil
}

func (c *Chain) logProviderCall(id string, tokens int, dur time.Duration, err error) {
	if sl, ok := c.logger.(*logging.SwarmLogger); ok {
		sl.LogProviderCall(id, tokens, dur, err)
		return
	}
	if err != nil {
		c.logger.Warn("provider call failed", "provider", id, "duration", dur, "error", err)
		return
	}
	c.logger.Debug("provider call completed", "provider", id, "duration", dur, "tokens", tokens)
}

// tokensOf prefers reported usage and falls back to a length estimate.
func tokensOf(req model.Request, resp model.Response, err error) int {
	if err == nil && resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}
	n := governor.EstimateTokens(req.Instructions) + governor.EstimateTokens(resp.Text)
	for _, m := range req.Messages {
		n += governor.EstimateTokens(m.Text)
	}
	return n
}

type noGuard struct{}

func (noGuard) Allow(string) bool          { return true }
func (noGuard) RecordOutcome(string, bool) {}
func (noGuard) Release(string)             {}
func (noGuard) RecordUsage(int)            {}

// IsExhausted reports whether err means every provider failed or was skipped.
func IsExhausted(err error) bool {
	return errors.Is(err, core.ErrAllProvidersFailed)
}
