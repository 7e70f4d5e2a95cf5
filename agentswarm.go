// Package agentswarm provides the high-level façade over the orchestration
// core: admission control, fast path, intent routing, concurrent dispatch and
// durable memory. Most applications interact with this package by:
//  1. Creating a Swarm via New() (optionally supplying a durable memory store)
//  2. Building a provider chain guarded by Swarm.Governor() and the agents
//     that use it
//  3. Registering every agent with its capability profile (RegisterAgent)
//  4. Submitting user text (Submit) and closing the swarm on shutdown (Close)
//
// A Swarm is the explicit process-wide context object: it owns the governor,
// router, dispatcher and memory store, and nothing in the core relies on
// package-level state.
package agentswarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/dispatcher"
	"github.com/hupe1980/agentswarm/fastpath"
	"github.com/hupe1980/agentswarm/governor"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/memory"
	"github.com/hupe1980/agentswarm/metrics"
	"github.com/hupe1980/agentswarm/router"
)

// Options configures the Swarm instance.
type Options struct {
	// Limits are the governor's safety constants.
	Limits governor.Limits

	// DispatcherConfig bounds agent concurrency and per-agent deadlines.
	DispatcherConfig dispatcher.Config

	// RouterThreshold is the minimum score for an agent to be selected.
	RouterThreshold float64

	// DefaultAgent handles blank and unclassified input. It also authors
	// fast path answers.
	DefaultAgent string

	// Memory defaults to an in-memory store. The Swarm closes it on Close.
	Memory *memory.Store

	// Callbacks are optional dispatcher lifecycle hooks. Agent latency is
	// always recorded into memory.
	Callbacks *dispatcher.CallbackManager

	// DisableFastPath routes greetings like any other input.
	DisableFastPath bool

	// Clock drives the governor's windows and cooldowns.
	Clock func() time.Time

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Metrics is optional; a nil value disables metric collection.
	Metrics *metrics.Metrics
}

// Stats is a point-in-time view of swarm activity.
type Stats struct {
	Requests       uint64                    `json:"requests"`
	FastPath       uint64                    `json:"fast_path"`
	Rejected       uint64                    `json:"rejected"`
	Dispatcher     dispatcher.Stats          `json:"dispatcher"`
	TokensUsed     int                       `json:"tokens_used"`
	Providers      []governor.ProviderHealth `json:"providers"`
	MemoryPending  int                       `json:"memory_pending"`
	MemoryDegraded bool                      `json:"memory_degraded"`
}

// Swarm aggregates the orchestration components.
type Swarm struct {
	opts       Options
	logger     logging.Logger
	governor   *governor.Governor
	router     *router.Router
	fastpath   *fastpath.Matcher
	dispatcher *dispatcher.Dispatcher
	memory     *memory.Store

	closed   atomic.Bool
	requests atomic.Uint64
	fastHits atomic.Uint64
	rejected atomic.Uint64
}

// New creates a Swarm. Any unset component is initialized with its default.
func New(optFns ...func(o *Options)) (*Swarm, error) {
	opts := Options{
		Limits:           governor.DefaultLimits(),
		DispatcherConfig: dispatcher.DefaultConfig,
		RouterThreshold:  0.5,
		DefaultAgent:     "echo",
		Clock:            time.Now,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)

	mem := opts.Memory
	if mem == nil {
		var err error
		mem, err = memory.New(func(o *memory.Options) {
			o.Logger = logger
			o.Metrics = opts.Metrics
		})
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
	}

	callbacks := opts.Callbacks
	if callbacks == nil {
		callbacks = dispatcher.NewCallbackManager()
	}
	callbacks.RegisterCallback(dispatcher.NewLatencyCallback(mem))

	s := &Swarm{
		opts:   opts,
		logger: logger,
		memory: mem,
		governor: governor.New(func(o *governor.Options) {
			o.Limits = opts.Limits
			o.Clock = opts.Clock
			o.Logger = logger
			o.Metrics = opts.Metrics
			o.Recorder = mem
		}),
		router: router.New(func(o *router.Options) {
			o.Threshold = opts.RouterThreshold
			o.DefaultAgent = opts.DefaultAgent
		}),
		fastpath: fastpath.New(func(o *fastpath.Options) {
			o.AgentID = opts.DefaultAgent
			o.Recorder = mem
			o.Clock = opts.Clock
			o.Logger = logger
		}),
		dispatcher: dispatcher.New(func(o *dispatcher.Options) {
			o.Config = opts.DispatcherConfig
			o.Logger = logger
			o.Metrics = opts.Metrics
			o.Callbacks = callbacks
		}),
	}
	return s, nil
}

// Governor returns the admission gate. Provider chains use it as their
// circuit breaker guard.
func (s *Swarm) Governor() *governor.Governor { return s.governor }

// Memory returns the memory store.
func (s *Swarm) Memory() *memory.Store { return s.memory }

// Router returns the intent router.
func (s *Swarm) Router() *router.Router { return s.router }

// Agents lists registered agents in merge priority order.
func (s *Swarm) Agents() []string { return s.dispatcher.Agents() }

// RegisterAgent adds an agent to the dispatcher and its capability profile to
// the router. Registration order is merge priority. An empty profile AgentID
// defaults to the agent's name; a profile without terms makes the agent
// reachable only as the default agent.
func (s *Swarm) RegisterAgent(a core.Agent, p router.Profile) error {
	if a == nil || strings.TrimSpace(a.Name()) == "" {
		return errors.New("agent has no name")
	}
	if p.AgentID == "" {
		p.AgentID = a.Name()
	}
	if p.AgentID != a.Name() {
		return fmt.Errorf("profile %q does not match agent %q", p.AgentID, a.Name())
	}
	if len(p.Terms) > 0 || len(p.Keywords) > 0 {
		if err := s.router.Register(p); err != nil {
			return err
		}
	}
	s.dispatcher.Register(a)
	s.logger.Debug("Agent registered", "agent", a.Name(), "terms", len(p.Terms)+len(p.Keywords))
	return nil
}

// Submit runs one user request through the pipeline: rate limit, token
// budget, validation, fact learning, fast path, classification and dispatch.
// The scrubbed interaction is recorded in memory. Admission failures are
// returned as errors matching core.IsAdmissionError; agent failures are KindError
// payloads in the result.
func (s *Swarm) Submit(ctx context.Context, text, callerID string) ([]core.ResultPayload, error) {
	if s.closed.Load() {
		return nil, core.ErrShuttingDown
	}
	req := core.NewRequest(text, callerID)
	start := time.Now()
	s.requests.Add(1)

	if err := s.admit(req); err != nil {
		s.rejected.Add(1)
		return nil, err
	}
	s.learn(req)

	if !s.opts.DisableFastPath {
		if p, ok := s.fastpath.Match(req.Text); ok {
			s.fastHits.Add(1)
			s.opts.Metrics.IncFastPath()
			s.logger.Debug("Fast path answer", "correlation_id", req.CorrelationID)
			payloads := []core.ResultPayload{p}
			s.recordInteraction(req, []string{p.AgentID}, payloads, true, time.Since(start))
			return payloads, nil
		}
	}

	intent := s.router.Classify(req.Text)
	ids := intent.AgentIDs()
	s.logger.Debug("Request classified", "correlation_id", req.CorrelationID, "agents", ids, "fallback", intent.Fallback)

	payloads, err := s.dispatcher.Dispatch(ctx, req, ids)
	if err != nil {
		return nil, err
	}
	s.recordInteraction(req, ids, payloads, false, time.Since(start))
	return payloads, nil
}

func (s *Swarm) admit(req core.Request) error {
	if err := s.governor.CheckRate(req.CallerID); err != nil {
		return err
	}
	if err := s.governor.CheckBudget(); err != nil {
		return err
	}
	return s.governor.Validate(req)
}

// learn stores the facts a user states about themselves, such as their
// name. Failures only cost the fact.
func (s *Swarm) learn(req core.Request) {
	for _, f := range memory.ExtractFacts(req.Text) {
		if err := s.memory.UpsertFact(f.Key, governor.ScrubPII(f.Value)); err != nil {
			s.logger.Warn("Fact not stored", "key", f.Key, "correlation_id", req.CorrelationID, "error", err)
			return
		}
		s.logger.Debug("Fact learned", "key", f.Key, "correlation_id", req.CorrelationID)
	}
}

func (s *Swarm) recordInteraction(req core.Request, agents []string, payloads []core.ResultPayload, fast bool, dur time.Duration) {
	failed := 0
	var answer strings.Builder
	for _, p := range payloads {
		if p.IsError() {
			failed++
			continue
		}
		if answer.Len() > 0 {
			answer.WriteString("\n")
		}
		answer.WriteString(p.Text())
	}

	details := map[string]any{
		"correlation_id": req.CorrelationID,
		"query":          governor.ScrubPII(preview(req.Text, 500)),
		"response":       governor.ScrubPII(preview(answer.String(), 500)),
		"agents":         agents,
		"fast_path":      fast,
		"errors":         failed,
		"duration_ms":    dur.Milliseconds(),
	}
	if req.CallerID != "" {
		details["caller"] = req.CallerID
	}
	if err := s.memory.RecordEvent("swarm", "interaction", details); err != nil {
		s.logger.Warn("Interaction not recorded", "correlation_id", req.CorrelationID, "error", err)
	}
	if err := s.memory.RecordStat("request_latency_ms", float64(dur.Microseconds())/1000); err != nil {
		s.logger.Debug("Latency stat dropped", "error", err)
	}
}

// Stats returns a snapshot of swarm activity.
func (s *Swarm) Stats() Stats {
	return Stats{
		Requests:       s.requests.Load(),
		FastPath:       s.fastHits.Load(),
		Rejected:       s.rejected.Load(),
		Dispatcher:     s.dispatcher.Stats(),
		TokensUsed:     s.governor.TokensUsed(),
		Providers:      s.governor.Snapshot(),
		MemoryPending:  s.memory.Pending(),
		MemoryDegraded: s.memory.Degraded(),
	}
}

// Close stops admitting requests, drains in-flight dispatches and then
// flushes and closes memory. Memory is closed even when the drain times out.
func (s *Swarm) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	drainErr := s.dispatcher.Shutdown(ctx)
	// memory still gets a chance to flush when the drain deadline has passed
	memCtx := ctx
	if drainErr != nil {
		var cancel context.CancelFunc
		memCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	return errors.Join(drainErr, s.memory.Close(memCtx))
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
