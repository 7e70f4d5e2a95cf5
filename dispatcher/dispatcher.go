package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/metrics"
)

// Config defines tuning parameters for the Dispatcher.
type Config struct {
	// MaxConcurrentAgents bounds how many agent calls run at once across all
	// dispatches. Excess agents wait for a free slot.
	MaxConcurrentAgents int

	// AgentTimeout is the deadline applied to each individual agent call.
	AgentTimeout time.Duration
}

// DefaultConfig provides the default worker slots and per-agent deadline.
var DefaultConfig = Config{
	MaxConcurrentAgents: 6,
	AgentTimeout:        30 * time.Second,
}

// Options configures a Dispatcher instance using the functional options
// pattern.
type Options struct {
	// Config contains operational parameters. Zero fields fall back to
	// DefaultConfig.
	Config Config

	// Logger defaults to a NoOp logger.
	Logger logging.Logger

	// Metrics is optional; a nil value disables metric collection.
	Metrics *metrics.Metrics

	// Tracer defaults to the global OpenTelemetry tracer.
	Tracer trace.Tracer

	// Callbacks are optional lifecycle hooks around each agent call.
	Callbacks *CallbackManager
}

// Stats is a point-in-time view of dispatcher activity.
type Stats struct {
	RequestsProcessed uint64        `json:"requests_processed"`
	AgentsActive      int64         `json:"agents_active"`
	AgentRuns         uint64        `json:"agent_runs"`
	AgentFailures     uint64        `json:"agent_failures"`
	AgentTimeouts     uint64        `json:"agent_timeouts"`
	MeanLatency       time.Duration `json:"mean_latency"`
}

// Dispatcher runs the agents selected for a request concurrently and merges
// their payloads into one deterministic result list.
//
// Concurrency Model:
//   - A shared semaphore bounds concurrent agent calls
//   - Every agent call gets its own deadline; an agent that ignores its
//     context is abandoned once the deadline passes
//   - A dispatch waits for all of its agents; one failing agent never
//     cancels its siblings
//
// Failure Handling:
// Errors, panics, timeouts, unknown agent ids and empty results are each
// converted into exactly one core.KindError payload for the affected agent.
// Dispatch itself only fails when the dispatcher is shutting down.
type Dispatcher struct {
	config  Config
	logger  logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	callbacks *CallbackManager

	// Agent registry; registration order is merge priority
	mu       sync.RWMutex
	agents   map[string]core.Agent
	priority map[string]int
	next     int

	slots chan struct{}

	// Admission and drain
	admitMu  sync.Mutex
	closing  bool
	inflight sync.WaitGroup

	requests     atomic.Uint64
	runs         atomic.Uint64
	failures     atomic.Uint64
	timeouts     atomic.Uint64
	active       atomic.Int64
	latencyTotal atomic.Int64
}

// New creates a Dispatcher.
func New(optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.MaxConcurrentAgents <= 0 {
		opts.Config.MaxConcurrentAgents = DefaultConfig.MaxConcurrentAgents
	}
	if opts.Config.AgentTimeout <= 0 {
		opts.Config.AgentTimeout = DefaultConfig.AgentTimeout
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agentswarm/dispatcher")
	}

	return &Dispatcher{
		config:    opts.Config,
		logger:    logging.OrNoOp(opts.Logger),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		callbacks: opts.Callbacks,
		agents:    make(map[string]core.Agent),
		priority:  make(map[string]int),
		slots:     make(chan struct{}, opts.Config.MaxConcurrentAgents),
	}
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config { return d.config }

// Register adds an agent under its name. Registering a name again replaces
// the agent but keeps its original priority.
func (d *Dispatcher) Register(a core.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := a.Name()
	if _, ok := d.priority[name]; !ok {
		d.priority[name] = d.next
		d.next++
	}
	d.agents[name] = a
}

// Agent retrieves a registered agent by name.
func (d *Dispatcher) Agent(name string) (core.Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[name]
	return a, ok
}

// Agents returns registered agent names in priority order.
func (d *Dispatcher) Agents() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.agents))
	for name := range d.agents {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return d.priority[names[i]] < d.priority[names[j]] })
	return names
}

// order deduplicates ids and sorts them by registration priority. Unknown
// ids keep their relative order after all known ones.
func (d *Dispatcher) order(ids []string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	rank := func(id string) int {
		if p, ok := d.priority[id]; ok {
			return p
		}
		return d.next
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// Dispatch runs every agent in agentIDs against req and returns their
// payloads merged in registration-priority order, regardless of completion
// order. Each agent contributes at least one payload.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.Request, agentIDs []string) ([]core.ResultPayload, error) {
	d.admitMu.Lock()
	if d.closing {
		d.admitMu.Unlock()
		return nil, core.ErrShuttingDown
	}
	d.inflight.Add(1)
	d.admitMu.Unlock()
	defer d.inflight.Done()

	ids := d.order(agentIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch", trace.WithAttributes(
		attribute.String("correlation_id", req.CorrelationID),
		attribute.StringSlice("agents", ids),
	))
	defer span.End()

	start := time.Now()
	results := make([][]core.ResultPayload, len(ids))

	// plain Group: a failing agent must not cancel its siblings
	var g errgroup.Group
	g.SetLimit(d.config.MaxConcurrentAgents)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = d.runAgent(ctx, req, id)
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]core.ResultPayload, 0, len(ids))
	failed := 0
	for _, r := range results {
		for _, p := range r {
			if p.IsError() {
				failed++
			}
		}
		merged = append(merged, r...)
	}

	dur := time.Since(start)
	d.requests.Add(1)
	d.latencyTotal.Add(int64(dur))
	d.metrics.IncDispatch()
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d agent(s) failed", failed))
	}
	d.logDispatch(ids, failed, dur)
	return merged, nil
}

type outcome struct {
	payloads []core.ResultPayload
	err      error
}

// runAgent executes one agent inside a worker slot and always returns at
// least one payload.
func (d *Dispatcher) runAgent(ctx context.Context, req core.Request, id string) []core.ResultPayload {
	a, ok := d.Agent(id)
	if !ok {
		d.failures.Add(1)
		d.logger.Warn("Unknown agent selected", "agent", id)
		return []core.ResultPayload{core.NewErrorPayload(id, &core.AgentError{AgentID: id, Err: core.ErrUnknownAgent})}
	}

	ctx, span := d.tracer.Start(ctx, "agent.process", trace.WithAttributes(attribute.String("agent", id)))
	defer span.End()

	// the deadline covers queueing for a slot, so slots held by abandoned
	// agents cannot stall a dispatch past its timeout
	actx, cancel := context.WithTimeout(ctx, d.config.AgentTimeout)
	defer cancel()

	select {
	case d.slots <- struct{}{}:
	case <-actx.Done():
		err := d.deadlineError(ctx, actx)
		if errors.Is(err, core.ErrAgentTimeout) {
			d.timeouts.Add(1)
		} else {
			d.failures.Add(1)
		}
		span.SetStatus(codes.Error, "no slot")
		d.logger.Warn("No worker slot available", "agent", id, "error", err)
		return []core.ResultPayload{core.NewErrorPayload(id, &core.AgentError{AgentID: id, Err: fmt.Errorf("waiting for worker slot: %w", err)})}
	}
	// the slot belongs to whoever runs Process; an abandoned agent keeps it
	// until it returns
	var once sync.Once
	release := func() { once.Do(func() { <-d.slots }) }

	d.runs.Add(1)
	d.active.Add(1)
	d.metrics.AgentStarted()
	defer func() {
		d.active.Add(-1)
		d.metrics.AgentFinished()
	}()

	start := time.Now()
	cc := &CallbackContext{Request: req, AgentID: id}
	var out outcome
	if err := d.callbacks.ExecuteCallbacks(ctx, CallbackBeforeAgent, cc); err != nil {
		release()
		out = outcome{err: fmt.Errorf("vetoed: %w", err)}
	} else {
		out = d.invoke(ctx, actx, a, req, release)
	}
	dur := time.Since(start)

	status := "success"
	var payloads []core.ResultPayload
	switch {
	case out.err != nil && errors.Is(out.err, core.ErrAgentTimeout):
		status = "timeout"
		d.timeouts.Add(1)
	case out.err != nil:
		status = "failure"
		d.failures.Add(1)
	case len(out.payloads) == 0:
		status = "failure"
		d.failures.Add(1)
		out.err = errors.New("agent produced no output")
	default:
		payloads = normalize(id, out.payloads)
	}
	if out.err != nil {
		payloads = []core.ResultPayload{core.NewErrorPayload(id, &core.AgentError{AgentID: id, Err: out.err})}
		span.SetStatus(codes.Error, status)
		span.RecordError(out.err)
	}

	cc.Payloads, cc.Err, cc.Duration = payloads, out.err, dur
	d.runCallbacks(ctx, CallbackAfterAgent, cc)
	if out.err != nil {
		d.runCallbacks(ctx, CallbackOnError, cc)
	}

	d.metrics.ObserveAgent(id, status, dur)
	d.logAgentRun(id, len(payloads), dur, out.err)
	return payloads
}

// invoke calls the agent under actx. An agent that ignores the deadline is
// abandoned; its result is discarded when it eventually returns, and only
// then is its worker slot released.
func (d *Dispatcher) invoke(ctx, actx context.Context, a core.Agent, req core.Request, release func()) outcome {
	// buffered so an abandoned agent can still deliver and exit
	done := make(chan outcome, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		p, err := a.Process(actx, req)
		done <- outcome{payloads: p, err: err}
	}()

	select {
	case out := <-done:
		return out
	case <-actx.Done():
		select {
		case out := <-done:
			return out
		default:
			return outcome{err: d.deadlineError(ctx, actx)}
		}
	}
}

func (d *Dispatcher) runCallbacks(ctx context.Context, t CallbackType, cc *CallbackContext) {
	if err := d.callbacks.ExecuteCallbacks(ctx, t, cc); err != nil {
		d.logger.Warn("Callback failed", "type", string(t), "agent", cc.AgentID, "error", err)
	}
}

// deadlineError explains why actx ended: the agent deadline, or the caller
// cancelling the whole dispatch.
func (d *Dispatcher) deadlineError(parent, actx context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", core.ErrAgentTimeout, d.config.AgentTimeout)
	}
	return actx.Err()
}

// normalize stamps missing agent ids, kinds and timestamps.
func normalize(id string, payloads []core.ResultPayload) []core.ResultPayload {
	now := time.Now()
	out := make([]core.ResultPayload, len(payloads))
	for i, p := range payloads {
		if p.AgentID == "" {
			p.AgentID = id
		}
		if !p.Kind.Valid() {
			p.Kind = core.KindText
		}
		if p.ProducedAt.IsZero() {
			p.ProducedAt = now
		}
		out[i] = p
	}
	return out
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		RequestsProcessed: d.requests.Load(),
		AgentsActive:      d.active.Load(),
		AgentRuns:         d.runs.Load(),
		AgentFailures:     d.failures.Load(),
		AgentTimeouts:     d.timeouts.Load(),
	}
	if s.RequestsProcessed > 0 {
		s.MeanLatency = time.Duration(d.latencyTotal.Load() / int64(s.RequestsProcessed))
	}
	return s
}

// Shutdown stops admitting new dispatches and waits for in-flight ones to
// finish or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.admitMu.Lock()
	d.closing = true
	d.admitMu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		d.logger.Info("Dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) logAgentRun(id string, payloads int, dur time.Duration, err error) {
	if sl, ok := d.logger.(*logging.SwarmLogger); ok {
		sl.LogAgentRun(id, payloads, dur, err)
		return
	}
	if err != nil {
		d.logger.Warn("Agent run failed", "agent", id, "duration", dur, "error", err)
		return
	}
	d.logger.Debug("Agent run completed", "agent", id, "payloads", payloads, "duration", dur)
}

func (d *Dispatcher) logDispatch(ids []string, failed int, dur time.Duration) {
	if sl, ok := d.logger.(*logging.SwarmLogger); ok {
		sl.LogDispatch(ids, failed, dur)
		return
	}
	d.logger.Info("Dispatch completed", "agents", ids, "failed", failed, "duration", dur)
}
