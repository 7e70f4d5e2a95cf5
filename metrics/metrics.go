// Package metrics exposes Prometheus collectors reporting swarm activity:
// dispatches, agent latency, admission rejections, circuit breaker state and
// memory flushes. All methods are safe on a nil *Metrics so components can
// treat metrics as optional.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentswarm"

// Metrics bundles the swarm's Prometheus collectors.
type Metrics struct {
	agentDuration *prometheus.HistogramVec
	dispatches    prometheus.Counter
	agentsActive  prometheus.Gauge
	fastPathHits  prometheus.Counter
	rejections    *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	flushes       *prometheus.CounterVec
	pending       prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the package-level instance registered with the global
// Prometheus registry. Collectors are created once so repeated construction
// in tests does not panic on duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs a Metrics instance using the provided registerer. Any
// registration error other than a compatible duplicate panics, which mirrors
// the semantics of promauto helpers.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "agent_duration_seconds",
			Help:      "Duration of individual agent invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent", "status"}),
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "dispatches_total",
			Help:      "Number of dispatched requests.",
		}),
		agentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "agents_active",
			Help:      "Number of agent invocations currently holding a worker slot.",
		}),
		fastPathHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "fast_path_hits_total",
			Help:      "Requests answered by the fast path without routing.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "rejections_total",
			Help:      "Requests rejected before dispatch, by reason.",
		}, []string{"reason"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider attempts by outcome (success, failure, skipped).",
		}, []string{"provider", "status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "breaker_state",
			Help:      "Circuit state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"provider"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "flushes_total",
			Help:      "Write buffer flushes by outcome.",
		}, []string{"status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "pending_records",
			Help:      "Records waiting in the write buffer.",
		}),
	}

	m.agentDuration = register(reg, m.agentDuration)
	m.dispatches = register(reg, m.dispatches)
	m.agentsActive = register(reg, m.agentsActive)
	m.fastPathHits = register(reg, m.fastPathHits)
	m.rejections = register(reg, m.rejections)
	m.providerCalls = register(reg, m.providerCalls)
	m.breakerState = register(reg, m.breakerState)
	m.flushes = register(reg, m.flushes)
	m.pending = register(reg, m.pending)
	return m
}

// register adds c to reg, reusing an already registered collector of the
// same type.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveAgent records the duration of one agent invocation.
func (m *Metrics) ObserveAgent(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentDuration.WithLabelValues(agent, status).Observe(d.Seconds())
}

// IncDispatch counts a dispatched request.
func (m *Metrics) IncDispatch() {
	if m == nil {
		return
	}
	m.dispatches.Inc()
}

// AgentStarted marks an agent as holding a worker slot.
func (m *Metrics) AgentStarted() {
	if m == nil {
		return
	}
	m.agentsActive.Inc()
}

// AgentFinished releases an agent's worker slot.
func (m *Metrics) AgentFinished() {
	if m == nil {
		return
	}
	m.agentsActive.Dec()
}

// IncFastPath counts a fast path answer.
func (m *Metrics) IncFastPath() {
	if m == nil {
		return
	}
	m.fastPathHits.Inc()
}

// IncRejection counts an admission rejection.
func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// IncProviderCall counts a provider attempt.
func (m *Metrics) IncProviderCall(provider, status string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, status).Inc()
}

// SetBreakerState publishes a provider's circuit state.
func (m *Metrics) SetBreakerState(provider string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(state)
}

// IncFlush counts a write buffer flush.
func (m *Metrics) IncFlush(status string) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(status).Inc()
}

// SetPending publishes the write buffer depth.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
