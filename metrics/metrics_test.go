package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.IncDispatch()
	m.IncDispatch()
	m.IncRejection("rate_limit")
	m.SetBreakerState("groq-70b", 2)
	m.AgentStarted()
	m.ObserveAgent("oracle", "ok", 10*time.Millisecond)
	m.IncFlush("ok")
	m.SetPending(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("rate_limit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("groq-70b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentsActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pending))
	assert.Equal(t, 1, testutil.CollectAndCount(m.agentDuration))
}

func TestMustNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg)

	a.IncDispatch()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.dispatches))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncDispatch()
		m.IncRejection("x")
		m.ObserveAgent("a", "ok", time.Second)
		m.SetBreakerState("p", 1)
		m.IncFlush("error")
		m.AgentStarted()
		m.AgentFinished()
		m.IncFastPath()
		m.IncProviderCall("p", "ok")
		m.SetPending(1)
	})
}
