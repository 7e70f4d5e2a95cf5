package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentswarm/core"
)

type statSink struct {
	mu   sync.Mutex
	tags []map[string]string
}

func (s *statSink) RecordStatWithTags(metric string, value float64, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if metric != "agent_latency_ms" || value < 0 {
		return errors.New("unexpected sample")
	}
	s.tags = append(s.tags, tags)
	return nil
}

func TestBeforeAgentCallbackVetoes(t *testing.T) {
	cm := NewCallbackManager()
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeAgent, func(_ context.Context, cc *CallbackContext) error {
		if cc.AgentID == "blocked" {
			return errors.New("maintenance")
		}
		return nil
	}))
	var onError []string
	cm.RegisterCallback(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
		onError = append(onError, cc.AgentID)
		return nil
	}))

	d := New(func(o *Options) {
		o.Callbacks = cm
		o.Config.MaxConcurrentAgents = 1
	})
	d.Register(textAgent("open", "ok", 0))
	d.Register(textAgent("blocked", "never", 0))

	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"open", "blocked"})
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.False(t, payloads[0].IsError())
	assert.True(t, payloads[1].IsError())
	assert.Contains(t, payloads[1].Content, "vetoed: maintenance")
	assert.Equal(t, []string{"blocked"}, onError)
}

func TestLatencyCallbackRecordsStatus(t *testing.T) {
	sink := &statSink{}
	cm := NewCallbackManager()
	cm.RegisterCallback(NewLatencyCallback(sink))

	d := New(func(o *Options) { o.Callbacks = cm })
	d.Register(textAgent("ok", "fine", 0))
	d.Register(core.AgentFunc{AgentName: "bad", Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
		return nil, errors.New("nope")
	}})

	_, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"ok", "bad"})
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.tags, 2)
	status := map[string]string{}
	for _, tags := range sink.tags {
		status[tags["agent"]] = tags["status"]
	}
	assert.Equal(t, map[string]string{"ok": "success", "bad": "error"}, status)
}

func TestCallbackErrorsAfterAgentAreIgnored(t *testing.T) {
	cm := NewCallbackManager()
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterAgent, func(context.Context, *CallbackContext) error {
		return errors.New("sink down")
	}))
	d := New(func(o *Options) { o.Callbacks = cm })
	d.Register(textAgent("ok", "fine", 0))

	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"ok"})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "fine", payloads[0].Content)
}

func TestNilCallbackManager(t *testing.T) {
	var cm *CallbackManager
	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackBeforeAgent, &CallbackContext{}))
}
