package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentswarm/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func textAgent(name, text string, delay time.Duration) core.Agent {
	return core.AgentFunc{
		AgentName: name,
		Fn: func(ctx context.Context, _ core.Request) ([]core.ResultPayload, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []core.ResultPayload{core.NewTextPayload(name, text)}, nil
		},
	}
}

// stubbornAgent ignores its context until release is closed.
func stubbornAgent(name string, release <-chan struct{}) core.Agent {
	return core.AgentFunc{
		AgentName: name,
		Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
			<-release
			return []core.ResultPayload{core.NewTextPayload(name, "too late")}, nil
		},
	}
}

func agentIDs(payloads []core.ResultPayload) []string {
	ids := make([]string, len(payloads))
	for i, p := range payloads {
		ids[i] = p.AgentID
	}
	return ids
}

func TestDispatchMergesByPriority(t *testing.T) {
	d := New()
	d.Register(textAgent("finance", "budget", 30*time.Millisecond))
	d.Register(textAgent("navigator", "route", 0))
	d.Register(textAgent("oracle", "answer", 10*time.Millisecond))

	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"oracle", "navigator", "finance", "oracle"})
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "navigator", "oracle"}, agentIDs(payloads))
}

func TestDispatchTimeoutYieldsSingleErrorPayload(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	const timeout = 80 * time.Millisecond
	d := New(func(o *Options) { o.Config.AgentTimeout = timeout })
	d.Register(textAgent("a", "ok", 0))
	d.Register(stubbornAgent("slow", release))
	d.Register(textAgent("b", "ok", 5*time.Millisecond))
	d.Register(textAgent("c", "ok", 0))

	start := time.Now()
	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"a", "slow", "b", "c"})
	elapsed := time.Since(start)
	require.NoError(t, err)

	require.Len(t, payloads, 4)
	var errs []core.ResultPayload
	for _, p := range payloads {
		if p.IsError() {
			errs = append(errs, p)
		}
	}
	require.Len(t, errs, 1)
	assert.Equal(t, "slow", errs[0].AgentID)
	assert.Contains(t, errs[0].Content, core.ErrAgentTimeout.Error())
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.AgentTimeouts)
	assert.Equal(t, uint64(1), stats.RequestsProcessed)
}

func TestDispatchIsolatesFailures(t *testing.T) {
	d := New()
	d.Register(textAgent("ok", "fine", 0))
	d.Register(core.AgentFunc{AgentName: "boom", Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
		return nil, errors.New("provider exploded")
	}})
	d.Register(core.AgentFunc{AgentName: "panicky", Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
		panic("nil map")
	}})
	d.Register(core.AgentFunc{AgentName: "silent", Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
		return nil, nil
	}})

	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"ok", "boom", "panicky", "silent", "ghost"})
	require.NoError(t, err)
	require.Len(t, payloads, 5)
	assert.Equal(t, []string{"ok", "boom", "panicky", "silent", "ghost"}, agentIDs(payloads))

	assert.False(t, payloads[0].IsError())
	for _, p := range payloads[1:] {
		assert.True(t, p.IsError(), p.AgentID)
	}
	assert.Contains(t, payloads[1].Content, "provider exploded")
	assert.Contains(t, payloads[2].Content, "panic: nil map")
	assert.Contains(t, payloads[3].Content, "no output")
	assert.Contains(t, payloads[4].Content, core.ErrUnknownAgent.Error())
	assert.Equal(t, uint64(4), d.Stats().AgentFailures)
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	d := New(func(o *Options) { o.Config.MaxConcurrentAgents = 2 })
	ids := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
	for _, id := range ids {
		d.Register(core.AgentFunc{AgentName: id, Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return []core.ResultPayload{core.NewTextPayload(id, "ok")}, nil
		}})
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), ids)
			assert.NoError(t, err)
			assert.Len(t, payloads, len(ids))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Zero(t, d.Stats().AgentsActive)
}

func TestAbandonedAgentsKeepTheirSlot(t *testing.T) {
	release := make(chan struct{})
	var running, peak atomic.Int32
	d := New(func(o *Options) {
		o.Config.MaxConcurrentAgents = 2
		o.Config.AgentTimeout = 30 * time.Millisecond
	})
	ids := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
	for _, id := range ids {
		d.Register(core.AgentFunc{AgentName: id, Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return []core.ResultPayload{core.NewTextPayload(id, "too late")}, nil
		}})
	}
	d.Register(textAgent("quick", "ok", 0))

	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), ids)
	require.NoError(t, err)
	require.Len(t, payloads, len(ids))
	for _, p := range payloads {
		assert.True(t, p.IsError(), p.AgentID)
	}
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, int32(2), running.Load())

	// both slots are still held by the abandoned calls
	payloads, err = d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"quick"})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.True(t, payloads[0].IsError())
	assert.Contains(t, payloads[0].Content, "worker slot")

	close(release)
	assert.Eventually(t, func() bool { return running.Load() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"quick"})
		return err == nil && len(payloads) == 1 && !payloads[0].IsError()
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
}

func TestDispatchNormalizesPayloads(t *testing.T) {
	d := New()
	d.Register(core.AgentFunc{AgentName: "finance", Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
		return []core.ResultPayload{{Content: 42.0, Kind: "bogus"}}, nil
	}})
	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"finance"})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "finance", payloads[0].AgentID)
	assert.Equal(t, core.KindText, payloads[0].Kind)
	assert.False(t, payloads[0].ProducedAt.IsZero())
}

func TestRegisterKeepsPriority(t *testing.T) {
	d := New()
	d.Register(textAgent("first", "1", 0))
	d.Register(textAgent("second", "2", 0))
	d.Register(textAgent("first", "1b", 0))
	assert.Equal(t, []string{"first", "second"}, d.Agents())

	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"second", "first"})
	require.NoError(t, err)
	assert.Equal(t, "1b", payloads[0].Content)
}

func TestDispatchEmptySelection(t *testing.T) {
	d := New()
	payloads, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), nil)
	require.NoError(t, err)
	assert.Empty(t, payloads)
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	d := New()
	d.Register(core.AgentFunc{AgentName: "busy", Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
		close(started)
		<-release
		return []core.ResultPayload{core.NewTextPayload("busy", "done")}, nil
	}})
	d.Register(textAgent("quick", "ok", 0))

	dispatched := make(chan []core.ResultPayload, 1)
	go func() {
		payloads, _ := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"busy"})
		dispatched <- payloads
	}()
	<-started

	shutdown := make(chan error, 1)
	go func() { shutdown <- d.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool {
		_, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"quick"})
		return errors.Is(err, core.ErrShuttingDown)
	}, time.Second, 5*time.Millisecond)

	select {
	case <-shutdown:
		t.Fatal("shutdown returned before in-flight dispatch finished")
	default:
	}

	close(release)
	require.NoError(t, <-shutdown)
	payloads := <-dispatched
	require.Len(t, payloads, 1)
	assert.Equal(t, "done", payloads[0].Content)
}

func TestShutdownHonoursContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	d := New()
	d.Register(core.AgentFunc{AgentName: "busy", Fn: func(context.Context, core.Request) ([]core.ResultPayload, error) {
		close(started)
		<-release
		return []core.ResultPayload{core.NewTextPayload("busy", "done")}, nil
	}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"busy"})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	<-done
}

func TestStatsMeanLatency(t *testing.T) {
	d := New()
	d.Register(textAgent("a", "ok", 10*time.Millisecond))
	for i := 0; i < 2; i++ {
		_, err := d.Dispatch(context.Background(), core.NewRequest("q", ""), []string{"a"})
		require.NoError(t, err)
	}
	s := d.Stats()
	assert.Equal(t, uint64(2), s.RequestsProcessed)
	assert.Equal(t, uint64(2), s.AgentRuns)
	assert.GreaterOrEqual(t, s.MeanLatency, 10*time.Millisecond)
}
