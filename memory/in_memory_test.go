package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentswarm/core"
)

func TestInMemoryBackend_ApplyAndRead(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, b.Apply(ctx, []core.MemoryRecord{
		core.EpisodicEvent{ID: "e1", Timestamp: t0, Actor: "user", Action: "query", Details: map[string]any{"agents": "finance,navigator"}},
		core.EpisodicEvent{ID: "e2", Timestamp: t0.Add(time.Second), Actor: "governor", Action: "breaker_transition"},
		core.SemanticFact{ID: "f1", Key: "home", Value: "Utrecht", UpdatedAt: t0},
		core.SystemStat{ID: "s1", Metric: "latency_ms", Value: 4, Timestamp: t0},
	}))

	v, ok, err := b.Recall(ctx, "home")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Utrecht", v)

	events, err := b.RecentEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)

	found, err := b.SearchEvents(ctx, "NAVIGATOR", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "e1", found[0].ID)

	sum, err := b.StatSummary(ctx, "latency_ms", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Count)
}

func TestInMemoryBackend_ApplyIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()
	batch := []core.MemoryRecord{core.EpisodicEvent{ID: "e1", Actor: "a", Action: "x"}}
	require.NoError(t, b.Apply(ctx, batch))
	require.NoError(t, b.Apply(ctx, batch))

	events, err := b.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestInMemoryBackend_Prune(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()
	now := time.Now()
	require.NoError(t, b.Apply(ctx, []core.MemoryRecord{
		core.EpisodicEvent{ID: "old", Timestamp: now.Add(-91 * 24 * time.Hour)},
		core.EpisodicEvent{ID: "new", Timestamp: now},
		core.SystemStat{ID: "s-old", Metric: "m", Timestamp: now.Add(-31 * 24 * time.Hour)},
		core.SystemStat{ID: "s-new", Metric: "m", Timestamp: now},
	}))

	p := DefaultRetention()
	n, err := b.Prune(ctx, now.Add(-p.Events), now.Add(-p.Stats))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sum, err := b.StatSummary(ctx, "m", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Count)
}

func TestInMemoryBackend_Concurrent(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBackend()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Apply(ctx, []core.MemoryRecord{core.SystemStat{ID: fmt.Sprintf("%d-%d", i, j), Metric: "m", Value: 1}})
				_, _ = b.RecentEvents(ctx, 5)
			}
		}(i)
	}
	wg.Wait()

	sum, err := b.StatSummary(ctx, "m", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 400, sum.Count)
}

func TestStatSummaryMath(t *testing.T) {
	var s StatSummary
	assert.Zero(t, s.Avg())
	s.Add(3)
	s.Add(-1)
	var o StatSummary
	o.Add(10)
	s.Merge(o)
	s.Merge(StatSummary{})
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 4.0, s.Avg(), 1e-9)
	assert.InDelta(t, -1.0, s.Min, 1e-9)
	assert.InDelta(t, 10.0, s.Max, 1e-9)
}
