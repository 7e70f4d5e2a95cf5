package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentswarm/core"
)

func sampleBatch(ts time.Time) []core.MemoryRecord {
	return []core.MemoryRecord{
		core.EpisodicEvent{ID: "e1", Timestamp: ts, Actor: "user", Action: "query", Details: map[string]any{"agents": "finance"}},
		core.SemanticFact{ID: "f1", Key: "user_name", Value: "Ada", UpdatedAt: ts},
		core.SystemStat{ID: "s1", Metric: "latency_ms", Value: 12.5, Timestamp: ts, Tags: map[string]string{"agent": "finance"}},
	}
}

func TestAppendReplayAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.journal")
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(sampleBatch(ts)))
	require.NoError(t, j.Append([]core.MemoryRecord{core.SemanticFact{ID: "f2", Key: "user_name", Value: "Grace", UpdatedAt: ts}}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	records, err := j.Replay()
	require.NoError(t, err)
	require.Len(t, records, 4)

	ev, ok := records[0].(core.EpisodicEvent)
	require.True(t, ok)
	assert.Equal(t, "query", ev.Action)
	assert.True(t, ts.Equal(ev.Timestamp))
	assert.Equal(t, "finance", ev.Details["agents"])

	stat, ok := records[2].(core.SystemStat)
	require.True(t, ok)
	assert.InDelta(t, 12.5, stat.Value, 1e-9)
	assert.Equal(t, "finance", stat.Tags["agent"])

	last, ok := records[3].(core.SemanticFact)
	require.True(t, ok)
	assert.Equal(t, "Grace", last.Value)
}

func TestTruncate(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "memory.journal"))
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(sampleBatch(time.Now())))
	require.NoError(t, j.Truncate())

	records, err := j.Replay()
	require.NoError(t, err)
	assert.Empty(t, records)

	// appends after a truncate start at the beginning of the file again
	require.NoError(t, j.Append(sampleBatch(time.Now())))
	records, err = j.Replay()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestReplayStopsAtTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.journal")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(sampleBatch(time.Now())))
	require.NoError(t, j.Close())

	full, err := os.ReadFile(path)
	require.NoError(t, err)
	// simulate a crash halfway through writing a second frame
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.Write(full[:len(full)/2])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	records, err := j.Replay()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.journal")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(nil))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
