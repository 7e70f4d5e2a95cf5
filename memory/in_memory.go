package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentswarm/core"
)

// InMemoryBackend is a naive process-local Backend. It offers:
//  1. Append-only episodic events and stats, deduplicated by id
//  2. Keyed semantic facts where the last write wins
//
// Concurrency: protected by RWMutex.
// Search: linear scan with case-insensitive substring matching. It is the
// backend a Store degrades to when durable storage keeps failing, and the
// default for tests.
type InMemoryBackend struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	events []core.EpisodicEvent
	facts  map[string]core.SemanticFact // key -> fact
	stats  []core.SystemStat
}

var _ Backend = (*InMemoryBackend)(nil)

// NewInMemoryBackend creates a new in-memory backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		seen:  make(map[string]struct{}),
		facts: make(map[string]core.SemanticFact),
	}
}

// Apply appends the batch. Records whose id was already applied are ignored.
func (m *InMemoryBackend) Apply(_ context.Context, batch []core.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range batch {
		if _, dup := m.seen[rec.RecordID()]; dup {
			continue
		}
		m.seen[rec.RecordID()] = struct{}{}
		switch r := rec.(type) {
		case core.EpisodicEvent:
			m.events = append(m.events, r)
		case core.SemanticFact:
			m.facts[r.Key] = r
		case core.SystemStat:
			m.stats = append(m.stats, r)
		default:
			return fmt.Errorf("memory: unsupported record %T", rec)
		}
	}
	return nil
}

// Recall returns the value stored under key.
func (m *InMemoryBackend) Recall(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facts[key]
	return f.Value, ok, nil
}

// RecentEvents returns up to limit events, newest first.
func (m *InMemoryBackend) RecentEvents(_ context.Context, limit int) ([]core.EpisodicEvent, error) {
	return m.collect(limit, func(core.EpisodicEvent) bool { return true }), nil
}

// SearchEvents returns up to limit events mentioning query, newest first.
func (m *InMemoryBackend) SearchEvents(_ context.Context, query string, limit int) ([]core.EpisodicEvent, error) {
	return m.collect(limit, func(e core.EpisodicEvent) bool { return eventMatches(e, query) }), nil
}

func (m *InMemoryBackend) collect(limit int, keep func(core.EpisodicEvent) bool) []core.EpisodicEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.EpisodicEvent, 0, min(max(limit, 0), len(m.events)))
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out
}

// StatSummary aggregates samples of metric recorded at or after since.
func (m *InMemoryBackend) StatSummary(_ context.Context, metric string, since time.Time) (StatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := StatSummary{Metric: metric}
	for _, s := range m.stats {
		if s.Metric == metric && !s.Timestamp.Before(since) {
			sum.Add(s.Value)
		}
	}
	return sum, nil
}

// Prune deletes events and stats older than the given cut-offs.
func (m *InMemoryBackend) Prune(_ context.Context, eventsBefore, statsBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.events) + len(m.stats)
	m.events = slices.DeleteFunc(m.events, func(e core.EpisodicEvent) bool { return e.Timestamp.Before(eventsBefore) })
	m.stats = slices.DeleteFunc(m.stats, func(s core.SystemStat) bool { return s.Timestamp.Before(statsBefore) })
	return int64(before - len(m.events) - len(m.stats)), nil
}

// Close is a no-op.
func (m *InMemoryBackend) Close() error { return nil }

// eventMatches reports whether query occurs, case-insensitively, in the
// event's actor, action or details.
func eventMatches(e core.EpisodicEvent, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Actor), q) || strings.Contains(strings.ToLower(e.Action), q) {
		return true
	}
	if len(e.Details) == 0 {
		return false
	}
	raw, err := json.Marshal(e.Details)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(raw)), q)
}
