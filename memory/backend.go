package memory

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentswarm/core"
)

// ErrBackupUnsupported is returned by Store.Backup when the active backend
// cannot produce a backup.
var ErrBackupUnsupported = errors.New("memory: backend does not support backups")

// Backend is the durable storage behind a Store. Apply must commit a batch
// atomically and be idempotent by record id, since a journal replay may
// deliver a batch twice.
type Backend interface {
	Apply(ctx context.Context, batch []core.MemoryRecord) error
	Recall(ctx context.Context, key string) (string, bool, error)
	RecentEvents(ctx context.Context, limit int) ([]core.EpisodicEvent, error)
	SearchEvents(ctx context.Context, query string, limit int) ([]core.EpisodicEvent, error)
	StatSummary(ctx context.Context, metric string, since time.Time) (StatSummary, error)
	Prune(ctx context.Context, eventsBefore, statsBefore time.Time) (int64, error)
	Close() error
}

// Backuper is implemented by backends that can write a compressed snapshot.
type Backuper interface {
	Backup(ctx context.Context, dst string) error
}

// StatSummary aggregates the samples of one metric.
type StatSummary struct {
	Metric string  `json:"metric"`
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Avg returns the mean sample value, or zero without samples.
func (s StatSummary) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Add folds one sample into the summary.
func (s *StatSummary) Add(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Count++
	s.Sum += v
}

// Merge folds another summary of the same metric into s.
func (s *StatSummary) Merge(o StatSummary) {
	if o.Count == 0 {
		return
	}
	if s.Count == 0 || o.Min < s.Min {
		s.Min = o.Min
	}
	if s.Count == 0 || o.Max > s.Max {
		s.Max = o.Max
	}
	s.Count += o.Count
	s.Sum += o.Sum
}

// RetentionPolicy bounds how long episodic events and stats are kept.
// Semantic facts are never pruned.
type RetentionPolicy struct {
	Events time.Duration
	Stats  time.Duration
}

// DefaultRetention keeps events for 90 days and stats for 30 days.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		Events: 90 * 24 * time.Hour,
		Stats:  30 * 24 * time.Hour,
	}
}
