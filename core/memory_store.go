package core

import (
	"context"
	"time"
)

// MemoryRecord is a durable memory entry. Concrete record types implement the
// unexported isRecord marker enabling a closed set.
type MemoryRecord interface {
	RecordID() string
	isRecord()
}

// EpisodicEvent is an append-only log entry describing something that
// happened (an interaction, a rejection, a breaker transition).
type EpisodicEvent struct {
	ID        string         `json:"id" cbor:"1,keyasint"`
	Timestamp time.Time      `json:"timestamp" cbor:"2,keyasint"`
	Actor     string         `json:"actor" cbor:"3,keyasint"`
	Action    string         `json:"action" cbor:"4,keyasint"`
	Details   map[string]any `json:"details,omitempty" cbor:"5,keyasint,omitempty"`
	Source    string         `json:"source,omitempty" cbor:"6,keyasint,omitempty"`
}

// RecordID implements MemoryRecord.
func (e EpisodicEvent) RecordID() string { return e.ID }

func (EpisodicEvent) isRecord() {}

// SemanticFact is a keyed fact. Keys are unique; writing an existing key
// replaces its value.
type SemanticFact struct {
	ID        string    `json:"id" cbor:"1,keyasint"`
	Key       string    `json:"key" cbor:"2,keyasint"`
	Value     string    `json:"value" cbor:"3,keyasint"`
	UpdatedAt time.Time `json:"updated_at" cbor:"4,keyasint"`
}

// RecordID implements MemoryRecord.
func (f SemanticFact) RecordID() string { return f.ID }

func (SemanticFact) isRecord() {}

// SystemStat is a single metric sample.
type SystemStat struct {
	ID        string            `json:"id" cbor:"1,keyasint"`
	Metric    string            `json:"metric" cbor:"2,keyasint"`
	Value     float64           `json:"value" cbor:"3,keyasint"`
	Timestamp time.Time         `json:"timestamp" cbor:"4,keyasint"`
	Tags      map[string]string `json:"tags,omitempty" cbor:"5,keyasint,omitempty"`
}

// RecordID implements MemoryRecord.
func (s SystemStat) RecordID() string { return s.ID }

func (SystemStat) isRecord() {}

// MemoryStore is the durable memory contract used by the orchestration core.
//
// Writes are buffered and never block on durable I/O. Reads observe buffered
// writes immediately. Flush forces buffered writes to durable storage.
type MemoryStore interface {
	RecordEvent(actor, action string, details map[string]any) error
	UpsertFact(key, value string) error
	RecordStat(metric string, value float64) error
	Recall(ctx context.Context, key string) (string, bool, error)
	RecentEvents(ctx context.Context, limit int) ([]EpisodicEvent, error)
	Flush(ctx context.Context) error
}
