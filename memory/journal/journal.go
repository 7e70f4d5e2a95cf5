// Package journal implements the write-ahead journal used by the memory
// store. A flush appends its batch as one CBOR item and fsyncs before the
// batch is applied to the backend; the journal is truncated once the backend
// commit succeeds. Replaying the journal at startup recovers batches that
// were journaled but never committed.
package journal

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/hupe1980/agentswarm/core"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("journal: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// event details are decoded into any; keep them JSON compatible
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("journal: CBOR decoder initialization failed: " + err.Error())
	}
}

const (
	kindEvent uint8 = iota + 1
	kindFact
	kindStat
)

type entry struct {
	Kind  uint8               `cbor:"1,keyasint"`
	Event *core.EpisodicEvent `cbor:"2,keyasint,omitempty"`
	Fact  *core.SemanticFact  `cbor:"3,keyasint,omitempty"`
	Stat  *core.SystemStat    `cbor:"4,keyasint,omitempty"`
}

type frame struct {
	Seq     uint64  `cbor:"1,keyasint"`
	Entries []entry `cbor:"2,keyasint"`
}

// Journal is an append-only file of CBOR-encoded batches.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
	seq  uint64
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{path: path, f: f}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append writes batch as a single frame and syncs it to disk.
func (j *Journal) Append(batch []core.MemoryRecord) error {
	if len(batch) == 0 {
		return nil
	}
	fr := frame{Entries: make([]entry, 0, len(batch))}
	for _, rec := range batch {
		e, err := toEntry(rec)
		if err != nil {
			return err
		}
		fr.Entries = append(fr.Entries, e)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	fr.Seq = j.seq

	var buf bytes.Buffer
	if err := encMode.NewEncoder(&buf).Encode(fr); err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	if _, err := j.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

// Replay returns every record in the journal in write order. A torn final
// frame, left by a crash mid-write, ends the replay without error.
func (j *Journal) Replay() ([]core.MemoryRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	dec := decMode.NewDecoder(bytes.NewReader(data))
	var records []core.MemoryRecord
	for {
		var fr frame
		if err := dec.Decode(&fr); err != nil {
			// io.EOF on a clean journal, anything else is a torn tail
			break
		}
		j.seq = max(j.seq, fr.Seq)
		for _, e := range fr.Entries {
			rec, ok := e.record()
			if !ok {
				return records, fmt.Errorf("journal: frame %d: unknown entry kind %d", fr.Seq, e.Kind)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// Truncate discards every journaled frame.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("journal: truncate: %w", err)
	}
	return j.f.Sync()
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

func toEntry(rec core.MemoryRecord) (entry, error) {
	switch r := rec.(type) {
	case core.EpisodicEvent:
		return entry{Kind: kindEvent, Event: &r}, nil
	case core.SemanticFact:
		return entry{Kind: kindFact, Fact: &r}, nil
	case core.SystemStat:
		return entry{Kind: kindStat, Stat: &r}, nil
	default:
		return entry{}, fmt.Errorf("journal: unsupported record %T", rec)
	}
}

func (e entry) record() (core.MemoryRecord, bool) {
	switch {
	case e.Kind == kindEvent && e.Event != nil:
		return *e.Event, true
	case e.Kind == kindFact && e.Fact != nil:
		return *e.Fact, true
	case e.Kind == kindStat && e.Stat != nil:
		return *e.Stat, true
	default:
		return nil, false
	}
}
