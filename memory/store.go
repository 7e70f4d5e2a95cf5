package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/memory/journal"
	"github.com/hupe1980/agentswarm/metrics"
)

// Options configures a Store.
type Options struct {
	// Backend is the durable store. Defaults to an InMemoryBackend.
	Backend Backend
	// Journal, when set, receives every batch before it is applied.
	Journal *journal.Journal
	// FlushThreshold triggers a flush once this many records are pending.
	FlushThreshold int
	// FlushInterval triggers a flush once the oldest pending record is this old.
	FlushInterval time.Duration
	// MaxFlushFailures consecutive failures degrade the store to memory.
	MaxFlushFailures int
	// Source is stamped on every episodic event.
	Source  string
	Clock   func() time.Time
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

type pendingRecord struct {
	rec core.MemoryRecord
	at  time.Time
}

// Store is the buffered core.MemoryStore. Writes only touch the pending
// buffer; a background flusher moves batches to the backend. Reads see the
// pending buffer before the backend.
type Store struct {
	opts Options

	mu       sync.RWMutex
	pending  []pendingRecord
	backend  Backend
	journal  *journal.Journal
	degraded bool
	failures int
	gen      uint64
	closed   bool

	flushMu sync.Mutex

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	retired []Backend
}

var _ core.MemoryStore = (*Store)(nil)

// New creates a Store, replays the journal into the backend and starts the
// background flusher.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		FlushThreshold:   20,
		FlushInterval:    5 * time.Second,
		MaxFlushFailures: 5,
		Source:           "swarm",
		Clock:            time.Now,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Backend == nil {
		opts.Backend = NewInMemoryBackend()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	s := &Store{
		opts:    opts,
		backend: opts.Backend,
		journal: opts.Journal,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *Store) replay() error {
	if s.journal == nil {
		return nil
	}
	records, err := s.journal.Replay()
	if err != nil {
		return fmt.Errorf("memory: replay journal: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.backend.Apply(context.Background(), records); err != nil {
		return fmt.Errorf("memory: apply journal: %w", err)
	}
	s.opts.Logger.Info("Journal replayed", "records", len(records))
	return s.journal.Truncate()
}

func (s *Store) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(max(s.opts.FlushInterval/4, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		case <-ticker.C:
			if !s.due() {
				continue
			}
		}
		// failures are logged and retried on the next cycle
		_ = s.Flush(context.Background())
	}
}

// due reports whether the oldest pending record has waited a full interval.
func (s *Store) due() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending) > 0 && s.opts.Clock().Sub(s.pending[0].at) >= s.opts.FlushInterval
}

func (s *Store) append(rec core.MemoryRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrStoreClosed
	}
	s.pending = append(s.pending, pendingRecord{rec: rec, at: s.opts.Clock()})
	n := len(s.pending)
	s.mu.Unlock()

	s.opts.Metrics.SetPending(n)
	if n >= s.opts.FlushThreshold {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// RecordEvent appends an episodic event. details is copied.
func (s *Store) RecordEvent(actor, action string, details map[string]any) error {
	return s.append(core.EpisodicEvent{
		ID:        uuid.NewString(),
		Timestamp: s.opts.Clock(),
		Actor:     actor,
		Action:    action,
		Details:   maps.Clone(details),
		Source:    s.opts.Source,
	})
}

// UpsertFact sets key to value, replacing any previous value.
func (s *Store) UpsertFact(key, value string) error {
	return s.append(core.SemanticFact{
		ID:        uuid.NewString(),
		Key:       key,
		Value:     value,
		UpdatedAt: s.opts.Clock(),
	})
}

// RecordStat appends a metric sample.
func (s *Store) RecordStat(metric string, value float64) error {
	return s.RecordStatWithTags(metric, value, nil)
}

// RecordStatWithTags appends a metric sample with tags. tags is copied.
func (s *Store) RecordStatWithTags(metric string, value float64, tags map[string]string) error {
	return s.append(core.SystemStat{
		ID:        uuid.NewString(),
		Metric:    metric,
		Value:     value,
		Timestamp: s.opts.Clock(),
		Tags:      maps.Clone(tags),
	})
}

// snapshot copies the pending records and the current backend.
func (s *Store) snapshot() ([]core.MemoryRecord, Backend) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]core.MemoryRecord, len(s.pending))
	for i, p := range s.pending {
		recs[i] = p.rec
	}
	return recs, s.backend
}

// readOnly returns the backends retired by degradation, newest first. They
// are never written again but still answer reads for what they committed.
func (s *Store) readOnly() []Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Backend, len(s.retired))
	for i, b := range s.retired {
		out[len(s.retired)-1-i] = b
	}
	return out
}

func (s *Store) retiredReadFailed(op string, err error) {
	s.opts.Logger.Debug("Retired backend read failed", "op", op, "error", err)
}

// Recall returns the latest value for key, pending writes included.
func (s *Store) Recall(ctx context.Context, key string) (string, bool, error) {
	pending, backend := s.snapshot()
	for i := len(pending) - 1; i >= 0; i-- {
		if f, ok := pending[i].(core.SemanticFact); ok && f.Key == key {
			return f.Value, true, nil
		}
	}
	v, ok, err := backend.Recall(ctx, key)
	if err != nil || ok {
		return v, ok, err
	}
	for _, b := range s.readOnly() {
		v, ok, err := b.Recall(ctx, key)
		if err != nil {
			s.retiredReadFailed("recall", err)
			continue
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]core.EpisodicEvent, error) {
	return s.events(limit, func(core.EpisodicEvent) bool { return true },
		func(b Backend, n int) ([]core.EpisodicEvent, error) { return b.RecentEvents(ctx, n) })
}

// SearchEvents returns up to limit events mentioning query, newest first.
func (s *Store) SearchEvents(ctx context.Context, query string, limit int) ([]core.EpisodicEvent, error) {
	return s.events(limit, func(e core.EpisodicEvent) bool { return eventMatches(e, query) },
		func(b Backend, n int) ([]core.EpisodicEvent, error) { return b.SearchEvents(ctx, query, n) })
}

func (s *Store) events(
	limit int,
	keep func(core.EpisodicEvent) bool,
	stored func(b Backend, n int) ([]core.EpisodicEvent, error),
) ([]core.EpisodicEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	// pending is read before the backend; a flush committing in between
	// shows up in both and is deduplicated by id
	pending, backend := s.snapshot()
	out := make([]core.EpisodicEvent, 0, limit)
	seen := make(map[string]struct{}, limit)
	for i := len(pending) - 1; i >= 0 && len(out) < limit; i-- {
		if e, ok := pending[i].(core.EpisodicEvent); ok && keep(e) {
			out = append(out, e)
			seen[e.ID] = struct{}{}
		}
	}
	if len(out) == limit {
		return out, nil
	}
	older, err := stored(backend, limit)
	if err != nil {
		return out, err
	}
	add := func(events []core.EpisodicEvent) {
		for _, e := range events {
			if len(out) == limit {
				return
			}
			if _, dup := seen[e.ID]; !dup {
				out = append(out, e)
				seen[e.ID] = struct{}{}
			}
		}
	}
	add(older)
	for _, b := range s.readOnly() {
		if len(out) == limit {
			break
		}
		retired, err := stored(b, limit)
		if err != nil {
			s.retiredReadFailed("events", err)
			continue
		}
		add(retired)
	}
	return out, nil
}

// StatSummary aggregates samples of metric since the given time, pending
// samples included.
func (s *Store) StatSummary(ctx context.Context, metric string, since time.Time) (StatSummary, error) {
	for attempt := 0; ; attempt++ {
		gen := s.generation()
		pending, backend := s.snapshot()
		sum := StatSummary{Metric: metric}
		for _, rec := range pending {
			if st, ok := rec.(core.SystemStat); ok && st.Metric == metric && !st.Timestamp.Before(since) {
				sum.Add(st.Value)
			}
		}
		stored, err := backend.StatSummary(ctx, metric, since)
		if err != nil {
			return sum, err
		}
		// a flush committing between the two reads would count samples twice
		if s.generation() != gen && attempt < 2 {
			continue
		}
		sum.Merge(stored)
		for _, b := range s.readOnly() {
			retired, err := b.StatSummary(ctx, metric, since)
			if err != nil {
				s.retiredReadFailed("stats", err)
				continue
			}
			sum.Merge(retired)
		}
		return sum, nil
	}
}

func (s *Store) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Pending returns the number of buffered records.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Degraded reports whether the store has fallen back to the in-memory
// backend after repeated flush failures. Reads still consult the retired
// backend for records it committed before the switch; retention and backups
// only cover the in-memory backend.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Flush writes every pending record to the backend. Concurrent flushes are
// serialized; a flush with nothing pending is a no-op. On failure the
// records stay pending.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	n := len(s.pending)
	batch := make([]core.MemoryRecord, n)
	for i := 0; i < n; i++ {
		batch[i] = s.pending[i].rec
	}
	backend, jr := s.backend, s.journal
	s.mu.RUnlock()

	if n == 0 {
		return nil
	}

	start := time.Now()
	err := s.commit(ctx, backend, jr, batch)
	if err != nil {
		s.flushFailed(err, n)
		return err
	}

	s.mu.Lock()
	// only Flush removes records and it holds flushMu, so the first n
	// entries are still the batch
	s.pending = append([]pendingRecord(nil), s.pending[n:]...)
	s.failures = 0
	s.gen++
	remaining := len(s.pending)
	s.mu.Unlock()

	s.opts.Metrics.IncFlush("success")
	s.opts.Metrics.SetPending(remaining)
	s.opts.Logger.Debug("Memory flushed", "records", n, "duration", time.Since(start))
	return nil
}

func (s *Store) commit(ctx context.Context, backend Backend, jr *journal.Journal, batch []core.MemoryRecord) error {
	if jr != nil {
		if err := jr.Append(batch); err != nil {
			return err
		}
	}
	if err := backend.Apply(ctx, batch); err != nil {
		return fmt.Errorf("memory: apply batch: %w", err)
	}
	if jr != nil {
		if err := jr.Truncate(); err != nil {
			// the batch is committed; a replay would re-apply it idempotently
			s.opts.Logger.Warn("Journal truncate failed", "error", err)
		}
	}
	return nil
}

func (s *Store) flushFailed(err error, n int) {
	s.opts.Metrics.IncFlush("failure")

	s.mu.Lock()
	s.failures++
	failures := s.failures
	degrade := !s.degraded && s.opts.MaxFlushFailures > 0 && failures >= s.opts.MaxFlushFailures
	if degrade {
		s.retired = append(s.retired, s.backend)
		s.backend = NewInMemoryBackend()
		s.journal = nil
		s.degraded = true
		s.failures = 0
	}
	s.mu.Unlock()

	s.opts.Logger.Error("Memory flush failed", "records", n, "consecutive_failures", failures, "error", err)
	if degrade {
		s.opts.Logger.Warn("Memory store degraded to in-memory backend; records will not survive a restart",
			"failures", failures)
	}
}

// ApplyRetention prunes events and stats older than the policy allows.
func (s *Store) ApplyRetention(ctx context.Context, policy RetentionPolicy) (int64, error) {
	_, backend := s.snapshot()
	now := s.opts.Clock()
	n, err := backend.Prune(ctx, now.Add(-policy.Events), now.Add(-policy.Stats))
	if err != nil {
		return n, err
	}
	s.opts.Logger.Info("Retention applied", "deleted", n)
	return n, nil
}

// Backup flushes pending records and asks the backend for a compressed
// snapshot at dst.
func (s *Store) Backup(ctx context.Context, dst string) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	_, backend := s.snapshot()
	b, ok := backend.(Backuper)
	if !ok {
		return ErrBackupUnsupported
	}
	return b.Backup(ctx, dst)
}

// Close stops the flusher, flushes what is pending and closes the backend
// and journal. Writes after Close return core.ErrStoreClosed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	err := s.Flush(ctx)
	if err != nil {
		s.opts.Logger.Warn("Final flush failed", "pending", s.Pending(), "error", err)
	}

	s.mu.Lock()
	backends := append(s.retired, s.backend)
	s.mu.Unlock()
	if s.opts.Journal != nil {
		err = errors.Join(err, s.opts.Journal.Close())
	}
	for _, b := range backends {
		err = errors.Join(err, b.Close())
	}
	return err
}
