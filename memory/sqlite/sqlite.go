// Package sqlite provides a memory.Backend on top of SQLite using the pure-Go
// modernc.org/sqlite driver. The database runs in WAL mode so readers do not
// block the flusher.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodic_memory (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	details TEXT,
	source TEXT
);
CREATE INDEX IF NOT EXISTS idx_episodic_timestamp ON episodic_memory(timestamp);

CREATE TABLE IF NOT EXISTS semantic_memory (
	key TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS system_stats (
	id TEXT PRIMARY KEY,
	metric TEXT NOT NULL,
	value REAL NOT NULL,
	timestamp INTEGER NOT NULL,
	tags TEXT
);
CREATE INDEX IF NOT EXISTS idx_stats_metric ON system_stats(metric, timestamp);
`

// Backend stores memory records in a SQLite database file.
type Backend struct {
	db   *sql.DB
	path string
}

var (
	_ memory.Backend  = (*Backend)(nil)
	_ memory.Backuper = (*Backend)(nil)
)

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Backend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	b := &Backend{db: db, path: path}
	if err := b.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) initialize() error {
	var mode string
	if err := b.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := b.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (b *Backend) Path() string { return b.path }

// Apply commits batch in a single transaction. Events and stats are ignored
// when their id already exists; a fact only replaces a stored value that is
// not newer.
func (b *Backend) Apply(ctx context.Context, batch []core.MemoryRecord) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range batch {
		switch r := rec.(type) {
		case core.EpisodicEvent:
			details, jerr := marshalOptional(r.Details)
			if jerr != nil {
				return fmt.Errorf("event %s: %w", r.ID, jerr)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO episodic_memory (id, timestamp, actor, action, details, source)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, r.Timestamp.UnixNano(), r.Actor, r.Action, details, r.Source)
		case core.SemanticFact:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO semantic_memory (key, id, value, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET
					id = excluded.id,
					value = excluded.value,
					updated_at = excluded.updated_at
				 WHERE excluded.updated_at >= semantic_memory.updated_at`,
				r.Key, r.ID, r.Value, r.UpdatedAt.UnixNano())
		case core.SystemStat:
			tags, jerr := marshalOptional(r.Tags)
			if jerr != nil {
				return fmt.Errorf("stat %s: %w", r.ID, jerr)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO system_stats (id, metric, value, timestamp, tags)
				 VALUES (?, ?, ?, ?, ?)`,
				r.ID, r.Metric, r.Value, r.Timestamp.UnixNano(), tags)
		default:
			err = fmt.Errorf("unsupported record %T", rec)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", rec.RecordID(), err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recall returns the value stored under key.
func (b *Backend) Recall(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM semantic_memory WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("recall %q: %w", key, err)
	}
	return value, true, nil
}

// RecentEvents returns up to limit events, newest first.
func (b *Backend) RecentEvents(ctx context.Context, limit int) ([]core.EpisodicEvent, error) {
	return b.queryEvents(ctx,
		`SELECT id, timestamp, actor, action, details, source FROM episodic_memory
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
}

// SearchEvents returns up to limit events whose actor, action or details
// contain query, case-insensitively, newest first.
func (b *Backend) SearchEvents(ctx context.Context, query string, limit int) ([]core.EpisodicEvent, error) {
	pattern := likePattern(query)
	return b.queryEvents(ctx,
		`SELECT id, timestamp, actor, action, details, source FROM episodic_memory
		 WHERE lower(actor) LIKE ? ESCAPE '\' OR lower(action) LIKE ? ESCAPE '\' OR lower(COALESCE(details, '')) LIKE ? ESCAPE '\'
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`, pattern, pattern, pattern, limit)
}

func (b *Backend) queryEvents(ctx context.Context, query string, args ...any) ([]core.EpisodicEvent, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []core.EpisodicEvent
	for rows.Next() {
		var (
			e               core.EpisodicEvent
			ts              int64
			details, source sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &details, &source); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Source = source.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("event %s details: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// StatSummary aggregates samples of metric recorded at or after since.
func (b *Backend) StatSummary(ctx context.Context, metric string, since time.Time) (memory.StatSummary, error) {
	sum := memory.StatSummary{Metric: metric}
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(value), 0), COALESCE(MIN(value), 0), COALESCE(MAX(value), 0)
		 FROM system_stats WHERE metric = ? AND timestamp >= ?`,
		metric, since.UnixNano()).Scan(&sum.Count, &sum.Sum, &sum.Min, &sum.Max)
	if err != nil {
		return sum, fmt.Errorf("stat summary %q: %w", metric, err)
	}
	return sum, nil
}

// Prune deletes events and stats older than the given cut-offs.
func (b *Backend) Prune(ctx context.Context, eventsBefore, statsBefore time.Time) (int64, error) {
	var total int64
	for _, q := range []struct {
		stmt   string
		cutoff time.Time
	}{
		{"DELETE FROM episodic_memory WHERE timestamp < ?", eventsBefore},
		{"DELETE FROM system_stats WHERE timestamp < ?", statsBefore},
	} {
		res, err := b.db.ExecContext(ctx, q.stmt, q.cutoff.UnixNano())
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Backup writes a zstd-compressed consistent copy of the database to dst.
func (b *Backend) Backup(ctx context.Context, dst string) error {
	tmpDir, err := os.MkdirTemp("", "agentswarm-backup-*")
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if _, err := b.db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return fmt.Errorf("backup: vacuum: %w", err)
	}

	in, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	zw, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		out.Close()
		return fmt.Errorf("backup: %w", err)
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return fmt.Errorf("backup: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("backup: compress: %w", err)
	}
	return out.Close()
}

// Restore decompresses a backup written by Backup into a database file at
// dst, which must not be open.
func Restore(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer in.Close()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("restore: decompress: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	// a leftover WAL belongs to the replaced database
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("restore: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func marshalOptional[M ~map[string]V, V any](m M) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}
