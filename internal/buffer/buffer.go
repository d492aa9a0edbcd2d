// Package buffer persists finalized activity records between editor sessions.
//
// Records are held as a flat list in a single JSON file and rewritten
// wholesale on every mutation, so a crash can only ever lose the interval
// that had not been flushed yet. Each record carries a synced flag; the sync
// path flips it exactly once, keyed by the record's creation timestamp.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/tracker"
)

// RetentionWindow is how long synced records are kept before the sweep
// removes them. Unsynced records are never removed by age.
const RetentionWindow = 30 * 24 * time.Hour

// DateFormat is the calendar-date layout stored on records.
const DateFormat = "2006-01-02"

// Record is one finalized slice of activity for a single resource. CreatedAt
// is assigned at ingest time, is unique across the store, and is the only
// key sync reconciliation uses. Synced moves false to true exactly once.
type Record struct {
	Language  string `json:"language"`
	Lines     int    `json:"lines"`
	TimeSpent int64  `json:"time"` // whole seconds
	Date      string `json:"date"` // YYYY-MM-DD
	Hour      int    `json:"hour"` // 0-23
	Synced    bool   `json:"synced"`
	CreatedAt int64  `json:"created_at"` // unix nanoseconds, unique key
}

// Buffer is a durable store of Records backed by a single JSON file.
// It is safe for concurrent use: ingestion and the sync goroutine's
// MarkSynced may overlap.
type Buffer struct {
	logger slog.Logger
	clock  quartz.Clock

	mu      sync.Mutex
	path    string
	records []Record
	lastKey int64
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock replaces the wall clock, for tests.
func WithClock(clock quartz.Clock) Option {
	return func(b *Buffer) {
		b.clock = clock
	}
}

// WithPath stores records at an explicit file path instead of the default
// data directory.
func WithPath(path string) Option {
	return func(b *Buffer) {
		b.path = path
	}
}

// New opens the record store, creating the data directory if needed.
// A missing store file starts empty; a corrupt one is logged and discarded
// rather than failing startup.
func New(logger slog.Logger, opts ...Option) (*Buffer, error) {
	b := &Buffer{
		logger: logger,
		clock:  quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.path == "" {
		dir, err := dataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		b.path = filepath.Join(dir, "records.json")
	}
	b.load()
	return b, nil
}

// dataDir returns the anolog-specific XDG data directory.
func dataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "anolog"), nil
}

// load reads the store file into memory. Absence means a fresh store;
// malformed content is logged and treated the same way.
func (b *Buffer) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn(context.Background(), "unreadable record store, starting empty",
				slog.F("path", b.path), slog.Error(err))
		}
		return
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		b.logger.Warn(context.Background(), "corrupt record store, starting empty",
			slog.F("path", b.path), slog.Error(err))
		return
	}

	b.records = records
	for _, r := range records {
		if r.CreatedAt > b.lastKey {
			b.lastKey = r.CreatedAt
		}
	}
}

// nextKey returns a creation timestamp strictly greater than every key
// already assigned, so keys stay unique even on a coarse clock.
// Caller must hold b.mu.
func (b *Buffer) nextKey() int64 {
	key := b.clock.Now().UnixNano()
	if key <= b.lastKey {
		key = b.lastKey + 1
	}
	b.lastKey = key
	return key
}

// Ingest appends one unsynced record per snapshot entry that saw observable
// activity, stamping each with the midpoint of the entry's first and last
// activity, and durably writes the store before returning. Entries with zero
// time and zero net line delta are dropped. Calls never merge records;
// aggregation is deferred to sync time.
func (b *Buffer) Ingest(snap tracker.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, e := range snap.Entries {
		if e.ActiveTime <= 0 && e.NetLines() == 0 {
			continue
		}
		mid := e.FirstSeen.Add(e.LastSeen.Sub(e.FirstSeen) / 2)
		b.records = append(b.records, Record{
			Language:  e.Language,
			Lines:     e.NetLines(),
			TimeSpent: int64(e.ActiveTime / time.Second),
			Date:      mid.Format(DateFormat),
			Hour:      mid.Hour(),
			Synced:    false,
			CreatedAt: b.nextKey(),
		})
		added++
	}
	if added == 0 {
		return nil
	}

	b.logger.Debug(context.Background(), "ingested snapshot",
		slog.F("records", added), slog.F("total", len(b.records)))
	return b.persist()
}

// Unsynced returns a copy of all records not yet acknowledged by the
// collector, oldest first.
func (b *Buffer) Unsynced() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Record
	for _, r := range b.records {
		if !r.Synced {
			out = append(out, r)
		}
	}
	return out
}

// MarkSynced flips the synced flag for exactly the records whose creation
// timestamp is in keys. Records outside the set, including any appended
// after the set was captured, are untouched. The updated store is durably
// written before returning.
func (b *Buffer) MarkSynced(keys []int64) error {
	if len(keys) == 0 {
		return nil
	}
	want := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	changed := 0
	for i := range b.records {
		if _, ok := want[b.records[i].CreatedAt]; ok && !b.records[i].Synced {
			b.records[i].Synced = true
			changed++
		}
	}
	if changed == 0 {
		return nil
	}
	return b.persist()
}

// Cleanup removes synced records older than the retention window and
// reports how many were removed. Unsynced records survive regardless of
// age.
func (b *Buffer) Cleanup() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.clock.Now().Add(-RetentionWindow).UnixNano()
	kept := b.records[:0]
	for _, r := range b.records {
		if r.Synced && r.CreatedAt < cutoff {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(b.records) - len(kept)
	b.records = kept
	if removed == 0 {
		return 0, nil
	}

	b.logger.Debug(context.Background(), "expired synced records",
		slog.F("removed", removed), slog.F("kept", len(kept)))
	return removed, b.persist()
}

// TotalTime sums time spent across all records regardless of sync state.
func (b *Buffer) TotalTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	var secs int64
	for _, r := range b.records {
		secs += r.TimeSpent
	}
	return time.Duration(secs) * time.Second
}

// TimeOn sums time spent across records stamped with the given calendar
// date (DateFormat layout).
func (b *Buffer) TimeOn(date string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	var secs int64
	for _, r := range b.records {
		if r.Date == date {
			secs += r.TimeSpent
		}
	}
	return time.Duration(secs) * time.Second
}

// UnsyncedCount reports how many records still await sync.
func (b *Buffer) UnsyncedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, r := range b.records {
		if !r.Synced {
			n++
		}
	}
	return n
}

// Path returns the location of the backing store file.
func (b *Buffer) Path() string {
	return b.path
}

// LastCreatedAt returns the creation time of the newest record still in the
// store, if any.
func (b *Buffer) LastCreatedAt() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var newest int64
	for _, r := range b.records {
		if r.CreatedAt > newest {
			newest = r.CreatedAt
		}
	}
	if newest == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, newest), true
}

// persist marshals the record list and writes it atomically via a temp file
// and os.Rename. Caller must hold b.mu. On failure the in-memory state is
// kept so a later mutation can retry the write.
func (b *Buffer) persist() error {
	data, err := json.Marshal(b.records)
	if err != nil {
		return fmt.Errorf("failed to persist activity records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), "records-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist activity records: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist activity records: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist activity records: %w", err)
	}

	if err = os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to persist activity records: %w", err)
	}
	return nil
}
