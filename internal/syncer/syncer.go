// Package syncer reconciles locally buffered records with the remote
// collector.
//
// The batch path drains the buffer's unsynced set through a single bulk
// request and marks exactly the records it sent. The immediate path posts a
// live snapshot in per-hour buckets without touching the buffer at all, so
// an opportunistic send never competes with durable delivery.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/api"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/tracker"
)

// ErrNoCredentials reports that no collector client is configured. Scheduled
// sync paths treat it as a quiet no-op; user-invoked ones surface it.
var ErrNoCredentials = errors.New("no collector credentials configured")

// Syncer owns the two delivery paths to the collector.
type Syncer struct {
	logger slog.Logger
	buffer *buffer.Buffer

	mu     sync.Mutex
	client *api.Client // nil until credentials are configured
}

// New returns a Syncer draining buf through client. A nil client gates all
// sync attempts behind ErrNoCredentials until SetClient is called.
func New(logger slog.Logger, buf *buffer.Buffer, client *api.Client) *Syncer {
	return &Syncer{
		logger: logger,
		buffer: buf,
		client: client,
	}
}

// SetClient swaps the collector client, un-gating sync once credentials
// appear. Safe to call while a sync is in flight; the running sync keeps
// its old client.
func (s *Syncer) SetClient(client *api.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
}

func (s *Syncer) currentClient() *api.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Sync sends the buffer's current unsynced set in one bulk request and, on
// success, marks exactly those records synced. Records ingested while the
// request is in flight are left untouched for the next cycle. Any transport
// or collector failure leaves the whole batch unsynced and is returned.
func (s *Syncer) Sync(ctx context.Context) (api.SyncResult, error) {
	client := s.currentClient()
	if client == nil {
		return api.SyncResult{}, ErrNoCredentials
	}

	records := s.buffer.Unsynced()
	if len(records) == 0 {
		return api.SyncResult{}, nil
	}

	// Capture the key set before the round trip; reconciliation must never
	// look at the live store again.
	keys := make([]int64, len(records))
	batch := make([]api.Record, len(records))
	for i, r := range records {
		keys[i] = r.CreatedAt
		batch[i] = api.Record{
			Language: r.Language,
			Lines:    r.Lines,
			Time:     r.TimeSpent,
			Date:     r.Date,
			Hour:     r.Hour,
		}
	}

	result, err := client.SyncRecords(ctx, batch)
	if err != nil {
		return api.SyncResult{}, err
	}
	if err := s.buffer.MarkSynced(keys); err != nil {
		return result, fmt.Errorf("record sync state: %w", err)
	}

	s.logger.Info(ctx, "batch sync complete",
		slog.F("sent", len(batch)),
		slog.F("saved", result.Saved),
		slog.F("grouped", result.Grouped),
	)
	return result, nil
}

// bucketKey groups snapshot entries for the granular path.
type bucketKey struct {
	language string
	date     string
	hour     int
}

type bucket struct {
	lines int
	time  time.Duration
}

// SendImmediate posts a live snapshot as one granular record per
// (language, date, hour) bucket. It bypasses the buffer entirely and is
// fire-and-forget: failures are logged, never returned, and nothing is
// retried. With no client configured it does nothing.
func (s *Syncer) SendImmediate(ctx context.Context, snap tracker.Snapshot) {
	client := s.currentClient()
	if client == nil {
		s.logger.Debug(ctx, "skipping immediate send, no credentials")
		return
	}

	buckets := make(map[bucketKey]bucket)
	for _, e := range snap.Entries {
		if e.ActiveTime <= 0 && e.NetLines() == 0 {
			continue
		}
		mid := e.FirstSeen.Add(e.LastSeen.Sub(e.FirstSeen) / 2)
		key := bucketKey{language: e.Language, date: mid.Format(buffer.DateFormat), hour: mid.Hour()}
		agg := buckets[key]
		agg.lines += e.NetLines()
		agg.time += e.ActiveTime
		buckets[key] = agg
	}

	for key, agg := range buckets {
		err := client.SendRecord(ctx, api.Record{
			Language: key.language,
			Lines:    agg.lines,
			Time:     int64(agg.time / time.Second),
			Date:     key.date,
			Hour:     key.hour,
		})
		if err != nil {
			s.logger.Warn(ctx, "immediate send failed",
				slog.F("language", key.language), slog.Error(err))
		}
	}
}
