package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/api"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/engine"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/syncer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/tracker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	clock   *quartz.Mock
	logger  slog.Logger
	tracker *tracker.Accumulator
	buffer  *buffer.Buffer
	syncer  *syncer.Syncer
	engine  *engine.Engine
}

// startHarness assembles a full engine on a mock clock. It holds engine
// startup in a ticker trap until all four schedules are armed, so advancing
// the clock afterwards is deterministic.
func startHarness(t *testing.T, ctx context.Context, client *api.Client) *harness {
	t.Helper()

	clock := quartz.NewMock(t)
	logger := slogtest.Make(t, nil)

	acc := tracker.New(logger, tracker.WithClock(clock))
	buf, err := buffer.New(logger,
		buffer.WithPath(filepath.Join(t.TempDir(), "records.json")),
		buffer.WithClock(clock))
	require.NoError(t, err)
	syn := syncer.New(logger, buf, client)

	trap := clock.Trap().NewTicker()
	defer trap.Close()

	eng := engine.New(ctx, logger, acc, buf, syn, engine.WithClock(clock))

	wantPeriods := []time.Duration{
		tracker.TickInterval,
		engine.FlushInterval,
		engine.SyncInterval,
		engine.SweepInterval,
	}
	for _, want := range wantPeriods {
		call := trap.MustWait(ctx)
		require.Equal(t, want, call.Duration)
		call.MustRelease(ctx)
	}

	return &harness{
		clock:   clock,
		logger:  logger,
		tracker: acc,
		buffer:  buf,
		syncer:  syn,
		engine:  eng,
	}
}

// collector is a fake remote accepting both the granular and the bulk
// endpoint.
type collector struct {
	records chan api.Record
	batches chan []api.Record
}

func newCollector(t *testing.T) (*collector, *api.Client) {
	t.Helper()
	c := &collector{
		records: make(chan api.Record, 16),
		batches: make(chan []api.Record, 16),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/records":
			var rec api.Record
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
			c.records <- rec
			w.WriteHeader(http.StatusCreated)
		case "/api/v1/records/sync":
			var batch []api.Record
			require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
			c.batches <- batch
			_ = json.NewEncoder(w).Encode(api.SyncResult{Saved: len(batch), Grouped: 1})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return c, api.NewClient(server.URL, "key", "machine")
}

func awaitBatch(t *testing.T, c *collector) []api.Record {
	t.Helper()
	select {
	case batch := <-c.batches:
		return batch
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a batch sync")
		return nil
	}
}

func awaitRecord(t *testing.T, c *collector) api.Record {
	t.Helper()
	select {
	case rec := <-c.records:
		return rec
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a granular record")
		return api.Record{}
	}
}

func deliverActivity(h *harness, path, language string) {
	h.engine.Deliver(tracker.Event{Kind: tracker.EventOpen, File: path, Language: language})
	h.engine.Deliver(tracker.Event{Kind: tracker.EventFocus, File: path})
	h.engine.Deliver(tracker.Event{Kind: tracker.EventEdit, File: path, Changes: []tracker.Change{{Text: "x\n"}}})
}

func TestFlushThenSync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remote, client := newCollector(t)
	h := startHarness(t, ctx, client)
	defer h.engine.Close()

	deliverActivity(h, "main.go", "Go")

	// Five seconds of focused work, then the window loses focus so the
	// remaining ticks before the flush boundary accrue nothing.
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second).MustWait(ctx)
	}
	h.engine.Deliver(tracker.Event{Kind: tracker.EventWindow, Focused: false})
	for i := 0; i < 25; i++ {
		h.clock.Advance(time.Second).MustWait(ctx)
	}

	batch := awaitBatch(t, remote)
	require.Len(t, batch, 1)
	require.Equal(t, "Go", batch[0].Language)
	require.Equal(t, 1, batch[0].Lines)
	require.EqualValues(t, 5, batch[0].Time)

	// The collector acknowledged, so the records flip to synced.
	require.Eventually(t, func() bool {
		return h.buffer.UnsyncedCount() == 0
	}, 10*time.Second, 10*time.Millisecond)

	// The flush reset the session: the next interval starts from zero.
	require.Zero(t, h.tracker.Snapshot().ActiveTime)
}

func TestPostSendsLiveSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remote, client := newCollector(t)
	h := startHarness(t, ctx, client)

	deliverActivity(h, "main.go", "Go")
	h.engine.Deliver(tracker.Event{Kind: tracker.EventPost})

	rec := awaitRecord(t, remote)
	require.Equal(t, "Go", rec.Language)
	require.Equal(t, 1, rec.Lines)

	// The granular path bypasses the buffer and leaves the session intact.
	require.Zero(t, h.buffer.UnsyncedCount())
	require.Equal(t, 1, h.tracker.Snapshot().Entries["main.go"].LinesAdded)

	require.NoError(t, h.engine.Close())
}

func TestForcedSyncDrainsBuffer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remote, client := newCollector(t)
	h := startHarness(t, ctx, client)
	defer h.engine.Close()

	// Put a record in the buffer directly, then ask for a sync without
	// waiting out the five-minute schedule.
	now := h.clock.Now()
	require.NoError(t, h.buffer.Ingest(tracker.Snapshot{Entries: map[string]tracker.Entry{
		"a.go": {Path: "a.go", Language: "Go", ActiveTime: 7 * time.Second, FirstSeen: now, LastSeen: now},
	}}))

	h.engine.RequestSync()

	batch := awaitBatch(t, remote)
	require.Len(t, batch, 1)
	require.EqualValues(t, 7, batch[0].Time)
	require.Eventually(t, func() bool {
		return h.buffer.UnsyncedCount() == 0
	}, 10*time.Second, 10*time.Millisecond)
}

func TestCloseFlushesAndSyncs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	remote, client := newCollector(t)
	h := startHarness(t, ctx, client)

	deliverActivity(h, "main.go", "Go")
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second).MustWait(ctx)
	}

	// Shutdown converts the live session into a durable record and pushes
	// it out before returning.
	require.NoError(t, h.engine.Close())

	batch := awaitBatch(t, remote)
	require.Len(t, batch, 1)
	require.EqualValues(t, 3, batch[0].Time)
	require.Zero(t, h.buffer.UnsyncedCount())
}

func TestSweepExpiresOldSyncedRecords(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// No credentials: scheduled syncs are quiet no-ops in this test.
	clock := quartz.NewMock(t)
	logger := slogtest.Make(t, nil)
	acc := tracker.New(logger, tracker.WithClock(clock))
	buf, err := buffer.New(logger,
		buffer.WithPath(filepath.Join(t.TempDir(), "records.json")),
		buffer.WithClock(clock))
	require.NoError(t, err)

	// One record synced long ago, one unsynced contemporary of it.
	now := clock.Now()
	require.NoError(t, buf.Ingest(tracker.Snapshot{Entries: map[string]tracker.Entry{
		"old.go": {Path: "old.go", Language: "Go", ActiveTime: time.Second, FirstSeen: now, LastSeen: now},
	}}))
	require.NoError(t, buf.MarkSynced([]int64{buf.Unsynced()[0].CreatedAt}))
	require.NoError(t, buf.Ingest(tracker.Snapshot{Entries: map[string]tracker.Entry{
		"stuck.go": {Path: "stuck.go", Language: "Go", ActiveTime: time.Second, FirstSeen: now, LastSeen: now},
	}}))
	clock.Advance(buffer.RetentionWindow)

	trap := clock.Trap().NewTicker()
	defer trap.Close()
	eng := engine.New(ctx, logger, acc, buf, syncer.New(logger, buf, nil), engine.WithClock(clock))
	defer eng.Close()
	for i := 0; i < 4; i++ {
		trap.MustWait(ctx).MustRelease(ctx)
	}

	clock.Advance(engine.SweepInterval).MustWait(ctx)

	// Only the synced record expired; the unsynced one survives at any age.
	require.Eventually(t, func() bool {
		return buf.TotalTime() == time.Second
	}, 10*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, buf.UnsyncedCount())
}

func TestDeliverAfterClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h := startHarness(t, ctx, nil)
	require.NoError(t, h.engine.Close())

	// Neither call may block or panic once the engine is down.
	h.engine.Deliver(tracker.Event{Kind: tracker.EventEdit, File: "late.go"})
	h.engine.RequestSync()
	require.NoError(t, h.engine.Close())
}
