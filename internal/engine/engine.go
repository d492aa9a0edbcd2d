// Package engine runs the tracking loop for one editor process.
//
// All editor events, the accrual tick, the periodic flush, and the sync and
// sweep schedules execute as non-overlapping turns of a single goroutine, so
// the accumulator needs no locking. Network sync is the one suspending
// operation and runs in its own goroutine, guarded so at most one batch is
// in flight; the buffer's keyed reconciliation makes flushes during that
// window safe.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/syncer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/tracker"
)

const (
	// FlushInterval is how often accrued activity is converted into
	// durable records.
	FlushInterval = 30 * time.Second
	// SyncInterval is how often a batch sync runs regardless of flushes.
	SyncInterval = 5 * time.Minute
	// SweepInterval is how often expired synced records are removed.
	SweepInterval = time.Hour

	// closeTimeout bounds the final flush-and-sync on shutdown.
	closeTimeout = 5 * time.Second
)

// Engine wires the accumulator, buffer, and syncer together and owns every
// timer. Construct with New; the caller must Close it to stop the timers
// and run the final flush.
type Engine struct {
	logger  slog.Logger
	clock   quartz.Clock
	tracker *tracker.Accumulator
	buffer  *buffer.Buffer
	syncer  *syncer.Syncer

	events  chan tracker.Event
	syncReq chan struct{}
	stop    chan struct{} // closed when Close begins
	closed  chan struct{} // closed when the run loop has exited
	cancel  context.CancelFunc

	closeOnce    sync.Once
	sendWG       sync.WaitGroup
	syncInFlight atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock driving all timers, for tests.
func WithClock(clock quartz.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// New starts the engine's run loop. It is the caller's responsibility to
// call Close on the returned engine.
func New(ctx context.Context, logger slog.Logger, acc *tracker.Accumulator, buf *buffer.Buffer, syn *syncer.Syncer, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		logger:  logger,
		clock:   quartz.NewReal(),
		tracker: acc,
		buffer:  buf,
		syncer:  syn,
		events:  make(chan tracker.Event),
		syncReq: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		closed:  make(chan struct{}),
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run(ctx)
	return e
}

// Deliver hands one editor event to the run loop. Events delivered after
// Close began, or after the run loop stopped for any reason, are dropped.
func (e *Engine) Deliver(ev tracker.Event) {
	select {
	case <-e.stop:
	case <-e.closed:
	case e.events <- ev:
	}
}

// RequestSync schedules a batch sync on the run loop. Requests coalesce: at
// most one is pending at a time.
func (e *Engine) RequestSync() {
	select {
	case e.syncReq <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.closed)

	tick := e.clock.NewTicker(tracker.TickInterval, "engine", "tick")
	defer tick.Stop()
	flush := e.clock.NewTicker(FlushInterval, "engine", "flush")
	defer flush.Stop()
	syncT := e.clock.NewTicker(SyncInterval, "engine", "sync")
	defer syncT.Stop()
	sweep := e.clock.NewTicker(SweepInterval, "engine", "sweep")
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handle(ctx, ev)
		case <-tick.C:
			e.tracker.Tick()
		case <-flush.C:
			e.flush(ctx)
			e.startSync(ctx)
		case <-syncT.C:
			e.startSync(ctx)
		case <-e.syncReq:
			e.startSync(ctx)
		case <-sweep.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev tracker.Event) {
	switch ev.Kind {
	case tracker.EventPost:
		// Opportunistic granular send of the live session. The snapshot is
		// taken on this turn; the network posts happen off it.
		snap := e.tracker.Snapshot()
		e.sendWG.Add(1)
		go func() {
			defer e.sendWG.Done()
			e.syncer.SendImmediate(ctx, snap)
		}()
	case tracker.EventSync:
		e.startSync(ctx)
	default:
		e.tracker.Handle(ev)
	}
}

// flush converts the current session into durable records and opens a fresh
// accrual interval. A failed store write is logged and retried by a later
// mutation; the records are already queued in memory.
func (e *Engine) flush(ctx context.Context) {
	snap := e.tracker.Snapshot()
	if err := e.buffer.Ingest(snap); err != nil {
		e.logger.Error(ctx, "flush failed", slog.Error(err))
	}
	e.tracker.Reset()
}

// startSync launches one batch sync unless another is already in flight.
// Errors are left for the next cycle; a missing credential is routine until
// the user logs in.
func (e *Engine) startSync(ctx context.Context) {
	if !e.syncInFlight.CompareAndSwap(false, true) {
		e.logger.Debug(ctx, "sync already in flight, skipping")
		return
	}
	e.sendWG.Add(1)
	go func() {
		defer e.sendWG.Done()
		defer e.syncInFlight.Store(false)

		_, err := e.syncer.Sync(ctx)
		switch {
		case errors.Is(err, syncer.ErrNoCredentials):
			e.logger.Debug(ctx, "sync skipped, no credentials")
		case err != nil:
			e.logger.Warn(ctx, "sync failed, will retry next cycle", slog.Error(err))
		}
	}()
}

func (e *Engine) sweep(ctx context.Context) {
	removed, err := e.buffer.Cleanup()
	if err != nil {
		e.logger.Error(ctx, "retention sweep failed", slog.Error(err))
		return
	}
	if removed > 0 {
		e.logger.Info(ctx, "retention sweep removed expired records", slog.F("removed", removed))
	}
}

// Close stops all timers, waits for in-flight work, and runs one
// best-effort final flush-and-sync so a clean shutdown leaves nothing
// accrued in memory. Errors on that last pass are logged, never returned;
// whatever could not be synced stays buffered for the next run.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.cancel()
		<-e.closed
		e.sendWG.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		e.flush(ctx)
		if _, err := e.syncer.Sync(ctx); err != nil && !errors.Is(err, syncer.ErrNoCredentials) {
			e.logger.Warn(ctx, "final sync failed, records stay buffered", slog.Error(err))
		}
	})
	return nil
}
