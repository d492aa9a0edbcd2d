// Package tracker maintains the live, per-file ledger of active time,
// edit counts and keystroke approximations for the current session.
//
// The accumulator advances time only on ticks, and only while activity is
// judged genuine: the editor window must be focused, a file must be focused,
// and the last registered activity must be recent. Ticking keeps idle
// detection and overflow capping local computations with bounded error,
// independent of how often consumers ask for stats.
//
// An Accumulator is not safe for concurrent use. It is owned by the engine
// loop, which serializes editor events and ticks into non-overlapping turns.
package tracker

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
)

const (
	// TickInterval is the period at which Tick is expected to be driven.
	TickInterval = time.Second
	// IdleTimeout is the maximum gap since the last registered activity
	// before accrual stops.
	IdleTimeout = 120 * time.Second
	// MaxTickAccrual bounds how much time a single tick may contribute,
	// limiting the error introduced by system suspend or a delayed timer.
	MaxTickAccrual = 2 * time.Second
	// MaxIntervalAccrual bounds the total accrual between flushes. A tick
	// that would push past it contributes nothing; this guards against
	// clock anomalies producing runaway accrual inside one flush window.
	MaxIntervalAccrual = 35 * time.Second
)

// Entry is the ledger line for one open file.
type Entry struct {
	Path         string
	Language     string
	Keystrokes   int
	LinesAdded   int
	LinesDeleted int
	ActiveTime   time.Duration
	FirstSeen    time.Time
	LastSeen     time.Time
}

// NetLines returns max(0, LinesAdded-LinesDeleted).
func (e Entry) NetLines() int {
	n := e.LinesAdded - e.LinesDeleted
	if n < 0 {
		return 0
	}
	return n
}

// touch stamps the activity window of the entry.
func (e *Entry) touch(now time.Time) {
	if e.FirstSeen.IsZero() {
		e.FirstSeen = now
	}
	e.LastSeen = now
}

// Snapshot is an immutable copy of the session state, taken for a flush or
// an immediate send. Entries are value copies; mutating the accumulator
// after the fact does not affect a snapshot already taken.
type Snapshot struct {
	SessionStart time.Time
	TakenAt      time.Time
	Entries      map[string]Entry
	Keystrokes   int
	ActiveTime   time.Duration
}

// Accumulator owns the live ledger and the idle/overflow bookkeeping.
type Accumulator struct {
	logger slog.Logger
	clock  quartz.Clock

	entries         map[string]*Entry
	focused         string // path of the focused file, "" when none
	windowFocused   bool
	sessionStart    time.Time
	lastActivity    time.Time
	lastTick        time.Time
	intervalAccrued time.Duration
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock substitutes the time source, used by tests.
func WithClock(clock quartz.Clock) Option {
	return func(a *Accumulator) {
		a.clock = clock
	}
}

// New returns an empty accumulator. The editor window is assumed focused
// until the host reports otherwise, and construction counts as activity so
// the first focused tick can accrue.
func New(logger slog.Logger, opts ...Option) *Accumulator {
	a := &Accumulator{
		logger:        logger,
		clock:         quartz.NewReal(),
		entries:       make(map[string]*Entry),
		windowFocused: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	now := a.clock.Now()
	a.sessionStart = now
	a.lastActivity = now
	a.lastTick = now
	return a
}

// entry returns the ledger line for path, registering it if absent.
func (a *Accumulator) entry(path string) *Entry {
	e, ok := a.entries[path]
	if !ok {
		e = &Entry{Path: path}
		a.entries[path] = e
	}
	return e
}

// FileOpened registers a ledger entry for path if absent. Re-opening is
// idempotent: existing counters are untouched, since editors replay open
// events when restoring windows. Opening alone does not count as activity.
func (a *Accumulator) FileOpened(path, language string) {
	if path == "" {
		return
	}
	e := a.entry(path)
	if e.Language == "" {
		e.Language = language
	}
}

// FileEdited accumulates line and keystroke deltas for each change range
// and marks the file and the session as recently active.
//
// Per range: lines deleted is the number of full lines in the replaced
// range, lines added is the number of line breaks inserted. When both are
// nonzero their overlap is subtracted from each so an in-place multi-line
// replacement is not double-counted as both a deletion and an insertion.
// The keystroke delta is the larger of the inserted and replaced extents,
// which also charges paste operations roughly once.
func (a *Accumulator) FileEdited(path string, changes []Change) {
	if path == "" {
		return
	}
	now := a.clock.Now()
	e := a.entry(path)
	for _, c := range changes {
		deleted := c.EndLine - c.StartLine
		if deleted < 0 {
			deleted = 0
		}
		added := strings.Count(c.Text, "\n")
		if added > 0 && deleted > 0 {
			overlap := added
			if deleted < overlap {
				overlap = deleted
			}
			added -= overlap
			deleted -= overlap
		}
		e.LinesAdded += added
		e.LinesDeleted += deleted

		stroke := utf8.RuneCountInString(c.Text)
		if c.ReplacedLen > stroke {
			stroke = c.ReplacedLen
		}
		e.Keystrokes += stroke
	}
	e.touch(now)
	a.lastActivity = now
}

// FileClosed clears the focus pointer if it referenced path. The ledger
// entry survives so time already spent is flushed later.
func (a *Accumulator) FileClosed(path string) {
	if a.focused == path {
		a.focused = ""
	}
}

// FocusChanged records the file that now has editor focus. An empty path
// suspends accrual until focus returns. Focusing a file counts as activity.
func (a *Accumulator) FocusChanged(path string) {
	a.focused = path
	if path == "" {
		return
	}
	now := a.clock.Now()
	a.entry(path).touch(now)
	a.lastActivity = now
}

// SelectionChanged records cursor movement inside path, which counts as
// activity even without an edit (reading code is work too). A selection
// implies the file has focus.
func (a *Accumulator) SelectionChanged(path string) {
	if path == "" {
		return
	}
	a.focused = path
	now := a.clock.Now()
	a.entry(path).touch(now)
	a.lastActivity = now
}

// WindowFocusChanged records whether the editor window has OS focus.
// Regaining focus resets the idle clock: the moment of refocus is fresh
// activity, not accrued idle time.
func (a *Accumulator) WindowFocusChanged(focused bool) {
	a.windowFocused = focused
	if focused {
		a.lastActivity = a.clock.Now()
	}
}

// Tick advances active time by the elapsed wall clock since the previous
// tick, subject to the idle check and the per-tick and per-interval caps.
func (a *Accumulator) Tick() {
	now := a.clock.Now()
	elapsed := now.Sub(a.lastTick)
	a.lastTick = now

	if !a.windowFocused || a.focused == "" || now.Sub(a.lastActivity) > IdleTimeout {
		// Session is inactive; the elapsed time is discarded.
		return
	}
	if elapsed <= 0 {
		return
	}
	if elapsed > MaxTickAccrual {
		a.logger.Debug(context.Background(), "tick elapsed clamped",
			slog.F("elapsed", elapsed),
			slog.F("cap", MaxTickAccrual),
		)
		elapsed = MaxTickAccrual
	}
	if a.intervalAccrued+elapsed > MaxIntervalAccrual {
		a.logger.Warn(context.Background(), "flush interval accrual cap reached, dropping tick",
			slog.F("accrued", a.intervalAccrued),
			slog.F("cap", MaxIntervalAccrual),
		)
		return
	}

	e := a.entry(a.focused)
	e.touch(now)
	e.ActiveTime += elapsed
	a.intervalAccrued += elapsed
}

// Snapshot returns an immutable copy of the session. It does not mutate
// accumulator state: two consecutive snapshots with no intervening mutation
// are equal.
func (a *Accumulator) Snapshot() Snapshot {
	entries := make(map[string]Entry, len(a.entries))
	var strokes int
	var active time.Duration
	for path, e := range a.entries {
		entries[path] = *e
		strokes += e.Keystrokes
		active += e.ActiveTime
	}
	return Snapshot{
		SessionStart: a.sessionStart,
		TakenAt:      a.clock.Now(),
		Entries:      entries,
		Keystrokes:   strokes,
		ActiveTime:   active,
	}
}

// Reset zeroes all per-file counters and the per-interval counter and
// starts a new session window. Ledger keys survive so file identity is
// stable across flushes.
func (a *Accumulator) Reset() {
	now := a.clock.Now()
	for _, e := range a.entries {
		e.Keystrokes = 0
		e.LinesAdded = 0
		e.LinesDeleted = 0
		e.ActiveTime = 0
		e.FirstSeen = time.Time{}
		e.LastSeen = time.Time{}
	}
	a.intervalAccrued = 0
	a.sessionStart = now
}

// Handle dispatches a single editor event to the matching handler. Post and
// sync requests are engine concerns and are ignored here.
func (a *Accumulator) Handle(ev Event) {
	switch ev.Kind {
	case EventOpen:
		a.FileOpened(ev.File, ev.Language)
	case EventEdit:
		a.FileEdited(ev.File, ev.Changes)
	case EventClose:
		a.FileClosed(ev.File)
	case EventFocus:
		a.FocusChanged(ev.File)
	case EventSelect:
		a.SelectionChanged(ev.File)
	case EventWindow:
		a.WindowFocusChanged(ev.Focused)
	}
}
