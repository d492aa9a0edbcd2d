// Package host adapts editor-side event sources to the engine: a JSON-lines
// feed on standard input and an optional filesystem watcher for editors
// that cannot emit events themselves.
package host

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cdr.dev/slog/v3"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/tracker"
)

// Sink receives decoded editor events.
type Sink interface {
	Deliver(tracker.Event)
}

// maxEventLine bounds a single feed line; large paste payloads arrive as
// one event.
const maxEventLine = 1 << 20

// Feed decodes newline-delimited JSON events from r and delivers them to
// sink until EOF or a read error. Malformed lines are logged and skipped so
// one broken plugin message cannot stall tracking. EOF means the editor
// went away and returns nil.
func Feed(ctx context.Context, logger slog.Logger, r io.Reader, sink Sink) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev tracker.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn(ctx, "skipping malformed event line", slog.Error(err))
			continue
		}
		if ev.Kind == "" {
			logger.Warn(ctx, "skipping event without a kind")
			continue
		}
		sink.Deliver(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event feed: %w", err)
	}
	return nil
}
