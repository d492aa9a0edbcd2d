package cmd

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
)

// Property: status reports exactly the unsynced count and the per-day total
// held in the store.
func TestStatusCountsAccuracy(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		// n records still waiting, m already pushed.
		n := rapid.IntRange(0, 15).Draw(rt, "unsynced")
		m := rapid.IntRange(0, 15).Draw(rt, "synced")
		perRecord := rapid.IntRange(1, 600).Draw(rt, "seconds")

		isolateEnv(t)

		now := time.Now()
		today := now.Format(buffer.DateFormat)
		var records []buffer.Record
		for i := 0; i < n+m; i++ {
			records = append(records, buffer.Record{
				Language:  "Go",
				Lines:     1,
				TimeSpent: int64(perRecord),
				Date:      today,
				Hour:      now.Hour(),
				Synced:    i >= n,
				CreatedAt: now.UnixNano() + int64(i),
			})
		}
		writeStore(t, records)

		out, err := executeCommand(rootCmd, "status")
		if err != nil {
			rt.Fatalf("status command error: %v", err)
		}

		wantUnsynced := fmt.Sprintf("%d records", n)
		if !strings.Contains(out, wantUnsynced) {
			rt.Errorf("expected output to contain %q, got:\n%s", wantUnsynced, out)
		}

		wantToday := (time.Duration(n+m) * time.Duration(perRecord) * time.Second).String()
		if !strings.Contains(out, wantToday) {
			rt.Errorf("expected output to contain today total %q, got:\n%s", wantToday, out)
		}
	})
}

func TestStatusEmptyStore(t *testing.T) {
	isolateEnv(t)

	out, err := executeCommand(rootCmd, "status")
	if err != nil {
		t.Fatalf("status command error: %v", err)
	}
	if !strings.Contains(out, "0 records") {
		t.Errorf("expected zero unsynced records, got:\n%s", out)
	}
	if !strings.Contains(out, "(none)") {
		t.Errorf("expected a (none) last entry, got:\n%s", out)
	}
}
