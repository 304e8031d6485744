// Package testingutil provides helpers shared by the watcher tests.
package testingutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	fswatcher "github.com/mysticatea/fs-watcher"
)

// SettleWindow is how long tests wait for debounced events to flush. It
// comfortably covers the default 200ms debounce and the default polling
// interval.
const SettleWindow = 700 * time.Millisecond

// Logger returns a debug-level logger that writes through t.Log.
func Logger(tb testing.TB) *slog.Logger {
	tb.Helper()
	return slog.New(slog.NewTextHandler(testWriter{tb}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct{ tb testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Log(string(p))
	return len(p), nil
}

// WriteFile writes content to path, creating parent directories as needed.
func WriteFile(tb testing.TB, path, content string) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatal(err)
	}
}

// CollectEvents drains events from ch for the given window and returns
// everything received. It stops early if the channel closes.
func CollectEvents(tb testing.TB, ch <-chan fswatcher.Event, window time.Duration) []fswatcher.Event {
	tb.Helper()
	var events []fswatcher.Event
	deadline := time.After(window)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

// EventsByType groups collected events by type.
func EventsByType(events []fswatcher.Event) map[fswatcher.EventType][]fswatcher.Event {
	out := make(map[fswatcher.EventType][]fswatcher.Event)
	for _, ev := range events {
		out[ev.Type] = append(out[ev.Type], ev)
	}
	return out
}
