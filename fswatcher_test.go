package fswatcher_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fswatcher "github.com/mysticatea/fs-watcher"
	"github.com/mysticatea/fs-watcher/internal/testingutil"
)

func TestEventTypeString(t *testing.T) {
	if got, want := fswatcher.EventAdd.String(), "add"; got != want {
		t.Errorf("String()=%s, want %s", got, want)
	}
	if got, want := fswatcher.EventRemove.String(), "remove"; got != want {
		t.Errorf("String()=%s, want %s", got, want)
	}
	if got, want := fswatcher.EventChange.String(), "change"; got != want {
		t.Errorf("String()=%s, want %s", got, want)
	}
}

func TestKindString(t *testing.T) {
	if got, want := fswatcher.KindFile.String(), "file"; got != want {
		t.Errorf("String()=%s, want %s", got, want)
	}
	if got, want := fswatcher.KindDirectory.String(), "directory"; got != want {
		t.Errorf("String()=%s, want %s", got, want)
	}
	if got, want := fswatcher.KindOther.String(), "other"; got != want {
		t.Errorf("String()=%s, want %s", got, want)
	}
}

func TestFileInfoIsAbsent(t *testing.T) {
	if !(fswatcher.FileInfo{}).IsAbsent() {
		t.Error("zero FileInfo must be absent")
	}
	if (fswatcher.FileInfo{Dev: 1, Ino: 2}).IsAbsent() {
		t.Error("FileInfo with device and inode must be present")
	}
}

func TestWatchDir_EngineSelection(t *testing.T) {
	t.Run("Native", func(t *testing.T) {
		w, err := fswatcher.WatchDir(context.Background(), t.TempDir(), fswatcher.Options{
			Logger: testingutil.Logger(t),
		})
		require.NoError(t, err)
		defer w.Close()
		require.IsType(t, (*fswatcher.NativeWatcher)(nil), w)
	})

	t.Run("Poll", func(t *testing.T) {
		w, err := fswatcher.WatchDir(context.Background(), t.TempDir(), fswatcher.Options{
			Poll:            true,
			PollingInterval: 100 * time.Millisecond,
			Logger:          testingutil.Logger(t),
		})
		require.NoError(t, err)
		defer w.Close()
		require.IsType(t, (*fswatcher.PollWatcher)(nil), w)
	})
}

func TestWatchDir_PathIsAbsolute(t *testing.T) {
	dir := t.TempDir()
	w, err := fswatcher.WatchDir(context.Background(), dir, fswatcher.Options{
		Logger: testingutil.Logger(t),
	})
	require.NoError(t, err)
	defer w.Close()
	require.True(t, filepath.IsAbs(w.Path()))
}
