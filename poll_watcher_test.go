package fswatcher_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fswatcher "github.com/mysticatea/fs-watcher"
	"github.com/mysticatea/fs-watcher/internal/testingutil"
)

func openPollWatcher(t *testing.T, dir string, interval time.Duration) *fswatcher.PollWatcher {
	t.Helper()
	w := fswatcher.NewPollWatcher(dir, fswatcher.Options{
		PollingInterval: interval,
		Logger:          testingutil.Logger(t),
	})
	require.NoError(t, w.Open(context.Background()))
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestPollWatcher_AddFile(t *testing.T) {
	dir := t.TempDir()
	w := openPollWatcher(t, dir, 100*time.Millisecond)

	path := filepath.Join(dir, "hello.txt")
	testingutil.WriteFile(t, path, "Hello")

	events := testingutil.CollectEvents(t, w.Events(), testingutil.SettleWindow)
	require.Len(t, events, 1)
	require.Equal(t, fswatcher.EventAdd, events[0].Type)
	require.Equal(t, path, events[0].Path)
	require.Equal(t, int64(5), events[0].Info.Size)
}

func TestPollWatcher_RemoveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	testingutil.WriteFile(t, path, "Hello")

	w := openPollWatcher(t, dir, 100*time.Millisecond)
	require.NoError(t, os.Remove(path))

	events := testingutil.CollectEvents(t, w.Events(), testingutil.SettleWindow)
	require.Len(t, events, 1)
	require.Equal(t, fswatcher.EventRemove, events[0].Type)
	require.Equal(t, int64(5), events[0].Info.Size)
}

func TestPollWatcher_ChangeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	testingutil.WriteFile(t, path, "Hello")

	w := openPollWatcher(t, dir, 100*time.Millisecond)

	// Leave a short gap after the recorded sample. The rewrite also changes
	// the size, so the poller reports it even if the mtime does not advance.
	time.Sleep(20 * time.Millisecond)
	testingutil.WriteFile(t, path, "Hello, World!")

	events := testingutil.CollectEvents(t, w.Events(), testingutil.SettleWindow)
	require.NotEmpty(t, events)
	require.Equal(t, fswatcher.EventChange, events[0].Type)
	require.Equal(t, int64(13), events[0].Info.Size)
}

// A change that happens strictly between the last sample and the removal is
// not observable by the polling engine: the remove carries the last sampled
// metadata, not the final one. This deliberately diverges from the native
// engine.
func TestPollWatcher_ChangeThenRemoveCarriesLastSample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	testingutil.WriteFile(t, path, "Hello")

	w := openPollWatcher(t, dir, 500*time.Millisecond)

	// Both mutations complete before the first sampling tick.
	testingutil.WriteFile(t, path, "Hello, World!")
	require.NoError(t, os.Remove(path))

	events := testingutil.CollectEvents(t, w.Events(), 1500*time.Millisecond)
	require.Len(t, events, 1)
	require.Equal(t, fswatcher.EventRemove, events[0].Type)
	require.Equal(t, int64(5), events[0].Info.Size)
}

func TestPollWatcher_DirectoryChurnIgnored(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w := openPollWatcher(t, dir, 100*time.Millisecond)

	// Mutating inside the subdirectory advances its mtime, but directories
	// emit no change and this watcher is not recursive.
	testingutil.WriteFile(t, filepath.Join(sub, "nested.txt"), "x")

	events := testingutil.CollectEvents(t, w.Events(), testingutil.SettleWindow)
	require.Empty(t, events)
}

func TestPollWatcher_OpenErrors(t *testing.T) {
	t.Run("NonExistent", func(t *testing.T) {
		w := fswatcher.NewPollWatcher(filepath.Join(t.TempDir(), "nope"), fswatcher.Options{Logger: testingutil.Logger(t)})
		err := w.Open(context.Background())
		require.Error(t, err)
		require.True(t, errors.Is(err, fs.ErrNotExist))
		require.NoError(t, w.Close())
	})

	t.Run("NotDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file.txt")
		testingutil.WriteFile(t, path, "x")

		w := fswatcher.NewPollWatcher(path, fswatcher.Options{Logger: testingutil.Logger(t)})
		err := w.Open(context.Background())
		require.Error(t, err)
		require.True(t, errors.Is(err, syscall.ENOTDIR))
	})
}

func TestPollWatcher_Close(t *testing.T) {
	dir := t.TempDir()
	w := openPollWatcher(t, dir, 100*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	testingutil.WriteFile(t, filepath.Join(dir, "late.txt"), "x")
	_, ok := <-w.Events()
	require.False(t, ok)
	require.Empty(t, w.Children())
}
