// Package fswatcher delivers structured per-file change notifications for a
// directory's immediate children and for recursive, glob-filtered file sets.
//
// Two interchangeable engines are provided: NativeWatcher reconciles the
// operating system's coarse directory-change notifications into precise
// add/remove/change events, and PollWatcher samples file metadata on a fixed
// interval. Both expose the same contract. GlobWatcher composes directory
// watchers into a recursive view filtered by include/exclude glob patterns.
package fswatcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"syscall"
	"time"
)

// Default intervals used when Options leaves them unset.
const (
	// DefaultDebounceInterval is the window during which rapid event
	// sequences for the same path are merged before emission.
	DefaultDebounceInterval = 200 * time.Millisecond

	// DefaultPollingInterval is the sampling interval of the polling engine.
	DefaultPollingInterval = 500 * time.Millisecond
)

// ErrWatcherClosed is returned when the watcher is closed before or during
// initialization.
var ErrWatcherClosed = errors.New("fswatcher: watcher closed")

// EventType identifies the kind of a file event.
type EventType int

const (
	EventAdd EventType = iota
	EventRemove
	EventChange
)

// String returns the lowercase name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	case EventChange:
		return "change"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Kind classifies a filesystem entry.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindOther
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "other"
	}
}

// FileInfo is an immutable metadata snapshot of a filesystem entry.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	Kind    Kind
	Dev     uint64
	Ino     uint64
}

// IsAbsent reports whether the snapshot is the absence sentinel. Platform
// pollers report a synthetic zero-stat when a file has disappeared; a
// snapshot with both device and inode zero is treated as "no entry".
func (fi FileInfo) IsAbsent() bool {
	return fi.Dev == 0 && fi.Ino == 0
}

// Event is a single file change notification.
type Event struct {
	Type EventType
	Path string
	Info FileInfo
}

// watcher lifecycle states. Initializing suppresses event emission, Alive
// permits it, Disposed drops everything.
type state int

const (
	stateInitializing state = iota
	stateAlive
	stateDisposed
)

// Options configures a directory watcher.
type Options struct {
	// Poll selects the polling engine instead of the native one.
	Poll bool

	// PollingInterval is the metadata sampling interval of the polling
	// engine. Defaults to DefaultPollingInterval.
	PollingInterval time.Duration

	// DebounceInterval is the merge window of the native engine's pending
	// queue. Defaults to DefaultDebounceInterval.
	DebounceInterval time.Duration

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.PollingInterval <= 0 {
		o.PollingInterval = DefaultPollingInterval
	}
	if o.DebounceInterval <= 0 {
		o.DebounceInterval = DefaultDebounceInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// DirWatcher is the common contract of the two directory watcher engines.
// A watcher observes one directory's immediate children. Events() and
// Errors() are closed after Close completes; no events are delivered after
// that point.
type DirWatcher interface {
	// Path returns the absolute path of the watched directory.
	Path() string

	// Children returns a copy of the most recently observed child metadata,
	// keyed by absolute path.
	Children() map[string]FileInfo

	// Events returns the channel of add/remove/change notifications.
	Events() <-chan Event

	// Errors returns the channel of runtime observation errors.
	Errors() <-chan error

	// Close stops observation and releases resources. It is idempotent.
	Close() error
}

// WatchDir opens a directory watcher on path using the engine selected by
// opt. It blocks until the initial scan completes; on failure the watcher is
// already torn down and the error is returned.
func WatchDir(ctx context.Context, path string, opt Options) (DirWatcher, error) {
	if opt.Poll {
		w := NewPollWatcher(path, opt)
		if err := w.Open(ctx); err != nil {
			return nil, err
		}
		return w, nil
	}
	w := NewNativeWatcher(path, opt)
	if err := w.Open(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// checkDir verifies that path exists and is a directory, returning its
// metadata. The error preserves ENOENT/ENOTDIR so callers can classify it
// with errors.Is.
func checkDir(path string) (FileInfo, error) {
	info, err := statFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	if info.Kind != KindDirectory {
		return FileInfo{}, &fs.PathError{Op: "watch", Path: path, Err: syscall.ENOTDIR}
	}
	return info, nil
}
