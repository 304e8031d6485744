package fswatcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// GlobOptions configures a GlobWatcher.
type GlobOptions struct {
	// Includes are the glob patterns selecting files to watch. At least one
	// is required.
	Includes []string

	// Excludes are glob patterns removing files and subtrees from the view.
	// A pattern ending in "/**" also prunes the directory itself.
	Excludes []string

	// CWD resolves relative patterns. Defaults to the process working
	// directory.
	CWD string

	// Poll, PollingInterval, DebounceInterval, and Logger are passed to
	// every child directory watcher.
	Poll             bool
	PollingInterval  time.Duration
	DebounceInterval time.Duration
	Logger           *slog.Logger
}

// GlobWatcher presents one event stream over all files matching an
// include/exclude set. It derives base directories from the include
// patterns, spawns a directory watcher per directory in the matched
// subtree, and reacts to their events by spawning and tearing down further
// watchers and re-emitting filtered file events.
//
// The initial file set is discovered silently: consumers learn the baseline
// from Stats() after Open returns, not from add events.
type GlobWatcher struct {
	matcher *Matcher
	opts    GlobOptions
	logger  *slog.Logger

	mu       sync.Mutex
	st       state
	watchers map[string]DirWatcher // nil value marks an in-flight open
	files    map[string]FileInfo

	events chan Event
	errors chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewGlobWatcher compiles the patterns and returns an unopened watcher.
// Pattern compilation errors surface here, before any observation starts.
func NewGlobWatcher(opt GlobOptions) (*GlobWatcher, error) {
	if len(opt.Includes) == 0 {
		return nil, errors.New("fswatcher: at least one include pattern required")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	matcher, err := NewMatcher(opt.Includes, opt.Excludes, opt.CWD)
	if err != nil {
		return nil, err
	}

	w := &GlobWatcher{
		matcher:  matcher,
		opts:     opt,
		logger:   opt.Logger.With("includes", opt.Includes),
		watchers: make(map[string]DirWatcher),
		files:    make(map[string]FileInfo),
		events:   make(chan Event, 16),
		errors:   make(chan error, 1),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

// Events returns the channel of filtered file notifications. It is closed
// after Close completes.
func (w *GlobWatcher) Events() <-chan Event { return w.events }

// Errors returns the channel of forwarded child-watcher errors.
func (w *GlobWatcher) Errors() <-chan error { return w.errors }

// Stats returns a copy of the admitted file set with its last-emitted
// metadata.
func (w *GlobWatcher) Stats() map[string]FileInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]FileInfo, len(w.files))
	for k, v := range w.files {
		out[k] = v
	}
	return out
}

// Open walks the base directories of the include patterns and recursively
// spawns directory watchers over the matched subtree. It blocks until the
// whole tree is covered; on failure the watcher has already closed itself.
func (w *GlobWatcher) Open(ctx context.Context) error {
	for _, base := range w.matcher.BaseDirs() {
		if err := w.addDirectory(ctx, base, true); err != nil {
			_ = w.Close()
			return err
		}
	}

	w.mu.Lock()
	if w.st == stateDisposed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.st = stateAlive
	w.mu.Unlock()
	return nil
}

// Close transitions to Disposed and concurrently closes every child
// watcher. It returns after all of them have settled and the event channels
// are closed. It is idempotent; concurrent callers share the same result.
func (w *GlobWatcher) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.st = stateDisposed
		snapshot := w.watchers
		w.watchers = make(map[string]DirWatcher)
		w.files = make(map[string]FileInfo)
		w.mu.Unlock()

		w.cancel()

		var g errgroup.Group
		for _, child := range snapshot {
			if child == nil {
				continue // in-flight open; it observes Disposed on resolution
			}
			g.Go(child.Close)
		}
		w.closeErr = g.Wait()

		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return w.closeErr
}

// addDirectory is the recursive driver: it registers an in-flight entry for
// dedup, opens a directory watcher, subscribes to it, and descends into the
// entries it already knows about. During startup (strict=true) a child open
// failure aborts initialization; afterwards a vanished directory is a
// benign race and other failures surface on the error channel.
func (w *GlobWatcher) addDirectory(ctx context.Context, dir string, strict bool) error {
	w.mu.Lock()
	if w.st == stateDisposed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	if _, ok := w.watchers[dir]; ok || w.matcher.ShouldSkip(dir) {
		w.mu.Unlock()
		return nil
	}
	w.watchers[dir] = nil
	w.mu.Unlock()

	child, err := WatchDir(ctx, dir, Options{
		Poll:             w.opts.Poll,
		PollingInterval:  w.opts.PollingInterval,
		DebounceInterval: w.opts.DebounceInterval,
		Logger:           w.opts.Logger,
	})
	if err != nil {
		w.mu.Lock()
		delete(w.watchers, dir)
		w.mu.Unlock()
		if strict {
			return err
		}
		if errors.Is(err, fs.ErrNotExist) {
			// The directory disappeared between discovery and open.
			w.logger.Debug("directory vanished before open", "dir", dir)
			return nil
		}
		w.forwardError(err)
		return nil
	}

	w.mu.Lock()
	if _, ok := w.watchers[dir]; !ok || w.st == stateDisposed {
		// Removed or disposed while the open was in flight.
		w.mu.Unlock()
		_ = child.Close()
		return nil
	}
	w.watchers[dir] = child
	w.wg.Add(2)
	w.mu.Unlock()

	w.logger.Debug("watching directory", "dir", dir)
	go w.forwardEvents(child)
	go w.forwardErrors(child)

	for path, info := range child.Children() {
		if info.Kind == KindDirectory {
			if err := w.addDirectory(ctx, path, strict); err != nil {
				return err
			}
		} else {
			w.addFile(path, info)
		}
	}
	return nil
}

// forwardEvents dispatches one child watcher's events until its channel
// closes.
func (w *GlobWatcher) forwardEvents(child DirWatcher) {
	defer w.wg.Done()
	for ev := range child.Events() {
		switch ev.Type {
		case EventAdd:
			if ev.Info.Kind == KindDirectory {
				_ = w.addDirectory(w.ctx, ev.Path, false)
			} else {
				w.addFile(ev.Path, ev.Info)
			}
		case EventRemove:
			if ev.Info.Kind == KindDirectory {
				w.removeDirectory(ev.Path)
			} else {
				w.removeFile(ev.Path)
			}
		case EventChange:
			if ev.Info.Kind != KindDirectory {
				w.changeFile(ev.Path, ev.Info)
			}
		}
	}
}

func (w *GlobWatcher) forwardErrors(child DirWatcher) {
	defer w.wg.Done()
	for err := range child.Errors() {
		w.forwardError(err)
	}
}

func (w *GlobWatcher) forwardError(err error) {
	w.mu.Lock()
	disposed := w.st == stateDisposed
	w.mu.Unlock()
	if disposed {
		return
	}
	select {
	case w.errors <- err:
	case <-w.ctx.Done():
	}
}

// addFile admits a path that passes the include/exclude filter. During
// initialization the metadata is recorded without emission.
func (w *GlobWatcher) addFile(path string, info FileInfo) {
	w.mu.Lock()
	if w.st == stateDisposed {
		w.mu.Unlock()
		return
	}
	if _, ok := w.files[path]; ok || !w.matcher.IsMatch(path) {
		w.mu.Unlock()
		return
	}
	w.files[path] = info
	alive := w.st == stateAlive
	w.mu.Unlock()

	if alive {
		w.emit(Event{Type: EventAdd, Path: path, Info: info})
	}
}

// removeFile drops an admitted path. Paths that never passed the filter
// were never admitted and produce nothing here.
func (w *GlobWatcher) removeFile(path string) {
	w.mu.Lock()
	info, ok := w.files[path]
	if !ok || w.st == stateDisposed {
		w.mu.Unlock()
		return
	}
	delete(w.files, path)
	alive := w.st == stateAlive
	w.mu.Unlock()

	if alive {
		w.emit(Event{Type: EventRemove, Path: path, Info: info})
	}
}

func (w *GlobWatcher) changeFile(path string, info FileInfo) {
	w.mu.Lock()
	if _, ok := w.files[path]; !ok || w.st == stateDisposed {
		w.mu.Unlock()
		return
	}
	w.files[path] = info
	alive := w.st == stateAlive
	w.mu.Unlock()

	if alive {
		w.emit(Event{Type: EventChange, Path: path, Info: info})
	}
}

// removeDirectory tears down the watchers for a vanished directory and
// everything beneath it, and emits removes for the admitted files there.
// The sweep works off this watcher's own maps rather than the child's
// snapshot: the child prunes its children as soon as it reconciles a
// removal, before its debounced events ever flush.
func (w *GlobWatcher) removeDirectory(dir string) {
	prefix := dir + string(os.PathSeparator)

	w.mu.Lock()
	var toClose []DirWatcher
	for path, child := range w.watchers {
		if path != dir && !strings.HasPrefix(path, prefix) {
			continue
		}
		// A nil entry is still opening; the in-flight addDirectory observes
		// the missing entry and closes it.
		delete(w.watchers, path)
		if child != nil {
			toClose = append(toClose, child)
		}
	}
	var removed []Event
	for path, info := range w.files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		delete(w.files, path)
		removed = append(removed, Event{Type: EventRemove, Path: path, Info: info})
	}
	alive := w.st == stateAlive
	w.mu.Unlock()

	for _, child := range toClose {
		_ = child.Close()
	}
	if !alive {
		return
	}
	for _, ev := range removed {
		w.emit(ev)
	}
}

func (w *GlobWatcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}
