package fswatcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mysticatea/fs-watcher/internal"
)

// NativeWatcher watches one directory's immediate children using the
// operating system's change notifications. Coarse notifications are
// reconciled against the recorded child metadata and the resulting events
// are merged in a debounced pending queue before emission.
type NativeWatcher struct {
	path   string
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	st         state
	fsw        *fsnotify.Watcher
	children   map[string]FileInfo
	pending    map[string]pendingEvent
	flushTimer *time.Timer
	flushArmed bool
	started    bool

	events  chan Event
	errors  chan error
	flushCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

var _ DirWatcher = (*NativeWatcher)(nil)

// NewNativeWatcher returns an unopened native watcher for path.
func NewNativeWatcher(path string, opt Options) *NativeWatcher {
	opt.setDefaults()
	w := &NativeWatcher{
		path:     path,
		opts:     opt,
		children: make(map[string]FileInfo),
		pending:  make(map[string]pendingEvent),
		events:   make(chan Event, 16),
		errors:   make(chan error, 1),
		flushCh:  make(chan struct{}, 1),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.logger = opt.Logger.With("path", path)
	return w
}

// Path returns the absolute path of the watched directory.
func (w *NativeWatcher) Path() string { return w.path }

// Events returns the channel of change notifications. It is closed after
// Close completes.
func (w *NativeWatcher) Events() <-chan Event { return w.events }

// Errors returns the channel of runtime observation errors.
func (w *NativeWatcher) Errors() <-chan error { return w.errors }

// Children returns a copy of the recorded child metadata.
func (w *NativeWatcher) Children() map[string]FileInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]FileInfo, len(w.children))
	for k, v := range w.children {
		out[k] = v
	}
	return out
}

// Open begins observation and performs the initial silent scan. It returns
// an error wrapping ENOENT or ENOTDIR when the target is missing or not a
// directory; in that case the watcher is already torn down.
func (w *NativeWatcher) Open(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	w.path = abs

	if _, err := checkDir(abs); err != nil {
		_ = w.Close()
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		_ = w.Close()
		return err
	}

	w.mu.Lock()
	if w.st == stateDisposed {
		w.mu.Unlock()
		_ = fsw.Close()
		return ErrWatcherClosed
	}
	w.fsw = fsw
	w.mu.Unlock()

	// Register the watch before the scan so nothing created in between is
	// missed; notifications for entries the scan already recorded reconcile
	// to no-ops or a single change.
	if err := fsw.Add(abs); err != nil {
		_ = w.Close()
		return err
	}

	children, err := scanDir(abs, w.logger)
	if err != nil {
		_ = w.Close()
		return err
	}

	w.mu.Lock()
	if w.st == stateDisposed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	if err := ctx.Err(); err != nil {
		w.mu.Unlock()
		_ = w.Close()
		return err
	}
	w.children = children
	w.st = stateAlive
	w.started = true
	w.wg.Add(1)
	w.mu.Unlock()

	internal.DirWatchersGauge.WithLabelValues("native").Inc()
	go w.run()
	return nil
}

// Close stops observation, discards pending events, and closes the event
// channels. It is idempotent and safe to call at any lifecycle stage.
func (w *NativeWatcher) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.st = stateDisposed
		if w.flushTimer != nil {
			w.flushTimer.Stop()
		}
		w.pending = make(map[string]pendingEvent)
		w.children = make(map[string]FileInfo)
		fsw, started := w.fsw, w.started
		w.mu.Unlock()

		w.cancel()
		if fsw != nil {
			_ = fsw.Close()
		}
		if started {
			w.wg.Wait()
			internal.DirWatchersGauge.WithLabelValues("native").Dec()
		} else {
			close(w.events)
			close(w.errors)
		}
	})
	return nil
}

func (w *NativeWatcher) run() {
	defer w.wg.Done()
	defer close(w.errors)
	defer close(w.events)

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleNotify(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.ctx.Done():
				return
			}
		case <-w.flushCh:
			w.flush()
		}
	}
}

// handleNotify reconciles one OS notification. The filename hint is treated
// as advisory: the child is re-stated and compared against the recorded
// metadata, and only that comparison decides the event.
func (w *NativeWatcher) handleNotify(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)
	if name == w.path || filepath.Dir(name) != w.path {
		// Notifications about the directory itself or about deeper paths
		// carry no per-child information.
		return
	}

	curr, err := statFile(name)
	currOK := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Debug("stat notified child", "child", name, "error", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.st != stateAlive {
		return
	}

	prev, prevOK := w.children[name]
	if currOK {
		w.children[name] = curr
	} else if prevOK {
		delete(w.children, name)
	}

	typ, ok := reconcile(prev, prevOK, curr, currOK)
	if !ok {
		return
	}
	info := curr
	if typ == EventRemove {
		info = prev
	}
	w.enqueueLocked(name, typ, info)
}

// enqueueLocked merges an event into the pending queue and arms the flush
// timer. Callers must hold mu.
func (w *NativeWatcher) enqueueLocked(path string, typ EventType, info FileInfo) {
	var slot *pendingEvent
	if pe, ok := w.pending[path]; ok {
		slot = &pe
	}
	pe, keep := mergePending(slot, typ, info)
	if keep {
		w.pending[path] = pe
	} else {
		delete(w.pending, path)
	}
	internal.PendingEventsGauge.Set(float64(len(w.pending)))

	if !w.flushArmed {
		w.flushArmed = true
		w.flushTimer = time.AfterFunc(w.opts.DebounceInterval, func() {
			select {
			case w.flushCh <- struct{}{}:
			default:
			}
		})
	}
}

// flush emits the pending queue as a batch. The queue is cleared before
// emission; a concurrent close discards it instead.
func (w *NativeWatcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]pendingEvent)
	w.flushArmed = false
	alive := w.st == stateAlive
	w.mu.Unlock()
	internal.PendingEventsGauge.Set(0)

	if !alive {
		return
	}
	for path, pe := range batch {
		select {
		case w.events <- Event{Type: pe.typ, Path: path, Info: pe.info}:
			internal.EventsCounter.WithLabelValues(pe.typ.String()).Inc()
		case <-w.ctx.Done():
			return
		}
	}
}

// scanDir lists a directory and stats every child. Children that vanish
// between the listing and the stat are skipped; other stat failures are
// logged and the child treated as absent.
func scanDir(dir string, logger *slog.Logger) (map[string]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	children := make(map[string]FileInfo, len(entries))
	for _, entry := range entries {
		child := filepath.Join(dir, entry.Name())
		info, err := statFile(child)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Debug("stat child", "child", child, "error", err)
			}
			continue
		}
		children[child] = info
	}
	return children, nil
}
