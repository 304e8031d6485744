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

	"github.com/mysticatea/fs-watcher/internal"
)

// PollWatcher watches one directory's immediate children by sampling file
// metadata on a fixed interval. A poller on the directory itself triggers a
// full reconciliation of the child set when the directory mtime advances;
// each child carries its own poller for change detection.
//
// Unlike the native engine, a change that happens strictly between one
// sample and the file's removal within the same interval is not observable:
// the remove event then carries the last sampled metadata rather than the
// final one.
type PollWatcher struct {
	path   string
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	st        state
	children  map[string]FileInfo
	pollers   map[string]*poller
	rootMtime time.Time
	started   bool

	samples chan pollSample
	events  chan Event
	errors  chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

var _ DirWatcher = (*PollWatcher)(nil)

// NewPollWatcher returns an unopened polling watcher for path.
func NewPollWatcher(path string, opt Options) *PollWatcher {
	opt.setDefaults()
	w := &PollWatcher{
		path:     path,
		opts:     opt,
		children: make(map[string]FileInfo),
		pollers:  make(map[string]*poller),
		samples:  make(chan pollSample, 16),
		events:   make(chan Event, 16),
		errors:   make(chan error, 1),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.logger = opt.Logger.With("path", path)
	return w
}

// Path returns the absolute path of the watched directory.
func (w *PollWatcher) Path() string { return w.path }

// Events returns the channel of change notifications. It is closed after
// Close completes.
func (w *PollWatcher) Events() <-chan Event { return w.events }

// Errors returns the channel of runtime observation errors.
func (w *PollWatcher) Errors() <-chan error { return w.errors }

// Children returns a copy of the recorded child metadata.
func (w *PollWatcher) Children() map[string]FileInfo {
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
func (w *PollWatcher) Open(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	w.path = abs
	w.logger = w.opts.Logger.With("path", abs)

	rootInfo, err := checkDir(abs)
	if err != nil {
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
	w.rootMtime = rootInfo.ModTime
	for path, info := range children {
		w.installPollerLocked(path, info)
	}
	w.installPollerLocked(abs, rootInfo)
	w.st = stateAlive
	w.started = true
	w.wg.Add(1)
	w.mu.Unlock()

	internal.DirWatchersGauge.WithLabelValues("poll").Inc()
	go w.run()
	return nil
}

// Close stops all pollers and closes the event channels. It is idempotent.
func (w *PollWatcher) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.st = stateDisposed
		for _, p := range w.pollers {
			p.stopOnce.Do(func() { close(p.stop) })
		}
		w.pollers = make(map[string]*poller)
		w.children = make(map[string]FileInfo)
		started := w.started
		w.mu.Unlock()

		w.cancel()
		if started {
			w.wg.Wait()
			internal.DirWatchersGauge.WithLabelValues("poll").Dec()
		} else {
			close(w.events)
			close(w.errors)
		}
	})
	return nil
}

// run is the single consumer of poll samples; routing every reconciliation
// through it keeps scans strictly sequential.
func (w *PollWatcher) run() {
	defer w.wg.Done()
	defer close(w.errors)
	defer close(w.events)

	for {
		select {
		case <-w.ctx.Done():
			return
		case s := <-w.samples:
			if s.path == w.path {
				w.reconcileRoot(s)
			} else {
				w.handleChild(s)
			}
		}
	}
}

// reconcileRoot re-reads the child names and diffs them against the
// recorded set. A sample whose mtime does not advance past the previous
// observation is a no-op.
func (w *PollWatcher) reconcileRoot(s pollSample) {
	if !s.curr.IsAbsent() {
		if !s.curr.ModTime.After(w.rootMtime) {
			return
		}
		w.rootMtime = s.curr.ModTime
	}
	internal.PollScansCounter.Inc()

	entries, err := os.ReadDir(w.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		select {
		case w.errors <- err:
		case <-w.ctx.Done():
		}
		return
	}

	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		child := filepath.Join(w.path, entry.Name())
		present[child] = struct{}{}

		w.mu.Lock()
		_, known := w.children[child]
		w.mu.Unlock()
		if known {
			continue
		}

		info, err := statFile(child)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				w.logger.Debug("stat child", "child", child, "error", err)
			}
			continue
		}

		w.mu.Lock()
		if w.st != stateAlive {
			w.mu.Unlock()
			return
		}
		w.children[child] = info
		w.installPollerLocked(child, info)
		w.mu.Unlock()

		w.emit(Event{Type: EventAdd, Path: child, Info: info})
	}

	w.mu.Lock()
	var removed []Event
	for child, prev := range w.children {
		if _, ok := present[child]; ok {
			continue
		}
		if p, ok := w.pollers[child]; ok {
			p.stopOnce.Do(func() { close(p.stop) })
			delete(w.pollers, child)
		}
		delete(w.children, child)
		removed = append(removed, Event{Type: EventRemove, Path: child, Info: prev})
	}
	w.mu.Unlock()

	for _, ev := range removed {
		w.emit(ev)
	}
}

// handleChild processes a sample from a per-child poller. Disappearance is
// left to the root reconciliation; directories emit no change.
func (w *PollWatcher) handleChild(s pollSample) {
	if s.curr.IsAbsent() {
		return
	}

	w.mu.Lock()
	if _, known := w.children[s.path]; !known || w.st != stateAlive {
		w.mu.Unlock()
		return
	}
	w.children[s.path] = s.curr
	isDir := s.curr.Kind == KindDirectory
	w.mu.Unlock()

	if isDir {
		return
	}
	w.emit(Event{Type: EventChange, Path: s.path, Info: s.curr})
}

func (w *PollWatcher) emit(ev Event) {
	select {
	case w.events <- ev:
		internal.EventsCounter.WithLabelValues(ev.Type.String()).Inc()
	case <-w.ctx.Done():
	}
}

// installPollerLocked starts a per-path poller. Callers must hold mu.
func (w *PollWatcher) installPollerLocked(path string, prev FileInfo) {
	p := &poller{
		path:     path,
		interval: w.opts.PollingInterval,
		prev:     prev,
		out:      w.samples,
		stop:     make(chan struct{}),
		logger:   w.logger,
	}
	w.pollers[path] = p
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		p.run(w.ctx)
	}()
}

// pollSample is one observation from a per-path poller: the previous and
// current metadata of the path. An absent file is the zero FileInfo.
type pollSample struct {
	path string
	prev FileInfo
	curr FileInfo
}

// poller re-stats a single path on a fixed interval and reports samples
// whenever the metadata differs from the previous observation.
type poller struct {
	path     string
	interval time.Duration
	prev     FileInfo
	out      chan<- pollSample
	stop     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		curr, err := statFile(p.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				p.logger.Debug("poll stat", "target", p.path, "error", err)
			}
			curr = FileInfo{}
		}
		if sameInfo(p.prev, curr) {
			continue
		}
		s := pollSample{path: p.path, prev: p.prev, curr: curr}
		p.prev = curr

		select {
		case p.out <- s:
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func sameInfo(a, b FileInfo) bool {
	if a.IsAbsent() != b.IsAbsent() {
		return false
	}
	return a.Size == b.Size && a.ModTime.Equal(b.ModTime) && a.Kind == b.Kind
}
