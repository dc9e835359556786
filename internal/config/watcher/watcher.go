// Package watcher provides file watching for configuration live reload.
//
// The watcher subscribes to the parent directory of each watched file so
// that atomic temp-file-and-rename saves are observed, filters events down
// to the watched files, and coalesces bursts before calling handlers.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher errors.
var (
	ErrWatcherClosed = errors.New("watcher closed")
	ErrNotWatching   = errors.New("path not watched")
)

// Event represents a file change event.
type Event struct {
	// Path is the absolute path to the changed file.
	Path string

	// Op is the operation that triggered the event.
	Op Operation

	// Time is when the event occurred.
	Time time.Time
}

// Operation represents the type of file operation.
type Operation int

const (
	// OpWrite indicates the file was modified.
	OpWrite Operation = iota

	// OpCreate indicates a new file was created.
	OpCreate

	// OpRemove indicates the file was deleted.
	OpRemove

	// OpRename indicates the file was renamed.
	OpRename
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Handler is called when a file change is detected.
type Handler func(event Event)

// Watcher monitors files for changes.
type Watcher struct {
	mu sync.RWMutex

	fs *fsnotify.Watcher

	// files maps watched absolute paths to their parent directory.
	files map[string]string

	// dirs counts watched files per directory.
	dirs map[string]int

	handlers []Handler
	debounce time.Duration
	logger   *zap.Logger

	pendingMu sync.Mutex
	pending   map[string]*pendingEvent

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the window in which events for one file are coalesced.
// Zero delivers every event immediately.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:       fsw,
		files:    make(map[string]string),
		dirs:     make(map[string]int),
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
		pending:  make(map[string]*pendingEvent),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// Watch adds a file to the watch list. The file does not need to exist yet
// but its directory does.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.files[abs]; ok {
		return nil
	}

	if w.dirs[dir] == 0 {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("watch %s: %w", abs, err)
		}
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", abs, err)
		}
	}
	w.dirs[dir]++
	w.files[abs] = dir

	w.logger.Debug("watching file", zap.String("path", abs))
	return nil
}

// Unwatch removes a file from the watch list.
func (w *Watcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	dir, ok := w.files[abs]
	if !ok {
		return fmt.Errorf("%s: %w", abs, ErrNotWatching)
	}
	delete(w.files, abs)

	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fs.Remove(dir); err != nil {
			w.logger.Debug("remove directory watch", zap.String("dir", dir), zap.Error(err))
		}
	}

	w.pendingMu.Lock()
	if p, ok := w.pending[abs]; ok {
		p.timer.Stop()
		delete(w.pending, abs)
	}
	w.pendingMu.Unlock()

	return nil
}

// OnChange registers a handler for file changes.
func (w *Watcher) OnChange(handler Handler) {
	if handler == nil {
		return
	}
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

// IsWatching reports whether path is on the watch list.
func (w *Watcher) IsWatching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.files[abs]
	return ok
}

// WatchedFiles returns the watched paths in sorted order.
func (w *Watcher) WatchedFiles() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	files := make([]string, 0, len(w.files))
	for f := range w.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Close stops the watcher. Pending debounced events are dropped.
// Close is idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()

	w.pendingMu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()

	return w.fs.Close()
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	w.mu.RLock()
	_, watched := w.files[abs]
	w.mu.RUnlock()
	if !watched {
		return
	}

	op, ok := convertOp(ev.Op)
	if !ok {
		return
	}

	event := Event{Path: abs, Op: op, Time: time.Now()}
	if w.debounce > 0 {
		w.queueEvent(event)
		return
	}
	w.emitEvent(event)
}

// convertOp maps an fsnotify operation onto an Operation. Chmod-only events
// are ignored.
func convertOp(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Remove):
		return OpRemove, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpWrite, true
	default:
		return 0, false
	}
}

// queueEvent queues an event for debounced delivery.
// Coalescing rules:
//   - create then write stays create
//   - a later remove or rename replaces anything pending
//   - remove followed by create becomes write (an atomic replace)
func (w *Watcher) queueEvent(event Event) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if p, ok := w.pending[event.Path]; ok {
		p.event.Op = coalesce(p.event.Op, event.Op)
		p.event.Time = event.Time
		p.timer.Reset(w.debounce)
		return
	}

	path := event.Path
	p := &pendingEvent{event: event}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		cur, ok := w.pending[path]
		if ok && cur == p {
			delete(w.pending, path)
		}
		w.pendingMu.Unlock()
		if ok && cur == p {
			w.emitEvent(p.event)
		}
	})
	w.pending[path] = p
}

func coalesce(prev, next Operation) Operation {
	switch {
	case next == OpRemove || next == OpRename:
		return next
	case (prev == OpRemove || prev == OpRename) && next == OpCreate:
		return OpWrite
	case prev == OpCreate && next == OpWrite:
		return OpCreate
	default:
		return next
	}
}

func (w *Watcher) emitEvent(event Event) {
	select {
	case <-w.closeCh:
		return
	default:
	}

	w.mu.RLock()
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	w.logger.Debug("file changed",
		zap.String("path", event.Path),
		zap.Stringer("op", event.Op))

	for _, h := range handlers {
		w.safeCall(h, event)
	}
}

func (w *Watcher) safeCall(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watch handler panicked",
				zap.String("path", event.Path),
				zap.Any("panic", r))
		}
	}()
	h(event)
}
