package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestWatcher(t *testing.T, opts ...Option) *Watcher {
	t.Helper()
	w, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 64)}
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recorder) wait(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNew(t *testing.T) {
	w := newTestWatcher(t)
	if w.debounce != 100*time.Millisecond {
		t.Errorf("default debounce = %v, want 100ms", w.debounce)
	}

	w2 := newTestWatcher(t, WithDebounce(0))
	if w2.debounce != 0 {
		t.Errorf("debounce = %v, want 0", w2.debounce)
	}
}

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpWrite, "write"},
		{OpCreate, "create"},
		{OpRemove, "remove"},
		{OpRename, "rename"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestWatcher_WatchUnwatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.toml")
	b := filepath.Join(dir, "b.toml")

	w := newTestWatcher(t)
	if err := w.Watch(a); err != nil {
		t.Fatalf("Watch(a) error = %v", err)
	}
	if err := w.Watch(b); err != nil {
		t.Fatalf("Watch(b) error = %v", err)
	}
	if err := w.Watch(a); err != nil {
		t.Fatalf("second Watch(a) error = %v", err)
	}

	if got := w.WatchedFiles(); len(got) != 2 {
		t.Fatalf("WatchedFiles() = %v, want 2 entries", got)
	}
	if w.dirs[dir] != 2 {
		t.Errorf("dir refcount = %d, want 2", w.dirs[dir])
	}

	if err := w.Unwatch(a); err != nil {
		t.Fatalf("Unwatch(a) error = %v", err)
	}
	if w.IsWatching(a) {
		t.Error("a still watched after Unwatch")
	}
	if !w.IsWatching(b) {
		t.Error("b should still be watched")
	}
	if err := w.Unwatch(a); !errors.Is(err, ErrNotWatching) {
		t.Errorf("Unwatch(a) again error = %v, want ErrNotWatching", err)
	}
}

func TestWatcher_WatchMissingDir(t *testing.T) {
	w := newTestWatcher(t)
	err := w.Watch(filepath.Join(t.TempDir(), "nope", "config.json"))
	if err == nil {
		t.Fatal("Watch() in missing directory should fail")
	}
}

func TestWatcher_DetectsFileModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	w := newTestWatcher(t, WithDebounce(0))
	w.OnChange(rec.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	e := rec.wait(t)
	abs, _ := filepath.Abs(path)
	if e.Path != abs {
		t.Errorf("event path = %q, want %q", e.Path, abs)
	}
	if e.Op != OpWrite && e.Op != OpCreate {
		t.Errorf("event op = %v, want write", e.Op)
	}
}

func TestWatcher_DetectsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	w := newTestWatcher(t, WithDebounce(50*time.Millisecond))
	w.OnChange(rec.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(dir, ".config.json.tmp")
	if err := os.WriteFile(tmp, []byte(`{"a":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	e := rec.wait(t)
	if e.Op == OpRemove {
		t.Errorf("atomic replace reported as %v", e.Op)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	rec := newRecorder()
	w := newTestWatcher(t, WithDebounce(0))
	w.OnChange(rec.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	e := rec.wait(t)
	if filepath.Base(e.Path) != "config.json" {
		t.Errorf("event for %q, want config.json", e.Path)
	}
}

func TestWatcher_DetectsFileDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	w := newTestWatcher(t, WithDebounce(20*time.Millisecond))
	w.OnChange(rec.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if e := rec.wait(t); e.Op != OpRemove {
		t.Errorf("event op = %v, want remove", e.Op)
	}
}

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	w := newTestWatcher(t, WithDebounce(200*time.Millisecond))
	w.OnChange(rec.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{"n":1}`), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec.wait(t)
	time.Sleep(300 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		prev, next, want Operation
	}{
		{OpCreate, OpWrite, OpCreate},
		{OpWrite, OpWrite, OpWrite},
		{OpWrite, OpRemove, OpRemove},
		{OpRemove, OpCreate, OpWrite},
		{OpRename, OpCreate, OpWrite},
		{OpCreate, OpRename, OpRename},
	}
	for _, tt := range tests {
		if got := coalesce(tt.prev, tt.next); got != tt.want {
			t.Errorf("coalesce(%v, %v) = %v, want %v", tt.prev, tt.next, got, tt.want)
		}
	}
}

func TestWatcher_HandlerPanicIsRecovered(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	rec := newRecorder()
	w := newTestWatcher(t, WithDebounce(0), WithLogger(zap.New(core)))
	w.OnChange(func(Event) { panic("boom") })
	w.OnChange(rec.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	rec.wait(t)

	if logs.FilterMessage("watch handler panicked").Len() == 0 {
		t.Error("expected panic to be logged")
	}
}

func TestWatcher_Close(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := w.Watch(filepath.Join(t.TempDir(), "x.json")); !errors.Is(err, ErrWatcherClosed) {
		t.Errorf("Watch after Close error = %v, want ErrWatcherClosed", err)
	}
}
