// Package notify provides change notification for configuration updates.
//
// Listeners are invoked synchronously on the writer's goroutine, in
// registration order. A listener that panics is logged and skipped; the
// remaining listeners still receive the change.
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
)

// ChangeType represents the type of configuration change.
type ChangeType int

const (
	// ChangeSet indicates a value was set or updated.
	ChangeSet ChangeType = iota

	// ChangeDelete indicates a value was deleted.
	ChangeDelete

	// ChangeReload indicates the entire configuration was reloaded.
	ChangeReload
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeSet:
		return "set"
	case ChangeDelete:
		return "delete"
	case ChangeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Change represents a configuration change event.
type Change struct {
	// Key is the dot-separated key that changed. Empty for reload events.
	Key string

	// Scope is the scope the write was applied to.
	Scope layer.Scope

	// Type is the type of change.
	Type ChangeType

	// OldValue is the previous value in Scope (nil if absent).
	OldValue any

	// NewValue is the new value in Scope (nil for deletes).
	NewValue any

	// Source identifies where the change came from.
	Source string
}

// FromMutation converts a store mutation into a change event.
func FromMutation(m layer.Mutation, source string) Change {
	typ := ChangeSet
	if m.Deleted {
		typ = ChangeDelete
	}
	return Change{
		Key:      m.Key,
		Scope:    m.Scope,
		Type:     typ,
		OldValue: m.OldValue,
		NewValue: m.NewValue,
		Source:   source,
	}
}

// Listener is called when configuration changes occur.
type Listener func(change Change)

// KeyValue adapts a (key, old, new) callback into a Listener.
func KeyValue(fn func(key string, oldValue, newValue any)) Listener {
	return func(c Change) {
		fn(c.Key, c.OldValue, c.NewValue)
	}
}

// ListenerID identifies a registered listener.
type ListenerID uint64

type subscription struct {
	id       ListenerID
	prefix   string
	filtered bool
	fn       Listener
}

// matches reports whether the subscription wants the change.
// A prefix subscription receives its key, its descendants and reloads.
func (s subscription) matches(c Change) bool {
	if !s.filtered || c.Type == ChangeReload {
		return true
	}
	return c.Key == s.prefix || layer.IsParentKey(s.prefix, c.Key)
}

// Notifier manages change listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners []subscription
	nextID    ListenerID
	closed    bool
	logger    *zap.Logger

	delivered atomic.Uint64
	panics    atomic.Uint64
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger used to report listener failures.
func WithLogger(l *zap.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a new Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers a listener for all changes.
func (n *Notifier) Subscribe(fn Listener) ListenerID {
	return n.add(subscription{fn: fn})
}

// SubscribePath registers a listener for changes to key and its descendants.
// For example, subscribing to "ui" receives changes to "ui.theme".
func (n *Notifier) SubscribePath(key string, fn Listener) ListenerID {
	return n.add(subscription{prefix: key, filtered: true, fn: fn})
}

func (n *Notifier) add(sub subscription) ListenerID {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub.id = n.nextID
	n.listeners = append(n.listeners, sub)
	return sub.id
}

// Unsubscribe removes a listener. Returns false if id is unknown.
func (n *Notifier) Unsubscribe(id ListenerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, sub := range n.listeners {
		if sub.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Notify delivers change to every matching listener in registration order.
// Each listener is isolated: a panic is recovered and logged.
func (n *Notifier) Notify(change Change) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}
	subs := make([]subscription, 0, len(n.listeners))
	for _, sub := range n.listeners {
		if sub.matches(change) {
			subs = append(subs, sub)
		}
	}
	n.mu.RUnlock()

	for _, sub := range subs {
		n.deliver(sub, change)
	}
}

// NotifySet is a convenience method for set changes.
func (n *Notifier) NotifySet(key string, scope layer.Scope, oldValue, newValue any, source string) {
	n.Notify(Change{
		Key:      key,
		Scope:    scope,
		Type:     ChangeSet,
		OldValue: oldValue,
		NewValue: newValue,
		Source:   source,
	})
}

// NotifyDelete is a convenience method for delete changes.
func (n *Notifier) NotifyDelete(key string, scope layer.Scope, oldValue any, source string) {
	n.Notify(Change{
		Key:      key,
		Scope:    scope,
		Type:     ChangeDelete,
		OldValue: oldValue,
		Source:   source,
	})
}

// NotifyReload is a convenience method for reload events.
func (n *Notifier) NotifyReload(source string) {
	n.Notify(Change{Type: ChangeReload, Source: source})
}

// Stats reports delivery counters.
func (n *Notifier) Stats() (delivered, panics uint64) {
	return n.delivered.Load(), n.panics.Load()
}

// Close drops all listeners; later notifications are ignored.
// It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.listeners = nil
}

func (n *Notifier) deliver(sub subscription, change Change) {
	defer func() {
		if r := recover(); r != nil {
			n.panics.Add(1)
			n.logger.Error("change listener panicked",
				zap.Uint64("listener", uint64(sub.id)),
				zap.String("key", change.Key),
				zap.Stringer("scope", change.Scope),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	n.delivered.Add(1)
	sub.fn(change)
}

// Batch collects changes and delivers them together after a multi-key commit.
type Batch struct {
	notifier *Notifier
	changes  []Change
	mu       sync.Mutex
}

// NewBatch creates a new batch for collecting changes.
func (n *Notifier) NewBatch() *Batch {
	return &Batch{notifier: n}
}

// Add adds a change to the batch.
func (b *Batch) Add(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, change)
}

// AddMutations adds one change per store mutation.
func (b *Batch) AddMutations(muts []layer.Mutation, source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range muts {
		b.changes = append(b.changes, FromMutation(m, source))
	}
}

// Commit sends all batched changes to listeners, in the order added.
func (b *Batch) Commit() {
	b.mu.Lock()
	changes := b.changes
	b.changes = nil
	b.mu.Unlock()

	for _, change := range changes {
		b.notifier.Notify(change)
	}
}

// Discard clears the batch without sending notifications.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = nil
}

// Len returns the number of pending changes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}
