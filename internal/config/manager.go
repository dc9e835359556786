package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/persist"
	"github.com/dshills/strata/internal/config/plugin"
	"github.com/dshills/strata/internal/config/profile"
	"github.com/dshills/strata/internal/config/schema"
	"github.com/dshills/strata/internal/config/watcher"
)

// Manager is the configuration engine's façade. It owns the store, the
// resolver, the validator, the notifier, the profile manager, the plugin
// registry and the persistence layer for its whole lifetime.
//
// Manager is safe for concurrent use. Writers are serialized: a write holds
// the writer lock through commit and notification dispatch, so listeners
// observe changes to a key in commit order. Listeners run on the writing
// goroutine and may read configuration but must not write it synchronously.
type Manager struct {
	// writeMu serializes every mutation together with its notifications.
	writeMu sync.Mutex
	// saveMu serializes saves so files are written in snapshot order.
	saveMu sync.Mutex

	store     *layer.Store
	resolver  *layer.Resolver
	validator *schema.Validator
	notifier  *notify.Notifier
	profiles  *profile.Manager
	plugins   *plugin.Registry
	persist   *persist.Layer
	migrator  *Migrator
	logger    *zap.Logger

	path            string
	backupDir       string
	ioTimeout       time.Duration
	validateOnWrite bool
	now             func() time.Time

	mu        sync.RWMutex
	version   Version
	closed    bool
	lastSaved map[layer.Scope]map[string]any
	watcher   *watcher.Watcher

	seedMu sync.Mutex
	// seeded records the flattened GLOBAL values each provider plugin seeded.
	seeded map[string]map[string]any
}

// New creates a manager. Nothing is read from disk until Load is called.
func New(opts ...Option) *Manager {
	m := &Manager{
		migrator:  NewMigrator(),
		logger:    zap.NewNop(),
		ioTimeout: DefaultIOTimeout,
		now:       time.Now,
		version:   CurrentVersion,
		seeded:    make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.store = layer.NewStore(layer.WithClock(m.now))
	m.resolver = layer.NewResolver(m.store)
	m.validator = schema.NewValidator(schema.WithLogger(m.logger.Named("schema")))
	m.notifier = notify.New(notify.WithLogger(m.logger.Named("notify")))
	m.profiles = profile.NewManager(profile.WithClock(m.now))
	m.persist = persist.New(
		persist.WithBackupDir(m.backupDir),
		persist.WithTimeout(m.ioTimeout),
		persist.WithLogger(m.logger.Named("persist")),
		persist.WithClock(m.now),
	)
	m.plugins = plugin.NewRegistry(hooks{m},
		plugin.WithHost(host{m}),
		plugin.WithLogger(m.logger.Named("plugin")),
	)
	return m
}

// Path returns the persisted configuration file, if any.
func (m *Manager) Path() string {
	return m.path
}

// Version returns the configuration format version.
func (m *Manager) Version() Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Get returns the effective value for key.
func (m *Manager) Get(key string) (any, bool) {
	v, _, ok := m.resolver.Resolve(key)
	return v, ok
}

// GetOr returns the effective value for key, or def when it is not set.
func (m *Manager) GetOr(key string, def any) any {
	if v, ok := m.Get(key); ok {
		return v
	}
	return def
}

// GetIn returns the value for key held in scope only.
func (m *Manager) GetIn(scope layer.Scope, key string) (any, bool) {
	return m.store.Get(scope, key)
}

// Entry returns the value and metadata for key in scope.
func (m *Manager) Entry(key string, scope layer.Scope) (layer.Entry, bool) {
	return m.store.Entry(scope, key)
}

// Resolve returns the effective value for key and the scope supplying it.
func (m *Manager) Resolve(key string) (any, layer.Scope, bool) {
	return m.resolver.Resolve(key)
}

// ResolveAllScopes returns the value for key in every scope that has one.
func (m *Manager) ResolveAllScopes(key string) map[layer.Scope]any {
	return m.resolver.ResolveAllScopes(key)
}

// Merged returns the effective configuration as a nested map.
func (m *Manager) Merged() map[string]any {
	return m.resolver.MergeEffective()
}

// Set writes value at key. The value is normalized, passed through every
// active transformer plugin, stored and then announced to listeners. Unless
// WithoutPersist is given, a write to GLOBAL or USER is saved when the
// manager has a path.
//
// A map value may only hold valid keys. Setting a value equal to the
// current one still notifies. If the write is committed but the save that
// follows fails, the error matches ErrNotPersisted and the new value stays
// in effect.
func (m *Manager) Set(key string, value any, opts ...SetOption) error {
	o := defaultSetOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if m.isClosed() {
		return ErrClosed
	}
	if err := layer.ValidateKey(key); err != nil {
		return err
	}
	if !o.scope.Valid() {
		return fmt.Errorf("%w: %d", layer.ErrUnknownScope, o.scope)
	}
	v, err := layer.Normalize(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	m.writeMu.Lock()
	if m.plugins.HasTransformers() {
		v, err = layer.Normalize(m.plugins.Transform(key, o.scope, v))
		if err != nil {
			m.writeMu.Unlock()
			return fmt.Errorf("set %s: transformed value: %w", key, err)
		}
	}
	if err := layer.ValidateEntry(key, v); err != nil {
		m.writeMu.Unlock()
		return fmt.Errorf("set %s: %w", key, err)
	}
	if m.validateOnWrite {
		if failed := m.validator.CheckValue(key, v); len(failed) > 0 {
			m.writeMu.Unlock()
			return fmt.Errorf("%w: %w", ErrValidationFailed, &schema.ValidationErrors{Errors: failed})
		}
	}
	mut, err := m.store.Set(o.scope, key, v, o.source)
	if err != nil {
		m.writeMu.Unlock()
		return fmt.Errorf("set %s: %w", key, err)
	}
	m.notifier.Notify(notify.FromMutation(mut, o.source))
	m.writeMu.Unlock()

	if o.persist && o.scope.Persisted() {
		return m.autosave()
	}
	return nil
}

// SetIn writes value at key in scope without persisting.
func (m *Manager) SetIn(scope layer.Scope, key string, value any) error {
	return m.Set(key, value, InScope(scope), WithoutPersist())
}

// Delete removes key from scope. Lower scopes become visible again. A
// failed save after the delete is reported as ErrNotPersisted.
func (m *Manager) Delete(key string, scope layer.Scope) error {
	if m.isClosed() {
		return ErrClosed
	}

	m.writeMu.Lock()
	mut, existed, err := m.store.Delete(scope, key)
	if err != nil {
		m.writeMu.Unlock()
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if !existed {
		m.writeMu.Unlock()
		return fmt.Errorf("delete %s in %s: %w", key, scope, ErrSettingNotFound)
	}
	m.notifier.Notify(notify.FromMutation(mut, "api"))
	m.writeMu.Unlock()

	if scope.Persisted() {
		return m.autosave()
	}
	return nil
}

// AddChangeListener registers fn for every change.
func (m *Manager) AddChangeListener(fn notify.Listener) notify.ListenerID {
	return m.notifier.Subscribe(fn)
}

// SubscribePath registers fn for changes to key and keys below it.
func (m *Manager) SubscribePath(key string, fn notify.Listener) notify.ListenerID {
	return m.notifier.SubscribePath(key, fn)
}

// RemoveChangeListener removes a listener. It reports whether id was
// registered.
func (m *Manager) RemoveChangeListener(id notify.ListenerID) bool {
	return m.notifier.Unsubscribe(id)
}

// RegisterSchema adds or replaces a named rule set.
func (m *Manager) RegisterSchema(name string, rules []schema.Rule) error {
	return m.validator.RegisterSchema(name, rules)
}

// ValidateAll checks the effective configuration against every rule.
func (m *Manager) ValidateAll() schema.Report {
	return m.validator.ValidateAll(m.resolver.MergeEffective())
}

// ValidateValue checks a candidate value for key without storing it.
func (m *Manager) ValidateValue(key string, value any) []string {
	v, err := layer.Normalize(value)
	if err != nil {
		return []string{err.Error()}
	}
	return m.validator.ValidateValue(key, v)
}

// RegisterPlugin registers p and applies its kind-specific effect.
// A missing dependency is returned as a *plugin.DependencyError. A plugin
// whose own hook fails is kept in a failed state and nil is returned.
func (m *Manager) RegisterPlugin(p plugin.Plugin) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.plugins.Register(p)
}

// UnregisterPlugin removes a plugin and reverses its effect.
func (m *Manager) UnregisterPlugin(name string) error {
	return m.plugins.Unregister(name)
}

// ListPlugins returns the metadata of every registered plugin.
func (m *Manager) ListPlugins() []plugin.Metadata {
	return m.plugins.List()
}

// GetPlugin returns a registered plugin.
func (m *Manager) GetPlugin(name string) (plugin.Plugin, bool) {
	return m.plugins.Get(name)
}

// PluginStatuses returns the lifecycle state of every plugin.
func (m *Manager) PluginStatuses() []plugin.Status {
	return m.plugins.Statuses()
}

// Close saves the configuration when a path is set, shuts plugins down in
// reverse registration order and stops the watcher. Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher: %w", err))
		}
	}
	if m.path != "" {
		if _, err := m.save(ctx, m.path, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.plugins.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	m.notifier.Close()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Debug("configuration manager closed")
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// dispatch announces committed mutations in order.
func (m *Manager) dispatch(muts []layer.Mutation, source string) {
	if len(muts) == 0 {
		return
	}
	b := m.notifier.NewBatch()
	b.AddMutations(muts, source)
	b.Commit()
}

// autosave saves to the manager's path, if one is set.
func (m *Manager) autosave() error {
	if m.path == "" {
		return nil
	}
	if _, err := m.save(context.Background(), m.path, true); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}
