package plugin

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/schema"
)

type entry struct {
	plugin   Plugin
	meta     Metadata
	state    State
	err      error
	listener notify.ListenerID
}

// Registry holds registered plugins and dispatches to them.
//
// Hooks are invoked without holding the registry lock, so hook
// implementations may call back into the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // registration order

	hooks  Hooks
	host   Host
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for plugin failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHost sets the host passed to Initializer plugins.
func WithHost(h Host) Option {
	return func(r *Registry) {
		r.host = h
	}
}

// NewRegistry creates a registry that applies plugin effects through hooks.
func NewRegistry(hooks Hooks, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		hooks:   hooks,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a plugin and applies its kind-specific hook.
//
// Every dependency must be registered and active, otherwise a
// *DependencyError is returned and the plugin is not added. A plugin whose
// Init or hook fails stays registered in StateFailed and is excluded from
// dispatch; that failure is logged, not returned.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidPlugin)
	}
	meta := p.Metadata()
	if err := meta.Validate(); err != nil {
		return err
	}
	if err := checkKind(p, meta.Kind); err != nil {
		return err
	}
	meta.Dependencies = append([]string(nil), meta.Dependencies...)

	r.mu.Lock()
	if _, exists := r.entries[meta.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", meta.Name, ErrAlreadyRegistered)
	}
	var missing []string
	for _, dep := range meta.Dependencies {
		if e, ok := r.entries[dep]; !ok || e.state != StateActive {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		r.mu.Unlock()
		return &DependencyError{Plugin: meta.Name, Missing: missing}
	}
	e := &entry{plugin: p, meta: meta, state: StateLoading}
	r.entries[meta.Name] = e
	r.order = append(r.order, meta.Name)
	r.mu.Unlock()

	err := r.activate(e)

	r.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.err = err
	} else {
		e.state = StateActive
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("plugin failed to load",
			zap.String("plugin", meta.Name),
			zap.String("kind", meta.Kind.String()),
			zap.Error(err),
		)
		r.revert(e)
		return nil
	}
	r.logger.Debug("plugin registered",
		zap.String("plugin", meta.Name),
		zap.String("kind", meta.Kind.String()),
	)
	return nil
}

func checkKind(p Plugin, kind Kind) error {
	var ok bool
	switch kind {
	case KindProvider:
		_, ok = p.(Provider)
	case KindValidator:
		_, ok = p.(Validator)
	case KindTransformer:
		_, ok = p.(Transformer)
	case KindListener:
		_, ok = p.(Listener)
	}
	if !ok {
		return fmt.Errorf("%w: %s does not implement %s", ErrInvalidPlugin, p.Metadata().Name, kind)
	}
	return nil
}

// activate runs Init and the kind hook.
func (r *Registry) activate(e *entry) error {
	if in, ok := e.plugin.(Initializer); ok {
		if err := guard(func() error { return in.Init(r.host) }); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	if r.hooks == nil {
		return nil
	}

	switch e.meta.Kind {
	case KindProvider:
		p := e.plugin.(Provider)
		var defaults map[string]any
		err := guard(func() (err error) {
			defaults, err = p.Defaults()
			return err
		})
		if err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
		return r.hooks.SeedDefaults(e.meta.Name, defaults)

	case KindValidator:
		p := e.plugin.(Validator)
		var rules []schema.Rule
		err := guard(func() (err error) {
			rules, err = p.Rules()
			return err
		})
		if err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		return r.hooks.AddRules(e.meta.Name, rules)

	case KindListener:
		id := r.hooks.AddListener(e.meta.Name, r.listenerFor(e, e.plugin.(Listener)))
		r.mu.Lock()
		e.listener = id
		r.mu.Unlock()
	}
	return nil
}

// revert undoes the kind hook of e.
func (r *Registry) revert(e *entry) {
	if r.hooks == nil {
		return
	}
	switch e.meta.Kind {
	case KindProvider:
		r.hooks.RemoveDefaults(e.meta.Name)
	case KindValidator:
		r.hooks.RemoveRules(e.meta.Name)
	case KindListener:
		r.mu.RLock()
		id := e.listener
		r.mu.RUnlock()
		if id != 0 {
			r.hooks.RemoveListener(id)
		}
	}
}

// Unregister removes a plugin, reverting its hook and shutting it down.
// A plugin that another registered plugin depends on cannot be removed.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	var dependents []string
	for _, other := range r.order {
		if other == name {
			continue
		}
		for _, dep := range r.entries[other].meta.Dependencies {
			if dep == name {
				dependents = append(dependents, other)
				break
			}
		}
	}
	if len(dependents) > 0 {
		r.mu.Unlock()
		return &DependencyError{Plugin: name, Dependents: dependents}
	}
	r.remove(name)
	r.mu.Unlock()

	if err := r.teardown(e); err != nil {
		r.logger.Warn("plugin shutdown failed", zap.String("plugin", name), zap.Error(err))
	}
	return nil
}

// remove deletes name from the registry; must be called with mu held.
func (r *Registry) remove(name string) {
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) teardown(e *entry) error {
	r.revert(e)
	if s, ok := e.plugin.(Shutdowner); ok {
		return guard(s.Shutdown)
	}
	return nil
}

// Shutdown removes every plugin in reverse registration order.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	entries := make([]*entry, len(order))
	for i, name := range order {
		entries[i] = r.entries[name]
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := r.teardown(entries[i]); err != nil {
			errs = append(errs, fmt.Errorf("plugin %q: %w", entries[i].meta.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to shut down %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Transform passes value through every active transformer in registration
// order. A transformer that fails is marked failed and skipped; the value
// it received is passed on unchanged.
func (r *Registry) Transform(key string, scope layer.Scope, value any) any {
	for _, e := range r.active(KindTransformer) {
		t := e.plugin.(Transformer)
		in := value
		var out any
		err := guard(func() (err error) {
			out, err = t.Transform(key, scope, in)
			return err
		})
		if err != nil {
			r.fail(e, fmt.Errorf("transform %s: %w", key, err))
			continue
		}
		value = out
	}
	return value
}

// HasTransformers reports whether any transformer is active.
func (r *Registry) HasTransformers() bool {
	return len(r.active(KindTransformer)) > 0
}

func (r *Registry) listenerFor(e *entry, l Listener) notify.Listener {
	return func(c notify.Change) {
		r.mu.RLock()
		state := e.state
		r.mu.RUnlock()
		if state != StateActive {
			return
		}
		if err := guard(func() error { l.OnChange(c); return nil }); err != nil {
			r.fail(e, fmt.Errorf("on change %s: %w", c.Key, err))
		}
	}
}

// fail marks an active plugin failed.
func (r *Registry) fail(e *entry, err error) {
	r.mu.Lock()
	if e.state == StateFailed {
		r.mu.Unlock()
		return
	}
	e.state = StateFailed
	e.err = err
	r.mu.Unlock()

	r.logger.Warn("plugin failed",
		zap.String("plugin", e.meta.Name),
		zap.String("kind", e.meta.Kind.String()),
		zap.Error(err),
	)
}

func (r *Registry) active(kind Kind) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entry
	for _, name := range r.order {
		e := r.entries[name]
		if e.meta.Kind == kind && e.state == StateActive {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the registered plugin with name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// List returns the metadata of every plugin in registration order.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].meta)
	}
	return out
}

// Status returns the state of a registered plugin.
func (r *Registry) Status(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Status{}, false
	}
	return Status{Metadata: e.meta, State: e.state, Err: e.err}, true
}

// Statuses returns the state of every plugin in registration order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, Status{Metadata: e.meta, State: e.state, Err: e.err})
	}
	return out
}

// Counts returns the number of registered and failed plugins.
func (r *Registry) Counts() (total, failed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.state == StateFailed {
			failed++
		}
	}
	return len(r.entries), failed
}

// guard runs fn, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
