package plugin

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/schema"
)

// fakeHooks records hook calls and forwards listeners to a real notifier.
type fakeHooks struct {
	mu       sync.Mutex
	seeded   map[string]map[string]any
	rules    map[string][]schema.Rule
	notifier *notify.Notifier
	seedErr  error
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{
		seeded:   make(map[string]map[string]any),
		rules:    make(map[string][]schema.Rule),
		notifier: notify.New(),
	}
}

func (h *fakeHooks) SeedDefaults(plugin string, defaults map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seedErr != nil {
		return h.seedErr
	}
	h.seeded[plugin] = defaults
	return nil
}

func (h *fakeHooks) RemoveDefaults(plugin string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.seeded, plugin)
}

func (h *fakeHooks) AddRules(plugin string, rules []schema.Rule) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rules[plugin] = rules
	return nil
}

func (h *fakeHooks) RemoveRules(plugin string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rules, plugin)
}

func (h *fakeHooks) AddListener(plugin string, fn notify.Listener) notify.ListenerID {
	return h.notifier.Subscribe(fn)
}

func (h *fakeHooks) RemoveListener(id notify.ListenerID) {
	h.notifier.Unsubscribe(id)
}

type lifecyclePlugin struct {
	meta     Metadata
	initErr  error
	inited   bool
	shutdown *[]string
}

func (p *lifecyclePlugin) Metadata() Metadata { return p.meta }
func (p *lifecyclePlugin) Defaults() (map[string]any, error) {
	return map[string]any{p.meta.Name: true}, nil
}
func (p *lifecyclePlugin) Init(Host) error {
	p.inited = true
	return p.initErr
}
func (p *lifecyclePlugin) Shutdown() error {
	if p.shutdown != nil {
		*p.shutdown = append(*p.shutdown, p.meta.Name)
	}
	return nil
}

func TestKind(t *testing.T) {
	for _, k := range []Kind{KindProvider, KindValidator, KindTransformer, KindListener} {
		parsed, err := ParseKind(strings.ToUpper(k.String()))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("widget")
	assert.ErrorIs(t, err, ErrInvalidPlugin)
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(newFakeHooks())

	assert.ErrorIs(t, r.Register(nil), ErrInvalidPlugin)
	assert.ErrorIs(t, r.Register(NewProvider(Metadata{}, nil)), ErrInvalidPlugin)

	// Declared kind must match the implemented interface.
	bad := &lifecyclePlugin{meta: Metadata{Name: "x", Kind: KindListener}}
	assert.ErrorIs(t, r.Register(bad), ErrInvalidPlugin)

	self := NewProvider(Metadata{Name: "self", Dependencies: []string{"self"}}, nil)
	assert.ErrorIs(t, r.Register(self), ErrInvalidPlugin)

	p := NewProvider(Metadata{Name: "defaults"}, nil)
	require.NoError(t, r.Register(p))
	assert.ErrorIs(t, r.Register(p), ErrAlreadyRegistered)
}

func TestRegistry_Dependencies(t *testing.T) {
	r := NewRegistry(newFakeHooks())

	x := NewProvider(Metadata{Name: "X", Dependencies: []string{"Y"}}, nil)
	err := r.Register(x)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"Y"}, depErr.Missing)
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, ok := r.Get("X")
	assert.False(t, ok, "plugin with missing dependency must not be added")

	require.NoError(t, r.Register(NewProvider(Metadata{Name: "Y"}, nil)))
	require.NoError(t, r.Register(x))

	err = r.Unregister("Y")
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{"X"}, depErr.Dependents)
	assert.ErrorIs(t, err, ErrHasDependents)

	require.NoError(t, r.Unregister("X"))
	require.NoError(t, r.Unregister("Y"))
	assert.ErrorIs(t, r.Unregister("Y"), ErrPluginNotFound)
}

func TestRegistry_FailedDependencyCountsAsMissing(t *testing.T) {
	hooks := newFakeHooks()
	hooks.seedErr = errors.New("seed failed")
	r := NewRegistry(hooks)

	require.NoError(t, r.Register(NewProvider(Metadata{Name: "base"}, map[string]any{"a": 1})))
	st, _ := r.Status("base")
	assert.Equal(t, StateFailed, st.State)

	err := r.Register(NewProvider(Metadata{Name: "child", Dependencies: []string{"base"}}, nil))
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestRegistry_HookEffects(t *testing.T) {
	hooks := newFakeHooks()
	r := NewRegistry(hooks)

	require.NoError(t, r.Register(NewProvider(Metadata{Name: "prov"}, map[string]any{"ui": map[string]any{"theme": "light"}})))
	require.NoError(t, r.Register(NewValidator(Metadata{Name: "val"}, schema.OneOf("ui.theme", "light", "dark"))))

	var got []notify.Change
	require.NoError(t, r.Register(NewListener(Metadata{Name: "lis"}, func(c notify.Change) { got = append(got, c) })))

	assert.Contains(t, hooks.seeded, "prov")
	assert.Len(t, hooks.rules["val"], 1)

	hooks.notifier.NotifySet("ui.theme", layer.ScopeUser, "light", "dark", "test")
	require.Len(t, got, 1)
	assert.Equal(t, "ui.theme", got[0].Key)

	names := []string{}
	for _, m := range r.List() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"prov", "val", "lis"}, names)

	require.NoError(t, r.Unregister("prov"))
	require.NoError(t, r.Unregister("val"))
	require.NoError(t, r.Unregister("lis"))
	assert.Empty(t, hooks.seeded)
	assert.Empty(t, hooks.rules)
	assert.Equal(t, 0, hooks.notifier.Len())
}

func TestRegistry_TransformPipeline(t *testing.T) {
	r := NewRegistry(newFakeHooks())

	upper := NewTransformer(Metadata{Name: "upper"}, func(key string, scope layer.Scope, v any) (any, error) {
		if s, ok := v.(string); ok {
			return strings.ToUpper(s), nil
		}
		return v, nil
	})
	suffix := NewTransformer(Metadata{Name: "suffix"}, func(key string, scope layer.Scope, v any) (any, error) {
		if s, ok := v.(string); ok {
			return s + "!", nil
		}
		return v, nil
	})
	require.NoError(t, r.Register(upper))
	require.NoError(t, r.Register(suffix))
	assert.True(t, r.HasTransformers())

	assert.Equal(t, "DARK!", r.Transform("ui.theme", layer.ScopeUser, "dark"))
	assert.Equal(t, float64(3), r.Transform("n", layer.ScopeUser, float64(3)))
}

func TestRegistry_FaultIsolation(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	hooks := newFakeHooks()
	r := NewRegistry(hooks, WithLogger(zap.New(core)))

	boom := NewTransformer(Metadata{Name: "boom"}, func(string, layer.Scope, any) (any, error) {
		panic("transformer exploded")
	})
	failing := NewTransformer(Metadata{Name: "failing"}, func(string, layer.Scope, any) (any, error) {
		return nil, errors.New("nope")
	})
	double := NewTransformer(Metadata{Name: "double"}, func(_ string, _ layer.Scope, v any) (any, error) {
		return v.(float64) * 2, nil
	})
	require.NoError(t, r.Register(boom))
	require.NoError(t, r.Register(failing))
	require.NoError(t, r.Register(double))

	assert.Equal(t, float64(4), r.Transform("n", layer.ScopeUser, float64(2)))
	assert.Equal(t, float64(6), r.Transform("n", layer.ScopeUser, float64(3)))

	for _, name := range []string{"boom", "failing"} {
		st, ok := r.Status(name)
		require.True(t, ok)
		assert.Equal(t, StateFailed, st.State, name)
		assert.Error(t, st.Err)
	}
	total, failed := r.Counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 2, logs.FilterMessage("plugin failed").Len(), "each failure logged once")

	// A panicking listener is disabled after the first failure.
	calls := 0
	require.NoError(t, r.Register(NewListener(Metadata{Name: "bad-listener"}, func(notify.Change) {
		calls++
		panic("listener exploded")
	})))
	hooks.notifier.NotifySet("a", layer.ScopeUser, nil, 1, "")
	hooks.notifier.NotifySet("a", layer.ScopeUser, 1, 2, "")
	assert.Equal(t, 1, calls)
	st, _ := r.Status("bad-listener")
	assert.Equal(t, StateFailed, st.State)
}

func TestRegistry_InitFailure(t *testing.T) {
	hooks := newFakeHooks()
	r := NewRegistry(hooks)

	p := &lifecyclePlugin{meta: Metadata{Name: "p", Kind: KindProvider}, initErr: errors.New("no")}
	require.NoError(t, r.Register(p))
	assert.True(t, p.inited)

	st, _ := r.Status("p")
	assert.Equal(t, StateFailed, st.State)
	assert.NotContains(t, hooks.seeded, "p", "failed plugin must not seed defaults")

	// Other plugins still register.
	require.NoError(t, r.Register(NewProvider(Metadata{Name: "q"}, nil)))
	st, _ = r.Status("q")
	assert.Equal(t, StateActive, st.State)
}

func TestRegistry_ShutdownReverseOrder(t *testing.T) {
	var order []string
	r := NewRegistry(newFakeHooks())
	for _, name := range []string{"a", "b", "c"} {
		p := &lifecyclePlugin{meta: Metadata{Name: name, Kind: KindProvider}, shutdown: &order}
		require.NoError(t, r.Register(p))
	}

	require.NoError(t, r.Shutdown())
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Empty(t, r.List())
}
