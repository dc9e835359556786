package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/schema"
)

// pluginSchemaPrefix names the schemas contributed by validator plugins.
const pluginSchemaPrefix = "plugin:"

// hooks applies plugin effects to the manager.
type hooks struct {
	m *Manager
}

// SeedDefaults overlays a provider's values onto GLOBAL scope.
func (h hooks) SeedDefaults(name string, defaults map[string]any) error {
	m := h.m
	data, err := layer.NormalizeMap(defaults)
	if err != nil {
		return err
	}
	if err := layer.ValidateTree(data); err != nil {
		return err
	}
	source := pluginSchemaPrefix + name

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	muts, err := m.store.Overlay(layer.ScopeGlobal, data, source)
	if err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}

	m.seedMu.Lock()
	m.seeded[name] = layer.FlattenMap(data)
	m.seedMu.Unlock()

	m.dispatch(muts, source)
	m.logger.Debug("plugin defaults seeded",
		zap.String("plugin", name),
		zap.Int("keys", len(muts)))
	return nil
}

// RemoveDefaults deletes GLOBAL keys that still hold the value a provider
// seeded. Keys changed since seeding are left alone.
func (h hooks) RemoveDefaults(name string) {
	m := h.m

	m.seedMu.Lock()
	seeded := m.seeded[name]
	delete(m.seeded, name)
	m.seedMu.Unlock()
	if len(seeded) == 0 {
		return
	}
	source := pluginSchemaPrefix + name

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var muts []layer.Mutation
	for _, key := range layer.SortedKeys(seeded) {
		cur, ok := m.store.Get(layer.ScopeGlobal, key)
		if !ok || !layer.ValuesEqual(cur, seeded[key]) {
			continue
		}
		mut, existed, err := m.store.Delete(layer.ScopeGlobal, key)
		if err != nil {
			m.logger.Warn("remove plugin default", zap.String("key", key), zap.Error(err))
			continue
		}
		if existed {
			muts = append(muts, mut)
		}
	}
	m.dispatch(muts, source)
}

// AddRules registers a validator plugin's rules as their own schema.
func (h hooks) AddRules(name string, rules []schema.Rule) error {
	return h.m.validator.RegisterSchema(pluginSchemaPrefix+name, rules)
}

// RemoveRules drops a validator plugin's schema.
func (h hooks) RemoveRules(name string) {
	h.m.validator.UnregisterSchema(pluginSchemaPrefix + name)
}

// AddListener subscribes a listener plugin.
func (h hooks) AddListener(_ string, fn notify.Listener) notify.ListenerID {
	return h.m.notifier.Subscribe(fn)
}

// RemoveListener unsubscribes a listener plugin.
func (h hooks) RemoveListener(id notify.ListenerID) {
	h.m.notifier.Unsubscribe(id)
}

// host is the plugins' view of the manager.
type host struct {
	m *Manager
}

func (h host) Get(key string) (any, bool) {
	return h.m.Get(key)
}

func (h host) SetIn(scope layer.Scope, key string, value any) error {
	return h.m.Set(key, value, InScope(scope), WithoutPersist(), WithSource("plugin"))
}
