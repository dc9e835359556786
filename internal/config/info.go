package config

import (
	"github.com/dshills/strata/internal/config/layer"
)

// Info is a diagnostic summary of the manager.
type Info struct {
	ActiveProfile string
	Profiles      int
	// ScopeSizes counts leaf keys per scope.
	ScopeSizes    map[layer.Scope]int
	Plugins       int
	FailedPlugins int
	Listeners     int
	Schemas       int
	Rules         int
	Path          string
	Version       Version
	Watching      bool
}

// Info returns a diagnostic summary.
func (m *Manager) Info() Info {
	info := Info{
		Profiles:   m.profiles.Len(),
		ScopeSizes: make(map[layer.Scope]int, len(layer.Scopes)),
		Listeners:  m.notifier.Len(),
		Schemas:    len(m.validator.Schemas()),
		Rules:      m.validator.RuleCount(),
		Path:       m.path,
		Version:    m.Version(),
	}
	info.ActiveProfile, _ = m.profiles.Active()
	for _, scope := range layer.Scopes {
		info.ScopeSizes[scope] = m.store.Len(scope)
	}
	info.Plugins, info.FailedPlugins = m.plugins.Counts()

	m.mu.RLock()
	info.Watching = m.watcher != nil
	m.mu.RUnlock()
	return info
}
