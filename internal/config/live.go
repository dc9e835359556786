package config

import (
	"context"
	"errors"
	"io/fs"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/loader"
	"github.com/dshills/strata/internal/config/watcher"
)

// LoadEnv overlays environment variables carrying prefix onto SESSION
// scope. STRATA_UI_THEME=dark sets ui.theme.
func (m *Manager) LoadEnv(prefix string) error {
	if m.isClosed() {
		return ErrClosed
	}
	data, err := loader.NewEnvLoader(prefix).Load()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	muts, err := m.store.Overlay(layer.ScopeSession, data, "env")
	if err != nil {
		return err
	}
	m.dispatch(muts, "env")
	m.logger.Debug("environment loaded", zap.Int("keys", len(muts)))
	return nil
}

// Watch reloads GLOBAL and USER scopes whenever path changes on disk.
// Changes made by this manager's own saves are ignored. Watching stops when
// ctx is done or the manager is closed.
func (m *Manager) Watch(ctx context.Context, path string) error {
	path, err := m.resolvePath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	w := m.watcher
	if w == nil {
		w, err = watcher.New(watcher.WithLogger(m.logger.Named("watcher")))
		if err != nil {
			m.mu.Unlock()
			return err
		}
		w.OnChange(m.handleFileChange)
		m.watcher = w
	}
	m.mu.Unlock()

	if err := w.Watch(path); err != nil {
		return err
	}
	m.logger.Info("watching configuration file", zap.String("path", path))

	go func() {
		<-ctx.Done()
		if err := w.Unwatch(path); err != nil && !errors.Is(err, watcher.ErrWatcherClosed) {
			m.logger.Debug("unwatch", zap.String("path", path), zap.Error(err))
		}
	}()
	return nil
}

// handleFileChange reloads a watched file.
func (m *Manager) handleFileChange(event watcher.Event) {
	if event.Op == watcher.OpRemove || event.Op == watcher.OpRename {
		m.logger.Info("configuration file removed", zap.String("path", event.Path))
		return
	}
	if err := m.reload(context.Background(), event.Path); err != nil {
		m.logger.Warn("configuration reload failed",
			zap.String("path", event.Path),
			zap.Error(err))
	}
}

func (m *Manager) reload(ctx context.Context, path string) error {
	doc, err := m.persist.Read(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	scopes, err := m.prepare(doc)
	if err != nil {
		return err
	}

	persisted := make(map[layer.Scope]map[string]any, len(layer.PersistedScopes))
	for _, scope := range layer.PersistedScopes {
		if data, ok := scopes[scope]; ok {
			persisted[scope] = data
		}
	}
	if m.isOwnWrite(persisted) {
		return nil
	}

	doc.Profiles = nil
	if err := m.apply(persisted, doc, false, "reload"); err != nil {
		return err
	}
	m.remember(persisted)
	m.notifier.NotifyReload(path)
	m.logger.Info("configuration reloaded", zap.String("path", path))
	return nil
}

func (m *Manager) isOwnWrite(scopes map[layer.Scope]map[string]any) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastSaved == nil || len(scopes) != len(m.lastSaved) {
		return false
	}
	for scope, data := range scopes {
		saved, ok := m.lastSaved[scope]
		if !ok || !layer.ValuesEqual(data, saved) {
			return false
		}
	}
	return true
}
