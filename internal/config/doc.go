// Package config provides Strata's layered configuration engine.
//
// A Manager stores values in four scopes and resolves each key to the
// value of the highest scope that holds it:
//
//	┌─────────────────────────────┐
//	│  TEMPORARY                  │  ← Highest priority
//	├─────────────────────────────┤
//	│  SESSION                    │  ← environment overlay
//	├─────────────────────────────┤
//	│  USER                       │  ← profiles, saved
//	├─────────────────────────────┤
//	│  GLOBAL                     │  ← provider plugins, saved
//	└─────────────────────────────┘
//
// # Sub-packages
//
//   - layer: scoped storage, key paths and resolution
//   - schema: validation rules and reports
//   - notify: change listeners and batches
//   - profile: named USER scope snapshots
//   - persist: documents, atomic writes and backups
//   - loader: JSON, TOML and YAML codecs and the environment loader
//   - plugin: provider, validator, transformer and listener plugins
//   - luaplugin: plugins written in Lua
//   - watcher: file watching for live reload
//
// # Basic Usage
//
//	cfg := config.New(config.WithPath(config.DefaultPath()))
//	if err := cfg.Load(ctx, ""); err != nil && !errors.Is(err, fs.ErrNotExist) {
//	    return err
//	}
//	defer cfg.Close(ctx)
//
//	cfg.RegisterSchema("ui", []schema.Rule{
//	    schema.OneOf("ui.theme", "light", "dark"),
//	})
//
//	if err := cfg.Set("ui.theme", "dark"); err != nil {
//	    return err
//	}
//	theme, _ := cfg.GetString("ui.theme")
//
// # Change Notification
//
// Every Set and Delete announces exactly one change to each listener, even
// when the value did not change. Multi-key writes (profile activation,
// import, restore, reload) announce one change per key that differs.
//
//	id := cfg.SubscribePath("ui", func(c notify.Change) {
//	    log.Printf("%s: %v -> %v", c.Key, c.OldValue, c.NewValue)
//	})
//	defer cfg.RemoveChangeListener(id)
//
// Listeners run on the writing goroutine while the writer lock is held.
// They may read configuration but must not write it synchronously.
//
// # Persistence
//
// Save writes GLOBAL and USER scopes and refuses to write a configuration
// that fails validation. Export writes every scope, so an export imported
// into a fresh manager yields the same effective configuration.
package config
