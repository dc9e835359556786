package config

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
)

// DefaultFileName is the name of the persisted configuration file.
const DefaultFileName = "config.json"

// DefaultIOTimeout bounds every persistence operation.
const DefaultIOTimeout = 5 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager and its components.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPath sets the persisted configuration file. Writes to GLOBAL and
// USER are saved to it unless WithoutPersist is given.
func WithPath(path string) Option {
	return func(m *Manager) {
		m.path = path
	}
}

// WithBackupDir sets the directory that holds backups.
func WithBackupDir(dir string) Option {
	return func(m *Manager) {
		m.backupDir = dir
	}
}

// WithIOTimeout bounds each load, save, export, import, backup and restore.
func WithIOTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ioTimeout = d
		}
	}
}

// WithValidateOnWrite rejects writes whose value fails a rule for its key.
func WithValidateOnWrite(enable bool) Option {
	return func(m *Manager) {
		m.validateOnWrite = enable
	}
}

// WithMigrator sets the migration chain applied to older files on load.
func WithMigrator(mg *Migrator) Option {
	return func(m *Manager) {
		if mg != nil {
			m.migrator = mg
		}
	}
}

// WithVersion sets the configuration format version.
func WithVersion(v Version) Option {
	return func(m *Manager) {
		m.version = v
	}
}

// WithClock sets the time source for entry stamps, profiles and backups.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// SetOption configures a single write.
type SetOption func(*setOptions)

type setOptions struct {
	scope   layer.Scope
	persist bool
	source  string
}

func defaultSetOptions() setOptions {
	return setOptions{scope: layer.ScopeUser, persist: true, source: "api"}
}

// InScope writes to scope instead of USER.
func InScope(scope layer.Scope) SetOption {
	return func(o *setOptions) {
		o.scope = scope
	}
}

// WithoutPersist skips saving after the write.
func WithoutPersist() SetOption {
	return func(o *setOptions) {
		o.persist = false
	}
}

// WithSource records who made the write.
func WithSource(name string) SetOption {
	return func(o *setOptions) {
		if name != "" {
			o.source = name
		}
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "strata")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "strata")
}

// DefaultPath returns the default persisted configuration file.
func DefaultPath() string {
	return filepath.Join(DefaultConfigDir(), DefaultFileName)
}

// DefaultBackupDir returns the default backup directory.
func DefaultBackupDir() string {
	return filepath.Join(DefaultConfigDir(), "backups")
}
