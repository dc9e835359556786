package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/persist"
	"github.com/dshills/strata/internal/config/profile"
	"github.com/dshills/strata/internal/config/schema"
)

// Load reads a saved file and replaces the scopes it holds. Files written
// by an older version are migrated first. Profiles stored in the file
// replace the current profiles. On any error the in-memory configuration
// is unchanged.
func (m *Manager) Load(ctx context.Context, path string) error {
	path, err := m.resolvePath(path)
	if err != nil {
		return err
	}
	doc, err := m.persist.Read(ctx, path)
	if err != nil {
		return err
	}
	scopes, err := m.prepare(doc)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	if err := m.apply(scopes, doc, false, "load"); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	m.remember(scopes)
	m.logger.Info("configuration loaded",
		zap.String("path", path),
		zap.String("version", doc.Version))
	return nil
}

// Save validates the effective configuration and writes GLOBAL and USER
// scopes to path. An invalid configuration is never written: the report is
// returned with ErrValidationFailed and the file is left as it was.
func (m *Manager) Save(ctx context.Context, path string, includeProfiles bool) (schema.Report, error) {
	path, err := m.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return m.save(ctx, path, includeProfiles)
}

// save validates and writes one snapshot of every scope, so a write that
// lands during the save is never persisted unvalidated.
func (m *Manager) save(ctx context.Context, path string, includeProfiles bool) (schema.Report, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	all := m.store.SnapshotAll()
	report := m.validator.ValidateAll(layer.MergeScopes(all))
	if !report.OK() {
		m.logger.Warn("refusing to save invalid configuration",
			zap.String("path", path),
			zap.Strings("errors", report.Messages()))
		return report, fmt.Errorf("save %s: %w: %w", path, ErrValidationFailed, report.Err())
	}

	scopes := make(map[layer.Scope]map[string]any, len(layer.PersistedScopes))
	for _, scope := range layer.PersistedScopes {
		scopes[scope] = all[scope]
	}
	doc := m.document(scopes, includeProfiles)
	if err := m.persist.Write(ctx, path, doc); err != nil {
		return report, err
	}
	m.remember(scopes)
	m.logger.Debug("configuration saved", zap.String("path", path))
	return report, nil
}

// Export writes every scope to path. With includeProfiles the profiles
// and the active profile id are written too. Export does not validate.
func (m *Manager) Export(ctx context.Context, path string, includeProfiles bool) error {
	if path == "" {
		return ErrNoPath
	}
	doc := m.document(m.store.SnapshotAll(), includeProfiles)
	if err := m.persist.Export(ctx, path, doc); err != nil {
		return err
	}
	m.logger.Info("configuration exported", zap.String("path", path))
	return nil
}

// Import reads an exported or saved file. With merge the incoming values
// are laid over each scope key by key; without it every scope present in
// the file is replaced. A malformed file changes nothing.
func (m *Manager) Import(ctx context.Context, path string, merge bool) error {
	if path == "" {
		return ErrNoPath
	}
	doc, err := m.persist.Read(ctx, path)
	if err != nil {
		return err
	}
	scopes, err := m.prepare(doc)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if err := m.apply(scopes, doc, merge, "import"); err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	m.logger.Info("configuration imported",
		zap.String("path", path),
		zap.Bool("merge", merge))
	return nil
}

// Backup stores every scope and every profile in the backup directory and
// returns the backup id.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	doc := m.document(m.store.SnapshotAll(), true)
	info, err := m.persist.Backup(ctx, doc)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Restore replaces every scope and the profiles with a backup's contents.
func (m *Manager) Restore(ctx context.Context, id string) error {
	doc, err := m.persist.ReadBackup(ctx, id)
	if err != nil {
		return err
	}
	scopes, err := m.prepare(doc)
	if err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	for _, scope := range layer.Scopes {
		if _, ok := scopes[scope]; !ok {
			scopes[scope] = map[string]any{}
		}
	}
	if doc.Profiles == nil {
		doc.Profiles = []persist.ProfileRecord{}
	}
	if err := m.apply(scopes, doc, false, "restore"); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	m.logger.Info("configuration restored", zap.String("backup", id))
	return nil
}

// ListBackups returns the stored backups, oldest first.
func (m *Manager) ListBackups() ([]persist.BackupInfo, error) {
	return m.persist.ListBackups()
}

// PruneBackups removes the oldest backups so that at most keep remain.
func (m *Manager) PruneBackups(keep int) (int, error) {
	return m.persist.PruneBackups(keep)
}

// Migrate runs the migration chain from one version to another over every
// scope and every profile. If any step fails nothing changes and a
// *MigrationError is returned.
func (m *Manager) Migrate(from, to Version) error {
	if m.isClosed() {
		return ErrClosed
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	scopes, err := m.migrateScopes(m.store.SnapshotAll(), from, to)
	if err != nil {
		return err
	}

	profiles := m.profiles.List()
	for i := range profiles {
		out, _, err := m.migrator.Migrate(profiles[i].Overrides, from, to)
		if err != nil {
			return fmt.Errorf("profile %s: %w", profiles[i].ID, err)
		}
		profiles[i].Overrides = out
	}
	active, _ := m.profiles.Active()

	muts, err := m.store.ReplaceMany(scopes, "migration")
	if err != nil {
		return err
	}
	if err := m.profiles.Restore(profiles, active); err != nil {
		return err
	}

	m.mu.Lock()
	m.version = to
	m.mu.Unlock()

	m.dispatch(muts, "migration")
	m.logger.Info("configuration migrated",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("changes", len(muts)))
	return nil
}

func (m *Manager) resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if m.path != "" {
		return m.path, nil
	}
	return "", ErrNoPath
}

// document builds a persisted document from scope data.
func (m *Manager) document(scopes map[layer.Scope]map[string]any, includeProfiles bool) persist.Document {
	doc := persist.NewDocument(m.Version().String(), scopes)
	if includeProfiles {
		doc.Profiles = profileRecords(m.profiles.List())
		doc.ActiveProfile, _ = m.profiles.Active()
	}
	return doc
}

// prepare extracts a document's scopes at the manager's version.
func (m *Manager) prepare(doc persist.Document) (map[layer.Scope]map[string]any, error) {
	scopes, err := doc.ScopeData()
	if err != nil {
		return nil, err
	}

	current := m.Version()
	from := current
	if doc.Version != "" {
		if from, err = ParseVersion(doc.Version); err != nil {
			return nil, fmt.Errorf("%w: %v", persist.ErrInvalidDocument, err)
		}
	}

	switch from.Compare(current) {
	case -1:
		return m.migrateScopes(scopes, from, current)
	case 1:
		m.logger.Warn("configuration file is newer than this version",
			zap.Stringer("file", from),
			zap.Stringer("current", current))
	}
	return scopes, nil
}

func (m *Manager) migrateScopes(scopes map[layer.Scope]map[string]any, from, to Version) (map[layer.Scope]map[string]any, error) {
	if m.migrator.Len() == 0 {
		return scopes, nil
	}
	out := make(map[layer.Scope]map[string]any, len(scopes))
	for _, scope := range layer.Scopes {
		data, ok := scopes[scope]
		if !ok {
			continue
		}
		migrated, results, err := m.migrator.Migrate(data, from, to)
		if err != nil {
			m.logger.Warn("migration failed",
				zap.Stringer("scope", scope),
				zap.Error(err))
			return nil, err
		}
		for _, r := range results {
			m.logger.Debug("migration applied",
				zap.Stringer("scope", scope),
				zap.Stringer("from", r.FromVersion),
				zap.Stringer("to", r.ToVersion),
				zap.String("description", r.Description))
		}
		out[scope] = migrated
	}
	return out, nil
}

// apply commits scope data and the document's profiles as one write.
// A document without a profile list leaves the profiles alone.
func (m *Manager) apply(scopes map[layer.Scope]map[string]any, doc persist.Document, merge bool, source string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	next := scopes
	if merge {
		current := m.store.SnapshotAll()
		next = make(map[layer.Scope]map[string]any, len(scopes))
		for scope, data := range scopes {
			next[scope] = layer.DeepMerge(current[scope], data)
		}
	}

	// Profiles are checked before the store is touched.
	var restore func() error
	if doc.Profiles != nil {
		incoming := profilesFromRecords(doc.Profiles)
		if merge {
			byID := make(map[string]int)
			merged := m.profiles.List()
			for i, p := range merged {
				byID[p.ID] = i
			}
			for _, p := range incoming {
				if i, ok := byID[p.ID]; ok {
					merged[i] = p
				} else {
					merged = append(merged, p)
				}
			}
			incoming = merged
		}
		active := doc.ActiveProfile
		if active == "" && merge {
			active, _ = m.profiles.Active()
		}
		if err := stageProfiles(incoming); err != nil {
			return err
		}
		restore = func() error { return m.profiles.Restore(incoming, active) }
	}

	muts, err := m.store.ReplaceMany(next, source)
	if err != nil {
		return err
	}
	if restore != nil {
		if err := restore(); err != nil {
			return err
		}
	}
	m.dispatch(muts, source)
	return nil
}

// stageProfiles checks that profiles can be restored without applying them.
func stageProfiles(profiles []profile.Profile) error {
	for _, p := range profiles {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("%w: profile without id or name", persist.ErrInvalidDocument)
		}
		if _, err := layer.NormalizeMap(p.Overrides); err != nil {
			return fmt.Errorf("%w: profile %s: %v", persist.ErrInvalidDocument, p.ID, err)
		}
		if err := layer.ValidateTree(p.Overrides); err != nil {
			return fmt.Errorf("%w: profile %s: %v", persist.ErrInvalidDocument, p.ID, err)
		}
	}
	return nil
}

// remember records what was last written to or read from the persisted
// file, so the watcher can ignore the manager's own saves.
func (m *Manager) remember(scopes map[layer.Scope]map[string]any) {
	saved := make(map[layer.Scope]map[string]any, len(layer.PersistedScopes))
	for _, scope := range layer.PersistedScopes {
		if data, ok := scopes[scope]; ok {
			saved[scope] = layer.CloneMap(data)
		}
	}
	m.mu.Lock()
	m.lastSaved = saved
	m.mu.Unlock()
}
