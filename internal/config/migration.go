package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/strata/internal/config/layer"
)

// Version represents a configuration version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// CurrentVersion is the configuration format version written by default.
var CurrentVersion = Version{Major: 1}

// ParseVersion parses "1", "1.2" or "1.2.3". A leading "v" is accepted.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the version as a string.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare compares two versions.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}
	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}
	if v.Patch != other.Patch {
		if v.Patch < other.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// Migration represents a configuration migration from one version to another.
type Migration struct {
	// FromVersion is the source version.
	FromVersion Version

	// ToVersion is the target version.
	ToVersion Version

	// Description describes what the migration does.
	Description string

	// Migrate transforms one scope's nested configuration. It may modify
	// data in place; the migrator always passes a private copy.
	Migrate func(data map[string]any) (map[string]any, error)
}

// MigrationResult contains the result of a single migration.
type MigrationResult struct {
	FromVersion Version
	ToVersion   Version
	Description string
	Success     bool
	Error       error
}

// Migrator holds an ordered chain of migrations.
type Migrator struct {
	mu         sync.RWMutex
	migrations []Migration
}

// NewMigrator creates a migrator with the given migrations.
func NewMigrator(migrations ...Migration) *Migrator {
	m := &Migrator{}
	for _, mig := range migrations {
		m.Register(mig)
	}
	return m
}

// Register adds a migration to the migrator.
func (m *Migrator) Register(migration Migration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.migrations = append(m.migrations, migration)
	sort.SliceStable(m.migrations, func(i, j int) bool {
		return m.migrations[i].FromVersion.Compare(m.migrations[j].FromVersion) < 0
	})
}

// Len returns the number of registered migrations.
func (m *Migrator) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.migrations)
}

// Plan returns the migrations that move data from one version to another,
// in application order. A migration is included when it starts at or after
// the version reached so far and does not go past to.
func (m *Migrator) Plan(from, to Version) []Migration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var plan []Migration
	cur := from
	for _, mig := range m.migrations {
		if mig.FromVersion.Compare(cur) < 0 {
			continue
		}
		if mig.ToVersion.Compare(to) > 0 {
			continue
		}
		plan = append(plan, mig)
		cur = mig.ToVersion
	}
	return plan
}

// Migrate applies the planned chain to a deep copy of data. On failure the
// input is untouched and a *MigrationError names the failing step.
func (m *Migrator) Migrate(data map[string]any, from, to Version) (map[string]any, []MigrationResult, error) {
	out := layer.CloneMap(data)
	if out == nil {
		out = make(map[string]any)
	}

	var results []MigrationResult
	for _, mig := range m.Plan(from, to) {
		result := MigrationResult{
			FromVersion: mig.FromVersion,
			ToVersion:   mig.ToVersion,
			Description: mig.Description,
		}

		migrated, err := runMigration(mig, out)
		if err != nil {
			result.Error = err
			results = append(results, result)
			return data, results, &MigrationError{
				From:        mig.FromVersion,
				To:          mig.ToVersion,
				Description: mig.Description,
				Err:         err,
			}
		}

		result.Success = true
		results = append(results, result)
		out = migrated
	}
	return out, results, nil
}

func runMigration(mig Migration, data map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if mig.Migrate == nil {
		return data, nil
	}
	out, err = mig.Migrate(data)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]any)
	}
	if err := layer.ValidateTree(out); err != nil {
		return nil, err
	}
	return out, nil
}

// MigrationRename creates a migration that renames a configuration path.
func MigrationRename(from, to Version, oldPath, newPath, description string) Migration {
	return Migration{
		FromVersion: from,
		ToVersion:   to,
		Description: description,
		Migrate: func(data map[string]any) (map[string]any, error) {
			value, found := layer.GetByPath(data, oldPath)
			if !found {
				return data, nil // Nothing to migrate
			}
			layer.DeleteByPath(data, oldPath)

			if err := layer.SetByPath(data, newPath, value); err != nil {
				return nil, fmt.Errorf("setting %s: %w", newPath, err)
			}
			return data, nil
		},
	}
}

// MigrationTransform creates a migration that transforms a value at a path.
func MigrationTransform(from, to Version, path, description string, transform func(any) (any, error)) Migration {
	return Migration{
		FromVersion: from,
		ToVersion:   to,
		Description: description,
		Migrate: func(data map[string]any) (map[string]any, error) {
			value, found := layer.GetByPath(data, path)
			if !found {
				return data, nil // Nothing to transform
			}

			newValue, err := transform(value)
			if err != nil {
				return nil, fmt.Errorf("transforming %s: %w", path, err)
			}
			newValue, err = layer.Normalize(newValue)
			if err != nil {
				return nil, fmt.Errorf("transforming %s: %w", path, err)
			}

			if err := layer.SetByPath(data, path, newValue); err != nil {
				return nil, fmt.Errorf("setting %s: %w", path, err)
			}
			return data, nil
		},
	}
}

// MigrationDelete creates a migration that deletes a configuration path.
func MigrationDelete(from, to Version, path, description string) Migration {
	return Migration{
		FromVersion: from,
		ToVersion:   to,
		Description: description,
		Migrate: func(data map[string]any) (map[string]any, error) {
			layer.DeleteByPath(data, path)
			return data, nil
		},
	}
}
