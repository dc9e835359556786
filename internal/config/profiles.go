package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/persist"
	"github.com/dshills/strata/internal/config/profile"
	"github.com/dshills/strata/internal/config/schema"
)

// CreateProfile captures the current USER scope as a new profile.
func (m *Manager) CreateProfile(name, description string) (string, error) {
	id, err := m.profiles.Create(name, description, m.store.Snapshot(layer.ScopeUser))
	if err != nil {
		return "", err
	}
	m.logger.Debug("profile created", zap.String("profile", id), zap.String("name", name))
	return id, nil
}

// CreateProfileFromTemplate stores the profile built by t.
func (m *Manager) CreateProfileFromTemplate(t profile.Template) (string, error) {
	return m.profiles.CreateFromTemplate(t)
}

// ActivateProfile replaces USER scope with the profile's captured values.
//
// The configuration that would result is validated first. On failure the
// report is returned with ErrValidationFailed and nothing changes. On
// success one change is announced per USER key that differs.
func (m *Manager) ActivateProfile(id string) (schema.Report, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	p, err := m.profiles.Get(id)
	if err != nil {
		return nil, err
	}

	candidate := m.store.SnapshotAll()
	candidate[layer.ScopeUser] = p.Overrides
	report := m.validator.ValidateAll(layer.MergeScopes(candidate))
	if !report.OK() {
		m.logger.Info("profile activation rejected",
			zap.String("profile", id),
			zap.Int("errors", report.Count()))
		return report, fmt.Errorf("activate profile %s: %w: %w", id, ErrValidationFailed, report.Err())
	}

	source := "profile:" + p.Name
	muts, err := m.store.Replace(layer.ScopeUser, p.Overrides, source)
	if err != nil {
		return nil, fmt.Errorf("activate profile %s: %w", id, err)
	}
	if err := m.profiles.SetActive(id); err != nil {
		return nil, err
	}
	m.dispatch(muts, source)

	m.logger.Info("profile activated",
		zap.String("profile", id),
		zap.String("name", p.Name),
		zap.Int("changes", len(muts)))
	return report, nil
}

// DeleteProfile removes a profile. Deleting the active profile clears USER
// scope so GLOBAL values show through again.
func (m *Manager) DeleteProfile(id string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	wasActive, err := m.profiles.Delete(id)
	if err != nil {
		return err
	}
	if !wasActive {
		return nil
	}

	muts, err := m.store.Replace(layer.ScopeUser, nil, "profile")
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	m.dispatch(muts, "profile")
	return nil
}

// UpdateProfile captures the current USER scope into an existing profile.
// The active profile is not changed.
func (m *Manager) UpdateProfile(id string) error {
	if m.isClosed() {
		return ErrClosed
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.profiles.Capture(id, m.store.Snapshot(layer.ScopeUser)); err != nil {
		return err
	}
	m.logger.Debug("profile updated", zap.String("profile", id))
	return nil
}

// FindProfile returns the oldest profile named name.
func (m *Manager) FindProfile(name string) (profile.Profile, bool) {
	return m.profiles.FindByName(name)
}

// ListProfiles returns every profile, oldest first.
func (m *Manager) ListProfiles() []profile.Profile {
	return m.profiles.List()
}

// GetProfile returns a profile by id.
func (m *Manager) GetProfile(id string) (profile.Profile, error) {
	return m.profiles.Get(id)
}

// ActiveProfile returns the active profile id.
func (m *Manager) ActiveProfile() (string, bool) {
	return m.profiles.Active()
}

func profileRecords(profiles []profile.Profile) []persist.ProfileRecord {
	if len(profiles) == 0 {
		return nil
	}
	out := make([]persist.ProfileRecord, 0, len(profiles))
	for _, p := range profiles {
		rec := persist.ProfileRecord{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Metadata:    p.Metadata,
			Overrides:   p.Overrides,
		}
		if !p.Created.IsZero() {
			rec.CreatedAt = persist.Stamp(p.Created)
		}
		out = append(out, rec)
	}
	return out
}

func profilesFromRecords(recs []persist.ProfileRecord) []profile.Profile {
	out := make([]profile.Profile, 0, len(recs))
	for _, r := range recs {
		p := profile.Profile{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Metadata:    r.Metadata,
			Overrides:   r.Overrides,
		}
		if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			p.Created = t
		}
		out = append(out, p)
	}
	return out
}
