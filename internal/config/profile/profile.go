// Package profile manages named snapshots of scope overrides.
//
// A Manager only records profiles and which one is active. Applying a
// profile's overrides to the store is the caller's job, so activation can
// be validated and committed together with the store write.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/strata/internal/config/layer"
)

// Errors returned by profile operations.
var (
	// ErrNotFound indicates an unknown profile id.
	ErrNotFound = errors.New("profile not found")

	// ErrInvalidProfile indicates a profile that cannot be stored.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Error describes a failed profile operation.
type Error struct {
	Op  string
	ID  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("profile %s %s: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Profile is a named snapshot of scope overrides.
type Profile struct {
	ID          string
	Name        string
	Description string
	Metadata    map[string]string
	Overrides   map[string]any
	Created     time.Time
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	c := p
	c.Overrides = layer.CloneMap(p.Overrides)
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Template builds a profile definition. The returned profile's ID and
// Created fields are assigned by the manager.
type Template func() (Profile, error)

// Manager stores profiles and tracks the active one.
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	active   string
	now      func() time.Time
	newID    func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source for creation stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		profiles: make(map[string]Profile),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a profile capturing overrides and returns its id.
func (m *Manager) Create(name, description string, overrides map[string]any) (string, error) {
	return m.add(Profile{Name: name, Description: description, Overrides: overrides})
}

// CreateFromTemplate stores the profile built by t and returns its id.
func (m *Manager) CreateFromTemplate(t Template) (string, error) {
	if t == nil {
		return "", &Error{Op: "create", Err: fmt.Errorf("%w: nil template", ErrInvalidProfile)}
	}
	p, err := t()
	if err != nil {
		return "", &Error{Op: "create", Err: fmt.Errorf("%w: template: %v", ErrInvalidProfile, err)}
	}
	return m.add(p)
}

func (m *Manager) add(p Profile) (string, error) {
	if p.Name == "" {
		return "", &Error{Op: "create", Err: fmt.Errorf("%w: empty name", ErrInvalidProfile)}
	}
	overrides, err := layer.NormalizeMap(p.Overrides)
	if err != nil {
		return "", &Error{Op: "create", Err: fmt.Errorf("%w: %v", ErrInvalidProfile, err)}
	}
	if err := layer.ValidateTree(overrides); err != nil {
		return "", &Error{Op: "create", Err: fmt.Errorf("%w: %v", ErrInvalidProfile, err)}
	}

	p = p.Clone()
	p.Overrides = overrides
	p.ID = m.newID()
	p.Created = m.now()

	m.mu.Lock()
	m.profiles[p.ID] = p
	m.mu.Unlock()
	return p.ID, nil
}

// Get returns a copy of the profile with id.
func (m *Manager) Get(id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, &Error{Op: "get", ID: id, Err: ErrNotFound}
	}
	return p.Clone(), nil
}

// FindByName returns the first profile with the given name, by creation time.
func (m *Manager) FindByName(name string) (Profile, bool) {
	for _, p := range m.List() {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Delete removes a profile. It reports whether the deleted profile was active;
// if so the manager has no active profile afterwards.
func (m *Manager) Delete(id string) (wasActive bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[id]; !ok {
		return false, &Error{Op: "delete", ID: id, Err: ErrNotFound}
	}
	delete(m.profiles, id)
	if m.active == id {
		m.active = ""
		return true, nil
	}
	return false, nil
}

// List returns copies of all profiles ordered by creation time, then name.
func (m *Manager) List() []Profile {
	m.mu.RLock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of profiles.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

// Active returns the active profile id.
func (m *Manager) Active() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, m.active != ""
}

// SetActive marks id as the active profile.
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[id]; !ok {
		return &Error{Op: "activate", ID: id, Err: ErrNotFound}
	}
	m.active = id
	return nil
}

// Capture replaces the overrides of an existing profile.
func (m *Manager) Capture(id string, overrides map[string]any) error {
	normalized, err := layer.NormalizeMap(overrides)
	if err != nil {
		return &Error{Op: "capture", ID: id, Err: fmt.Errorf("%w: %v", ErrInvalidProfile, err)}
	}
	if err := layer.ValidateTree(normalized); err != nil {
		return &Error{Op: "capture", ID: id, Err: fmt.Errorf("%w: %v", ErrInvalidProfile, err)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return &Error{Op: "capture", ID: id, Err: ErrNotFound}
	}
	p.Overrides = normalized
	m.profiles[id] = p
	return nil
}

// Restore replaces every profile and the active id, as when loading from
// disk. Profiles keep their ids. An active id that names no profile is
// dropped.
func (m *Manager) Restore(profiles []Profile, active string) error {
	next := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if p.ID == "" || p.Name == "" {
			return &Error{Op: "restore", ID: p.ID, Err: fmt.Errorf("%w: missing id or name", ErrInvalidProfile)}
		}
		overrides, err := layer.NormalizeMap(p.Overrides)
		if err != nil {
			return &Error{Op: "restore", ID: p.ID, Err: fmt.Errorf("%w: %v", ErrInvalidProfile, err)}
		}
		if err := layer.ValidateTree(overrides); err != nil {
			return &Error{Op: "restore", ID: p.ID, Err: fmt.Errorf("%w: %v", ErrInvalidProfile, err)}
		}
		p = p.Clone()
		p.Overrides = overrides
		next[p.ID] = p
	}
	if _, ok := next[active]; !ok {
		active = ""
	}

	m.mu.Lock()
	m.profiles = next
	m.active = active
	m.mu.Unlock()
	return nil
}
