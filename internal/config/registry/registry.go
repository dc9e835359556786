package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/plugin"
	"github.com/dshills/strata/internal/config/schema"
)

// ErrSettingAlreadyRegistered is returned when attempting to register a duplicate setting.
var ErrSettingAlreadyRegistered = errors.New("setting already registered")

// Names of the plugins built from the catalog.
const (
	DefaultsPlugin = "builtin-defaults"
	RulesPlugin    = "builtin-rules"
)

// Registry maintains all known settings definitions.
type Registry struct {
	mu       sync.RWMutex
	settings map[string]*Setting
	sections map[string][]*Setting // Settings grouped by section
}

// New creates a new settings registry.
func New() *Registry {
	return &Registry{
		settings: make(map[string]*Setting),
		sections: make(map[string][]*Setting),
	}
}

// NewWithDefaults creates a registry with the built-in settings.
func NewWithDefaults() *Registry {
	r := New()
	r.RegisterDefaults()
	return r
}

// Register adds a setting definition to the registry.
// Returns an error if a setting with the same path already exists, if the
// path is not a valid key or if the default violates the setting's own
// constraints.
func (r *Registry) Register(setting Setting) error {
	if err := layer.ValidateKey(setting.Path); err != nil {
		return err
	}
	if setting.Default != nil {
		def, err := layer.Normalize(setting.Default)
		if err != nil {
			return fmt.Errorf("setting %s: %w", setting.Path, err)
		}
		if msgs := setting.Validate(def); len(msgs) > 0 {
			return fmt.Errorf("setting %s: default: %s", setting.Path, strings.Join(msgs, "; "))
		}
		setting.Default = def
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.settings[setting.Path]; exists {
		return fmt.Errorf("%w: %s", ErrSettingAlreadyRegistered, setting.Path)
	}

	s := &setting // Copy to heap
	r.settings[setting.Path] = s

	section := extractSection(setting.Path)
	r.sections[section] = append(r.sections[section], s)

	return nil
}

// MustRegister registers a setting and panics on error.
// Useful for registering built-in settings at init time.
func (r *Registry) MustRegister(setting Setting) {
	if err := r.Register(setting); err != nil {
		panic(err)
	}
}

// Get returns the setting definition for the given path.
// Returns nil if the setting is not registered.
func (r *Registry) Get(path string) *Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings[path]
}

// Has checks if a setting is registered.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.settings[path]
	return exists
}

// Len returns the number of registered settings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.settings)
}

// All returns all registered settings sorted by path.
func (r *Registry) All() []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Setting, 0, len(r.settings))
	for _, s := range r.settings {
		result = append(result, s)
	}
	sortByPath(result)
	return result
}

// Section returns all settings in a given section (e.g., "ui").
func (r *Registry) Section(name string) []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settings := r.sections[name]
	result := make([]*Setting, len(settings))
	copy(result, settings)
	sortByPath(result)
	return result
}

// Sections returns all section names.
func (r *Registry) Sections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.sections))
	for section := range r.sections {
		result = append(result, section)
	}
	sort.Strings(result)
	return result
}

// Search finds settings matching a query string.
// Searches path, description, and tags.
func (r *Registry) Search(query string) []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query = strings.ToLower(query)
	var result []*Setting
	for _, s := range r.settings {
		if matchesSetting(s, query) {
			result = append(result, s)
		}
	}
	sortByPath(result)
	return result
}

// ByTag returns all settings with the given tag.
func (r *Registry) ByTag(tag string) []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Setting
	for _, s := range r.settings {
		for _, t := range s.Tags {
			if t == tag {
				result = append(result, s)
				break
			}
		}
	}
	sortByPath(result)
	return result
}

// Deprecated returns all deprecated settings.
func (r *Registry) Deprecated() []*Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Setting
	for _, s := range r.settings {
		if s.Deprecated {
			result = append(result, s)
		}
	}
	sortByPath(result)
	return result
}

// Default returns the default value for a setting.
// Returns nil if the setting is not registered.
func (r *Registry) Default(path string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.settings[path]; ok {
		return layer.CloneValue(s.Default)
	}
	return nil
}

// Defaults returns every default value as a nested map.
func (r *Registry) Defaults() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flat := make(map[string]any, len(r.settings))
	for path, s := range r.settings {
		if s.Default != nil {
			flat[path] = layer.CloneValue(s.Default)
		}
	}
	return layer.UnflattenMap(flat)
}

// Validate checks a value against a registered setting. Unknown settings
// are accepted.
func (r *Registry) Validate(path string, value any) []string {
	r.mu.RLock()
	s, ok := r.settings[path]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	v, err := layer.Normalize(value)
	if err != nil {
		return []string{err.Error()}
	}
	return s.Validate(v)
}

// Rules compiles every setting's constraints.
func (r *Registry) Rules() ([]schema.Rule, error) {
	var rules []schema.Rule
	for _, s := range r.All() {
		rs, err := s.Rules()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rs...)
	}
	return rules, nil
}

// Plugins returns a Provider seeding the defaults into GLOBAL scope and a
// Validator contributing the rules. The validator depends on the provider.
func (r *Registry) Plugins(version string) ([]plugin.Plugin, error) {
	rules, err := r.Rules()
	if err != nil {
		return nil, err
	}
	provider := plugin.NewProvider(plugin.Metadata{
		Name:        DefaultsPlugin,
		Version:     version,
		Description: "Built-in setting defaults",
		Author:      "strata",
	}, r.Defaults())
	validator := plugin.NewValidator(plugin.Metadata{
		Name:         RulesPlugin,
		Version:      version,
		Description:  "Built-in setting constraints",
		Author:       "strata",
		Dependencies: []string{DefaultsPlugin},
	}, rules...)
	return []plugin.Plugin{provider, validator}, nil
}

func sortByPath(settings []*Setting) {
	sort.Slice(settings, func(i, j int) bool {
		return settings[i].Path < settings[j].Path
	})
}

// extractSection extracts the top-level section from a path.
func extractSection(path string) string {
	parts := strings.SplitN(path, ".", 2)
	return parts[0]
}

// matchesSetting checks if a setting matches a search query.
func matchesSetting(s *Setting, query string) bool {
	if strings.Contains(strings.ToLower(s.Path), query) {
		return true
	}
	if strings.Contains(strings.ToLower(s.Description), query) {
		return true
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}
