// Package plugin registers configuration plugins and runs their hooks.
//
// A plugin declares one Kind in its Metadata and implements the matching
// interface: Provider, Validator, Transformer or Listener. The kind is read
// once at registration and dispatched with a type switch.
package plugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/schema"
)

// Plugin registry errors.
var (
	// ErrPluginNotFound is returned when a plugin is not registered.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered is returned when a plugin name is taken.
	ErrAlreadyRegistered = errors.New("plugin is already registered")

	// ErrInvalidPlugin is returned when plugin validation fails.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrMissingDependency is matched by DependencyError on registration.
	ErrMissingDependency = errors.New("plugin dependency not found")

	// ErrHasDependents is matched by DependencyError on unregistration.
	ErrHasDependents = errors.New("plugin is required by other plugins")
)

// Kind is the plugin type.
type Kind uint8

// Plugin kinds.
const (
	// KindProvider supplies GLOBAL-scope defaults.
	KindProvider Kind = iota + 1
	// KindValidator contributes validation rules.
	KindValidator
	// KindTransformer rewrites values before they are stored.
	KindTransformer
	// KindListener receives change notifications.
	KindListener
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindProvider:
		return "provider"
	case KindValidator:
		return "validator"
	case KindTransformer:
		return "transformer"
	case KindListener:
		return "listener"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "provider":
		return KindProvider, nil
	case "validator":
		return KindValidator, nil
	case "transformer":
		return KindTransformer, nil
	case "listener":
		return KindListener, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidPlugin, s)
	}
}

// Metadata describes a plugin.
type Metadata struct {
	Name         string
	Version      string
	Description  string
	Author       string
	Kind         Kind
	Dependencies []string
}

// Validate checks that the metadata is complete.
func (m Metadata) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPlugin)
	}
	if m.Kind.String() == "unknown" {
		return fmt.Errorf("%w: %s: unknown kind %d", ErrInvalidPlugin, m.Name, m.Kind)
	}
	for _, dep := range m.Dependencies {
		if dep == m.Name {
			return fmt.Errorf("%w: %s depends on itself", ErrInvalidPlugin, m.Name)
		}
	}
	return nil
}

// Plugin is implemented by every plugin.
type Plugin interface {
	Metadata() Metadata
}

// Initializer is implemented by plugins that need the host at registration.
type Initializer interface {
	Init(host Host) error
}

// Shutdowner is implemented by plugins that release resources on removal.
type Shutdowner interface {
	Shutdown() error
}

// Provider supplies key/value pairs seeded into GLOBAL scope.
type Provider interface {
	Plugin
	Defaults() (map[string]any, error)
}

// Validator contributes validation rules.
type Validator interface {
	Plugin
	Rules() ([]schema.Rule, error)
}

// Transformer rewrites a value during a write, before it is stored.
// Transformers run while the write lock is held and must not write
// configuration.
type Transformer interface {
	Plugin
	Transform(key string, scope layer.Scope, value any) (any, error)
}

// Listener receives committed changes. Listeners may read configuration
// but must not write it synchronously.
type Listener interface {
	Plugin
	OnChange(change notify.Change)
}

// Host is the plugin's view of the configuration manager.
type Host interface {
	Get(key string) (any, bool)
	SetIn(scope layer.Scope, key string, value any) error
}

// Hooks applies and reverts plugin effects on the configuration manager.
type Hooks interface {
	SeedDefaults(plugin string, defaults map[string]any) error
	RemoveDefaults(plugin string)
	AddRules(plugin string, rules []schema.Rule) error
	RemoveRules(plugin string)
	AddListener(plugin string, fn notify.Listener) notify.ListenerID
	RemoveListener(id notify.ListenerID)
}

// DependencyError reports unmet or blocking plugin dependencies.
type DependencyError struct {
	Plugin string
	// Missing lists dependencies that are not registered and active.
	Missing []string
	// Dependents lists registered plugins that depend on Plugin.
	Dependents []string
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("plugin %q: missing dependencies: %s", e.Plugin, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("plugin %q is required by: %s", e.Plugin, strings.Join(e.Dependents, ", "))
}

// Unwrap returns ErrMissingDependency or ErrHasDependents.
func (e *DependencyError) Unwrap() error {
	if len(e.Missing) > 0 {
		return ErrMissingDependency
	}
	return ErrHasDependents
}

// State represents the lifecycle state of a registered plugin.
type State int

// Plugin states.
const (
	// StateLoading - Plugin hooks are being applied.
	StateLoading State = iota

	// StateActive - Plugin is registered and dispatched to.
	StateActive

	// StateFailed - A hook failed; the plugin is excluded from dispatch.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status reports a registered plugin's metadata and state.
type Status struct {
	Metadata Metadata
	State    State
	Err      error
}
