package loader

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/strata/internal/config/layer"
)

// DefaultEnvPrefix is the prefix scanned when none is given.
const DefaultEnvPrefix = "STRATA_"

// EnvLoader loads configuration from environment variables.
//
// STRATA_EDITOR__TAB_SIZE maps to editor.tab_size: a double underscore
// separates key segments. Without a double underscore the first underscore
// splits the section from the setting, so STRATA_UI_FONT_SIZE maps to
// ui.font_size.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "STRATA_")
	mapping map[string]string // Env var -> config path
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "STRATA_").
func NewEnvLoader(prefix string) *EnvLoader {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvLoader{
		prefix:  prefix,
		mapping: make(map[string]string),
		environ: os.Environ,
	}
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string) *EnvLoader {
	l := NewEnvLoader(prefix)
	for env, path := range mapping {
		l.mapping[env] = path
	}
	return l
}

// Load reads environment variables and returns a configuration map.
// Empty string values are treated as valid values, not as unset.
// Variables whose names do not form a valid key are skipped.
func (l *EnvLoader) Load() (map[string]any, error) {
	vars := make(map[string]string)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[name] = value
	}

	flat := make(map[string]any)

	// Explicit mappings first.
	for env, path := range l.mapping {
		if val, ok := vars[env]; ok {
			flat[path] = ParseValue(val)
		}
	}

	for name, value := range vars {
		if !strings.HasPrefix(name, l.prefix) || len(name) == len(l.prefix) {
			continue
		}
		if _, ok := l.mapping[name]; ok {
			continue
		}
		path := l.envToPath(name)
		if layer.ValidateKey(path) != nil {
			continue
		}
		flat[path] = ParseValue(value)
	}

	return normalize(layer.UnflattenMap(flat))
}

// Variables returns the environment variable names Load would consume,
// sorted.
func (l *EnvLoader) Variables() []string {
	var names []string
	for _, kv := range l.environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, mapped := l.mapping[name]; mapped || (strings.HasPrefix(name, l.prefix) && len(name) > len(l.prefix)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	l.mapping[envVar] = configPath
}

// RemoveMapping removes an environment variable mapping.
func (l *EnvLoader) RemoveMapping(envVar string) {
	delete(l.mapping, envVar)
}

// envToPath converts STRATA_EDITOR__TAB_SIZE to editor.tab_size.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))

	if strings.Contains(name, "__") {
		return strings.Join(strings.Split(name, "__"), ".")
	}

	section, setting, ok := strings.Cut(name, "_")
	if !ok {
		return section
	}
	return section + "." + setting
}

// ParseValue converts an environment string into the most specific value:
// bool, integer, float, duration, JSON array or object, or string.
func ParseValue(s string) any {
	if s == "" {
		return s
	}

	lower := strings.ToLower(s)
	if lower == "true" || lower == "yes" || lower == "on" {
		return true
	}
	if lower == "false" || lower == "no" || lower == "off" {
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	// Only treat as float if it contains a decimal point.
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}

// GetEnvOrDefault returns the environment variable value or a default.
func GetEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
