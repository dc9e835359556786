package config

import (
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"

	"github.com/dshills/strata/internal/config/layer"
)

// GetString returns a string value at the given path.
func (m *Manager) GetString(path string) (string, error) {
	v, ok := m.Get(path)
	if !ok {
		return "", fmt.Errorf("%s: %w", path, ErrSettingNotFound)
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: path, Expected: "string", Actual: typeName(v)}
	}
	return s, nil
}

// GetInt returns an integer value at the given path. Numbers with a
// fractional part are a type error.
func (m *Manager) GetInt(path string) (int, error) {
	v, ok := m.Get(path)
	if !ok {
		return 0, fmt.Errorf("%s: %w", path, ErrSettingNotFound)
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f > math.MaxInt || f < math.MinInt {
		return 0, &TypeError{Path: path, Expected: "int", Actual: typeName(v)}
	}
	return int(f), nil
}

// GetFloat returns a float64 value at the given path.
func (m *Manager) GetFloat(path string) (float64, error) {
	v, ok := m.Get(path)
	if !ok {
		return 0, fmt.Errorf("%s: %w", path, ErrSettingNotFound)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, &TypeError{Path: path, Expected: "float64", Actual: typeName(v)}
	}
	return f, nil
}

// GetBool returns a boolean value at the given path.
func (m *Manager) GetBool(path string) (bool, error) {
	v, ok := m.Get(path)
	if !ok {
		return false, fmt.Errorf("%s: %w", path, ErrSettingNotFound)
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeError{Path: path, Expected: "bool", Actual: typeName(v)}
	}
	return b, nil
}

// GetStringSlice returns a string slice at the given path.
func (m *Manager) GetStringSlice(path string) ([]string, error) {
	v, ok := m.Get(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrSettingNotFound)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, &TypeError{Path: path, Expected: "[]string", Actual: typeName(v)}
	}
	result := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &TypeError{Path: path, Expected: "[]string", Actual: typeName(v)}
		}
		result[i] = s
	}
	return result, nil
}

// Decode decodes the effective value at key into out, which must be a
// pointer. An empty key decodes the whole effective configuration. Struct
// fields are matched by their `config` tag or, failing that, by name.
// Strings are converted to durations and to types implementing
// encoding.TextUnmarshaler.
func (m *Manager) Decode(key string, out any) error {
	merged := m.Merged()
	var input any = merged
	if key != "" {
		v, ok := layer.GetByPath(merged, key)
		if !ok {
			return fmt.Errorf("%s: %w", key, ErrSettingNotFound)
		}
		input = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
