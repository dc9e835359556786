package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrSettingNotFound indicates the setting path doesn't exist.
	ErrSettingNotFound = errors.New("setting not found")

	// ErrTypeMismatch indicates the value type doesn't match the expected type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrValidationFailed indicates the configuration fails schema validation.
	ErrValidationFailed = errors.New("validation failed")

	// ErrNoPath indicates a persistence operation without a file path.
	ErrNoPath = errors.New("no configuration path")

	// ErrClosed indicates use of a manager after Close.
	ErrClosed = errors.New("configuration manager closed")

	// ErrMigrationFailed indicates a migration step failed.
	ErrMigrationFailed = errors.New("migration failed")

	// ErrNotPersisted indicates a committed write whose save failed.
	ErrNotPersisted = errors.New("change applied but not saved")
)

// TypeError is returned when a type conversion fails.
type TypeError struct {
	// Path is the setting path.
	Path string
	// Expected is the expected type name.
	Expected string
	// Actual is the actual type name.
	Actual string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("type error for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Is implements error matching for TypeError.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// MigrationError reports the step that aborted a migration. The
// configuration is left as it was before the migration started.
type MigrationError struct {
	From        Version
	To          Version
	Description string
	Err         error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("migration %s -> %s (%s): %v", e.From, e.To, e.Description, e.Err)
	}
	return fmt.Sprintf("migration %s -> %s: %v", e.From, e.To, e.Err)
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Is implements error matching for MigrationError.
func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationFailed
}

// typeName returns the type name for error messages.
func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	switch v.(type) {
	case string:
		return "string"
	case int, int64:
		return "int"
	case float64:
		return "float64"
	case bool:
		return "bool"
	case []string:
		return "[]string"
	case []any:
		return "[]any"
	case map[string]any:
		return "map"
	default:
		return "unknown"
	}
}
