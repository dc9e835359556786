// Package layer provides scoped configuration storage and resolution for Strata.
//
// Configuration values live in four fixed scopes. Higher scopes override
// lower scopes when a key is resolved:
//
//	TEMPORARY  ← highest priority
//	SESSION
//	USER
//	GLOBAL     ← lowest priority
//
// Keys are identical across scopes; only the values differ.
package layer

import (
	"fmt"
	"strings"
)

// Scope identifies a priority-ordered configuration namespace.
type Scope uint8

const (
	// ScopeGlobal holds defaults and provider-seeded values.
	ScopeGlobal Scope = iota
	// ScopeUser holds user preferences. Profiles capture and replace this scope.
	ScopeUser
	// ScopeSession holds overrides for the lifetime of the process.
	ScopeSession
	// ScopeTemporary holds short-lived overrides and wins over everything else.
	ScopeTemporary

	scopeCount = int(ScopeTemporary) + 1
)

// Scopes lists all scopes from lowest to highest priority.
var Scopes = []Scope{ScopeGlobal, ScopeUser, ScopeSession, ScopeTemporary}

// PersistedScopes lists the scopes written to durable storage.
var PersistedScopes = []Scope{ScopeGlobal, ScopeUser}

// String returns the lower-case scope name used in persisted documents.
func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeUser:
		return "user"
	case ScopeSession:
		return "session"
	case ScopeTemporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the four defined scopes.
func (s Scope) Valid() bool {
	return int(s) < scopeCount
}

// Priority returns the resolution priority (higher overrides lower).
func (s Scope) Priority() int {
	return int(s)
}

// Persisted reports whether values in s are written by save and export.
func (s Scope) Persisted() bool {
	return s == ScopeGlobal || s == ScopeUser
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scope %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(text []byte) error {
	parsed, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseScope parses a scope name case-insensitively.
func ParseScope(name string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "global":
		return ScopeGlobal, nil
	case "user":
		return ScopeUser, nil
	case "session":
		return ScopeSession, nil
	case "temporary", "temp":
		return ScopeTemporary, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScope, name)
	}
}
