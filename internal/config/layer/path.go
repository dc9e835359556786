package layer

import (
	"fmt"
	"strings"
)

// ValidateKey checks that key is a dotted path of non-empty segments made of
// ASCII letters, digits and underscores.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, ".") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidKey, key)
		}
		for _, c := range seg {
			if !isKeyRune(c) {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, c)
			}
		}
	}
	return nil
}

func isKeyRune(c rune) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// JoinKey joins path segments with dots, skipping empty ones.
func JoinKey(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

// IsParentKey reports whether parent is a strict ancestor of child.
// The empty key is the parent of every key.
func IsParentKey(parent, child string) bool {
	if parent == "" {
		return child != ""
	}
	return len(child) > len(parent) && strings.HasPrefix(child, parent) && child[len(parent)] == '.'
}

// GetByPath retrieves a value from a nested map using a dot-separated path.
// A missing segment yields (nil, false), never an error.
func GetByPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	current := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := m[part]
		if !exists {
			return nil, false
		}
		current = val
	}

	return current, true
}

// SetByPath sets a value in a nested map using a dot-separated path.
// Missing intermediate maps are created. Descending through an existing
// non-map value is refused with ErrPathConflict.
func SetByPath(data map[string]any, path string, value any) error {
	if data == nil {
		return fmt.Errorf("%w: nil map", ErrInvalidKey)
	}

	parts := strings.Split(path, ".")
	current := data
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		next, exists := current[part]
		if !exists {
			m := make(map[string]any)
			current[part] = m
			current = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPathConflict, JoinKey(parts[:i+1]...))
		}
		current = m
	}

	current[parts[len(parts)-1]] = value
	return nil
}

// DeleteByPath removes a value from a nested map using a dot-separated path.
// Parent maps left empty by the removal are pruned so they do not shadow
// lower scopes. Returns the removed value and whether it existed.
func DeleteByPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	return deleteParts(data, strings.Split(path, "."))
}

func deleteParts(current map[string]any, parts []string) (any, bool) {
	key := parts[0]
	if len(parts) == 1 {
		old, exists := current[key]
		if exists {
			delete(current, key)
		}
		return old, exists
	}

	next, ok := current[key].(map[string]any)
	if !ok {
		return nil, false
	}
	old, removed := deleteParts(next, parts[1:])
	if removed && len(next) == 0 {
		delete(current, key)
	}
	return old, removed
}

// ValidateTree checks every key of a nested map with ValidateKey. Keys
// holding empty maps are checked too.
func ValidateTree(data map[string]any) error {
	return validateTree("", data)
}

// ValidateEntry checks key and, when value is a map, every key that storing
// value at key would create.
func ValidateEntry(key string, value any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if nested, ok := value.(map[string]any); ok {
		return validateTree(key, nested)
	}
	return nil
}

func validateTree(prefix string, data map[string]any) error {
	for key, val := range data {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok && len(nested) > 0 {
			if err := validateTree(full, nested); err != nil {
				return err
			}
			continue
		}
		if err := ValidateKey(full); err != nil {
			return err
		}
	}
	return nil
}
