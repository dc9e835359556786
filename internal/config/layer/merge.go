package layer

import (
	"reflect"
	"sort"
)

// DeepMerge recursively merges src into dst.
// Values in src override values in dst.
// Maps are merged recursively; other types are replaced.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	if src == nil {
		return dst
	}

	for key, srcVal := range src {
		dstVal, exists := dst[key]
		if !exists {
			dst[key] = CloneValue(srcVal)
			continue
		}

		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dstVal.(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
		} else {
			dst[key] = CloneValue(srcVal)
		}
	}

	return dst
}

// CloneValue creates a deep copy of a configuration value.
func CloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return CloneMap(v)
	case []any:
		return cloneSlice(v)
	default:
		return val
	}
}

// CloneMap creates a deep copy of a map.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = CloneValue(val)
	}
	return dst
}

func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}

	dst := make([]any, len(src))
	for i, val := range src {
		dst[i] = CloneValue(val)
	}
	return dst
}

// FlattenMap flattens a nested map into a single-level map with dot-separated keys.
// Empty nested maps contribute no keys.
func FlattenMap(data map[string]any) map[string]any {
	result := make(map[string]any)
	flattenInto(data, "", result)
	return result
}

func flattenInto(data map[string]any, prefix string, result map[string]any) {
	for key, val := range data {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := val.(map[string]any); ok {
			flattenInto(nested, fullKey, result)
		} else {
			result[fullKey] = val
		}
	}
}

// SortedKeys returns the flattened keys of data in lexical order.
func SortedKeys(data map[string]any) []string {
	flat := FlattenMap(data)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnflattenMap converts a flattened map with dot-separated keys back to nested structure.
// Keys are applied in lexical order; a conflicting scalar is replaced by a map.
func UnflattenMap(data map[string]any) map[string]any {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make(map[string]any)
	for _, path := range keys {
		if err := SetByPath(result, path, CloneValue(data[path])); err != nil {
			forceSet(result, path, CloneValue(data[path]))
		}
	}
	return result
}

// forceSet is SetByPath that overwrites non-map intermediates.
func forceSet(data map[string]any, path string, value any) {
	parts := splitKey(path)
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Diff describes how one key differs between two maps.
type Diff struct {
	Key      string
	OldValue any
	NewValue any
	Existed  bool
	Removed  bool
}

// DiffMaps returns the leaf keys that differ between old and new, sorted by key.
func DiffMaps(old, new map[string]any) []Diff {
	oldFlat := FlattenMap(old)
	newFlat := FlattenMap(new)

	var diffs []Diff
	for key, newVal := range newFlat {
		oldVal, exists := oldFlat[key]
		if exists && ValuesEqual(oldVal, newVal) {
			continue
		}
		diffs = append(diffs, Diff{Key: key, OldValue: oldVal, NewValue: newVal, Existed: exists})
	}
	for key, oldVal := range oldFlat {
		if _, exists := newFlat[key]; !exists {
			diffs = append(diffs, Diff{Key: key, OldValue: oldVal, Existed: true, Removed: true})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Key < diffs[j].Key })
	return diffs
}

// ValuesEqual compares two configuration values for deep equality.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, x := range va {
			y, ok := vb[k]
			if !ok || !ValuesEqual(x, y) {
				return false
			}
		}
		return true
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !ValuesEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func splitKey(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	return append(parts, key[start:])
}
