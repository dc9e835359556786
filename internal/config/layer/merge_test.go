package layer

import (
	"errors"
	"reflect"
	"testing"
)

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name     string
		dst      map[string]any
		src      map[string]any
		expected map[string]any
	}{
		{
			name:     "nil dst",
			dst:      nil,
			src:      map[string]any{"a": 1},
			expected: map[string]any{"a": 1},
		},
		{
			name:     "nil src",
			dst:      map[string]any{"a": 1},
			src:      nil,
			expected: map[string]any{"a": 1},
		},
		{
			name:     "simple merge - no overlap",
			dst:      map[string]any{"a": 1},
			src:      map[string]any{"b": 2},
			expected: map[string]any{"a": 1, "b": 2},
		},
		{
			name:     "src overrides dst",
			dst:      map[string]any{"a": 1},
			src:      map[string]any{"a": 2},
			expected: map[string]any{"a": 2},
		},
		{
			name: "nested merge",
			dst: map[string]any{
				"editor": map[string]any{
					"tabSize": 4,
				},
			},
			src: map[string]any{
				"editor": map[string]any{
					"insertSpaces": true,
				},
			},
			expected: map[string]any{
				"editor": map[string]any{
					"tabSize":      4,
					"insertSpaces": true,
				},
			},
		},
		{
			name: "nested override",
			dst: map[string]any{
				"editor": map[string]any{
					"tabSize": 4,
				},
			},
			src: map[string]any{
				"editor": map[string]any{
					"tabSize": 2,
				},
			},
			expected: map[string]any{
				"editor": map[string]any{
					"tabSize": 2,
				},
			},
		},
		{
			name: "deep nested merge",
			dst: map[string]any{
				"level1": map[string]any{
					"level2": map[string]any{
						"a": 1,
					},
				},
			},
			src: map[string]any{
				"level1": map[string]any{
					"level2": map[string]any{
						"b": 2,
					},
				},
			},
			expected: map[string]any{
				"level1": map[string]any{
					"level2": map[string]any{
						"a": 1,
						"b": 2,
					},
				},
			},
		},
		{
			name: "non-map overwrites map",
			dst: map[string]any{
				"value": map[string]any{"a": 1},
			},
			src: map[string]any{
				"value": "string",
			},
			expected: map[string]any{
				"value": "string",
			},
		},
		{
			name: "map overwrites non-map",
			dst: map[string]any{
				"value": "string",
			},
			src: map[string]any{
				"value": map[string]any{"a": 1},
			},
			expected: map[string]any{
				"value": map[string]any{"a": 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DeepMerge(tt.dst, tt.src)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("DeepMerge() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestGetByPath(t *testing.T) {
	data := map[string]any{
		"editor": map[string]any{
			"tabSize": 4,
			"nested": map[string]any{
				"deep": "value",
			},
		},
		"simple": "string",
	}

	tests := []struct {
		path     string
		expected any
		found    bool
	}{
		{"editor.tabSize", 4, true},
		{"editor.nested.deep", "value", true},
		{"simple", "string", true},
		{"nonexistent", nil, false},
		{"editor.nonexistent", nil, false},
		{"editor.tabSize.invalid", nil, false},
	}

	for _, tt := range tests {
		val, found := GetByPath(data, tt.path)
		if found != tt.found {
			t.Errorf("GetByPath(%q): found = %v, want %v", tt.path, found, tt.found)
		}
		if found && val != tt.expected {
			t.Errorf("GetByPath(%q) = %v, want %v", tt.path, val, tt.expected)
		}
	}
}

func TestGetByPath_NilData(t *testing.T) {
	val, found := GetByPath(nil, "any.path")
	if found {
		t.Error("expected found = false for nil data")
	}
	if val != nil {
		t.Error("expected nil value for nil data")
	}
}

func TestSetByPath(t *testing.T) {
	data := make(map[string]any)

	for path, val := range map[string]any{
		"ui.theme":               "dark",
		"ui.fontSize":            14,
		"audio.volume":           0.5,
		"deep.nested.path.value": "test",
	} {
		if err := SetByPath(data, path, val); err != nil {
			t.Fatalf("SetByPath(%q) error = %v", path, err)
		}
	}

	if val, _ := GetByPath(data, "ui.theme"); val != "dark" {
		t.Errorf("ui.theme = %v, want 'dark'", val)
	}
	if val, _ := GetByPath(data, "ui.fontSize"); val != 14 {
		t.Errorf("ui.fontSize = %v, want 14", val)
	}
	if val, _ := GetByPath(data, "deep.nested.path.value"); val != "test" {
		t.Errorf("deep.nested.path.value = %v, want 'test'", val)
	}
}

func TestSetByPath_Conflict(t *testing.T) {
	data := map[string]any{"ui": "flat"}

	err := SetByPath(data, "ui.theme", "dark")
	if !errors.Is(err, ErrPathConflict) {
		t.Fatalf("SetByPath error = %v, want ErrPathConflict", err)
	}
	if data["ui"] != "flat" {
		t.Errorf("conflicting write modified data: %v", data)
	}
}

func TestDeleteByPath(t *testing.T) {
	data := map[string]any{
		"ui": map[string]any{
			"theme":    "dark",
			"fontSize": 14,
		},
		"audio": map[string]any{
			"volume": 0.5,
		},
	}

	old, ok := DeleteByPath(data, "ui.theme")
	if !ok || old != "dark" {
		t.Errorf("DeleteByPath(ui.theme) = %v, %v; want dark, true", old, ok)
	}
	if _, found := GetByPath(data, "ui.fontSize"); !found {
		t.Error("ui.fontSize should still exist")
	}

	// Removing the last child prunes the parent.
	if _, ok := DeleteByPath(data, "audio.volume"); !ok {
		t.Error("expected audio.volume to be deleted")
	}
	if _, found := data["audio"]; found {
		t.Error("empty parent 'audio' should be pruned")
	}

	if _, ok := DeleteByPath(data, "nonexistent.path"); ok {
		t.Error("expected false for non-existent value")
	}
	if _, ok := DeleteByPath(nil, "any.path"); ok {
		t.Error("expected false for nil data")
	}
}

func TestFlattenMap(t *testing.T) {
	data := map[string]any{
		"ui": map[string]any{
			"theme": "dark",
			"nested": map[string]any{
				"deep": "value",
			},
		},
		"empty":  map[string]any{},
		"simple": "string",
	}

	flattened := FlattenMap(data)

	expected := map[string]any{
		"ui.theme":       "dark",
		"ui.nested.deep": "value",
		"simple":         "string",
	}

	if !reflect.DeepEqual(flattened, expected) {
		t.Errorf("FlattenMap() = %v, want %v", flattened, expected)
	}
}

func TestUnflattenMap(t *testing.T) {
	flattened := map[string]any{
		"ui.theme":     "dark",
		"ui.fontSize":  14,
		"audio.volume": 0.5,
	}

	unflattened := UnflattenMap(flattened)

	if val, _ := GetByPath(unflattened, "ui.theme"); val != "dark" {
		t.Errorf("ui.theme = %v, want 'dark'", val)
	}
	if val, _ := GetByPath(unflattened, "audio.volume"); val != 0.5 {
		t.Errorf("audio.volume = %v, want 0.5", val)
	}
}

func TestDiffMaps(t *testing.T) {
	old := map[string]any{
		"ui": map[string]any{
			"theme":    "light",
			"fontSize": 14,
		},
		"removed": "value",
	}

	new := map[string]any{
		"ui": map[string]any{
			"theme":    "dark",
			"fontSize": 14,
		},
		"added": "new",
	}

	got := DiffMaps(old, new)
	want := []Diff{
		{Key: "added", NewValue: "new"},
		{Key: "removed", OldValue: "value", Existed: true, Removed: true},
		{Key: "ui.theme", OldValue: "light", NewValue: "dark", Existed: true},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("DiffMaps() = %+v, want %+v", got, want)
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		a        any
		b        any
		expected bool
	}{
		{"nil nil", nil, nil, true},
		{"nil non-nil", nil, 1.0, false},
		{"non-nil nil", 1.0, nil, false},
		{"same number", 1.0, 1.0, true},
		{"different number", 1.0, 2.0, false},
		{"same string", "a", "a", true},
		{"different string", "a", "b", false},
		{"same map", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}, true},
		{"different map", map[string]any{"a": 1.0}, map[string]any{"a": 2.0}, false},
		{"same slice", []any{1.0, 2.0}, []any{1.0, 2.0}, true},
		{"different slice", []any{1.0, 2.0}, []any{1.0, 3.0}, false},
		{"different length slice", []any{1.0}, []any{1.0, 2.0}, false},
		{"uncomparable", []string{"a"}, []string{"a"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValuesEqual(tt.a, tt.b)
			if got != tt.expected {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"ui.theme", true},
		{"ui.font_size", true},
		{"plugins.p1.enabled", true},
		{"", false},
		{"ui..theme", false},
		{".ui", false},
		{"ui.", false},
		{"ui.the-me", false},
		{"ui theme", false},
	}

	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateKey(%q) error = %v, want valid=%v", tt.key, err, tt.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) error = %v, want ErrInvalidKey", tt.key, err)
		}
	}
}

func TestValidateEntry(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		valid bool
	}{
		{"scalar", "ui.theme", "dark", true},
		{"nested map", "ui", map[string]any{"theme": "dark", "panel": map[string]any{"width": 3.0}}, true},
		{"empty map", "ui", map[string]any{}, true},
		{"bad key", "ui.the-me", "dark", false},
		{"dash in child", "ui", map[string]any{"bad-key": 1.0}, false},
		{"space in child", "ui", map[string]any{"a b": "x"}, false},
		{"empty child", "ui", map[string]any{"panel": map[string]any{"": true}}, false},
		{"bad key on empty map", "ui", map[string]any{"bad-key": map[string]any{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntry(tt.key, tt.value)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateEntry(%q, %v) error = %v, want valid=%v", tt.key, tt.value, err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error = %v, want ErrInvalidKey", err)
			}
		})
	}

	if err := ValidateTree(map[string]any{"ok": map[string]any{"bad key": map[string]any{}}}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ValidateTree with bad key over empty map = %v", err)
	}
}
