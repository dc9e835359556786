package layer

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	type section struct {
		Theme string `json:"theme"`
	}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int", 4, 4.0},
		{"uint8", uint8(7), 7.0},
		{"float32", float32(0.5), 0.5},
		{"duration", 2 * time.Second, "2s"},
		{"string slice", []string{"a", "b"}, []any{"a", "b"}},
		{"nested", map[string]any{"a": []any{1, map[string]any{"b": int64(2)}}},
			map[string]any{"a": []any{1.0, map[string]any{"b": 2.0}}}},
		{"struct", section{Theme: "dark"}, map[string]any{"theme": "dark"}},
		{"typed map", map[string]int{"x": 1}, map[string]any{"x": 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Unsupported(t *testing.T) {
	for _, v := range []any{func() {}, make(chan int)} {
		if _, err := Normalize(v); !errors.Is(err, ErrUnsupportedValue) {
			t.Errorf("Normalize(%T) error = %v, want ErrUnsupportedValue", v, err)
		}
	}
}
