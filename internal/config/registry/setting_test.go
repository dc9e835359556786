package registry

import (
	"testing"
)

func TestSettingType_String(t *testing.T) {
	tests := []struct {
		typ  SettingType
		want string
	}{
		{TypeString, "string"},
		{TypeInt, "integer"},
		{TypeFloat, "number"},
		{TypeBool, "boolean"},
		{TypeArray, "array"},
		{TypeObject, "object"},
		{TypeDuration, "duration"},
		{TypeEnum, "enum"},
		{SettingType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("SettingType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestSetting_Rules(t *testing.T) {
	s := Setting{
		Path:     "ui.font_size",
		Type:     TypeInt,
		Required: true,
		Minimum:  MinValue(8),
		Maximum:  MaxValue(48),
	}
	rules, err := s.Rules()
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	// required + type + range
	if len(rules) != 3 {
		t.Fatalf("Rules() returned %d rules, want 3", len(rules))
	}
	for _, r := range rules {
		if r.Field != "ui.font_size" {
			t.Errorf("rule field = %q", r.Field)
		}
	}
	if !rules[0].Required {
		t.Error("first rule should be the required rule")
	}
}

func TestSetting_Validate(t *testing.T) {
	tests := []struct {
		name    string
		setting Setting
		value   any
		wantErr bool
	}{
		{"string ok", Setting{Type: TypeString}, "x", false},
		{"string bad", Setting{Type: TypeString}, float64(1), true},
		{"int ok", Setting{Type: TypeInt}, float64(3), false},
		{"int fraction", Setting{Type: TypeInt}, 3.5, true},
		{"float ok", Setting{Type: TypeFloat}, 3.5, false},
		{"bool bad", Setting{Type: TypeBool}, "true", true},
		{"array ok", Setting{Type: TypeArray}, []any{"a"}, false},
		{"object ok", Setting{Type: TypeObject}, map[string]any{}, false},
		{"duration ok", Setting{Type: TypeDuration}, "5m", false},
		{"duration bad", Setting{Type: TypeDuration}, float64(5), true},
		{"min only", Setting{Type: TypeInt, Minimum: MinValue(0)}, float64(-1), true},
		{"max only", Setting{Type: TypeFloat, Maximum: MaxValue(1)}, 0.5, false},
		{"enum ok", Setting{Type: TypeEnum, Enum: []any{"a", "b"}}, "b", false},
		{"enum bad", Setting{Type: TypeEnum, Enum: []any{"a", "b"}}, "c", true},
		{"pattern ok", Setting{Type: TypeString, Pattern: `^\d+$`}, "123", false},
		{"pattern bad", Setting{Type: TypeString, Pattern: `^\d+$`}, "12a", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setting.Path = "test.value"
			msgs := tt.setting.Validate(tt.value)
			if (len(msgs) > 0) != tt.wantErr {
				t.Errorf("Validate(%v) = %v, wantErr %v", tt.value, msgs, tt.wantErr)
			}
		})
	}
}

func TestMinMaxValue(t *testing.T) {
	if *MinValue(1.5) != 1.5 {
		t.Error("MinValue")
	}
	if *MaxValue(2.5) != 2.5 {
		t.Error("MaxValue")
	}
}
