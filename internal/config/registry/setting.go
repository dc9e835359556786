// Package registry provides the catalog of settings Strata knows about.
//
// The catalog records each setting's type, default and constraints. It
// feeds the engine through two plugins: a Provider that seeds the defaults
// into GLOBAL scope and a Validator that turns the constraints into rules.
package registry

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/dshills/strata/internal/config/schema"
)

// Setting defines a configuration setting with its metadata.
type Setting struct {
	// Path is the dot-separated key (e.g., "ui.theme").
	Path string

	// Type is the setting's data type.
	Type SettingType

	// Default is the default value. Nil means no default is seeded.
	Default any

	// Description is human-readable documentation.
	Description string

	// Required marks settings that must always resolve to a value.
	Required bool

	// Enum lists allowed values.
	Enum []any

	// Minimum for numeric types (nil means no minimum).
	Minimum *float64

	// Maximum for numeric types (nil means no maximum).
	Maximum *float64

	// Pattern for string validation (regex).
	Pattern string

	// Deprecated marks settings that should be migrated.
	Deprecated        bool
	DeprecatedMessage string
	ReplacedBy        string

	// Tags for filtering/grouping settings.
	Tags []string
}

// Rules compiles the setting's constraints into validation rules.
func (s *Setting) Rules() ([]schema.Rule, error) {
	var rules []schema.Rule
	if s.Required {
		rules = append(rules, schema.Required(s.Path))
	}

	if check := s.Type.predicate(); check != nil {
		rules = append(rules, schema.Rule{
			Field:   s.Path,
			Check:   check,
			Message: "expected " + s.Type.String(),
		})
	}

	if len(s.Enum) > 0 {
		rules = append(rules, schema.OneOf(s.Path, s.Enum...))
	}

	if s.Minimum != nil || s.Maximum != nil {
		lo, hi := math.Inf(-1), math.Inf(1)
		if s.Minimum != nil {
			lo = *s.Minimum
		}
		if s.Maximum != nil {
			hi = *s.Maximum
		}
		rules = append(rules, schema.Rule{
			Field:   s.Path,
			Check:   schema.Between(lo, hi),
			Message: rangeMessage(s.Minimum, s.Maximum),
		})
	}

	if s.Pattern != "" {
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", schema.ErrInvalidRule, s.Path, err)
		}
		rules = append(rules, schema.Matches(s.Path, s.Pattern))
	}
	return rules, nil
}

// Validate checks a normalized value against the setting. It returns the
// messages of every failing rule.
func (s *Setting) Validate(value any) []string {
	rules, err := s.Rules()
	if err != nil {
		return []string{err.Error()}
	}
	var msgs []string
	for _, r := range rules {
		if r.Check != nil && !r.Check(value) {
			msgs = append(msgs, r.Message)
		}
	}
	return msgs
}

func rangeMessage(lo, hi *float64) string {
	switch {
	case lo != nil && hi != nil:
		return fmt.Sprintf("value must be between %v and %v", *lo, *hi)
	case lo != nil:
		return fmt.Sprintf("value must be at least %v", *lo)
	default:
		return fmt.Sprintf("value must be at most %v", *hi)
	}
}

// SettingType represents the data type of a setting.
type SettingType uint8

const (
	// TypeString represents a string value.
	TypeString SettingType = iota
	// TypeInt represents an integer value.
	TypeInt
	// TypeFloat represents a floating-point value.
	TypeFloat
	// TypeBool represents a boolean value.
	TypeBool
	// TypeArray represents an array value.
	TypeArray
	// TypeObject represents an object/map value.
	TypeObject
	// TypeDuration represents a duration written as a string ("1h30m").
	TypeDuration
	// TypeEnum represents a value from a fixed set.
	TypeEnum
)

// String returns the string representation of the type.
func (t SettingType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeDuration:
		return "duration"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// predicate returns the type check for t. Enum membership is checked by
// its own rule.
func (t SettingType) predicate() schema.Predicate {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeArray, TypeObject:
		return schema.IsType(t.String())
	case TypeDuration:
		return func(v any) bool {
			s, ok := v.(string)
			if !ok {
				return false
			}
			_, err := time.ParseDuration(s)
			return err == nil
		}
	default:
		return nil
	}
}

// MinValue creates a pointer to a float64 for use as Minimum.
func MinValue(v float64) *float64 {
	return &v
}

// MaxValue creates a pointer to a float64 for use as Maximum.
func MaxValue(v float64) *float64 {
	return &v
}
