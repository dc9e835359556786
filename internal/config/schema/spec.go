package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// RuleSpec is the declarative form of a Rule, as found in rule files and
// scripted plugins. Constraint names follow JSON Schema.
type RuleSpec struct {
	Field     string   `json:"field" yaml:"field"`
	Message   string   `json:"message,omitempty" yaml:"message,omitempty"`
	Required  bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Type      string   `json:"type,omitempty" yaml:"type,omitempty"`
	Enum      []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	MinLength *int     `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// RuleSet is a named group of rule specs.
type RuleSet struct {
	Name  string     `json:"name" yaml:"name"`
	Rules []RuleSpec `json:"rules" yaml:"rules"`
}

// Compile turns the spec into a Rule.
func (s RuleSpec) Compile() (Rule, error) {
	if s.Field == "" {
		return Rule{}, fmt.Errorf("%w: missing field", ErrInvalidRule)
	}

	var preds []Predicate
	var msg string

	if s.Type != "" {
		switch s.Type {
		case "string", "number", "integer", "boolean", "array", "object", "null":
		default:
			return Rule{}, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidRule, s.Field, s.Type)
		}
		preds = append(preds, IsType(s.Type))
		msg = "expected " + s.Type
	}
	if len(s.Enum) > 0 {
		preds = append(preds, Enum(s.Enum...))
		msg = fmt.Sprintf("value must be one of %v", s.Enum)
	}
	if s.Minimum != nil || s.Maximum != nil {
		lo, hi := -1e308, 1e308
		if s.Minimum != nil {
			lo = *s.Minimum
		}
		if s.Maximum != nil {
			hi = *s.Maximum
		}
		preds = append(preds, Between(lo, hi))
		msg = "value is out of range"
	}
	if s.MinLength != nil || s.MaxLength != nil {
		lo, hi := 0, -1
		if s.MinLength != nil {
			lo = *s.MinLength
		}
		if s.MaxLength != nil {
			hi = *s.MaxLength
		}
		preds = append(preds, Length(lo, hi))
		msg = "length is out of range"
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("%w: %s: %v", ErrInvalidRule, s.Field, err)
		}
		preds = append(preds, func(v any) bool {
			str, ok := v.(string)
			return ok && re.MatchString(str)
		})
		msg = "value does not match pattern: " + s.Pattern
	}

	if len(preds) == 0 && !s.Required {
		return Rule{}, fmt.Errorf("%w: %s: no constraints", ErrInvalidRule, s.Field)
	}

	r := Rule{Field: s.Field, Required: s.Required, Message: s.Message}
	if len(preds) > 0 {
		r.Check = All(preds...)
	}
	if r.Message == "" {
		r.Message = msg
		if r.Message == "" {
			r.Message = "required setting is missing"
		}
	}
	return r, nil
}

// Compile compiles every spec in the set.
func (rs RuleSet) Compile() ([]Rule, error) {
	rules := make([]Rule, 0, len(rs.Rules))
	for _, spec := range rs.Rules {
		r, err := spec.Compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ParseRuleSet parses a JSON rule set document.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if rs.Name == "" {
		return RuleSet{}, fmt.Errorf("%w: rule set has no name", ErrInvalidRule)
	}
	return rs, nil
}
