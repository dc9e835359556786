package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
)

// Predicate reports whether value satisfies a rule.
type Predicate func(value any) bool

// Rule is a single validation rule bound to a configuration key.
//
// A rule is checked against the effective (resolved) value of Field.
// When the value is missing, the rule fails only if Required is set;
// otherwise Check is not called.
type Rule struct {
	Field    string
	Check    Predicate
	Message  string
	Required bool
}

// Required returns a rule that fails when field has no effective value.
func Required(field string) Rule {
	return Rule{Field: field, Required: true, Message: "required setting is missing"}
}

// OneOf returns a rule that accepts only the listed values.
func OneOf(field string, allowed ...any) Rule {
	return Rule{
		Field:   field,
		Check:   Enum(allowed...),
		Message: fmt.Sprintf("value must be one of %v", allowed),
	}
}

// Range returns a rule that accepts numbers in [min, max].
func Range(field string, min, max float64) Rule {
	return Rule{
		Field:   field,
		Check:   Between(min, max),
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}

// Matches returns a rule that accepts strings matching pattern.
// It panics if pattern does not compile, like regexp.MustCompile.
func Matches(field, pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return Rule{
		Field:   field,
		Check:   func(v any) bool { s, ok := v.(string); return ok && re.MatchString(s) },
		Message: fmt.Sprintf("value does not match pattern: %s", pattern),
	}
}

// TypeOf returns a rule that accepts values of a JSON type: "string",
// "number", "integer", "boolean", "array", "object" or "null".
func TypeOf(field, typ string) Rule {
	return Rule{
		Field:   field,
		Check:   IsType(typ),
		Message: "expected " + typ,
	}
}

// Enum returns a predicate accepting only the listed values.
func Enum(allowed ...any) Predicate {
	return func(v any) bool {
		for _, a := range allowed {
			if valuesEqual(v, a) {
				return true
			}
		}
		return false
	}
}

// Between returns a predicate accepting numbers in [min, max].
func Between(min, max float64) Predicate {
	return func(v any) bool {
		f, ok := toFloat64(v)
		return ok && f >= min && f <= max
	}
}

// Length returns a predicate accepting strings and arrays whose length is
// within [min, max]. A negative max means unbounded.
func Length(min, max int) Predicate {
	return func(v any) bool {
		var n int
		switch val := v.(type) {
		case string:
			n = len([]rune(val))
		case []any:
			n = len(val)
		default:
			return false
		}
		return n >= min && (max < 0 || n <= max)
	}
}

// IsType returns a predicate matching a JSON type name.
func IsType(typ string) Predicate {
	return func(v any) bool { return matchesType(v, typ) }
}

// All returns a predicate that passes only when every predicate passes.
func All(preds ...Predicate) Predicate {
	return func(v any) bool {
		for _, p := range preds {
			if p != nil && !p(v) {
				return false
			}
		}
		return true
	}
}

func matchesType(value any, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := toFloat64(value)
		return ok
	case "integer":
		f, ok := toFloat64(value)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		if value == nil {
			return false
		}
		k := reflect.TypeOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// valuesEqual compares values, treating all numeric types as float64.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat64(a); ok {
		fb, ok := toFloat64(b)
		return ok && fa == fb
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

func describe(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > 64 {
		s = s[:61] + "..."
	}
	return strings.TrimSpace(s)
}
