// Package schema provides rule-based validation for Strata configuration.
//
// Rules are registered in named schemas. Validation always runs against the
// effective configuration, so a USER value overriding a GLOBAL default is
// the one that gets checked.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
)

// Validator evaluates registered rules against configuration data.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string][]Rule
	order   []string // schema names in registration order
	logger  *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used to report misbehaving rules.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewValidator creates a validator with no schemas.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		schemas: make(map[string][]Rule),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RegisterSchema registers rules under name, replacing any previous rules
// with the same name.
func (v *Validator) RegisterSchema(name string, rules []Rule) error {
	if name == "" {
		return fmt.Errorf("%w: empty schema name", ErrInvalidRule)
	}
	for _, r := range rules {
		if err := layer.ValidateKey(r.Field); err != nil {
			return fmt.Errorf("%w: schema %s: %v", ErrInvalidRule, name, err)
		}
		if r.Check == nil && !r.Required {
			return fmt.Errorf("%w: schema %s: rule for %s has no check", ErrInvalidRule, name, r.Field)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.schemas[name]; !exists {
		v.order = append(v.order, name)
	}
	v.schemas[name] = append([]Rule(nil), rules...)
	return nil
}

// UnregisterSchema removes a schema. Returns false if it was not registered.
func (v *Validator) UnregisterSchema(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.schemas[name]; !exists {
		return false
	}
	delete(v.schemas, name)
	for i, n := range v.order {
		if n == name {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

// Schemas returns the registered schema names in registration order.
func (v *Validator) Schemas() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.order...)
}

// RuleCount returns the total number of registered rules.
func (v *Validator) RuleCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for _, rules := range v.schemas {
		n += len(rules)
	}
	return n
}

// Validate checks every registered rule against the effective configuration.
func (v *Validator) Validate(effective map[string]any) *ValidationErrors {
	errs := &ValidationErrors{}
	for _, sr := range v.snapshot() {
		for _, r := range sr.rules {
			val, found := layer.GetByPath(effective, r.Field)
			if verr := v.check(sr.name, r, val, found); verr != nil {
				errs.AddError(verr)
			}
		}
	}
	return errs
}

// ValidateAll validates effective data and returns a report keyed by
// ReportEffective. An empty report means the configuration is valid.
func (v *Validator) ValidateAll(effective map[string]any) Report {
	return NewReport(v.Validate(effective))
}

// CheckValue checks value as a candidate for path. Rules for path see value
// itself. When value is a map, rules for keys below path see the matching
// part of value, if present.
func (v *Validator) CheckValue(path string, value any) []*ValidationError {
	var out []*ValidationError
	prefix := path + "."
	nested, isMap := value.(map[string]any)
	for _, sr := range v.snapshot() {
		for _, r := range sr.rules {
			var (
				val   any
				found bool
			)
			switch {
			case r.Field == path:
				val, found = value, true
			case isMap && strings.HasPrefix(r.Field, prefix):
				val, found = layer.GetByPath(nested, strings.TrimPrefix(r.Field, prefix))
			}
			if !found {
				continue
			}
			if verr := v.check(sr.name, r, val, true); verr != nil {
				out = append(out, verr)
			}
		}
	}
	return out
}

// ValidateValue is CheckValue returning the failure messages.
func (v *Validator) ValidateValue(path string, value any) []string {
	var msgs []string
	for _, verr := range v.CheckValue(path, value) {
		msgs = append(msgs, verr.Error())
	}
	return msgs
}

type schemaRules struct {
	name  string
	rules []Rule
}

func (v *Validator) snapshot() []schemaRules {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]schemaRules, 0, len(v.order))
	for _, name := range v.order {
		out = append(out, schemaRules{name: name, rules: v.schemas[name]})
	}
	return out
}

// check evaluates one rule. A panicking predicate counts as a failure.
func (v *Validator) check(schemaName string, r Rule, value any, found bool) (verr *ValidationError) {
	if !found {
		if !r.Required {
			return nil
		}
		msg := r.Message
		if r.Check != nil || msg == "" {
			msg = "required setting is missing"
		}
		return &ValidationError{Path: r.Field, Message: msg, Schema: schemaName}
	}
	if r.Check == nil {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			v.logger.Warn("validation rule panicked",
				zap.String("schema", schemaName),
				zap.String("field", r.Field),
				zap.Any("panic", p),
			)
			verr = &ValidationError{
				Path:    r.Field,
				Message: fmt.Sprintf("rule failed: %v", p),
				Value:   value,
				Schema:  schemaName,
			}
		}
	}()

	if r.Check(value) {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = "invalid value " + describe(value)
	}
	return &ValidationError{Path: r.Field, Message: msg, Value: value, Schema: schemaName}
}

// ReportEffective is the report key for errors found in the effective configuration.
const ReportEffective = "effective"

// Report maps a scope name, or ReportEffective, to error messages.
type Report map[string][]string

// NewReport builds a report from collected errors.
func NewReport(errs *ValidationErrors) Report {
	r := Report{}
	if errs == nil || !errs.HasErrors() {
		return r
	}
	r[ReportEffective] = errs.Messages()
	return r
}

// OK reports whether the report holds no errors.
func (r Report) OK() bool {
	for _, msgs := range r {
		if len(msgs) > 0 {
			return false
		}
	}
	return true
}

// Count returns the total number of messages.
func (r Report) Count() int {
	n := 0
	for _, msgs := range r {
		n += len(msgs)
	}
	return n
}

// Messages returns every message, prefixed by its section, in stable order.
func (r Report) Messages() []string {
	sections := make([]string, 0, len(r))
	for s := range r {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	var out []string
	for _, s := range sections {
		for _, m := range r[s] {
			out = append(out, s+": "+m)
		}
	}
	return out
}

// Err returns nil for an empty report, otherwise an error listing every
// message.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%d validation errors: %s", r.Count(), strings.Join(r.Messages(), "; "))
}
