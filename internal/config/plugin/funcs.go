package plugin

import (
	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/schema"
)

type base struct {
	meta Metadata
}

func (b base) Metadata() Metadata { return b.meta }

type staticProvider struct {
	base
	defaults map[string]any
}

func (p staticProvider) Defaults() (map[string]any, error) {
	return layer.CloneMap(p.defaults), nil
}

// NewProvider returns a Provider plugin seeding defaults.
func NewProvider(meta Metadata, defaults map[string]any) Provider {
	meta.Kind = KindProvider
	return staticProvider{base: base{meta}, defaults: layer.CloneMap(defaults)}
}

type staticValidator struct {
	base
	rules []schema.Rule
}

func (v staticValidator) Rules() ([]schema.Rule, error) {
	return append([]schema.Rule(nil), v.rules...), nil
}

// NewValidator returns a Validator plugin contributing rules.
func NewValidator(meta Metadata, rules ...schema.Rule) Validator {
	meta.Kind = KindValidator
	return staticValidator{base: base{meta}, rules: rules}
}

// TransformFunc rewrites a value during a write.
type TransformFunc func(key string, scope layer.Scope, value any) (any, error)

type funcTransformer struct {
	base
	fn TransformFunc
}

func (t funcTransformer) Transform(key string, scope layer.Scope, value any) (any, error) {
	return t.fn(key, scope, value)
}

// NewTransformer returns a Transformer plugin calling fn.
func NewTransformer(meta Metadata, fn TransformFunc) Transformer {
	meta.Kind = KindTransformer
	return funcTransformer{base: base{meta}, fn: fn}
}

type funcListener struct {
	base
	fn notify.Listener
}

func (l funcListener) OnChange(c notify.Change) { l.fn(c) }

// NewListener returns a Listener plugin calling fn.
func NewListener(meta Metadata, fn notify.Listener) Listener {
	meta.Kind = KindListener
	return funcListener{base: base{meta}, fn: fn}
}
