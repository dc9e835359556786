// Package luaplugin loads configuration plugins written in Lua.
//
// A script declares a global "plugin" table and defines the function for
// its kind:
//
//	plugin = { name = "upper", version = "1.0.0", kind = "transformer" }
//
//	function transform(key, scope, value)
//	  if type(value) == "string" then return string.upper(value) end
//	  return value
//	end
//
// Providers define defaults(), validators define rules() returning a list
// of rule tables (field, type, enum, minimum, maximum, pattern, required,
// message), and listeners define on_change(change). Optional init() and
// shutdown() run on registration and removal. Scripts can read
// configuration with strata.get(key) and log with strata.log(msg).
//
// Scripts run in a sandbox without io, os, debug or module loading.
package luaplugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/plugin"
	"github.com/dshills/strata/internal/config/schema"
)

// Function names looked up in scripts.
const (
	fnDefaults  = "defaults"
	fnRules     = "rules"
	fnTransform = "transform"
	fnOnChange  = "on_change"
	fnInit      = "init"
	fnShutdown  = "shutdown"
)

var kindFuncs = map[plugin.Kind]string{
	plugin.KindProvider:    fnDefaults,
	plugin.KindValidator:   fnRules,
	plugin.KindTransformer: fnTransform,
	plugin.KindListener:    fnOnChange,
}

// Option configures a script plugin.
type Option func(*Script)

// WithLogger sets the logger used by strata.log.
func WithLogger(l *zap.Logger) Option {
	return func(s *Script) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCallTimeout bounds each call into the script.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Script) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Script is a loaded Lua plugin.
type Script struct {
	meta    plugin.Metadata
	source  string
	state   *state
	host    plugin.Host
	logger  *zap.Logger
	timeout time.Duration
}

// LoadFile loads a script plugin from path.
func LoadFile(path string, opts ...Option) (plugin.Plugin, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plugin %s: %w", path, err)
	}
	return Load(filepath.Base(path), string(code), opts...)
}

// LoadDir loads every .lua file in dir, sorted by name.
func LoadDir(dir string, opts ...Option) ([]plugin.Plugin, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, err
	}
	plugins := make([]plugin.Plugin, 0, len(matches))
	for _, path := range matches {
		p, err := LoadFile(path, opts...)
		if err != nil {
			for _, loaded := range plugins {
				Close(loaded)
			}
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// Load compiles code and returns a plugin of the kind the script declares.
func Load(name, code string, opts ...Option) (plugin.Plugin, error) {
	s := &Script{
		source:  name,
		logger:  zap.NewNop(),
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = newState(s.timeout)
	s.installAPI()

	if err := s.state.doString(name, code); err != nil {
		s.state.close()
		return nil, fmt.Errorf("%w: %s: %v", plugin.ErrInvalidPlugin, name, err)
	}

	meta, err := s.readMetadata()
	if err != nil {
		s.state.close()
		return nil, fmt.Errorf("%w: %s: %v", plugin.ErrInvalidPlugin, name, err)
	}
	if fn := kindFuncs[meta.Kind]; !s.state.hasFunc(fn) {
		s.state.close()
		return nil, fmt.Errorf("%w: %s: %s plugin must define %s()", plugin.ErrInvalidPlugin, name, meta.Kind, fn)
	}
	s.meta = meta
	s.logger = s.logger.With(zap.String("plugin", meta.Name))

	switch meta.Kind {
	case plugin.KindProvider:
		return &providerScript{s}, nil
	case plugin.KindValidator:
		return &validatorScript{s}, nil
	case plugin.KindTransformer:
		return &transformerScript{s}, nil
	default:
		return &listenerScript{s}, nil
	}
}

// Close releases the Lua state of a plugin returned by Load. It is a no-op
// for other plugins.
func Close(p plugin.Plugin) {
	if sp, ok := p.(interface{ script() *Script }); ok {
		sp.script().state.close()
	}
}

type metadataTable struct {
	Name         string   `mapstructure:"name"`
	Version      string   `mapstructure:"version"`
	Description  string   `mapstructure:"description"`
	Author       string   `mapstructure:"author"`
	Kind         string   `mapstructure:"kind"`
	Dependencies []string `mapstructure:"dependencies"`
}

func (s *Script) readMetadata() (plugin.Metadata, error) {
	raw, err := s.state.global("plugin")
	if err != nil {
		return plugin.Metadata{}, err
	}
	table, ok := raw.(map[string]any)
	if !ok {
		return plugin.Metadata{}, fmt.Errorf("missing plugin table")
	}

	var mt metadataTable
	if err := mapstructure.Decode(table, &mt); err != nil {
		return plugin.Metadata{}, fmt.Errorf("plugin table: %w", err)
	}
	kind, err := plugin.ParseKind(mt.Kind)
	if err != nil {
		return plugin.Metadata{}, err
	}
	meta := plugin.Metadata{
		Name:         mt.Name,
		Version:      mt.Version,
		Description:  mt.Description,
		Author:       mt.Author,
		Kind:         kind,
		Dependencies: mt.Dependencies,
	}
	return meta, meta.Validate()
}

// installAPI exposes the strata module to the script.
func (s *Script) installAPI() {
	s.state.registerModule("strata", map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			key := L.CheckString(1)
			if s.host == nil {
				L.Push(lua.LNil)
				return 1
			}
			v, ok := s.host.Get(key)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, v))
			return 1
		},
		"log": func(L *lua.LState) int {
			parts := make([]string, 0, L.GetTop())
			for i := 1; i <= L.GetTop(); i++ {
				parts = append(parts, L.Get(i).String())
			}
			s.logger.Info(strings.Join(parts, " "))
			return 0
		},
	})
}

func (s *Script) script() *Script { return s }

// Metadata implements plugin.Plugin.
func (s *Script) Metadata() plugin.Metadata { return s.meta }

// Init implements plugin.Initializer.
func (s *Script) Init(host plugin.Host) error {
	s.host = host
	if !s.state.hasFunc(fnInit) {
		return nil
	}
	_, err := s.state.call(fnInit)
	return err
}

// Shutdown implements plugin.Shutdowner and closes the Lua state.
func (s *Script) Shutdown() error {
	defer s.state.close()
	if !s.state.hasFunc(fnShutdown) {
		return nil
	}
	_, err := s.state.call(fnShutdown)
	return err
}

type providerScript struct{ *Script }

func (p *providerScript) Defaults() (map[string]any, error) {
	v, err := p.state.call(fnDefaults)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("defaults() must return a table of settings, got %T", v)
	}
	return m, nil
}

type validatorScript struct{ *Script }

func (p *validatorScript) Rules() ([]schema.Rule, error) {
	v, err := p.state.call(fnRules)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("rules() must return a list, got %T", v)
	}

	rules := make([]schema.Rule, 0, len(list))
	for i, item := range list {
		var spec schema.RuleSpec
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           &spec,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(item); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rule, err := spec.Compile()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type transformerScript struct{ *Script }

func (p *transformerScript) Transform(key string, scope layer.Scope, value any) (any, error) {
	return p.state.call(fnTransform, key, scope.String(), value)
}

type listenerScript struct{ *Script }

func (p *listenerScript) OnChange(c notify.Change) {
	change := map[string]any{
		"key":    c.Key,
		"scope":  c.Scope.String(),
		"type":   c.Type.String(),
		"old":    c.OldValue,
		"new":    c.NewValue,
		"source": c.Source,
	}
	if _, err := p.state.call(fnOnChange, change); err != nil {
		// Panic so the registry marks the plugin failed.
		panic(err)
	}
}
