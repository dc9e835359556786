package luaplugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds each call into a script.
const DefaultCallTimeout = 2 * time.Second

// ErrStateClosed is returned when calling into a closed script.
var ErrStateClosed = errors.New("lua state is closed")

// state wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe; every access goes through mu.
type state struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	closed  bool
}

func newState(timeout time.Duration) *state {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	return &state{L: L, timeout: timeout}
}

// openSafeLibraries opens only side-effect free standard libraries and
// removes the loaders that can read files or compile strings.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// doString runs a script chunk.
func (s *state) doString(name, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.withTimeout(func() error {
		fn, err := s.L.Load(strings.NewReader(code), name)
		if err != nil {
			return err
		}
		s.L.Push(fn)
		return s.L.PCall(0, lua.MultRet, nil)
	})
}

// hasFunc reports whether a global function is defined.
func (s *state) hasFunc(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// global returns a global value converted to Go.
func (s *state) global(name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStateClosed
	}
	return toGo(s.L.GetGlobal(name))
}

// call calls a global function with Go arguments and returns its first
// result converted to Go.
func (s *state) call(fn string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("function %q not found", fn)
	}

	stackTop := s.L.GetTop()
	var result any
	err := s.withTimeout(func() error {
		s.L.Push(fnVal)
		for _, arg := range args {
			s.L.Push(toLua(s.L, arg))
		}
		if err := s.L.PCall(len(args), 1, nil); err != nil {
			return err
		}
		ret := s.L.Get(-1)
		s.L.Pop(1)
		var err error
		result, err = toGo(ret)
		return err
	})
	s.L.SetTop(stackTop)
	return result, err
}

// withTimeout runs fn with the call timeout installed as the state context.
func (s *state) withTimeout(fn func() error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	if err := fn(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return err
	}
	return nil
}

func (s *state) register(name string, fn lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.L.SetGlobal(name, s.L.NewFunction(fn))
	}
}

func (s *state) registerModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.L.SetGlobal(name, s.L.SetFuncs(s.L.NewTable(), funcs))
	}
}

func (s *state) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.L.Close()
		s.closed = true
	}
}
