package luaplugin

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// toGo converts a Lua value into a canonical Go value: nil, bool, float64,
// string, []any or map[string]any. Functions, userdata and cyclic tables
// are rejected.
func toGo(lv lua.LValue) (any, error) {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) (any, error) {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		if visited[v] {
			return nil, fmt.Errorf("cyclic table")
		}
		visited[v] = true
		defer delete(visited, v)
		return tableToGo(v, visited)
	default:
		return nil, fmt.Errorf("cannot convert lua %s", lv.Type())
	}
}

// tableToGo converts a table with keys 1..n into a slice and any other
// table into a map. The empty table becomes an empty map.
func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) (any, error) {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && count == n {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			v, err := toGoVisited(t.RawGetInt(i), visited)
			if err != nil {
				return nil, err
			}
			arr[i-1] = v
		}
		return arr, nil
	}

	m := make(map[string]any, count)
	var convErr error
	t.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("table key %s is not a string", k.String())
			return
		}
		gv, err := toGoVisited(v, visited)
		if err != nil {
			convErr = err
			return
		}
		m[string(key)] = gv
	})
	if convErr != nil {
		return nil, convErr
	}
	return m, nil
}

// toLua converts a canonical Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, val[k]))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	case lua.LValue:
		return val
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
