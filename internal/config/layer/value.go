package layer

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Normalize converts v into its canonical JSON form: nil, bool, float64,
// string, []any or map[string]any. Stored values are always canonical so
// that an export followed by an import yields equal configuration.
//
// Durations become their string form; other types round-trip through
// encoding/json. Functions, channels and cyclic values are rejected.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case time.Duration:
		return val.String(), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return f, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T: %v", ErrUnsupportedValue, v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %T: %v", ErrUnsupportedValue, v, err)
	}
	return out, nil
}

// NormalizeMap normalizes every value in a nested map.
func NormalizeMap(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	n, err := Normalize(data)
	if err != nil {
		return nil, err
	}
	return n.(map[string]any), nil
}
