package strategy

import (
	"fmt"
	"time"
)

// Scenario params arrive as YAML-decoded map[string]any; numbers may be
// int or float64 depending on how they were written. These helpers
// normalize access so every constructor validates the same way.

func floatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("param %q: expected number, got %T", key, v)
	}
}

func intParam(params map[string]any, key string, def int) (int, error) {
	f, err := floatParam(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func durationParam(params map[string]any, key string, def time.Duration) (time.Duration, error) {
	// Durations are specified in seconds (fractional allowed), matching the
	// plan format's delay fields.
	f, err := floatParam(params, key, def.Seconds())
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

func stringParam(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q: expected string, got %T", key, v)
	}
	return s, nil
}

func boolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("param %q: expected bool, got %T", key, v)
	}
	return b, nil
}

func stringSliceParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("param %q[%d]: expected string, got %T", key, i, e)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("param %q: expected string list, got %T", key, v)
	}
}

func mapParam(params map[string]any, key string) (map[string]any, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("param %q: expected map, got %T", key, v)
	}
	return m, nil
}
