package config

import (
	"fmt"
	"strconv"
	"strings"
)

// AsString converts a config value to a string. nil yields def.
func AsString(v any, def string) string {
	switch s := v.(type) {
	case nil:
		return def
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// AsBool converts bools, numbers (non-zero is true) and strconv.ParseBool
// strings. Anything else yields def.
func AsBool(v any, def bool) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def
		}
		return parsed
	}
	if n, ok := asInt64(v); ok {
		return n != 0
	}
	return def
}

// AsInt64 converts numbers and numeric strings. Anything else yields def.
func AsInt64(v any, def int64) int64 {
	if n, ok := asInt64(v); ok {
		return n
	}
	if s, ok := v.(string); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// AsStrings converts lists and comma separated strings. An empty string
// yields def.
func AsStrings(v any, def []string) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if strings.TrimSpace(l) == "" {
			return def
		}
		parts := strings.Split(l, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return def
}
