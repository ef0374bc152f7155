// Package rawmap reads values out of free-form broker payloads. Broker
// events arrive as deeply nested JSON objects whose shape drifts between
// Baileys versions; every accessor here tolerates missing or mistyped
// nodes and returns the zero value instead.
package rawmap

import (
	"strconv"
	"strings"
	"time"
)

// Map returns the nested object at key, or nil.
func Map(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

// Dig walks a key path and returns the object at the end, or nil.
func Dig(m map[string]any, path ...string) map[string]any {
	for _, key := range path {
		m = Map(m, key)
		if m == nil {
			return nil
		}
	}
	return m
}

// String returns the trimmed string at key, or "".
func String(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// FirstString returns the first non-empty string among the given keys.
func FirstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := String(m, key); s != "" {
			return s
		}
	}
	return ""
}

// Bool returns the boolean at key. String forms "true"/"1" count as true.
func Bool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	}
	return false
}

// Int64 returns the integer at key, accepting JSON numbers and numeric
// strings (Baileys serializes uint64 lengths as strings).
func Int64(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// Slice returns the array at key, or nil.
func Slice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	child, _ := m[key].([]any)
	return child
}

// Maps returns the array at key filtered down to its object entries.
func Maps(m map[string]any, key string) []map[string]any {
	raw := Slice(m, key)
	if raw == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if em, ok := entry.(map[string]any); ok {
			out = append(out, em)
		}
	}
	return out
}

// Strings returns the array at key coerced to strings, dropping
// non-string entries.
func Strings(m map[string]any, key string) []string {
	raw := Slice(m, key)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Time parses the value at key as RFC3339, unix seconds or unix millis.
func Time(m map[string]any, key string) time.Time {
	if m == nil {
		return time.Time{}
	}
	switch v := m[key].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return fromUnix(n)
		}
	case float64:
		return fromUnix(int64(v))
	case int64:
		return fromUnix(v)
	}
	return time.Time{}
}

func fromUnix(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	// Values beyond the year ~5000 in seconds are treated as millis.
	if n > 1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
