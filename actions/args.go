package actions

import (
	"fmt"
	"strings"

	"github.com/bt-bridge/realtime-assistant/shared"
)

// Args are the decoded, schema-checked arguments of one function call.
type Args map[string]any

// String returns the trimmed string at key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

// Require is String for mandatory arguments.
func (a Args) Require(key string) (string, error) {
	s := a.String(key)
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", shared.ErrInvalidArguments, key)
	}
	return s, nil
}

func (a Args) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// Strings returns the non-empty strings of an array argument. A single
// string is treated as a one-element list.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

// Int returns a numeric argument truncated to an int, or def.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// StringMap returns an object argument with its non-string values
// formatted.
func (a Args) StringMap(key string) map[string]string {
	m, ok := a[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
