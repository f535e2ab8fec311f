package config

import (
	"fmt"
	"strconv"
	"time"
)

// Options is the free-form option bag of a step or entry. Loaders decode
// into plain Go values (string, bool, int/int64/float64, []any,
// map[string]any); the getters coerce between numeric kinds and return def
// when a key is absent or of an unexpected type.
type Options map[string]any

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the string value for key or def. Numbers and booleans are
// formatted.
func (o Options) String(key, def string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Int returns the integer value for key or def.
func (o Options) Int(key string, def int) int {
	return int(o.Int64(key, int64(def)))
}

// Int64 returns the integer value for key or def.
func (o Options) Int64(key string, def int64) int64 {
	switch v := o[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// Duration parses a Go duration string ("5s") or treats a number as
// milliseconds.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	switch v := o[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int, int64, float64:
		return time.Duration(o.Int64(key, 0)) * time.Millisecond
	}
	return def
}

// Strings returns a list of strings for key; non-string items are formatted.
func (o Options) Strings(key string) []string {
	list, ok := o[key].([]any)
	if !ok {
		if ss, ok := o[key].([]string); ok {
			return append([]string(nil), ss...)
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(item))
		}
	}
	return out
}

// StringMap returns the object at key with string values; non-string values
// are formatted.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if m, ok := o[key].(map[string]any); ok {
		for k, v := range m {
			res[k] = Options{"v": v}.String("v", fmt.Sprint(v))
		}
	}
	return res
}

// Object returns the nested object at key.
func (o Options) Object(key string) Options {
	if m, ok := o[key].(map[string]any); ok {
		return Options(m)
	}
	return Options{}
}

// Objects returns the list of nested objects at key, skipping non-objects.
func (o Options) Objects(key string) []Options {
	list, ok := o[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Options, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Options(m))
		}
	}
	return out
}

// Required returns the string at key or an error naming it.
func (o Options) Required(key string) (string, error) {
	s := o.String(key, "")
	if s == "" {
		return "", fmt.Errorf("option %q is required", key)
	}
	return s, nil
}
