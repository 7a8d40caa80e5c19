// Package normalize converts raw source keys into the loader's dot-path form.
package normalize

import (
	"sort"
	"strings"
)

// ToLowerDotPath normalizes an environment-style key.
// Double underscores separate levels; single underscores stay inside a level.
//   - "PATHS__BASE" → "paths.base"
//   - "ADAPTER__PAGES" → "adapter.pages"
//   - "PREPROCESS__SOURCE_MAP" → "preprocess.source_map"
func ToLowerDotPath(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "__", "."))
}

// ApplyPrefix joins prefix and key with a dot, skipping empty parts.
func ApplyPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "." + key
}

// TrimPrefix strips "prefix." from key. It matches the prefix case-insensitively
// and keeps the remainder's original case.
func TrimPrefix(key, prefix string) (string, bool) {
	if len(key) <= len(prefix)+1 || key[len(prefix)] != '.' {
		return "", false
	}
	if !strings.EqualFold(key[:len(prefix)], prefix) {
		return "", false
	}
	return key[len(prefix)+1:], true
}

// Flatten walks nested maps and writes leaf values under dot-joined keys.
// Keys keep their case. Slices and scalars are leaves. When keep reports true
// for a key, its value is written whole instead of being walked, so empty maps
// and keys containing dots survive. keep may be nil.
func Flatten(prefix string, value any, keep func(key string) bool, out map[string]any) {
	if prefix != "" && keep != nil && keep(prefix) {
		out[prefix] = value
		return
	}

	switch v := value.(type) {
	case map[string]any:
		for key, val := range v {
			Flatten(ApplyPrefix(prefix, key), val, keep, out)
		}
	case map[any]any:
		for key, val := range v {
			if ks, ok := key.(string); ok {
				Flatten(ApplyPrefix(prefix, ks), val, keep, out)
			}
		}
	default:
		if prefix != "" {
			out[prefix] = value
		}
	}
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
