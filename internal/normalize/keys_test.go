package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToLowerDotPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"TARGET", "target"},
		{"PATHS__BASE", "paths.base"},
		{"ADAPTER__PAGES", "adapter.pages"},
		{"PREPROCESS__SOURCE_MAP", "preprocess.source_map"},
		{"A__B__C", "a.b.c"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ToLowerDotPath(tt.input))
		})
	}
}

func TestApplyPrefix(t *testing.T) {
	assert.Equal(t, "adapter.pages", ApplyPrefix("adapter", "pages"))
	assert.Equal(t, "pages", ApplyPrefix("", "pages"))
	assert.Equal(t, "adapter", ApplyPrefix("adapter", ""))
}

func TestTrimPrefix(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		prefix string
		want   string
		ok     bool
	}{
		{"simple", "preprocess.scss", "preprocess", "scss", true},
		{"case preserved in remainder", "Preprocess.sourceMap", "preprocess", "sourceMap", true},
		{"nested remainder", "preprocess.scss.prependData", "preprocess", "scss.prependData", true},
		{"exact key is not a child", "preprocess", "preprocess", "", false},
		{"sibling with shared stem", "preprocessor.x", "preprocess", "", false},
		{"unrelated", "target", "preprocess", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TrimPrefix(tt.key, tt.prefix)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlatten(t *testing.T) {
	out := make(map[string]any)
	Flatten("", map[string]any{
		"paths": map[string]any{"base": "/maze"},
		"preprocess": map[any]any{
			"scss": map[string]any{"prependData": "@use 'vars';"},
		},
		"list": []any{"a", "b"},
	}, nil, out)

	assert.Equal(t, map[string]any{
		"paths.base":                  "/maze",
		"preprocess.scss.prependData": "@use 'vars';",
		"list":                        []any{"a", "b"},
	}, out)
}

func TestFlatten_KeepStopsDescent(t *testing.T) {
	keep := func(key string) bool { return strings.EqualFold(key, "preprocess") }

	out := make(map[string]any)
	Flatten("", map[string]any{
		"Paths": map[string]any{"base": "/maze"},
		"preprocess": map[string]any{
			"scss": map[string]any{},
			"a.b":  1,
		},
		"empty": map[string]any{},
	}, keep, out)

	assert.Equal(t, map[string]any{
		"Paths.base": "/maze",
		"preprocess": map[string]any{
			"scss": map[string]any{},
			"a.b":  1,
		},
	}, out)

	out = make(map[string]any)
	Flatten("", map[string]any{"preprocess": nil}, keep, out)
	assert.Equal(t, map[string]any{"preprocess": nil}, out)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 3, "a": 1, "b": 2}))
}
