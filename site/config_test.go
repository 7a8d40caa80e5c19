package site

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azhovan/buildconf"
)

func TestMain(m *testing.M) {
	// keep host overrides out of the tests
	for _, kv := range os.Environ() {
		if strings.HasPrefix(strings.ToUpper(kv), DefaultEnvPrefix) {
			name, _, _ := strings.Cut(kv, "=")
			if err := os.Unsetenv(name); err != nil {
				panic("failed to unset env: " + err.Error())
			}
		}
	}
	os.Exit(m.Run())
}

func TestGetConfiguration_Literal(t *testing.T) {
	cfg := GetConfiguration()

	assert.Equal(t, "body", cfg.Target)
	assert.Equal(t, "/maze", cfg.BasePath)
	assert.Equal(t, "build", cfg.Adapter.Pages)
	assert.Equal(t, "build", cfg.Adapter.Assets)
	_, hasFallback := cfg.FallbackRoute()
	assert.False(t, hasFallback)
	assert.NotNil(t, cfg.Preprocess)
	assert.Empty(t, cfg.Preprocess)
}

func TestGetConfiguration_Deterministic(t *testing.T) {
	first := GetConfiguration()
	first.Preprocess["mutated"] = true

	second := GetConfiguration()
	third := GetConfiguration()

	assert.Empty(t, second.Preprocess, "callers cannot change what later calls return")
	if diff := cmp.Diff(second, third); diff != "" {
		t.Errorf("GetConfiguration() not deterministic (-second +third):\n%s", diff)
	}
}

func TestProvider_DefaultsMatchLiteral(t *testing.T) {
	cfg, err := NewProvider(WithoutEnv()).Configuration(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff(GetConfiguration(), cfg); diff != "" {
		t.Errorf("loaded defaults differ from literal (-want +got):\n%s", diff)
	}
}

func TestProvider_BasePathInvariant(t *testing.T) {
	cfg, err := NewProvider().Configuration(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cfg.BasePath, "/"))
	assert.False(t, strings.HasSuffix(cfg.BasePath, "/"))
	assert.NotEmpty(t, cfg.Adapter.Pages)
	assert.NotEmpty(t, cfg.Adapter.Assets)
}

func TestProvider_EnvOverrides(t *testing.T) {
	t.Setenv("BUILDCONF_TARGET", "app")
	t.Setenv("BUILDCONF_PATHS__BASE", "/docs")
	t.Setenv("BUILDCONF_ADAPTER__PAGES", "out/pages")
	t.Setenv("BUILDCONF_ADAPTER__ASSETS", "out/assets")
	t.Setenv("BUILDCONF_ADAPTER__FALLBACK", "200.html")
	t.Setenv("BUILDCONF_PREPROCESS__SOURCEMAP", "true")

	p := NewProvider()
	cfg, err := p.Configuration(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Target)
	assert.Equal(t, "/docs", cfg.BasePath)
	assert.Equal(t, "out/pages", cfg.Adapter.Pages)
	assert.Equal(t, "out/assets", cfg.Adapter.Assets)
	doc, ok := cfg.FallbackRoute()
	assert.True(t, ok)
	assert.Equal(t, "200.html", doc)
	assert.Equal(t, map[string]any{"sourcemap": "true"}, cfg.Preprocess)

	prov, ok := p.Provenance()
	require.True(t, ok)
	fp, ok := prov.Lookup("paths.base")
	require.True(t, ok)
	assert.Equal(t, "env:BUILDCONF_PATHS__BASE", fp.SourceName)
}

func TestProvider_EmptyBasePathFails(t *testing.T) {
	t.Setenv("BUILDCONF_PATHS__BASE", "")

	_, err := NewProvider().Configuration(context.Background())
	require.Error(t, err)

	var valErr *buildconf.ValidationError
	require.True(t, errors.As(err, &valErr))
	require.True(t, valErr.Has("paths.base"), "error should reference paths.base: %v", err)
	assert.Contains(t, err.Error(), "paths.base")
}

func TestProvider_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
		code  string
	}{
		{"base without leading slash", map[string]string{"BUILDCONF_PATHS__BASE": "maze"}, "paths.base", buildconf.ErrCodeInvalidPath},
		{"base with trailing slash", map[string]string{"BUILDCONF_PATHS__BASE": "/maze/"}, "paths.base", buildconf.ErrCodeInvalidPath},
		{"root base", map[string]string{"BUILDCONF_PATHS__BASE": "/"}, "paths.base", buildconf.ErrCodeInvalidPath},
		{"empty target", map[string]string{"BUILDCONF_TARGET": ""}, "target", buildconf.ErrCodeRequired},
		{"empty pages", map[string]string{"BUILDCONF_ADAPTER__PAGES": ""}, "adapter.pages", buildconf.ErrCodeRequired},
		{"empty assets", map[string]string{"BUILDCONF_ADAPTER__ASSETS": ""}, "adapter.assets", buildconf.ErrCodeRequired},
		{"absolute pages", map[string]string{"BUILDCONF_ADAPTER__PAGES": "/var/www"}, "adapter.pages", buildconf.ErrCodeInvalidPath},
		{"escaping assets", map[string]string{"BUILDCONF_ADAPTER__ASSETS": "../assets"}, "adapter.assets", buildconf.ErrCodeInvalidPath},
		{"empty fallback", map[string]string{"BUILDCONF_ADAPTER__FALLBACK": ""}, "adapter.fallback", buildconf.ErrCodeRequired},
		{"unknown key", map[string]string{"BUILDCONF_ADAPTER__PRECOMPRESS": "true"}, "adapter.precompress", buildconf.ErrCodeUnknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := NewProvider().Configuration(context.Background())
			require.Error(t, err)

			var valErr *buildconf.ValidationError
			require.True(t, errors.As(err, &valErr))
			require.NotEmpty(t, valErr.FieldErrors)
			assert.Equal(t, tt.field, valErr.FieldErrors[0].FieldPath)
			assert.Equal(t, tt.code, valErr.FieldErrors[0].Code)
		})
	}
}

func TestProvider_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildconf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target: app
paths:
  base: /docs
adapter:
  pages: dist
  assets: dist/static
preprocess:
  scss:
    prependData: "@use 'src/vars';"
  sourceMap: true
`), 0o600))
	t.Setenv("BUILDCONF_PATHS__BASE", "/v2")

	cfg, err := NewProvider(WithConfigFile(path, true)).Configuration(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Target)
	assert.Equal(t, "/v2", cfg.BasePath, "environment wins over the file")
	assert.Equal(t, "dist", cfg.Adapter.Pages)
	assert.Equal(t, "dist/static", cfg.Adapter.Assets)
	assert.Equal(t, map[string]any{
		"scss":      map[string]any{"prependData": "@use 'src/vars';"},
		"sourceMap": true,
	}, cfg.Preprocess)
}

func TestProvider_PreprocessPassedThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildconf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
preprocess:
  scss: {}
  "a.b": 1
adapter:
  fallback: null
`), 0o600))

	cfg, err := NewProvider(WithConfigFile(path, true), WithoutEnv()).Configuration(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"scss": map[string]any{},
		"a.b":  1,
	}, cfg.Preprocess)
	_, ok := cfg.FallbackRoute()
	assert.False(t, ok, "a null fallback means no fallback route")

	data, err := cfg.MarshalToolConfig()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a.b": 1`)
	assert.Contains(t, string(data), `"scss": {}`)
}

func TestProvider_NullPreprocessIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildconf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("preprocess: null\n"), 0o600))

	cfg, err := NewProvider(WithConfigFile(path, true), WithoutEnv()).Configuration(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cfg.Preprocess)
	assert.Empty(t, cfg.Preprocess)
}

func TestProvider_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildconf.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[paths]
base = "/maze"

[adapter]
fallback = "index.html"
`), 0o600))

	cfg, err := NewProvider(WithConfigFile(path, true), WithoutEnv()).Configuration(context.Background())
	require.NoError(t, err)

	doc, ok := cfg.FallbackRoute()
	assert.True(t, ok)
	assert.Equal(t, "index.html", doc)
}

func TestProvider_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := NewProvider(WithConfigFile(path, false), WithoutEnv()).Configuration(context.Background())
	assert.NoError(t, err, "an optional file may be missing")

	_, err = NewProvider(WithConfigFile(path, true), WithoutEnv()).Configuration(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

type staticSource struct {
	data map[string]any
}

func (s staticSource) Load(context.Context) (map[string]any, error) { return s.data, nil }

func (s staticSource) Watch(context.Context) (<-chan buildconf.ChangeEvent, error) {
	return nil, buildconf.ErrWatchNotSupported
}

func (s staticSource) Name() string { return "static" }

func TestProvider_ExtraSourcesBetweenFileAndEnv(t *testing.T) {
	t.Setenv("BUILDCONF_TARGET", "from-env")

	cfg, err := NewProvider(WithExtraSources(staticSource{data: map[string]any{
		"target":     "from-static",
		"paths.base": "/static",
	}})).Configuration(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Target)
	assert.Equal(t, "/static", cfg.BasePath)
}

func TestProvider_MemoizesAndHandsOutCopies(t *testing.T) {
	t.Setenv("BUILDCONF_PREPROCESS__MODE", "fast")
	p := NewProvider()

	first, err := p.Configuration(context.Background())
	require.NoError(t, err)
	first.Preprocess["mode"] = "slow"
	first.Target = "changed"

	// later environment changes are not seen once loaded
	t.Setenv("BUILDCONF_TARGET", "late")

	second, err := p.Configuration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "body", second.Target)
	assert.Equal(t, "fast", second.Preprocess["mode"])

	p.Reset()
	third, err := p.Configuration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", third.Target)
}

func TestProvider_FailedLoadNotCached(t *testing.T) {
	t.Setenv("BUILDCONF_PATHS__BASE", "bad")
	p := NewProvider()

	_, err := p.Configuration(context.Background())
	require.Error(t, err)
	_, ok := p.Provenance()
	assert.False(t, ok)

	t.Setenv("BUILDCONF_PATHS__BASE", "/good")
	cfg, err := p.Configuration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/good", cfg.BasePath)
}

func TestProvider_ConcurrentCallers(t *testing.T) {
	p := NewProvider(WithoutEnv())

	var wg sync.WaitGroup
	results := make([]BuildConfiguration, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := p.Configuration(context.Background())
			assert.NoError(t, err)
			results[i] = cfg
		}(i)
	}
	wg.Wait()

	for _, cfg := range results[1:] {
		assert.Empty(t, cmp.Diff(results[0], cfg))
	}
}

func TestProvider_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MAZE_PATHS__BASE", "/labyrinth")

	cfg, err := NewProvider(WithEnvPrefix("MAZE_")).Configuration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/labyrinth", cfg.BasePath)
}

func TestProvider_EmptyEnvPrefixDisablesEnv(t *testing.T) {
	t.Setenv("TARGET", "app")

	cfg, err := NewProvider(WithEnvPrefix("")).Configuration(context.Background())
	require.NoError(t, err, "unrelated process variables must not reach the loader")
	assert.Equal(t, DefaultTarget, cfg.Target)
}

func TestProvider_ProvenanceIsACopy(t *testing.T) {
	p := NewProvider(WithoutEnv())
	_, err := p.Configuration(context.Background())
	require.NoError(t, err)

	first, ok := p.Provenance()
	require.True(t, ok)
	require.NotEmpty(t, first.Fields)
	first.Fields[0].SourceName = "tampered"
	first.Fields = nil

	second, ok := p.Provenance()
	require.True(t, ok)
	require.NotEmpty(t, second.Fields)
	assert.NotEqual(t, "tampered", second.Fields[0].SourceName)
}

func TestProvider_LogsLoadedConfiguration(t *testing.T) {
	var buf bytes.Buffer
	p := NewProvider(WithoutEnv(), WithLogger(zerolog.New(&buf)))

	_, err := p.Configuration(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"base":"/maze"`)
	assert.Contains(t, buf.String(), `"fallback":false`)
	assert.Contains(t, buf.String(), "build configuration loaded")
}

func TestBuildConfiguration_Clone(t *testing.T) {
	orig := GetConfiguration()
	orig.Preprocess = map[string]any{
		"scss":  map[string]any{"includePaths": []any{"src"}},
		"names": []string{"a"},
	}

	cp := orig.Clone()
	cp.Preprocess["scss"].(map[string]any)["includePaths"].([]any)[0] = "lib"
	cp.Preprocess["names"].([]string)[0] = "b"
	cp.Preprocess["extra"] = 1

	assert.Equal(t, map[string]any{
		"scss":  map[string]any{"includePaths": []any{"src"}},
		"names": []string{"a"},
	}, orig.Preprocess)
}
