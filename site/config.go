package site

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Azhovan/buildconf"
	"github.com/Azhovan/buildconf/sourceenv"
	"github.com/Azhovan/buildconf/sourcefile"
)

// Built-in values. They reproduce the site's original static configuration.
const (
	DefaultTarget    = "body"
	DefaultBasePath  = "/maze"
	DefaultPagesDir  = "build"
	DefaultAssetsDir = "build"

	// DefaultEnvPrefix scopes environment overrides, e.g. BUILDCONF_PATHS__BASE.
	DefaultEnvPrefix = "BUILDCONF_"
)

// BuildConfiguration is the settings record handed to the build tool.
// Treat values as read-only; Provider hands out independent copies.
type BuildConfiguration struct {
	// Preprocess is forwarded untouched to the preprocessing plugin.
	Preprocess map[string]any `conf:"name:preprocess"`

	// Target names the element generated markup attaches to.
	Target string `conf:"default:body,required"`

	// BasePath prefixes every generated route and asset URL.
	BasePath string `conf:"name:paths.base,default:/maze,required,path:base"`

	Adapter AdapterOptions `conf:"prefix:adapter"`
}

// AdapterOptions configures the static output adapter.
// Output directories are relative to the build tool's output root and may be equal.
type AdapterOptions struct {
	Pages  string `conf:"default:build,required,path:rel"`
	Assets string `conf:"default:build,required,path:rel"`

	// Fallback is the SPA fallback document. Unset means no fallback route.
	Fallback buildconf.Optional[string] `conf:"path:rel"`
}

// Defaults returns the built-in configuration.
func Defaults() BuildConfiguration {
	return BuildConfiguration{
		Preprocess: map[string]any{},
		Target:     DefaultTarget,
		BasePath:   DefaultBasePath,
		Adapter: AdapterOptions{
			Pages:  DefaultPagesDir,
			Assets: DefaultAssetsDir,
		},
	}
}

// GetConfiguration returns the built-in configuration.
// It performs no I/O and returns a structurally identical value on every call.
func GetConfiguration() BuildConfiguration {
	return Defaults()
}

// Clone returns an alias-free deep copy. Preprocess maps and slices are copied
// recursively so mutations of the copy never reach the original.
func (c BuildConfiguration) Clone() BuildConfiguration {
	out := c
	if c.Preprocess != nil {
		out.Preprocess = cloneMap(c.Preprocess)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// validateFallback rejects a fallback that was set to an empty string, which the
// tag checks skip as a zero value.
func validateFallback(_ context.Context, cfg *BuildConfiguration) error {
	if fb, ok := cfg.Adapter.Fallback.Get(); ok && fb == "" {
		return &buildconf.ValidationError{FieldErrors: []buildconf.FieldError{{
			FieldPath: "adapter.fallback",
			Code:      buildconf.ErrCodeRequired,
			Message:   "fallback must name a document when set",
		}}}
	}
	return nil
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithEnvPrefix sets the environment variable prefix. Default: DefaultEnvPrefix.
// An empty prefix would match every process variable, so it disables
// environment overrides like WithoutEnv.
func WithEnvPrefix(prefix string) ProviderOption {
	return func(p *Provider) {
		p.envPrefix = prefix
		p.useEnv = prefix != ""
	}
}

// WithoutEnv disables environment overrides.
func WithoutEnv() ProviderOption {
	return func(p *Provider) {
		p.useEnv = false
	}
}

// WithConfigFile layers a YAML, JSON or TOML file under the environment.
// A missing file is an error only when required is true.
func WithConfigFile(path string, required bool) ProviderOption {
	return func(p *Provider) {
		p.filePath = path
		p.fileRequired = required
	}
}

// WithExtraSources appends sources after the file and before the environment.
func WithExtraSources(sources ...buildconf.Source) ProviderOption {
	return func(p *Provider) {
		p.extra = append(p.extra, sources...)
	}
}

// WithLogger sets the provider's logger. Default: no-op.
func WithLogger(logger zerolog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider loads the build configuration once per process and hands out copies.
// Precedence, lowest first: built-in defaults, config file, extra sources, environment.
type Provider struct {
	envPrefix    string
	useEnv       bool
	filePath     string
	fileRequired bool
	extra        []buildconf.Source
	logger       zerolog.Logger

	mu     sync.Mutex
	loaded *BuildConfiguration
}

// NewProvider creates a Provider. With no options it reads BUILDCONF_* variables.
func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		envPrefix: DefaultEnvPrefix,
		useEnv:    true,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Loader returns a Loader wired with the provider's sources and validators.
func (p *Provider) Loader() *buildconf.Loader[BuildConfiguration] {
	l := buildconf.NewLoader[BuildConfiguration]().
		WithLogger(p.logger).
		WithValidator(buildconf.ValidatorFunc[BuildConfiguration](validateFallback))

	if p.filePath != "" {
		l.WithSource(sourcefile.New(p.filePath, sourcefile.Options{Required: p.fileRequired}))
	}
	for _, src := range p.extra {
		l.WithSource(src)
	}
	if p.useEnv {
		l.WithSource(sourceenv.New(sourceenv.Options{Prefix: p.envPrefix}))
	}
	return l
}

// Configuration loads and validates on the first call and returns a copy of
// the same value on every later call. A failed load is not cached.
func (p *Provider) Configuration(ctx context.Context) (BuildConfiguration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded == nil {
		cfg, err := p.Loader().Load(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("build configuration rejected")
			return BuildConfiguration{}, err
		}
		p.loaded = cfg
		p.logger.Info().
			Str("target", cfg.Target).
			Str("base", cfg.BasePath).
			Str("pages", cfg.Adapter.Pages).
			Str("assets", cfg.Adapter.Assets).
			Bool("fallback", cfg.Adapter.Fallback.Set).
			Msg("build configuration loaded")
	}
	return p.loaded.Clone(), nil
}

// Provenance reports where each value of the loaded configuration came from.
// It returns a copy, and false before a successful Configuration call.
func (p *Provider) Provenance() (*buildconf.Provenance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prov, ok := buildconf.GetProvenance(p.loaded)
	if !ok {
		return nil, false
	}
	return &buildconf.Provenance{Fields: slices.Clone(prov.Fields)}, true
}

// Reset drops the cached configuration so the next call loads again.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	buildconf.ReleaseProvenance(p.loaded)
	p.loaded = nil
}
