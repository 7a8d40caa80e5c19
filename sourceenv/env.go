package sourceenv

import (
	"context"
	"os"
	"strings"

	"github.com/Azhovan/buildconf"
	"github.com/Azhovan/buildconf/internal/normalize"
)

// Options configures environment variable source behavior.
type Options struct {
	// Prefix selects variables starting with it; the prefix is stripped before
	// normalization. Empty loads every variable.
	Prefix string

	// CaseSensitive makes prefix matching exact. Default: case-insensitive.
	CaseSensitive bool

	// Environ overrides os.Environ, mainly for tests.
	Environ func() []string
}

type envSource struct {
	opts Options
}

// New creates an environment variable source.
func New(opts Options) buildconf.Source {
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	return &envSource{opts: opts}
}

// Load returns normalized keys for every matching variable.
func (e *envSource) Load(ctx context.Context) (map[string]any, error) {
	data, _, err := e.LoadWithKeys(ctx)
	return data, err
}

// LoadWithKeys also maps each normalized key to the variable it came from.
func (e *envSource) LoadWithKeys(ctx context.Context) (map[string]any, map[string]string, error) {
	data := make(map[string]any)
	originalKeys := make(map[string]string)

	for _, kv := range e.opts.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}

		key, ok := e.stripPrefix(name)
		if !ok || key == "" {
			continue
		}

		normalized := normalize.ToLowerDotPath(key)
		data[normalized] = value
		originalKeys[normalized] = name
	}

	return data, originalKeys, nil
}

func (e *envSource) stripPrefix(name string) (string, bool) {
	prefix := e.opts.Prefix
	if prefix == "" {
		return name, true
	}
	if len(name) < len(prefix) {
		return "", false
	}
	if e.opts.CaseSensitive {
		if !strings.HasPrefix(name, prefix) {
			return "", false
		}
	} else if !strings.EqualFold(name[:len(prefix)], prefix) {
		return "", false
	}
	return name[len(prefix):], true
}

// Watch returns ErrWatchNotSupported; the environment is fixed for the process.
func (e *envSource) Watch(ctx context.Context) (<-chan buildconf.ChangeEvent, error) {
	return nil, buildconf.ErrWatchNotSupported
}

// Name returns "env" or "env:<prefix>".
func (e *envSource) Name() string {
	if e.opts.Prefix == "" {
		return "env"
	}
	return "env:" + e.opts.Prefix
}
