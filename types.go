package buildconf

import (
	"context"
	"errors"
	"time"
)

// Source provides raw configuration keys from one backend.
// Keys are dot-separated paths (e.g., "adapter.pages") or nested maps; the loader
// flattens nested maps except under keys bound to map fields, and matches keys
// case-insensitively.
type Source interface {
	// Load returns configuration keys. Missing optional sources return an empty map.
	Load(ctx context.Context) (map[string]any, error)

	// Watch emits ChangeEvent when the backing data changes. Returns ErrWatchNotSupported if not supported.
	Watch(ctx context.Context) (<-chan ChangeEvent, error)

	// Name identifies the source in provenance and error messages (e.g., "file:buildconf.yaml").
	Name() string
}

// SourceWithKeys is implemented by sources that can report the original key
// each normalized key came from (e.g., the environment variable name).
type SourceWithKeys interface {
	Source
	LoadWithKeys(ctx context.Context) (map[string]any, map[string]string, error)
}

// ChangeEvent notifies of configuration changes.
type ChangeEvent struct {
	At    time.Time
	Cause string // e.g. "file-changed"
}

// ErrWatchNotSupported is returned when watching is not supported.
var ErrWatchNotSupported = errors.New("buildconf: watch not supported by this source")

// Optional distinguishes "not set" from "zero value".
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get returns the wrapped value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// OrDefault returns the wrapped value or the provided default.
func (o Optional[T]) OrDefault(defaultVal T) T {
	if o.Set {
		return o.Value
	}
	return defaultVal
}

// Validator performs custom validation after tag-based validation.
type Validator[T any] interface {
	// Validate checks configuration. Return *ValidationError for field-level errors.
	Validate(ctx context.Context, cfg *T) error
}

// ValidatorFunc is a function adapter for Validator interface.
type ValidatorFunc[T any] func(ctx context.Context, cfg *T) error

func (f ValidatorFunc[T]) Validate(ctx context.Context, cfg *T) error {
	return f(ctx, cfg)
}

// Snapshot is one configuration version emitted by Watch().
type Snapshot[T any] struct {
	Config   *T
	Version  int64 // starts at 1
	LoadedAt time.Time
	Source   string // what triggered the load
}
