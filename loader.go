package buildconf

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Azhovan/buildconf/internal/normalize"
)

// debounceDelay coalesces bursts of change events into one reload.
const debounceDelay = 100 * time.Millisecond

// Loader loads and validates configuration from multiple sources.
// Sources are processed in order (later override earlier).
// Safe for concurrent Load calls once configured; the With* methods are not.
type Loader[T any] struct {
	sources    []Source
	validators []Validator[T]
	strict     bool
	logger     zerolog.Logger
}

// NewLoader creates a Loader with no sources/validators and strict mode enabled.
func NewLoader[T any]() *Loader[T] {
	return &Loader[T]{
		sources:    make([]Source, 0),
		validators: make([]Validator[T], 0),
		strict:     true,
		logger:     zerolog.Nop(),
	}
}

// WithSource adds a source. Sources are processed in order (later override earlier).
func (l *Loader[T]) WithSource(src Source) *Loader[T] {
	l.sources = append(l.sources, src)
	return l
}

// WithValidator adds a custom validator (executed after tag-based validation).
func (l *Loader[T]) WithValidator(v Validator[T]) *Loader[T] {
	l.validators = append(l.validators, v)
	return l
}

// Strict controls whether unknown keys cause errors. Default: true.
func (l *Loader[T]) Strict(strict bool) *Loader[T] {
	l.strict = strict
	return l
}

// WithLogger sets the logger used for load and reload events. Default: no-op.
func (l *Loader[T]) WithLogger(logger zerolog.Logger) *Loader[T] {
	l.logger = logger
	return l
}

// Load merges, binds and validates configuration from all sources.
// Returns the populated config or a *ValidationError carrying every field error.
func (l *Loader[T]) Load(ctx context.Context) (*T, error) {
	merged, err := l.mergeSources(ctx)
	if err != nil {
		return nil, err
	}

	if l.strict {
		var zero T
		known := collectValidKeys(reflect.TypeOf(zero), "")
		var unknown []FieldError
		for _, key := range normalize.SortedKeys(merged) {
			if !known.allows(key, merged[key].sourceKey) {
				unknown = append(unknown, FieldError{
					FieldPath: key,
					Code:      ErrCodeUnknownKey,
					Message:   fmt.Sprintf("unknown configuration key from %s (strict mode)", merged[key].sourceName),
				})
			}
		}
		if len(unknown) > 0 {
			return nil, &ValidationError{FieldErrors: unknown}
		}
	}

	cfg := new(T)
	cfgValue := reflect.ValueOf(cfg).Elem()
	if cfgValue.Kind() != reflect.Struct {
		return nil, fmt.Errorf("buildconf: config type %s is not a struct", cfgValue.Type())
	}

	var provFields []FieldProvenance
	allErrors := bindStruct(cfgValue, merged, &provFields, "", "")
	allErrors = append(allErrors, validateStruct(cfgValue)...)

	for i, v := range l.validators {
		err := v.Validate(ctx, cfg)
		if err == nil {
			continue
		}
		var valErr *ValidationError
		if errors.As(err, &valErr) {
			allErrors = append(allErrors, valErr.FieldErrors...)
			continue
		}
		return nil, fmt.Errorf("validator %d failed: %w", i, err)
	}

	if len(allErrors) > 0 {
		return nil, &ValidationError{FieldErrors: allErrors}
	}

	storeProvenance(cfg, &Provenance{Fields: provFields})
	l.logger.Debug().
		Int("sources", len(l.sources)).
		Int("fields", len(provFields)).
		Msg("configuration loaded")

	return cfg, nil
}

// mergeSources loads every source and merges keys case-insensitively.
// Nested maps are flattened to dot keys, except under keys bound to map
// fields, which keep their value whole.
func (l *Loader[T]) mergeSources(ctx context.Context) (map[string]mergedEntry, error) {
	merged := make(map[string]mergedEntry)

	var zero T
	mapFields := collectValidKeys(reflect.TypeOf(zero), "").mapFields()
	keep := func(key string) bool { return mapFields[strings.ToLower(key)] }

	for _, source := range l.sources {
		var (
			data         map[string]any
			originalKeys map[string]string
			err          error
		)
		if withKeys, ok := source.(SourceWithKeys); ok {
			data, originalKeys, err = withKeys.LoadWithKeys(ctx)
		} else {
			data, err = source.Load(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("load source %s: %w", source.Name(), err)
		}

		flat := make(map[string]any, len(data))
		for key, value := range data {
			normalize.Flatten(key, value, keep, flat)
		}

		for key, value := range flat {
			// null leaves are unset, except where a map field takes them as empty
			if value == nil && !keep(key) {
				continue
			}
			sourceKey := source.Name()
			// env sources name the exact variable; files keep the file name
			if orig, ok := originalKeys[key]; ok && strings.HasPrefix(source.Name(), "env") {
				sourceKey = "env:" + orig
			}
			merged[strings.ToLower(key)] = mergedEntry{
				value:       value,
				sourceName:  source.Name(),
				sourceKey:   sourceKey,
				originalKey: key,
			}
		}

		l.logger.Debug().
			Str("source", source.Name()).
			Int("keys", len(flat)).
			Msg("source loaded")
	}

	return merged, nil
}

// keySet holds the keys a config type accepts: exact leaf keys, map prefixes
// whose children are all accepted, and variables named by env directives.
type keySet struct {
	exact    map[string]bool
	prefixes []string
	envVars  map[string]bool
}

func (k keySet) allows(key, sourceKey string) bool {
	if k.exact[key] || k.envVars[sourceKey] {
		return true
	}
	for _, p := range k.prefixes {
		if strings.HasPrefix(key, p+".") {
			return true
		}
	}
	return false
}

// collectValidKeys walks a struct type and returns every key it can bind.
func collectValidKeys(t reflect.Type, prefix string) keySet {
	keys := keySet{exact: make(map[string]bool), envVars: make(map[string]bool)}
	if t != nil {
		collectInto(t, prefix, &keys)
	}
	return keys
}

// mapFields returns the key paths bound to map fields.
func (k keySet) mapFields() map[string]bool {
	out := make(map[string]bool, len(k.prefixes))
	for _, p := range k.prefixes {
		out[p] = true
	}
	return out
}

func collectInto(t reflect.Type, prefix string, keys *keySet) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tags := parseTag(field.Tag.Get("conf"))
		keyPath := determineKeyPath(field.Name, tags, prefix)
		if tags.env != "" {
			keys.envVars["env:"+tags.env] = true
		}

		switch {
		case field.Type.Kind() == reflect.Map:
			keys.exact[keyPath] = true
			keys.prefixes = append(keys.prefixes, keyPath)
		case field.Type.Kind() == reflect.Struct && !isLeafStruct(field.Type):
			collectInto(field.Type, nestedPrefix(keyPath, tags), keys)
		default:
			keys.exact[keyPath] = true
		}
	}
}

// Watch loads once, then reloads whenever a source reports a change.
// Returns the snapshot channel, the reload error channel, and the initial load error.
// Both channels close when ctx is cancelled or no source can be watched.
// A failed reload is reported on the error channel and the previous snapshot stays current.
func (l *Loader[T]) Watch(ctx context.Context) (<-chan Snapshot[T], <-chan error, error) {
	initial, err := l.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initial load failed: %w", err)
	}

	snapshotCh := make(chan Snapshot[T])
	errorCh := make(chan error)
	go l.watchLoop(ctx, initial, snapshotCh, errorCh)

	return snapshotCh, errorCh, nil
}

func (l *Loader[T]) watchLoop(ctx context.Context, initial *T, snapshotCh chan<- Snapshot[T], errorCh chan<- error) {
	defer close(snapshotCh)
	defer close(errorCh)

	version := int64(1)
	if !send(ctx, snapshotCh, Snapshot[T]{Config: initial, Version: version, LoadedAt: time.Now(), Source: "initial"}) {
		return
	}

	changes := l.watchSources(ctx, errorCh)
	if changes == nil {
		return
	}

	var (
		timer    *time.Timer
		debounce <-chan time.Time
		cause    string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-changes:
			if !ok {
				changes = nil
				if debounce == nil {
					return
				}
				continue
			}
			cause = event.Cause
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounceDelay)
			debounce = timer.C

		case <-debounce:
			debounce = nil
			cfg, err := l.Load(ctx)
			if err != nil {
				l.logger.Warn().Err(err).Str("cause", cause).Msg("reload failed, keeping previous configuration")
				if !send(ctx, errorCh, fmt.Errorf("reload failed: %w", err)) {
					return
				}
			} else {
				version++
				l.logger.Info().Int64("version", version).Str("cause", cause).Msg("configuration reloaded")
				if !send(ctx, snapshotCh, Snapshot[T]{Config: cfg, Version: version, LoadedAt: time.Now(), Source: cause}) {
					return
				}
			}
			if changes == nil {
				return
			}
		}
	}
}

// watchSources starts every watchable source and fans their events into one
// channel. Returns nil when no source supports watching.
func (l *Loader[T]) watchSources(ctx context.Context, errorCh chan<- error) <-chan ChangeEvent {
	var inputs []<-chan ChangeEvent
	for _, source := range l.sources {
		ch, err := source.Watch(ctx)
		if err != nil {
			if errors.Is(err, ErrWatchNotSupported) {
				continue
			}
			if !send(ctx, errorCh, fmt.Errorf("watch source %s: %w", source.Name(), err)) {
				return nil
			}
			continue
		}
		inputs = append(inputs, ch)
	}
	if len(inputs) == 0 {
		return nil
	}

	out := make(chan ChangeEvent)
	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func(in <-chan ChangeEvent) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-in:
					if !ok || !send(ctx, out, event) {
						return
					}
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// send delivers v unless ctx is cancelled first.
func send[V any](ctx context.Context, ch chan<- V, v V) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
