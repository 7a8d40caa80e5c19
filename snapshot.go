package buildconf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// MaxSnapshotSize is the maximum allowed serialized snapshot size (100MB).
const MaxSnapshotSize = 100 * 1024 * 1024

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = "1.0"

var (
	// ErrSnapshotTooLarge is returned when a snapshot exceeds MaxSnapshotSize.
	ErrSnapshotTooLarge = errors.New("buildconf: snapshot exceeds 100MB size limit")

	// ErrNilConfig is returned when a nil config or snapshot is passed in.
	ErrNilConfig = errors.New("buildconf: config is nil")

	// ErrUnsupportedVersion is returned when reading a snapshot with an unknown version.
	ErrUnsupportedVersion = errors.New("buildconf: unsupported snapshot version")
)

// ConfigSnapshot is a point-in-time capture of an effective configuration.
type ConfigSnapshot struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// Config holds flattened values keyed by dot path, secrets redacted.
	Config map[string]any `json:"config"`

	Provenance []FieldProvenance `json:"provenance"`
}

// SnapshotOption configures snapshot creation.
type SnapshotOption func(*snapshotConfig)

type snapshotConfig struct {
	excludeFields []string
	now           func() time.Time
}

// WithExcludeFields drops the given key paths (case-insensitive) from the snapshot.
func WithExcludeFields(paths ...string) SnapshotOption {
	return func(cfg *snapshotConfig) {
		cfg.excludeFields = append(cfg.excludeFields, paths...)
	}
}

// CreateSnapshot captures cfg with its provenance.
// Unset optionals are omitted; secrets are redacted.
func CreateSnapshot[T any](cfg *T, opts ...SnapshotOption) (*ConfigSnapshot, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	sc := snapshotConfig{now: time.Now}
	for _, opt := range opts {
		opt(&sc)
	}

	v := reflect.ValueOf(cfg).Elem()
	if v.Kind() != reflect.Struct {
		return nil, errors.New("buildconf: config must be a struct")
	}

	prov, _ := GetProvenance(cfg)
	exclude := make(map[string]bool, len(sc.excludeFields))
	for _, p := range sc.excludeFields {
		exclude[strings.ToLower(p)] = true
	}

	flat := make(map[string]any)
	for _, f := range collectFields(v, prov) {
		if !f.set || exclude[f.keyPath] {
			continue
		}
		flat[f.keyPath] = jsonValue(f)
	}

	var provFields []FieldProvenance
	if prov != nil {
		for _, fp := range prov.Fields {
			if !exclude[fp.KeyPath] {
				provFields = append(provFields, fp)
			}
		}
	}

	return &ConfigSnapshot{
		Version:    SnapshotVersion,
		Timestamp:  sc.now().UTC(),
		Config:     flat,
		Provenance: provFields,
	}, nil
}

// ExpandPathWithTime replaces every {{timestamp}} in template with t as 20060102-150405 (UTC).
func ExpandPathWithTime(template string, t time.Time) string {
	return strings.ReplaceAll(template, "{{timestamp}}", t.UTC().Format("20060102-150405"))
}

// WriteSnapshot writes snapshot as indented JSON, atomically replacing the target.
// {{timestamp}} in pathTemplate expands from snapshot.Timestamp so the file name
// matches the content. Returns the written path.
func WriteSnapshot(snapshot *ConfigSnapshot, pathTemplate string) (string, error) {
	if snapshot == nil {
		return "", ErrNilConfig
	}

	target := ExpandPathWithTime(pathTemplate, snapshot.Timestamp)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(data) > MaxSnapshotSize {
		return "", ErrSnapshotTooLarge
	}

	if err := writeFileAtomic(target, append(data, '\n'), 0o600); err != nil {
		return "", err
	}
	return target, nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (*ConfigSnapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	if info.Size() > MaxSnapshotSize {
		return nil, ErrSnapshotTooLarge
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap ConfigSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", filepath.Base(path), err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, snap.Version)
	}
	return &snap, nil
}

// writeFileAtomic writes data to path through a pending file so readers never
// see a partial file. Parent directories are created with 0700.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
