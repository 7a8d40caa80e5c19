package sourcefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Azhovan/buildconf"
)

// CauseFileChanged is the ChangeEvent cause emitted by Watch.
const CauseFileChanged = "file-changed"

// Options configures file source behavior.
type Options struct {
	// Format: "yaml", "json", or "toml". Auto-detected from extension if empty.
	Format string

	// Required: if true, a missing file is an error. Default: false (no keys).
	Required bool
}

type fileSource struct {
	path string
	opts Options
}

// New creates a file-based configuration source.
func New(path string, opts Options) buildconf.Source {
	return &fileSource{path: path, opts: opts}
}

// Load reads and parses the file. Nested tables are returned as nested maps.
func (f *fileSource) Load(ctx context.Context) (map[string]any, error) {
	data, _, err := f.LoadWithKeys(ctx)
	return data, err
}

// LoadWithKeys reads and parses the file. Top-level keys map to themselves.
func (f *fileSource) LoadWithKeys(ctx context.Context) (map[string]any, map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !f.opts.Required {
			return map[string]any{}, map[string]string{}, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("required config file not found: %s: %w", f.path, err)
		}
		return nil, nil, fmt.Errorf("read config file %s: %w", f.path, err)
	}

	format := f.opts.Format
	if format == "" {
		format = inferFormat(f.path)
	}

	var doc map[string]any
	switch format {
	case "yaml", "yml":
		err = yaml.Unmarshal(raw, &doc)
	case "json":
		err = json.Unmarshal(raw, &doc)
	case "toml":
		err = toml.Unmarshal(raw, &doc)
	default:
		return nil, nil, fmt.Errorf("unsupported file format %q for %s (supported: yaml, json, toml)", format, f.path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s file %s: %w", strings.ToUpper(format), f.path, err)
	}

	data := make(map[string]any, len(doc))
	keys := make(map[string]string, len(doc))
	for k, v := range doc {
		data[k] = v
		keys[k] = k
	}
	return data, keys, nil
}

// Watch reports writes, creations, renames and removals of the file.
// The parent directory is watched so editors that replace the file by rename
// are still seen. The channel closes when ctx is done.
func (f *fileSource) Watch(ctx context.Context) (<-chan buildconf.ChangeEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	events := make(chan buildconf.ChangeEvent)
	go f.watchLoop(ctx, watcher, events)
	return events, nil
}

func (f *fileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, events chan<- buildconf.ChangeEvent) {
	defer close(events)
	defer func() {
		_ = watcher.Close()
	}()

	target := filepath.Clean(f.path)
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || event.Op&relevant == 0 {
				continue
			}
			select {
			case events <- buildconf.ChangeEvent{At: time.Now(), Cause: CauseFileChanged}:
			case <-ctx.Done():
				return
			}

		case _, ok := <-watcher.Errors:
			// watcher errors are transient; the next event retries naturally
			if !ok {
				return
			}
		}
	}
}

// Name returns a human-readable identifier for this source.
func (f *fileSource) Name() string {
	return "file:" + filepath.Base(f.path)
}

func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}
