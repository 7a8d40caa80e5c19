package site

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// FallbackRoute returns the SPA fallback document. ok is false when no
// fallback route may be emitted.
func (c BuildConfiguration) FallbackRoute() (doc string, ok bool) {
	return c.Adapter.Fallback.Get()
}

// PrefixURL joins the base path with a route or asset path.
// The route is cleaned on its own, so ".." never climbs above the base path.
// Query strings and fragments are kept; a trailing slash on route is preserved.
//
//	PrefixURL("/")              == "/maze"
//	PrefixURL("about")          == "/maze/about"
//	PrefixURL("../x")           == "/maze/x"
//	PrefixURL("/_app/x.js?v=1") == "/maze/_app/x.js?v=1"
func (c BuildConfiguration) PrefixURL(route string) string {
	rest := ""
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route, rest = route[:i], route[i:]
	}

	cleaned := path.Clean("/" + route)
	if cleaned == "/" {
		return c.BasePath + rest
	}

	joined := c.BasePath + cleaned
	if strings.HasSuffix(route, "/") {
		joined += "/"
	}
	return joined + rest
}

// ToolConfig renders the configuration in the layout the build tool reads:
//
//	{
//	  "preprocess": {...},
//	  "kit": {
//	    "target": "body",
//	    "paths": {"base": "/maze"},
//	    "adapter": {"pages": "build", "assets": "build", "fallback": null}
//	  }
//	}
//
// An unset fallback is rendered as null, never omitted.
func (c BuildConfiguration) ToolConfig() map[string]any {
	var fallback any
	if doc, ok := c.FallbackRoute(); ok {
		fallback = doc
	}

	preprocess := map[string]any{}
	if c.Preprocess != nil {
		preprocess = cloneMap(c.Preprocess)
	}

	return map[string]any{
		"preprocess": preprocess,
		"kit": map[string]any{
			"target": c.Target,
			"paths": map[string]any{
				"base": c.BasePath,
			},
			"adapter": map[string]any{
				"pages":    c.Adapter.Pages,
				"assets":   c.Adapter.Assets,
				"fallback": fallback,
			},
		},
	}
}

// MarshalToolConfig returns ToolConfig as indented JSON with a trailing newline.
func (c BuildConfiguration) MarshalToolConfig() ([]byte, error) {
	data, err := json.MarshalIndent(c.ToolConfig(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool config: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteToolConfig writes the tool config to path, atomically replacing any
// existing file.
func WriteToolConfig(filename string, cfg BuildConfiguration) error {
	data, err := cfg.MarshalToolConfig()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := renameio.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write tool config: %w", err)
	}
	return nil
}
