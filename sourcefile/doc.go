// Package sourcefile loads configuration from YAML, JSON, or TOML files.
//
// Format is auto-detected from extension (.yaml, .yml, .json, .toml).
// Nested tables are returned as nested maps; the loader flattens them against
// the config type, so map-typed fields receive their table untouched.
//
// Example:
//
//	source := sourcefile.New("buildconf.yaml", sourcefile.Options{Required: true})
//	loader := buildconf.NewLoader[Config]().WithSource(source)
package sourcefile
