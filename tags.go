package buildconf

import (
	"reflect"
	"strings"

	"github.com/Azhovan/buildconf/internal/normalize"
)

// tagConfig holds parsed directives from a struct field's `conf` tag.
type tagConfig struct {
	env        string   // env:VAR_NAME
	name       string   // name:custom.path (absolute key path)
	prefix     string   // prefix:foo (absolute key prefix for nested structs)
	defValue   string   // default:value
	min        string   // min:N
	max        string   // max:M
	path       string   // path:rel or path:base
	oneof      []string // oneof:a|b|c
	required   bool
	secret     bool
	hasDefault bool
}

// Path directive kinds.
const (
	pathRelative = "rel"
	pathBase     = "base"
)

// parseTag parses a `conf` struct tag.
// Format: "directive1:value1,directive2:value2,...". Boolean directives may omit ":true".
func parseTag(tag string) tagConfig {
	var cfg tagConfig
	if tag == "" {
		return cfg
	}

	for _, directive := range strings.Split(tag, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}

		name, value, _ := strings.Cut(directive, ":")
		switch strings.TrimSpace(name) {
		case "env":
			cfg.env = value
		case "name":
			cfg.name = value
		case "prefix":
			cfg.prefix = value
		case "default":
			// empty defaults are meaningful, keep value untrimmed
			cfg.defValue = value
			cfg.hasDefault = true
		case "min":
			cfg.min = value
		case "max":
			cfg.max = value
		case "path":
			cfg.path = value
		case "oneof":
			if value != "" {
				for _, opt := range strings.Split(value, "|") {
					cfg.oneof = append(cfg.oneof, strings.TrimSpace(opt))
				}
			}
		case "required":
			cfg.required = parseBoolDirective(value)
		case "secret":
			cfg.secret = parseBoolDirective(value)
		}
	}

	return cfg
}

// parseBoolDirective treats anything but an explicit "false" as true.
func parseBoolDirective(value string) bool {
	return strings.TrimSpace(value) != "false"
}

// determineKeyPath returns the lowercase key a field binds from.
// A name directive is absolute; otherwise the field name is appended to prefix.
func determineKeyPath(fieldName string, tags tagConfig, prefix string) string {
	if tags.name != "" {
		return strings.ToLower(tags.name)
	}
	return normalize.ApplyPrefix(prefix, strings.ToLower(fieldName))
}

// nestedPrefix returns the key prefix used for the fields of a nested struct.
func nestedPrefix(keyPath string, tags tagConfig) string {
	if tags.prefix != "" {
		return strings.ToLower(tags.prefix)
	}
	return keyPath
}

// isOptionalType reports whether t is an instantiation of Optional[T].
func isOptionalType(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t.NumField() != 2 {
		return false
	}
	if t.PkgPath() != reflect.TypeOf(Optional[int]{}).PkgPath() {
		return false
	}
	return strings.HasPrefix(t.Name(), "Optional[") &&
		t.Field(0).Name == "Value" &&
		t.Field(1).Name == "Set" && t.Field(1).Type.Kind() == reflect.Bool
}

// isLeafStruct reports struct types bound as single values rather than walked.
func isLeafStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && (t.PkgPath() == "time" || isOptionalType(t))
}
