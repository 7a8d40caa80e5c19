package buildconf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const redacted = "***redacted***"

// DumpOption configures DumpEffective.
type DumpOption func(*dumpConfig)

type dumpConfig struct {
	withSources bool
	asJSON      bool
	indent      string
}

// WithSources appends the source of each value to text output.
func WithSources() DumpOption {
	return func(cfg *dumpConfig) {
		cfg.withSources = true
	}
}

// AsJSON writes nested JSON instead of "key: value" lines.
func AsJSON() DumpOption {
	return func(cfg *dumpConfig) {
		cfg.asJSON = true
	}
}

// WithIndent sets the JSON indentation. Default is two spaces; empty means compact.
func WithIndent(indent string) DumpOption {
	return func(cfg *dumpConfig) {
		cfg.indent = indent
	}
}

// DumpEffective writes the effective configuration to w.
// Secret fields are written as "***redacted***".
func DumpEffective[T any](w io.Writer, cfg *T, opts ...DumpOption) error {
	if cfg == nil {
		return ErrNilConfig
	}

	dc := dumpConfig{indent: "  "}
	for _, opt := range opts {
		opt(&dc)
	}

	v := reflect.ValueOf(cfg).Elem()
	if v.Kind() != reflect.Struct {
		return errors.New("buildconf: config must be a struct")
	}

	prov, _ := GetProvenance(cfg)
	fields := collectFields(v, prov)

	if dc.asJSON {
		return dumpJSON(w, fields, dc.indent)
	}
	return dumpText(w, fields, dc.withSources)
}

// flatField is one leaf of a configuration struct.
type flatField struct {
	keyPath string
	value   reflect.Value
	set     bool // false for unset optionals
	secret  bool
	source  string
}

// collectFields flattens cfg into leaves ordered by declaration.
func collectFields(v reflect.Value, prov *Provenance) []flatField {
	var out []flatField
	collectFieldsRecursive(v, "", prov, &out)
	return out
}

func collectFieldsRecursive(v reflect.Value, keyPrefix string, prov *Provenance, out *[]flatField) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fv := v.Field(i)
		tags := parseTag(field.Tag.Get("conf"))
		keyPath := determineKeyPath(field.Name, tags, keyPrefix)

		if field.Type.Kind() == reflect.Struct && !isLeafStruct(field.Type) {
			collectFieldsRecursive(fv, nestedPrefix(keyPath, tags), prov, out)
			continue
		}

		ff := flatField{keyPath: keyPath, value: fv, set: true, secret: tags.secret}
		if fp, ok := prov.Lookup(keyPath); ok {
			ff.source = fp.SourceName
			ff.secret = ff.secret || fp.Secret
		}
		if isOptionalType(field.Type) {
			ff.set = fv.Field(1).Bool()
			ff.value = fv.Field(0)
		}
		*out = append(*out, ff)
	}
}

func dumpText(w io.Writer, fields []flatField, withSources bool) error {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s: %s", f.keyPath, textValue(f))
		if withSources && f.source != "" {
			fmt.Fprintf(&b, " (source: %s)", f.source)
		}
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}

func dumpJSON(w io.Writer, fields []flatField, indent string) error {
	root := make(map[string]any)
	for _, f := range fields {
		var value any
		if f.set {
			value = jsonValue(f)
		}
		setNested(root, strings.Split(f.keyPath, "."), value)
	}

	var (
		data []byte
		err  error
	)
	if indent != "" {
		data, err = json.MarshalIndent(root, "", indent)
	} else {
		data, err = json.Marshal(root)
	}
	if err != nil {
		return fmt.Errorf("marshal dump: %w", err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}

func textValue(f flatField) string {
	switch {
	case !f.set:
		return "<not set>"
	case f.secret:
		return redacted
	}

	v := f.value
	switch v.Kind() {
	case reflect.String:
		return strconv.Quote(v.String())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(data)
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(v.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(flatValue(v))
}

func jsonValue(f flatField) any {
	if f.secret {
		return redacted
	}
	return flatValue(f.value)
}

// flatValue converts a leaf into a JSON-friendly value.
func flatValue(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Type() {
	case durationType:
		return time.Duration(v.Int()).String()
	case timeType:
		return v.Interface().(time.Time).Format(time.RFC3339)
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil
		}
	case reflect.Map:
		if v.IsNil() {
			return map[string]any{}
		}
	}
	return v.Interface()
}
