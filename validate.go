package buildconf

import (
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// validateStruct checks every field of cfg against its tag constraints.
// Errors are reported by key path.
func validateStruct(cfg reflect.Value) []FieldError {
	return validateStructRecursive(cfg, "")
}

func validateStructRecursive(cfg reflect.Value, keyPrefix string) []FieldError {
	if cfg.Kind() == reflect.Ptr {
		if cfg.IsNil() {
			return nil
		}
		cfg = cfg.Elem()
	}
	if cfg.Kind() != reflect.Struct {
		return nil
	}

	var fieldErrors []FieldError
	t := cfg.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fv := cfg.Field(i)
		tags := parseTag(field.Tag.Get("conf"))
		keyPath := determineKeyPath(field.Name, tags, keyPrefix)

		switch {
		case isOptionalType(field.Type):
			// unset optionals are never validated
			if fv.Field(1).Bool() {
				fieldErrors = append(fieldErrors, validateField(fv.Field(0), keyPath, tags)...)
			}
		case field.Type.Kind() == reflect.Struct && !isLeafStruct(field.Type):
			fieldErrors = append(fieldErrors, validateStructRecursive(fv, nestedPrefix(keyPath, tags))...)
		default:
			fieldErrors = append(fieldErrors, validateField(fv, keyPath, tags)...)
		}
	}

	return fieldErrors
}

// validateField applies required, min, max, oneof and path constraints to one value.
// A missing required value short-circuits the other checks; other constraints
// skip zero values.
func validateField(fv reflect.Value, keyPath string, tags tagConfig) []FieldError {
	if isZeroValue(fv) {
		if tags.required {
			return []FieldError{{
				FieldPath: keyPath,
				Code:      ErrCodeRequired,
				Message:   "field is required but not provided",
			}}
		}
		return nil
	}

	var errs []FieldError
	if tags.min != "" || tags.max != "" {
		errs = append(errs, validateBounds(fv, keyPath, tags)...)
	}
	if len(tags.oneof) > 0 {
		if fe, ok := validateOneof(fv, keyPath, tags.oneof); !ok {
			errs = append(errs, fe)
		}
	}
	if tags.path != "" && fv.Kind() == reflect.String {
		if fe, ok := validatePath(fv.String(), keyPath, tags.path); !ok {
			errs = append(errs, fe)
		}
	}
	return errs
}

// isZeroValue treats empty strings, maps and slices as unset.
func isZeroValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}

// validateBounds compares numbers by value and strings, maps and slices by length.
func validateBounds(fv reflect.Value, keyPath string, tags tagConfig) []FieldError {
	var (
		value float64
		what  = "value"
		show  string
	)

	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		value = float64(fv.Int())
		show = strconv.FormatInt(fv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		value = float64(fv.Uint())
		show = strconv.FormatUint(fv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		value = fv.Float()
		show = strconv.FormatFloat(value, 'g', -1, 64)
	case reflect.String, reflect.Map, reflect.Slice:
		value = float64(fv.Len())
		what = "length"
		show = strconv.Itoa(fv.Len())
	default:
		return nil
	}

	var errs []FieldError
	if limit, err := strconv.ParseFloat(tags.min, 64); tags.min != "" && err == nil && value < limit {
		errs = append(errs, FieldError{
			FieldPath: keyPath,
			Code:      ErrCodeMin,
			Message:   fmt.Sprintf("%s %s is below minimum %s", what, show, tags.min),
		})
	}
	if limit, err := strconv.ParseFloat(tags.max, 64); tags.max != "" && err == nil && value > limit {
		errs = append(errs, FieldError{
			FieldPath: keyPath,
			Code:      ErrCodeMax,
			Message:   fmt.Sprintf("%s %s exceeds maximum %s", what, show, tags.max),
		})
	}
	return errs
}

func validateOneof(fv reflect.Value, keyPath string, allowed []string) (FieldError, bool) {
	var s string
	switch fv.Kind() {
	case reflect.String:
		s = fv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		s = strconv.FormatInt(fv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		s = strconv.FormatUint(fv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		s = strconv.FormatFloat(fv.Float(), 'f', -1, 64)
	case reflect.Bool:
		s = strconv.FormatBool(fv.Bool())
	default:
		return FieldError{}, true
	}

	if slices.Contains(allowed, s) {
		return FieldError{}, true
	}
	return FieldError{
		FieldPath: keyPath,
		Code:      ErrCodeOneOf,
		Message:   fmt.Sprintf("value %q must be one of: %s", s, strings.Join(allowed, ", ")),
	}, false
}

// validatePath enforces the path directive.
//   - rel: a local relative path that stays inside its root (no "..", not absolute)
//   - base: a URL base path like "/maze", leading slash, no trailing slash, no empty or dot segments
func validatePath(s, keyPath, kind string) (FieldError, bool) {
	var msg string
	switch kind {
	case pathRelative:
		if !filepath.IsLocal(filepath.FromSlash(s)) {
			msg = fmt.Sprintf("%q must be a relative path inside the output root", s)
		}
	case pathBase:
		msg = checkBasePath(s)
	default:
		msg = fmt.Sprintf("unknown path kind %q", kind)
	}

	if msg == "" {
		return FieldError{}, true
	}
	return FieldError{FieldPath: keyPath, Code: ErrCodeInvalidPath, Message: msg}, false
}

func checkBasePath(s string) string {
	if !strings.HasPrefix(s, "/") {
		return fmt.Sprintf("%q must start with /", s)
	}
	if strings.HasSuffix(s, "/") {
		return fmt.Sprintf("%q must not end with /", s)
	}
	for _, seg := range strings.Split(s[1:], "/") {
		switch seg {
		case "":
			return fmt.Sprintf("%q contains an empty segment", s)
		case ".", "..":
			return fmt.Sprintf("%q contains a %q segment", s, seg)
		}
	}
	return ""
}
