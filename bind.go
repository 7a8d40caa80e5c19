package buildconf

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Azhovan/buildconf/internal/normalize"
)

// sourceDefault labels values that came from a default directive.
const sourceDefault = "default"

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// mergedEntry is one key after all sources have been merged.
type mergedEntry struct {
	value       any
	sourceName  string // e.g. "file:buildconf.yaml"
	sourceKey   string // provenance label, e.g. "env:BUILDCONF_PATHS__BASE"
	originalKey string // key as the source reported it, case preserved
}

// bindStruct populates the exported fields of v from data, recording provenance.
// Conversion failures are returned as field errors; binding continues past them.
func bindStruct(v reflect.Value, data map[string]mergedEntry, prov *[]FieldProvenance, fieldPrefix, keyPrefix string) []FieldError {
	var errs []FieldError
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fv := v.Field(i)
		tags := parseTag(field.Tag.Get("conf"))
		fieldPath := normalize.ApplyPrefix(fieldPrefix, field.Name)
		keyPath := determineKeyPath(field.Name, tags, keyPrefix)

		switch {
		case field.Type.Kind() == reflect.Struct && !isLeafStruct(field.Type):
			errs = append(errs, bindStruct(fv, data, prov, fieldPath, nestedPrefix(keyPath, tags))...)
			continue
		case field.Type.Kind() == reflect.Map:
			errs = append(errs, bindMap(fv, fieldPath, keyPath, tags, data, prov)...)
			continue
		}

		entry, ok := lookupEntry(data, keyPath, tags)
		if !ok {
			if !tags.hasDefault {
				continue
			}
			entry = mergedEntry{value: tags.defValue, sourceName: sourceDefault, sourceKey: sourceDefault}
		}

		if err := assignValue(fv, entry.value); err != nil {
			errs = append(errs, FieldError{
				FieldPath: keyPath,
				Code:      ErrCodeInvalidType,
				Message:   err.Error(),
			})
			continue
		}

		*prov = append(*prov, FieldProvenance{
			FieldPath:  fieldPath,
			KeyPath:    keyPath,
			SourceName: entry.sourceKey,
			Secret:     tags.secret,
		})
	}

	return errs
}

// lookupEntry finds the value for a field. An env directive naming a variable
// that some source reported wins over the key path.
func lookupEntry(data map[string]mergedEntry, keyPath string, tags tagConfig) (mergedEntry, bool) {
	if tags.env != "" {
		want := "env:" + tags.env
		for _, entry := range data {
			if entry.sourceKey == want {
				return entry, true
			}
		}
	}
	entry, ok := data[keyPath]
	return entry, ok
}

// bindMap fills a string-keyed map field. An entry at keyPath holding a map
// is taken as is (deep-copied); a nil entry means an empty map. Flattened
// "keyPath.*" entries, such as environment overrides, are laid over it with
// the case the source reported. For map[string]any fields their dot-separated
// remainder is rebuilt into nested maps.
func bindMap(fv reflect.Value, fieldPath, keyPath string, tags tagConfig, data map[string]mergedEntry, prov *[]FieldProvenance) []FieldError {
	t := fv.Type()
	if t.Key().Kind() != reflect.String {
		return []FieldError{{
			FieldPath: keyPath,
			Code:      ErrCodeInvalidType,
			Message:   fmt.Sprintf("unsupported map type %s", t),
		}}
	}

	base := make(map[string]any)
	children := make(map[string]any)
	sources := make(map[string]bool)
	var errs []FieldError

	for _, key := range normalize.SortedKeys(data) {
		entry := data[key]
		if key == keyPath {
			switch v := entry.value.(type) {
			case nil:
			case map[string]any, map[any]any:
				base = cloneTree(v).(map[string]any)
			default:
				errs = append(errs, FieldError{
					FieldPath: keyPath,
					Code:      ErrCodeInvalidType,
					Message:   fmt.Sprintf("expected a mapping, got %T", entry.value),
				})
				continue
			}
			sources[entry.sourceKey] = true
			continue
		}
		sub, ok := normalize.TrimPrefix(entry.originalKey, keyPath)
		if !ok {
			continue
		}
		children[sub] = entry.value
		sources[entry.sourceKey] = true
	}

	m := reflect.MakeMapWithSize(t, len(base)+len(children))
	elem := t.Elem()
	nested := elem.Kind() == reflect.Interface && elem.NumMethod() == 0

	if nested {
		for _, sub := range normalize.SortedKeys(children) {
			setNested(base, strings.Split(sub, "."), children[sub])
		}
		for k, v := range base {
			m.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), reflect.ValueOf(&v).Elem())
		}
	} else {
		for sub, v := range children {
			base[sub] = v
		}
		for _, sub := range normalize.SortedKeys(base) {
			converted, err := convertValue(base[sub], elem)
			if err != nil {
				errs = append(errs, FieldError{
					FieldPath: normalize.ApplyPrefix(keyPath, strings.ToLower(sub)),
					Code:      ErrCodeInvalidType,
					Message:   err.Error(),
				})
				continue
			}
			m.SetMapIndex(reflect.ValueOf(sub).Convert(t.Key()), converted)
		}
	}
	fv.Set(m)

	if len(sources) > 0 {
		names := make([]string, 0, len(sources))
		for name := range sources {
			names = append(names, name)
		}
		sort.Strings(names)
		*prov = append(*prov, FieldProvenance{
			FieldPath:  fieldPath,
			KeyPath:    keyPath,
			SourceName: strings.Join(names, ","),
			Secret:     tags.secret,
		})
	}

	return errs
}

// cloneTree deep-copies maps and slices so bound values never alias source data.
// map[any]any keys are stringified.
func cloneTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneTree(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = cloneTree(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneTree(item)
		}
		return out
	default:
		return v
	}
}

// setNested stores value at the path inside tree, creating maps as needed.
// A scalar in the way is replaced by a map.
func setNested(tree map[string]any, parts []string, value any) {
	for _, part := range parts[:len(parts)-1] {
		next, ok := tree[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			tree[part] = next
		}
		tree = next
	}
	tree[parts[len(parts)-1]] = value
}

// assignValue converts raw and stores it in fv, unwrapping Optional[T].
func assignValue(fv reflect.Value, raw any) error {
	if isOptionalType(fv.Type()) {
		if err := assignValue(fv.Field(0), raw); err != nil {
			return err
		}
		fv.Field(1).SetBool(true)
		return nil
	}

	converted, err := convertValue(raw, fv.Type())
	if err != nil {
		return err
	}
	fv.Set(converted)
	return nil
}

// convertValue converts a source value (string from env, typed from files) to t.
func convertValue(raw any, t reflect.Type) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(t), nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Type() == t {
		return rv, nil
	}
	if t.Kind() == reflect.Interface && rv.Type().Implements(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}

	out := reflect.New(t).Elem()

	switch t {
	case durationType:
		switch v := raw.(type) {
		case string:
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return out, fmt.Errorf("invalid duration %q", v)
			}
			out.SetInt(int64(d))
			return out, nil
		default:
			n, err := toInt64(raw)
			if err != nil {
				return out, err
			}
			out.SetInt(n)
			return out, nil
		}
	case timeType:
		s, ok := raw.(string)
		if !ok {
			return out, fmt.Errorf("cannot convert %T to time", raw)
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return out, fmt.Errorf("invalid RFC3339 time %q", s)
		}
		out.Set(reflect.ValueOf(ts))
		return out, nil
	}

	switch t.Kind() {
	case reflect.String:
		switch v := raw.(type) {
		case string:
			out.SetString(v)
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			out.SetString(fmt.Sprint(v))
		default:
			return out, fmt.Errorf("cannot convert %T to string", raw)
		}

	case reflect.Bool:
		switch v := raw.(type) {
		case bool:
			out.SetBool(v)
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return out, fmt.Errorf("invalid boolean %q", v)
			}
			out.SetBool(b)
		default:
			return out, fmt.Errorf("cannot convert %T to bool", raw)
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(raw)
		if err != nil {
			return out, err
		}
		if out.OverflowInt(n) {
			return out, fmt.Errorf("value %d overflows %s", n, t)
		}
		out.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(raw)
		if err != nil {
			return out, err
		}
		if n < 0 || out.OverflowUint(uint64(n)) {
			return out, fmt.Errorf("value %d out of range for %s", n, t)
		}
		out.SetUint(uint64(n))

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(raw)
		if err != nil {
			return out, err
		}
		if out.OverflowFloat(f) {
			return out, fmt.Errorf("value %g overflows %s", f, t)
		}
		out.SetFloat(f)

	case reflect.Slice:
		items, err := toSlice(raw)
		if err != nil {
			return out, err
		}
		s := reflect.MakeSlice(t, 0, len(items))
		for i, item := range items {
			ev, err := convertValue(item, t.Elem())
			if err != nil {
				return out, fmt.Errorf("element %d: %w", i, err)
			}
			s = reflect.Append(s, ev)
		}
		out.Set(s)

	default:
		return out, fmt.Errorf("unsupported field type %s", t)
	}

	return out, nil
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintToInt64(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintToInt64(v)
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", raw)
	}
}

func uintToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

// floatToInt64 accepts JSON numbers that hold whole values.
func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %g is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return f, nil
	default:
		n, err := toInt64(raw)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float", raw)
		}
		return float64(n), nil
	}
}

// toSlice accepts decoded lists or a comma-separated string.
func toSlice(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return []any{}, nil
		}
		parts := strings.Split(v, ",")
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = strings.TrimSpace(p)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to list", raw)
	}
}
