package metadata

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// TagName is the struct tag that names business fields on entity objects.
const TagName = "entity"

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// ObjectFieldValues reads every exported, tagged field of obj (a struct or a
// pointer to one). Nil pointers become nil values.
func ObjectFieldValues(obj any) (map[string]any, error) {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("object is a nil %T", obj)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("object is %T, not a struct", obj)
	}

	typ := v.Type()
	values := make(map[string]any, typ.NumField())
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get(TagName), ",")
		if name == "" || name == "-" {
			continue
		}
		values[name] = indirect(v.Field(i))
	}
	return values, nil
}

func indirect(v reflect.Value) any {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// ApplyFieldValues decodes values into obj, which must be a pointer to a
// struct. Strings are converted to the numeric, boolean and time.Time types
// of the target fields.
func ApplyFieldValues(values map[string]any, obj any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          TagName,
		WeaklyTypedInput: true,
		DecodeHook:       stringToValueHook,
		Result:           obj,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(values); err != nil {
		return fmt.Errorf("decode %T: %w", obj, err)
	}
	return nil
}

// stringToValueHook reverses the string forms documents store times and
// binary values in.
func stringToValueHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := reflect.ValueOf(data).String()
	switch to {
	case timeType:
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	case bytesType:
		if s == "" {
			return []byte(nil), nil
		}
		return base64.StdEncoding.DecodeString(s)
	}
	return data, nil
}

// ValueRules controls how NormalizeValue flattens Go values.
type ValueRules struct {
	// NumbersAsStrings stores every integer and float as its decimal string.
	NumbersAsStrings bool
	// TimesAsStrings stores times as RFC 3339 strings in UTC. Zero times
	// become nil either way.
	TimesAsStrings bool
}

// NormalizeValue converts v into strings, bools, numbers, times, []byte,
// []any and map[string]any according to rules. Structs become maps keyed by
// their entity tags.
func NormalizeValue(v any, rules ValueRules) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return nil, nil
		}
		if rules.TimesAsStrings {
			return val.UTC().Format(time.RFC3339Nano), nil
		}
		return val, nil
	case []byte:
		if val == nil {
			return nil, nil
		}
		return slices.Clone(val), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rules.NumbersAsStrings {
			return strconv.FormatInt(rv.Int(), 10), nil
		}
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rules.NumbersAsStrings {
			return strconv.FormatUint(rv.Uint(), 10), nil
		}
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		if rules.NumbersAsStrings {
			return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
		}
		return rv.Float(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return NormalizeValue(rv.Elem().Interface(), rules)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			item, err := NormalizeValue(rv.Index(i).Interface(), rules)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = item
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := NormalizeValue(iter.Value().Interface(), rules)
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	case reflect.Struct:
		fields, err := ObjectFieldValues(v)
		if err != nil {
			return nil, err
		}
		return NormalizeValue(fields, rules)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
