package query

import (
	"reflect"
	"strings"
)

// TagName is the struct tag holding filter key, same tag is used to decode query string
const TagName = "query"

// Values collects filter values from struct fields tagged with `query:"field__op"`.
// Nil pointers, nil slices and maps are treated as unset and skipped; pointers are dereferenced.
func Values(v any) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return map[string]any{}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return map[string]any{}
	}

	rt := rv.Type()
	out := make(map[string]any, rt.NumField())

	for i := range rt.NumField() {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		key, _, _ := strings.Cut(field.Tag.Get(TagName), ",")
		if key == "" || key == "-" {
			continue
		}

		fv := rv.Field(i)
		switch fv.Kind() {
		case reflect.Pointer:
			if fv.IsNil() {
				continue
			}
			out[key] = fv.Elem().Interface()
		case reflect.Slice, reflect.Map, reflect.Interface:
			if fv.IsNil() {
				continue
			}
			out[key] = fv.Interface()
		default:
			out[key] = fv.Interface()
		}
	}

	return out
}
