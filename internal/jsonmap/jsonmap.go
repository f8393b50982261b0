// Package jsonmap reads values out of decoded JSON objects whose shape is
// only partially known.
package jsonmap

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rotisserie/eris"
)

// Object is a decoded JSON object.
type Object = map[string]any

// AsObject returns v as an object.
func AsObject(v any) (Object, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Get walks path through nested objects.
func Get(m Object, path ...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether path exists, even with a null value.
func Has(m Object, path ...string) bool {
	_, ok := Get(m, path...)
	return ok
}

// Obj returns the object at path.
func Obj(m Object, path ...string) (Object, bool) {
	v, _ := Get(m, path...)
	return AsObject(v)
}

// Str returns the string at path, "" when absent or not a string.
func Str(m Object, path ...string) string {
	v, _ := Get(m, path...)
	s, _ := v.(string)
	return s
}

// StrOK returns the string at path and whether it is a string.
func StrOK(m Object, path ...string) (string, bool) {
	v, _ := Get(m, path...)
	s, ok := v.(string)
	return s, ok
}

// OptStr returns the string at path or nil, for optional record fields.
func OptStr(m Object, path ...string) any {
	if s, ok := StrOK(m, path...); ok {
		return s
	}
	return nil
}

// NonEmptyStr returns the string at path, or nil when absent or empty.
func NonEmptyStr(m Object, path ...string) any {
	if s, ok := StrOK(m, path...); ok && s != "" {
		return s
	}
	return nil
}

// Int returns the integer at path. Whole floats, json.Number and numeric
// strings are accepted.
func Int(m Object, path ...string) (int64, bool) {
	v, _ := Get(m, path...)
	return ToInt(v)
}

// OptInt returns the integer at path as int64, or nil.
func OptInt(m Object, path ...string) any {
	if n, ok := Int(m, path...); ok {
		return n
	}
	return nil
}

// ToInt converts a decoded JSON number to int64.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < -(1<<63) || n >= 1<<63 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// ToFloat converts a decoded JSON number to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Bool returns the boolean at path.
func Bool(m Object, path ...string) (bool, bool) {
	v, _ := Get(m, path...)
	b, ok := v.(bool)
	return b, ok
}

// OptBool returns the boolean at path, or nil.
func OptBool(m Object, path ...string) any {
	if b, ok := Bool(m, path...); ok {
		return b
	}
	return nil
}

// Slice returns the array at path.
func Slice(m Object, path ...string) []any {
	v, _ := Get(m, path...)
	l, _ := v.([]any)
	return l
}

// Objects returns the objects of the array at path, skipping other values.
func Objects(m Object, path ...string) []Object {
	l := Slice(m, path...)
	out := make([]Object, 0, len(l))
	for _, item := range l {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Strings returns the strings of the array at path, never nil.
func Strings(m Object, path ...string) []string {
	l := Slice(m, path...)
	out := make([]string, 0, len(l))
	for _, item := range l {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Normalize converts numbers in v into int64 when whole and float64
// otherwise, so decoded values compare and render consistently.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	}
	return v
}

// Decode maps a decoded JSON value onto a struct using its json tags.
func Decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return eris.Wrap(err, "jsonmap: build decoder")
	}
	if err := dec.Decode(input); err != nil {
		return eris.Wrap(err, "jsonmap: decode")
	}
	return nil
}
