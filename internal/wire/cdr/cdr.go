// Package cdr provides a diagnostic-only rendering of an opaque message
// payload, for logging (spec.md treats the wire payload as opaque; decoding
// it for anything other than a human-readable log preview stays out of
// scope). It leans on jsonenc's allocation-light primitive appenders, the
// same package stumpy itself is built on for event encoding.
package cdr

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// DefaultMaxLen bounds Preview's output so a large payload can't blow out a
// log line.
const DefaultMaxLen = 256

// Preview renders payload as a short, JSON-ish string for diagnostics.
// Strings and floats use jsonenc's appenders, the way stumpy's own event
// writer does for field values; integers are written as JSON numbers;
// slices, arrays and maps are rendered element by element; Stringers,
// errors and any other kind become a quoted string of their text. The result is
// truncated to maxLen runes, with a "..." suffix if truncation occurred. A
// maxLen of zero or less uses DefaultMaxLen.
func Preview(payload any, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	buf := appendValue(nil, payload)
	return truncate(string(buf), maxLen)
}

func appendValue(dst []byte, v any) []byte {
	switch val := v.(type) {
	case nil:
		return append(dst, "null"...)
	case string:
		return jsonenc.AppendString(dst, val)
	case float32:
		return jsonenc.AppendFloat32(dst, val)
	case float64:
		return jsonenc.AppendFloat64(dst, val)
	case fmt.Stringer:
		return jsonenc.AppendString(dst, val.String())
	case error:
		return jsonenc.AppendString(dst, val.Error())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		dst = append(dst, '[')
		n := rv.Len()
		for i := 0; i < n; i++ {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendValue(dst, rv.Index(i).Interface())
		}
		return append(dst, ']')
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.AppendInt(dst, rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.AppendUint(dst, rv.Uint(), 10)
	case reflect.Map:
		dst = append(dst, '{')
		for i, key := range rv.MapKeys() {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = jsonenc.AppendString(dst, fmt.Sprint(key.Interface()))
			dst = append(dst, ':')
			dst = appendValue(dst, rv.MapIndex(key).Interface())
		}
		return append(dst, '}')
	default:
		return jsonenc.AppendString(dst, fmt.Sprintf("%v", v))
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
