package querystr

import (
	"reflect"
	"strconv"
	"strings"
)

// escapeTable lists the substitutions in the order they are applied when
// escaping. The backslash comes first so later replacements are not escaped
// twice.
var escapeTable = [...][2]string{
	{`\`, `\\`},
	{`/`, `\/`},
	{` `, `\s`},
	{`|`, `\p`},
	{"\a", `\a`},
	{"\b", `\b`},
	{"\f", `\f`},
	{"\n", `\n`},
	{"\r", `\r`},
	{"\t", `\t`},
	{"\v", `\v`},
}

var (
	escaper   *strings.Replacer
	unescaper *strings.Replacer
)

func init() {
	fwd := make([]string, 0, 2*len(escapeTable))
	rev := make([]string, 0, 2*len(escapeTable))
	for _, p := range escapeTable {
		fwd = append(fwd, p[0], p[1])
		rev = append(rev, p[1], p[0])
	}
	// strings.Replacer scans left to right and never rescans output, which
	// keeps `\\s` decoding to `\s` rather than `\ `.
	escaper = strings.NewReplacer(fwd...)
	unescaper = strings.NewReplacer(rev...)
}

// Escape renders v as a wire-safe parameter value.
//
// nil renders as the empty string, booleans as "1" or "0" and integers in
// decimal. Strings, including named string types, are escaped. Any other type
// returns a *TypeError.
func Escape(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return escaper.Replace(t), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return escaper.Replace(rv.String()), nil
	case reflect.Bool:
		return Escape(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", &TypeError{Op: "escape", Value: v}
}

// MustEscape is like Escape for values known to be strings.
func MustEscape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape.
func Unescape(s string) string {
	return unescaper.Replace(s)
}

// UnescapeAny unescapes v, which must be a string.
func UnescapeAny(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Op: "unescape", Value: v}
	}
	return Unescape(s), nil
}
