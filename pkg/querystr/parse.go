package querystr

import "strings"

// ParsePair splits a single "key=value" token on its first '='.
// The value is unescaped. hasValue is false when the token has no '='.
func ParsePair(token string) (key, value string, hasValue bool) {
	key, value, hasValue = strings.Cut(token, "=")
	if hasValue {
		value = Unescape(value)
	}
	return key, value, hasValue
}

// ParseList parses whitespace separated tokens into a Map.
// A key that appears twice keeps the last value.
func ParseList(line string) Map {
	var m Map
	for _, tok := range strings.FieldsFunc(line, isSpace) {
		k, v, ok := ParsePair(tok)
		if ok {
			m.Set(k, v)
		} else {
			m.SetKey(k)
		}
	}
	return m
}

// ParseSet parses a "|" separated line into one Map per record.
func ParseSet(line string) []Map {
	parts := strings.Split(line, "|")
	out := make([]Map, 0, len(parts))
	for _, p := range parts {
		out = append(out, ParseList(p))
	}
	return out
}

// isSpace matches the ASCII whitespace the escaper removes from values.
// Unicode spaces inside a value are payload.
func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
