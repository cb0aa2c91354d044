package querystr

import (
	"encoding/json"
	"strings"
)

// Map is an insertion-ordered set of parameters parsed from one record.
// A key may be present without a value, as in "clientlist -uid" replies
// that carry bare flags.
type Map struct {
	keys   []string
	values map[string]field
}

type field struct {
	value string
	set   bool
}

// Set stores key with value. A key seen before keeps its first position.
func (m *Map) Set(key, value string) {
	m.put(key, field{value: value, set: true})
}

// SetKey stores key without a value.
func (m *Map) SetKey(key string) {
	m.put(key, field{})
}

func (m *Map) put(key string, f field) {
	if m.values == nil {
		m.values = make(map[string]field)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = f
}

// Get returns the value for key and whether the key carried a value.
func (m Map) Get(key string) (string, bool) {
	f, ok := m.values[key]
	return f.value, ok && f.set
}

// Value returns the value for key or the empty string.
func (m Map) Value(key string) string {
	return m.values[key].value
}

// Has reports whether key is present, with or without a value.
func (m Map) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the keys in the order they were first seen.
func (m Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m Map) Len() int {
	return len(m.keys)
}

// String renders the map back to wire form.
func (m Map) String() string {
	var b strings.Builder
	for i, k := range m.keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		if f := m.values[k]; f.set {
			b.WriteByte('=')
			b.WriteString(MustEscape(f.value))
		}
	}
	return b.String()
}

// MarshalJSON encodes the map as a JSON object in key order. Keys without a
// value encode as null.
func (m Map) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		f := m.values[k]
		if !f.set {
			b.WriteString("null")
			continue
		}
		vb, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Fields returns a copy of the map as a plain Go map. Keys without a value
// map to the empty string.
func (m Map) Fields() map[string]string {
	out := make(map[string]string, len(m.keys))
	for _, k := range m.keys {
		out[k] = m.values[k].value
	}
	return out
}
