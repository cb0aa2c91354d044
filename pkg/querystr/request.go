package querystr

import (
	"sort"
	"strings"
	"unicode"
)

// Param is a single key=value parameter. An empty Key renders the value
// bare, without "key=".
type Param struct {
	Key   string
	Value any
}

// Request builds a command line. The zero value is not usable; create one
// with NewRequest.
//
// Rendering is cached and invalidated by every mutation. A Request is not safe
// for concurrent mutation.
type Request struct {
	command string
	params  []Param
	groups  [][]Param
	options []string

	rendered string
	cached   bool
	err      error
}

// NewRequest starts a request for command.
func NewRequest(command string) *Request {
	return &Request{command: command}
}

// Command returns the command token.
func (r *Request) Command() string {
	return r.command
}

// Param adds key=value. A nil value is skipped.
func (r *Request) Param(key string, value any) *Request {
	if value == nil {
		return r
	}
	r.params = append(r.params, Param{Key: key, Value: value})
	r.cached = false
	return r
}

// Params adds every entry of params in key order.
func (r *Request) Params(params map[string]any) *Request {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Param(k, params[k])
	}
	return r
}

// Group adds one record of the grouped parameter set. Records are joined
// with "|" on the wire. Entries with a nil value are skipped.
func (r *Request) Group(params ...Param) *Request {
	g := make([]Param, 0, len(params))
	for _, p := range params {
		if p.Value != nil {
			g = append(g, p)
		}
	}
	r.groups = append(r.groups, g)
	r.cached = false
	return r
}

// Groups adds one record per map, each rendered in key order.
func (r *Request) Groups(groups ...map[string]any) *Request {
	for _, m := range groups {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		g := make([]Param, 0, len(keys))
		for _, k := range keys {
			g = append(g, Param{Key: k, Value: m[k]})
		}
		r.Group(g...)
	}
	return r
}

// Option adds a flag. A leading '-' is added when missing.
func (r *Request) Option(flag string) *Request {
	if !strings.HasPrefix(flag, "-") {
		flag = "-" + flag
	}
	r.options = append(r.options, flag)
	r.cached = false
	return r
}

// OptionIf adds flag when on is true.
func (r *Request) OptionIf(flag string, on bool) *Request {
	if on {
		return r.Option(flag)
	}
	return r
}

// Render returns the wire form of the request, without line terminator.
func (r *Request) Render() (string, error) {
	if r.cached {
		return r.rendered, r.err
	}
	r.rendered, r.err = r.render()
	r.cached = true
	return r.rendered, r.err
}

// String returns the rendered line, or the empty string if a value could not
// be escaped.
func (r *Request) String() string {
	s, err := r.Render()
	if err != nil {
		return ""
	}
	return s
}

// Err returns the first escaping or token error, if any.
func (r *Request) Err() error {
	_, err := r.Render()
	return err
}

func (r *Request) render() (string, error) {
	if !validToken(r.command) {
		return "", &TokenError{Kind: "command", Token: r.command}
	}
	for _, o := range r.options {
		if !validToken(strings.TrimPrefix(o, "-")) {
			return "", &TokenError{Kind: "option", Token: o}
		}
	}
	parts := []string{r.command}

	if len(r.params) > 0 {
		s, err := renderParams(r.params)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}

	if len(r.groups) > 0 {
		recs := make([]string, 0, len(r.groups))
		for _, g := range r.groups {
			s, err := renderParams(g)
			if err != nil {
				return "", err
			}
			recs = append(recs, s)
		}
		parts = append(parts, strings.Join(recs, "|"))
	}

	if len(r.options) > 0 {
		parts = append(parts, strings.Join(r.options, " "))
	}

	return strings.Join(parts, " "), nil
}

func renderParams(params []Param) (string, error) {
	out := make([]string, 0, len(params))
	for _, p := range params {
		v, err := Escape(p.Value)
		if err != nil {
			return "", err
		}
		if p.Key == "" {
			out = append(out, v)
			continue
		}
		if !validToken(p.Key) {
			return "", &TokenError{Kind: "key", Token: p.Key}
		}
		out = append(out, p.Key+"="+v)
	}
	return strings.Join(out, " "), nil
}

// validToken reports whether s can stand as one bare word on the wire.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '|' || r == '=' {
			return false
		}
	}
	return true
}
