package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cbroglie/mustache"

	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/querystr"
)

// formatter prints records as JSON lines, or through a mustache template
// when one is given. Templates see the record's fields plus "command" for
// replies and "kind" for events. Use {{{field}}} to skip HTML escaping.
type formatter struct {
	tmpl *mustache.Template
}

func newFormatter(format string) (*formatter, error) {
	if format == "" {
		return &formatter{}, nil
	}
	tmpl, err := mustache.ParseString(format)
	if err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}
	return &formatter{tmpl: tmpl}, nil
}

func (f *formatter) record(w io.Writer, m querystr.Map, extra map[string]string) error {
	if f.tmpl == nil {
		out, err := json.Marshal(m)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	}
	out, err := f.tmpl.Render(extra, m.Fields())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func (f *formatter) response(w io.Writer, resp *query.Response) error {
	extra := map[string]string{"command": resp.Command}
	for _, m := range resp.Data {
		if err := f.record(w, m, extra); err != nil {
			return err
		}
	}
	return nil
}

type eventJSON struct {
	Kind string         `json:"kind"`
	Data []querystr.Map `json:"data"`
}

// event prints one JSON line per event, or one template rendering per
// record.
func (f *formatter) event(w io.Writer, ev *query.Event) error {
	if f.tmpl == nil {
		data := ev.Data
		if data == nil {
			data = []querystr.Map{}
		}
		out, err := json.Marshal(eventJSON{Kind: string(ev.Kind), Data: data})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	}
	extra := map[string]string{"kind": string(ev.Kind)}
	records := ev.Data
	if len(records) == 0 {
		records = []querystr.Map{{}}
	}
	for _, m := range records {
		if err := f.record(w, m, extra); err != nil {
			return err
		}
	}
	return nil
}
