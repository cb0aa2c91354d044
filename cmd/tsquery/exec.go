package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tsquery/tsquery/pkg/config"
	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/querystr"
	"github.com/tsquery/tsquery/pkg/secret"
)

// ExecCLI runs one command.
type ExecCLI struct {
	Command string   `arg:"" help:"Command name, e.g. clientlist"`
	Params  []string `arg:"" optional:"" passthrough:"" help:"Parameters as key=value, -flag, or a|b for grouped records; flags of exec go before the command"`
	Format  string   `short:"f" help:"Mustache template per record (default: JSON lines)"`
	Timeout int      `help:"Seconds to wait for the reply" default:"10"`
}

func (c *ExecCLI) Run(logger *slog.Logger, profile config.Profile) error {
	f, err := newFormatter(c.Format)
	if err != nil {
		return err
	}
	req, err := buildRequest(c.Command, c.Params)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), secondsOr(c.Timeout, 10))
	defer cancel()

	s, err := connect(ctx, logger, profile, secret.NewResolver())
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.client.Send(ctx, req)
	if err != nil {
		return err
	}
	if err := f.response(os.Stdout, resp); err != nil {
		return err
	}
	return resp.Err()
}

// buildRequest turns command line words into a request. "key=value" is a
// parameter whose value is escaped as typed, "-flag" is an option, and a
// word containing "|" is a list of grouped records, each holding space
// separated pairs.
func buildRequest(command string, words []string) (*querystr.Request, error) {
	if command == "" {
		return nil, &query.TypeError{Reason: "empty command"}
	}
	req := querystr.NewRequest(command)
	for _, w := range words {
		switch {
		case strings.HasPrefix(w, "-"):
			req.Option(w)
		case strings.Contains(w, "|"):
			for _, rec := range strings.Split(w, "|") {
				var group []querystr.Param
				for _, tok := range strings.Fields(rec) {
					group = append(group, wordParam(tok))
				}
				if len(group) == 0 {
					return nil, fmt.Errorf("empty record in %q", w)
				}
				req.Group(group...)
			}
		case w == "":
			return nil, fmt.Errorf("empty parameter")
		default:
			p := wordParam(w)
			req.Param(p.Key, p.Value)
		}
	}
	return req, nil
}

// wordParam splits key=value. A word without '=' is a bare value.
func wordParam(word string) querystr.Param {
	key, value, ok := strings.Cut(word, "=")
	if !ok {
		return querystr.Param{Value: word}
	}
	return querystr.Param{Key: key, Value: value}
}
