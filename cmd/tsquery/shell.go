package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ergochat/readline"

	"github.com/tsquery/tsquery/pkg/config"
	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/queryconn"
	"github.com/tsquery/tsquery/pkg/querystr"
	"github.com/tsquery/tsquery/pkg/secret"
)

// ShellCLI is an interactive session. Lines are sent as typed; replies and
// notifications are printed as they arrive.
type ShellCLI struct {
	History string `help:"History file" default:"~/.config/tsquery/history"`
	Format  string `short:"f" help:"Mustache template per record (default: JSON lines)"`
}

func (c *ShellCLI) Run(logger *slog.Logger, profile config.Profile) error {
	f, err := newFormatter(c.Format)
	if err != nil {
		return err
	}

	history := expandHome(c.History)
	if err := os.MkdirAll(filepath.Dir(history), 0o700); err != nil {
		logger.Warn("history disabled", "error", err)
		history = ""
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:                 "tsquery> ",
		HistoryFile:            history,
		HistoryLimit:           1000,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return fmt.Errorf("unable to start line editor: %w", err)
	}
	defer rl.Close()

	ctx := context.Background()
	s, err := connect(ctx, logger, profile, secret.NewResolver())
	if err != nil {
		return err
	}
	defer s.Close()
	s.keepAlive(profile)

	out := &lockedWriter{w: os.Stdout}
	s.client.RegisterHandler(printer(out, f, logger))

	sh := &shell{session: s, format: f, out: out}
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rl.SaveToHistory(line)

		if done := sh.exec(ctx, line); done {
			return nil
		}
	}
}

type shell struct {
	session *session
	format  *formatter
	out     io.Writer
}

// exec runs one shell line and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	switch line {
	case "exit", "quit":
		return true
	case ".receiver":
		sh.session.client.StartReceiver()
		fmt.Fprintln(sh.out, "receiver started")
		return false
	case ".pending":
		fmt.Fprintln(sh.out, sh.session.client.Pending())
		return false
	}

	resp, err := sh.session.client.Send(ctx, parseLine(line))
	if err != nil {
		fmt.Fprintf(sh.out, "error: %s\n", err)
		return errors.Is(err, queryconn.ErrNotConnected) || errors.Is(err, query.ErrClosed)
	}
	if err := sh.format.response(sh.out, resp); err != nil {
		fmt.Fprintf(sh.out, "error: %s\n", err)
	}
	fmt.Fprintf(sh.out, "status id=%d msg=%s\n", resp.Code(), resp.Message())
	return false
}

// parseLine reads a command typed in wire form, such as
// "clientmove cid=4 clid=10|clid=11" or "clientlist -uid". Values are
// unescaped here and escaped again when the request is rendered.
func parseLine(line string) *querystr.Request {
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' })
	req := querystr.NewRequest(fields[0])

	var body []string
	for _, tok := range fields[1:] {
		if strings.HasPrefix(tok, "-") && !strings.Contains(tok, "=") {
			req.Option(tok)
			continue
		}
		body = append(body, tok)
	}
	if len(body) == 0 {
		return req
	}

	sets := querystr.ParseSet(strings.Join(body, " "))
	if len(sets) == 1 {
		for _, p := range mapParams(sets[0]) {
			req.Param(p.Key, p.Value)
		}
		return req
	}
	for _, m := range sets {
		req.Group(mapParams(m)...)
	}
	return req
}

func mapParams(m querystr.Map) []querystr.Param {
	out := make([]querystr.Param, 0, m.Len())
	for _, k := range m.Keys() {
		v, ok := m.Get(k)
		if !ok {
			out = append(out, querystr.Param{Value: k})
			continue
		}
		out = append(out, querystr.Param{Key: k, Value: v})
	}
	return out
}

// lockedWriter serializes handler output with replies.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
