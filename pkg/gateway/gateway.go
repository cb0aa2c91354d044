// Package gateway exposes a query client over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/queryconn"
	"github.com/tsquery/tsquery/pkg/querystr"
)

// RequestBodySizeLimit is the maximum command request body size.
const RequestBodySizeLimit = 64 * 1024

// Sender issues one command. *query.Client implements it.
type Sender interface {
	Send(ctx context.Context, req *querystr.Request) (*query.Response, error)
}

// CommandRequest is the body of POST /v1/command.
type CommandRequest struct {
	Command string           `json:"command"`
	Params  map[string]any   `json:"params,omitempty"`
	Groups  []map[string]any `json:"groups,omitempty"`
	Options []string         `json:"options,omitempty"`
}

// CommandResponse is the reply to POST /v1/command.
type CommandResponse struct {
	Data   []querystr.Map `json:"data"`
	Status querystr.Map   `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Gateway serves the HTTP API.
type Gateway struct {
	sender   Sender
	log      *slog.Logger
	health   func() error
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHealth sets the check behind GET /healthz.
func WithHealth(check func() error) Option {
	return func(g *Gateway) {
		g.health = check
	}
}

// WithGatherer serves GET /metrics from gatherer.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(g *Gateway) {
		g.gatherer = gatherer
	}
}

// WithTimeout bounds each request. Zero disables the middleware.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// New creates a Gateway.
func New(sender Sender, log *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		sender:  sender,
		log:     log,
		timeout: 60 * time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// Handler returns the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if g.timeout > 0 {
		r.Use(middleware.Timeout(g.timeout))
	}

	r.Get("/healthz", g.healthz)
	r.Post("/v1/command", g.command)
	if g.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (g *Gateway) healthz(w http.ResponseWriter, r *http.Request) {
	if g.health != nil {
		if err := g.health(); err != nil {
			writeJSON(w, g.log, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}
	w.Header().Add("Content-type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (g *Gateway) command(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, RequestBodySizeLimit))
	if err != nil {
		writeJSON(w, g.log, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unable to read body: %s", err)})
		return
	}

	var cr CommandRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&cr); err != nil {
		writeJSON(w, g.log, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unable to parse body: %s", err)})
		return
	}
	if cr.Command == "" {
		writeJSON(w, g.log, http.StatusBadRequest, errorResponse{Error: "command is required"})
		return
	}

	req := querystr.NewRequest(cr.Command).Params(cr.Params).Groups(cr.Groups...)
	for _, opt := range cr.Options {
		req.Option(opt)
	}

	resp, err := g.sender.Send(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		g.log.Warn("command failed", "command", cr.Command, "status", code, "error", err)
		writeJSON(w, g.log, code, errorResponse{Error: err.Error()})
		return
	}

	out := CommandResponse{Data: resp.Data, Status: resp.Status}
	if out.Data == nil {
		out.Data = []querystr.Map{}
	}
	code := http.StatusOK
	if resp.Err() != nil {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, g.log, code, out)
}

func statusFor(err error) int {
	var typeErr *query.TypeError
	switch {
	case errors.As(err, &typeErr):
		return http.StatusBadRequest
	case errors.Is(err, queryconn.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, code int, v any) {
	out, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		log.Warn("unable to jsonify response", "error", err)
		return
	}
	w.Header().Add("Content-type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(out); err != nil {
		log.Warn("unable to write response", "error", err)
	}
}
