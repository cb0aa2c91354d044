// Package eventlog records query notifications for audit and analytics.
// Every sink implements query.EventSink.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/querystr"
)

// SlogLogger logs events using structured logging.
type SlogLogger struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogLogger creates a sink that emits one log record per event at level.
func NewSlogLogger(logger *slog.Logger, level slog.Level) *SlogLogger {
	return &SlogLogger{logger: logger, level: level}
}

// LogEvent emits the event kind and every record as a group.
func (l *SlogLogger) LogEvent(ctx context.Context, ev *query.Event) error {
	attrs := []slog.Attr{slog.String("kind", string(ev.Kind))}
	for i, rec := range ev.Data {
		fields := make([]any, 0, 2*rec.Len())
		for _, k := range rec.Keys() {
			fields = append(fields, slog.String(k, rec.Value(k)))
		}
		if len(ev.Data) == 1 {
			attrs = append(attrs, slog.Group("data", fields...))
		} else {
			attrs = append(attrs, slog.Group("data"+strconv.Itoa(i), fields...))
		}
	}
	l.logger.LogAttrs(ctx, l.level, "notification", attrs...)
	return nil
}

// Multi calls several sinks in sequence. Every sink is called even when an
// earlier one fails.
type Multi struct {
	sinks []query.EventSink
}

// NewMulti combines sinks.
func NewMulti(sinks ...query.EventSink) *Multi {
	return &Multi{sinks: sinks}
}

// LogEvent calls all sinks and joins their errors.
func (m *Multi) LogEvent(ctx context.Context, ev *query.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.LogEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards events.
type Noop struct{}

// LogEvent does nothing.
func (Noop) LogEvent(context.Context, *query.Event) error {
	return nil
}

// record is the JSON form of an archived event.
type record struct {
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Kind      string         `json:"kind"`
	Data      []querystr.Map `json:"data"`
	Raw       string         `json:"raw"`
}

func newRecord(ev *query.Event, source string, now time.Time) record {
	data := ev.Data
	if data == nil {
		data = []querystr.Map{}
	}
	return record{
		Timestamp: now.UTC(),
		Source:    source,
		Kind:      string(ev.Kind),
		Data:      data,
		Raw:       ev.Raw,
	}
}

func (r record) toJSON() ([]byte, error) {
	return json.Marshal(r)
}
