package query

import (
	"context"
	"time"
)

// Observer is told about request outcomes and dispatched events.
// Implementations must be safe for concurrent use.
type Observer interface {
	RequestCompleted(command string, status int, elapsed time.Duration, err error)
	EventDispatched(kind EventKind)
	QueueDepth(n int)
}

// EventSink records events, for example to a log or an archive.
type EventSink interface {
	LogEvent(ctx context.Context, ev *Event) error
}

type nopObserver struct{}

func (nopObserver) RequestCompleted(string, int, time.Duration, error) {}
func (nopObserver) EventDispatched(EventKind)                          {}
func (nopObserver) QueueDepth(int)                                     {}
