package query

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPollInterval is how long the standing receiver waits for a line
// before checking the queue again.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultReceiverCommands need the standing receiver, since their replies
// are followed by unsolicited notifications.
var DefaultReceiverCommands = []string{"servernotifyregister", "clientnotifyregister"}

// Option configures a Client.
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) {
	f(c)
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Client) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithRateLimit spaces out commands to stay below the server's flood
// protection. A zero limit disables limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return optionFunc(func(c *Client) {
		if limit == 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(limit, burst)
	})
}

// WithObserver reports request and event activity, typically to metrics.
func WithObserver(o Observer) Option {
	return optionFunc(func(c *Client) {
		if o != nil {
			c.observer = o
		}
	})
}

// WithEventSink records every dispatched event.
func WithEventSink(s EventSink) Option {
	return optionFunc(func(c *Client) {
		c.sink = s
	})
}

// WithReceiverCommands replaces the set of commands that start the standing
// receiver before they are sent.
func WithReceiverCommands(commands ...string) Option {
	return optionFunc(func(c *Client) {
		c.receiverCommands = make(map[string]struct{}, len(commands))
		for _, cmd := range commands {
			c.receiverCommands[cmd] = struct{}{}
		}
	})
}

// WithPollInterval sets the idle wait of the standing receiver.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	})
}
