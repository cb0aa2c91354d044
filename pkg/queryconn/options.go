package queryconn

import (
	"log/slog"
	"time"
)

// Option configures a Conn.
type Option func(*Conn)

// WithTimeout bounds dialing and each write.
//
// Default: 1s
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialer replaces the TCP dialer, for example with an SSHDialer.
func WithDialer(d Dialer) Option {
	return func(c *Conn) {
		c.dialer = d
		if p, ok := d.(interface{ DefaultPort() string }); ok {
			c.defaultPort = p.DefaultPort()
		}
	}
}

// WithGreeting sets the banner prefix the server must send first.
//
// Default: "TS3"
func WithGreeting(prefix string) Option {
	return func(c *Conn) {
		c.greeting = prefix
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}
