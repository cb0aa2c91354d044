package queryconn

import (
	"context"
	"io"
	"net"
	"time"
)

// Dialer opens the byte stream a Conn runs on. addr always carries a port.
type Dialer interface {
	Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	return f(ctx, addr)
}

// TCPDialer dials the raw (telnet style) query port.
type TCPDialer struct {
	// KeepAlive is the TCP keep-alive period. Zero uses the net default.
	KeepAlive time.Duration
}

func (d *TCPDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	nd := net.Dialer{KeepAlive: d.KeepAlive}
	return nd.DialContext(ctx, "tcp", addr)
}
