package queryconn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPort is the raw ServerQuery port.
	DefaultPort = "10011"

	// DefaultTimeout bounds dialing and the greeting exchange.
	DefaultTimeout = time.Second

	// DefaultGreeting is the banner prefix of both ServerQuery and ClientQuery.
	DefaultGreeting = "TS3"

	// Terminator ends every line in both directions.
	Terminator = "\n\r"

	greetingWait = 5 * time.Second
	lineBuffer   = 64
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Conn is a line oriented query connection. All methods are safe for
// concurrent use; writes are serialized.
type Conn struct {
	addr        string
	defaultPort string
	timeout     time.Duration
	greeting    string
	dialer      Dialer
	logger      *slog.Logger

	mu      sync.Mutex
	sess    *session
	hooks   []func(error)
	keeper  *keepAlive
	writeMu sync.Mutex
}

// session is one dialed stream and its line pump.
type session struct {
	stream io.ReadWriteCloser
	lines  chan lineResult
	done   chan struct{}
	once   sync.Once
}

type lineResult struct {
	line string
	err  error
}

// New creates a disconnected Conn for addr. A missing port defaults to
// DefaultPort, or to the port of the configured dialer.
func New(addr string, opts ...Option) *Conn {
	c := &Conn{
		addr:        addr,
		defaultPort: DefaultPort,
		timeout:     DefaultTimeout,
		greeting:    DefaultGreeting,
		dialer:      &TCPDialer{},
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Addr returns the address as configured.
func (c *Conn) Addr() string {
	return c.addr
}

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return Connected
	}
	return Disconnected
}

// IsConnected reports whether the stream is open.
func (c *Conn) IsConnected() bool {
	return c.State() == Connected
}

// OnDisconnect registers fn to run whenever the connection leaves the
// connected state. fn receives ErrClosed after Close and the failure cause
// after a reset. Hooks run synchronously and must not call back into Conn.
func (c *Conn) OnDisconnect(fn func(cause error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Open dials the server and performs the greeting exchange. Opening an open
// connection is a no-op. The dial runs without holding the state lock; when
// two Opens race, the first to finish wins and the other closes its stream.
func (c *Conn) Open(ctx context.Context) error {
	addr, err := c.address()
	if err != nil {
		return err
	}
	if c.IsConnected() {
		return nil
	}

	s, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		s.close()
		c.logger.Debug("concurrent open won, dropping stream", "addr", addr)
		return nil
	}
	c.sess = s
	c.mu.Unlock()
	return nil
}

// dial opens a stream to addr and runs the greeting exchange on it.
func (c *Conn) dial(ctx context.Context, addr string) (*session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	stream, err := c.dialer.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	s := &session{
		stream: stream,
		lines:  make(chan lineResult, lineBuffer),
		done:   make(chan struct{}),
	}
	go s.pump()

	greetCtx, cancel := context.WithTimeout(ctx, greetingWait)
	defer cancel()

	banner, err := s.next(greetCtx)
	if err != nil {
		s.close()
		return nil, &TransportError{Op: "recv", Err: err}
	}
	if !strings.HasPrefix(banner, c.greeting) {
		s.close()
		c.logger.Warn("unexpected greeting", "addr", addr, "greeting", banner)
		return nil, &ProtocolMismatchError{Want: c.greeting, Greeting: banner}
	}

	// The second line is a human readable welcome text.
	welcome, err := s.next(greetCtx)
	if err != nil {
		s.close()
		return nil, &TransportError{Op: "recv", Err: err}
	}

	c.logger.Debug("connected", "addr", addr, "banner", banner, "welcome", welcome)
	return s, nil
}

// address validates the configured address and fills in the default port.
func (c *Conn) address() (string, error) {
	addr := strings.TrimSpace(c.addr)
	if addr == "" {
		return "", &ConfigError{Addr: c.addr, Reason: "host is empty"}
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, c.defaultPort
	}
	if host == "" {
		return "", &ConfigError{Addr: c.addr, Reason: "host is empty"}
	}
	return net.JoinHostPort(host, port), nil
}

// Send writes line followed by the terminator. A write failure resets the
// connection.
func (c *Conn) Send(line string) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	if d, ok := s.stream.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err := io.WriteString(s.stream, line+Terminator)
	c.writeMu.Unlock()

	if err != nil {
		terr := &TransportError{Op: "send", Err: err}
		c.reset(s, terr)
		return terr
	}
	return nil
}

// SendAny sends v, which must be a string.
func (c *Conn) SendAny(v any) error {
	line, ok := v.(string)
	if !ok {
		return &TypeError{Value: v}
	}
	return c.Send(line)
}

// Recv blocks for the next line and returns it without the terminator or
// trailing whitespace. A read failure resets the connection.
func (c *Conn) Recv(ctx context.Context) (string, error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return "", ErrNotConnected
	}

	line, err := s.next(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return "", err
		}
		if errors.Is(err, errSessionClosed) {
			return "", ErrNotConnected
		}
		terr := &TransportError{Op: "recv", Err: err}
		c.reset(s, terr)
		return "", terr
	}
	return line, nil
}

// Poll waits up to wait for a line. It returns ErrIdle when nothing arrived,
// without touching the connection state.
func (c *Conn) Poll(ctx context.Context, wait time.Duration) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	line, err := c.Recv(pctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return "", ErrIdle
	}
	return line, err
}

// Close stops keep-alive, sends "quit" and closes the stream. Closing a
// closed connection is a no-op.
func (c *Conn) Close() error {
	c.StopKeepAlive()

	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	if err := c.Send("quit"); err != nil {
		c.logger.Debug("quit failed", "error", err)
	}
	c.reset(s, ErrClosed)
	return nil
}

// Reset drops the stream without saying goodbye.
func (c *Conn) Reset(cause error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return
	}
	if cause == nil {
		cause = ErrClosed
	}
	c.reset(s, cause)
}

// reset tears down s if it is still the current session and notifies hooks.
func (c *Conn) reset(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	hooks := make([]func(error), len(c.hooks))
	copy(hooks, c.hooks)
	k := c.keeper
	c.keeper = nil
	c.mu.Unlock()

	if k != nil {
		k.signal()
	}
	s.close()

	if errors.Is(cause, ErrClosed) {
		c.logger.Debug("connection closed", "addr", c.addr)
	} else {
		c.logger.Warn("connection reset", "addr", c.addr, "error", cause)
	}
	for _, fn := range hooks {
		fn(cause)
	}
}

var errSessionClosed = errors.New("session closed")

// pump frames lines from the stream until it fails or the session closes.
// A line ends at '\n'; the '\r' that follows is dropped from the next read.
func (s *session) pump() {
	r := bufio.NewReader(s.stream)
	for {
		raw, err := r.ReadString('\n')
		raw = strings.TrimPrefix(raw, "\r")
		if err != nil {
			select {
			case s.lines <- lineResult{err: err}:
			case <-s.done:
			}
			return
		}
		select {
		case s.lines <- lineResult{line: strings.TrimRight(raw, " \t\r\n")}:
		case <-s.done:
			return
		}
	}
}

// next returns the next framed line.
func (s *session) next(ctx context.Context) (string, error) {
	select {
	case r := <-s.lines:
		return r.line, r.err
	case <-s.done:
		return "", errSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.stream.Close()
	})
}
