package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tsquery/tsquery/pkg/queryconn"
	"github.com/tsquery/tsquery/pkg/querystr"
)

// Client correlates commands with their replies over one Conn and fans out
// notifications to handlers.
//
// Requests are answered in submission order. Without the standing receiver,
// a caller of Send reads the connection itself while holding the connection
// lock; with it, callers wait for the receiver to resolve their request.
type Client struct {
	conn             *queryconn.Conn
	logger           *slog.Logger
	limiter          *rate.Limiter
	observer         Observer
	sink             EventSink
	receiverCommands map[string]struct{}
	pollInterval     time.Duration

	// connMu spans one read cycle: send the head request and read until it
	// is resolved, or one idle poll.
	connMu sync.Mutex

	queueMu sync.Mutex
	queue   []*pending
	closed  bool

	handlersMu sync.Mutex
	handlers   []registration
	nextID     HandlerID

	recvMu     sync.Mutex
	recvCancel context.CancelFunc
	recvDone   chan struct{}

	dispatchWG sync.WaitGroup
}

// pending is a queued request. sent is guarded by queueMu; data is only
// touched while holding connMu.
type pending struct {
	command string
	line    string
	start   time.Time
	sent    bool
	data    []string

	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

func (p *pending) complete(resp *Response, err error) bool {
	first := false
	p.once.Do(func() {
		p.resp, p.err = resp, err
		close(p.done)
		first = true
	})
	return first
}

func (p *pending) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// New creates a Client on conn. The Client fails every pending request when
// conn disconnects.
func New(conn *queryconn.Conn, opts ...Option) *Client {
	c := &Client{
		conn:         conn,
		logger:       slog.Default(),
		observer:     nopObserver{},
		pollInterval: DefaultPollInterval,
	}
	WithReceiverCommands(DefaultReceiverCommands...).apply(c)
	for _, o := range opts {
		o.apply(c)
	}
	conn.OnDisconnect(c.failAll)
	return c
}

// Dial opens a connection to addr and creates a Client on it.
func Dial(ctx context.Context, addr string, connOpts []queryconn.Option, opts ...Option) (*Client, error) {
	conn := queryconn.New(addr, connOpts...)
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *queryconn.Conn {
	return c.conn
}

// Send issues req and returns its reply. A reply with a non-zero status id is
// still returned without error; use Response.Err to check it.
func (c *Client) Send(ctx context.Context, req *querystr.Request) (*Response, error) {
	if req == nil {
		return nil, &TypeError{Reason: "nil request"}
	}
	if req.Command() == "" {
		return nil, &TypeError{Reason: "empty command"}
	}
	line, err := req.Render()
	if err != nil {
		return nil, &TypeError{Reason: "render " + req.Command(), Err: err}
	}
	if !c.conn.IsConnected() {
		return nil, queryconn.ErrNotConnected
	}

	if _, ok := c.receiverCommands[req.Command()]; ok {
		c.StartReceiver()
	}

	p := &pending{
		command: req.Command(),
		line:    line,
		start:   time.Now(),
		done:    make(chan struct{}),
	}
	if err := c.enqueue(p); err != nil {
		return nil, err
	}
	c.drive(ctx, p)
	return c.wait(ctx, p)
}

// drive runs read cycles until p completes or ctx ends. While the standing
// receiver runs it waits instead, and takes over again once the receiver
// exits with p still unresolved.
func (c *Client) drive(ctx context.Context, p *pending) {
	for !p.finished() && ctx.Err() == nil {
		if stopped := c.receiverDone(); stopped != nil {
			select {
			case <-p.done:
			case <-ctx.Done():
			case <-stopped:
			}
			continue
		}

		c.connMu.Lock()
		if !p.finished() {
			if err := c.serve(ctx); err != nil && ctx.Err() == nil {
				c.logger.Debug("read cycle failed", "error", err)
			}
		}
		c.connMu.Unlock()
	}
}

// wait blocks until p completes or ctx ends. A request abandoned before it
// was written is dropped from the queue; one already written stays queued so
// its reply is consumed.
func (c *Client) wait(ctx context.Context, p *pending) (*Response, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		c.queueMu.Lock()
		if !p.sent {
			c.removeLocked(p)
		}
		c.queueMu.Unlock()
		p.complete(nil, ctx.Err())
	}
	return p.resp, p.err
}

func (c *Client) enqueue(p *pending) error {
	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, p)
	n := len(c.queue)
	c.queueMu.Unlock()
	c.observer.QueueDepth(n)
	return nil
}

// head returns the oldest request and marks it sent.
func (c *Client) head() (p *pending, fresh bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	p = c.queue[0]
	fresh = !p.sent
	p.sent = true
	return p, fresh
}

func (c *Client) unsend(p *pending) {
	c.queueMu.Lock()
	p.sent = false
	c.queueMu.Unlock()
}

func (c *Client) pop(p *pending) {
	c.queueMu.Lock()
	c.removeLocked(p)
	n := len(c.queue)
	c.queueMu.Unlock()
	c.observer.QueueDepth(n)
}

func (c *Client) removeLocked(p *pending) {
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// Pending returns the number of queued requests.
func (c *Client) Pending() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// failAll completes every queued request with cause. It runs when the
// connection goes away.
func (c *Client) failAll(cause error) {
	if errors.Is(cause, queryconn.ErrClosed) {
		cause = errors.Join(ErrClosed, cause)
	}
	c.queueMu.Lock()
	queue := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	for _, p := range queue {
		if p.complete(nil, cause) {
			c.observer.RequestCompleted(p.command, -1, time.Since(p.start), cause)
		}
	}
	if len(queue) > 0 {
		c.logger.Warn("failed pending requests", "count", len(queue), "error", cause)
	}
	c.observer.QueueDepth(0)
}

// serve runs one read cycle. Callers hold connMu.
func (c *Client) serve(ctx context.Context) error {
	p, fresh := c.head()
	if p == nil {
		return c.poll(ctx)
	}

	if fresh {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					// Nothing was written; the next read cycle sends p.
					c.unsend(p)
					return err
				}
				c.pop(p)
				c.resolve(p, nil, err)
				return err
			}
		}
		c.logger.Debug("send", "command", p.command)
		if err := c.conn.Send(p.line); err != nil {
			c.failAll(err)
			return err
		}
	}

	for {
		line, err := c.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.failAll(err)
			}
			return err
		}

		switch {
		case line == "":
			c.resolve(p, nil, ErrResponseExpected)
			return ErrResponseExpected

		case isNotification(line):
			ev, err := ParseEvent(line)
			if err != nil {
				c.resolve(p, nil, err)
				return err
			}
			c.dispatch(ev)
			p.data = nil

		case isStatus(line):
			resp := NewResponse(p.command, p.data, line)
			c.pop(p)
			c.resolve(p, resp, nil)
			return nil

		default:
			p.data = append(p.data, line)
		}
	}
}

// resolve completes p. A request failed before its status line stays at the
// head of the queue until the status line arrives.
func (c *Client) resolve(p *pending, resp *Response, err error) {
	if !p.complete(resp, err) {
		return
	}
	code := -1
	if resp != nil {
		code = resp.Code()
	}
	c.observer.RequestCompleted(p.command, code, time.Since(p.start), err)
	if err != nil {
		c.logger.Warn("request failed", "command", p.command, "error", err)
	}
}

// poll reads one line when nothing is queued.
func (c *Client) poll(ctx context.Context) error {
	line, err := c.conn.Poll(ctx, c.pollInterval)
	if errors.Is(err, queryconn.ErrIdle) {
		return nil
	}
	if err != nil {
		return err
	}
	if line == "" {
		return nil
	}
	if !isNotification(line) {
		return &UnexpectedLineError{Line: line}
	}
	ev, err := ParseEvent(line)
	if err != nil {
		return err
	}
	c.dispatch(ev)
	return nil
}

// Close stops the receiver, fails what is still pending, closes the
// connection and waits for running handlers. Handlers must not call Close.
//
// A closed Client refuses new requests with ErrClosed. Requests are refused
// and failed before "quit" is written, so the reply to quit can only reach a
// request that is already complete.
func (c *Client) Close() error {
	c.StopReceiver()
	c.queueMu.Lock()
	c.closed = true
	c.queueMu.Unlock()
	c.failAll(ErrClosed)
	err := c.conn.Close()
	c.dispatchWG.Wait()
	return err
}
