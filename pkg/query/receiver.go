package query

import (
	"context"
	"errors"
	"time"

	"github.com/tsquery/tsquery/pkg/queryconn"
)

// StartReceiver starts the standing receiver, which keeps reading the
// connection so notifications arrive without an active caller. Starting a
// running receiver is a no-op.
func (c *Client) StartReceiver() {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if c.recvDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.recvCancel, c.recvDone = cancel, done
	go c.receive(ctx, done)
	c.logger.Debug("receiver started")
}

// StopReceiver stops the standing receiver and waits for it to exit.
// Stopping a stopped receiver is a no-op.
func (c *Client) StopReceiver() {
	c.recvMu.Lock()
	cancel, done := c.recvCancel, c.recvDone
	c.recvCancel, c.recvDone = nil, nil
	c.recvMu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	c.logger.Debug("receiver stopped")
}

// receiverDone returns a channel closed when the running receiver exits, or
// nil when no receiver runs.
func (c *Client) receiverDone() <-chan struct{} {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.recvDone
}

// ReceiverActive reports whether the standing receiver is running.
func (c *Client) ReceiverActive() bool {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.recvDone != nil
}

func (c *Client) receive(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.detachReceiver(done)

	for ctx.Err() == nil {
		c.connMu.Lock()
		err := c.serve(ctx)
		c.connMu.Unlock()

		switch {
		case err == nil, ctx.Err() != nil:
		case errors.Is(err, queryconn.ErrNotConnected), errors.As(err, new(*queryconn.TransportError)):
			c.logger.Warn("receiver stopping, connection lost", "error", err)
			c.detachReceiver(done)
			c.failAll(err)
			return
		default:
			c.logger.Warn("receiver read failed", "error", err)
			// Avoid spinning on a peer that keeps sending garbage.
			select {
			case <-ctx.Done():
			case <-time.After(c.pollInterval):
			}
		}
	}
}

// detachReceiver clears the receiver state when the loop ends on its own.
func (c *Client) detachReceiver(done chan struct{}) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if c.recvDone == done {
		c.recvCancel()
		c.recvCancel, c.recvDone = nil, nil
	}
}
