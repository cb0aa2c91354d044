package query

import (
	"context"
	"fmt"
)

// Handler receives notifications. Each invocation runs on its own goroutine,
// so handlers must be safe for concurrent use.
type Handler func(ev *Event)

// HandlerID identifies one registration.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

// RegisterHandler adds h to the end of the handler list. Registering the same
// function twice yields two registrations that are both invoked.
func (c *Client) RegisterHandler(h Handler) HandlerID {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.nextID++
	c.handlers = append(c.handlers, registration{id: c.nextID, fn: h})
	return c.nextID
}

// UnregisterHandler removes the registration id.
func (c *Client) UnregisterHandler(id HandlerID) error {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	for i, r := range c.handlers {
		if r.id == id {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrHandlerNotRegistered, id)
}

// Handlers returns the number of registered handlers.
func (c *Client) Handlers() int {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	return len(c.handlers)
}

// dispatch starts one goroutine per handler so a slow handler never holds up
// the reader.
func (c *Client) dispatch(ev *Event) {
	c.handlersMu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersMu.Unlock()

	c.observer.EventDispatched(ev.Kind)
	c.logger.Debug("event", "kind", string(ev.Kind), "handlers", len(handlers))

	for _, r := range handlers {
		c.dispatchWG.Add(1)
		go c.invoke(r, ev)
	}

	if c.sink != nil {
		c.dispatchWG.Add(1)
		go func() {
			defer c.dispatchWG.Done()
			if err := c.sink.LogEvent(context.Background(), ev); err != nil {
				c.logger.Error("event sink failed", "kind", string(ev.Kind), "error", err)
			}
		}()
	}
}

func (c *Client) invoke(r registration, ev *Event) {
	defer c.dispatchWG.Done()
	defer func() {
		if v := recover(); v != nil {
			c.logger.Error("event handler panicked", "handler", uint64(r.id), "kind", string(ev.Kind), "panic", v)
		}
	}()
	r.fn(ev)
}
