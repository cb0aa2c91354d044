package queryconn

import (
	"sync"
	"time"
)

const (
	// DefaultKeepAliveInterval is used when StartKeepAlive gets zero.
	DefaultKeepAliveInterval = 300 * time.Second

	// MinKeepAliveInterval is the shortest interval accepted.
	MinKeepAliveInterval = time.Second
)

type keepAlive struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (k *keepAlive) signal() {
	k.once.Do(func() { close(k.stop) })
}

// StartKeepAlive sends an empty line every interval so the server does not
// drop an idle session. Zero selects DefaultKeepAliveInterval and shorter
// intervals are raised to MinKeepAliveInterval. Starting with the running
// interval is a no-op; a different interval restarts the loop. It returns
// false when the connection is not open.
func (c *Conn) StartKeepAlive(interval time.Duration) bool {
	if interval == 0 {
		interval = DefaultKeepAliveInterval
	}
	if interval < MinKeepAliveInterval {
		interval = MinKeepAliveInterval
	}

	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return false
	}
	if c.keeper != nil && c.keeper.interval == interval {
		c.mu.Unlock()
		return true
	}
	old := c.keeper
	k := &keepAlive{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.keeper = k
	c.mu.Unlock()

	if old != nil {
		old.signal()
		<-old.done
	}
	go c.keepAlive(k)
	c.logger.Debug("keep-alive started", "interval", interval)
	return true
}

// StopKeepAlive stops the keep-alive loop and waits for it to exit. Stopping
// when nothing runs is a no-op.
func (c *Conn) StopKeepAlive() {
	c.mu.Lock()
	k := c.keeper
	c.keeper = nil
	c.mu.Unlock()

	if k == nil {
		return
	}
	k.signal()
	<-k.done
}

// KeepAliveInterval returns the running interval, or zero.
func (c *Conn) KeepAliveInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keeper == nil {
		return 0
	}
	return c.keeper.interval
}

func (c *Conn) keepAlive(k *keepAlive) {
	defer close(k.done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			if err := c.Send(""); err != nil {
				return
			}
		}
	}
}
