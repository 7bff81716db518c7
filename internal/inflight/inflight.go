// Package inflight counts live WebSocket connections so shutdown can wait
// for them to finish.
package inflight

import (
	"context"
	"sync"
)

// Counter is safe for concurrent use. The zero value is ready.
type Counter struct {
	mu     sync.Mutex
	count  int64
	zeroCh chan struct{}
}

// zero must be called with mu held.
func (c *Counter) zero() chan struct{} {
	if c.zeroCh == nil {
		c.zeroCh = make(chan struct{})
		if c.count == 0 {
			close(c.zeroCh)
		}
	}
	return c.zeroCh
}

// Inc adds one.
func (c *Counter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zero()
	if c.count == 0 {
		c.zeroCh = make(chan struct{})
	}
	c.count++
}

// Dec removes one. It never goes below zero.
func (c *Counter) Dec() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zero()
	if c.count == 0 {
		return
	}
	c.count--
	if c.count == 0 {
		close(c.zeroCh)
	}
}

// Track increments the counter and returns the matching release func.
// Calling release more than once has no further effect.
func (c *Counter) Track() (release func()) {
	c.Inc()
	var once sync.Once
	return func() { once.Do(c.Dec) }
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// WaitForZero blocks until the count is zero or ctx is done. It reports
// whether zero was reached.
func (c *Counter) WaitForZero(ctx context.Context) bool {
	c.mu.Lock()
	ch := c.zero()
	c.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

var connections Counter

// Connections returns the process-wide relay connection counter.
func Connections() *Counter { return &connections }
