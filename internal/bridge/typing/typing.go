// Package typing implements the typing-indicator keepalive controller used
// by chat bridges: most platforms clear a typing indicator after a few
// seconds, so it must be re-sent periodically for the duration of a turn.
package typing

import (
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration is a safety-net TTL: the controller stops itself after
	// this long even if Stop is never called, so a stuck turn can't leave
	// an indicator spinning forever.
	MaxDuration time.Duration

	// KeepaliveInterval is how often StartFn is re-invoked; it should be
	// comfortably shorter than the platform's own indicator TTL.
	KeepaliveInterval time.Duration

	// StartFn sends one typing-indicator request to the platform.
	StartFn func() error
}

// Controller drives a periodic typing indicator until Stop is called or
// MaxDuration elapses.
type Controller struct {
	opts Options
	stop chan struct{}
	once sync.Once
}

// New creates a Controller. Call Start to begin.
func New(opts Options) *Controller {
	return &Controller{opts: opts, stop: make(chan struct{})}
}

// Start fires StartFn immediately, then on every KeepaliveInterval, until
// Stop is called or MaxDuration elapses.
func (c *Controller) Start() {
	go c.run()
}

func (c *Controller) run() {
	_ = c.opts.StartFn()

	interval := c.opts.KeepaliveInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.NewTimer(c.opts.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			_ = c.opts.StartFn()
		}
	}
}

// Stop ends the keepalive loop. Safe to call more than once or never.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stop) })
}
