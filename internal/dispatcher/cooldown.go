package dispatcher

import (
	"sync"
	"time"
)

// cooldown gates alarm dispatches: once an alarm passes, further alarms are
// refused until the window has elapsed. The check and the update happen under
// one lock so two concurrent alarms can never both pass.
type cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
	armed  bool
}

func newCooldown(window time.Duration) *cooldown {
	return &cooldown{window: window}
}

// Allow reports whether an alarm at now may be dispatched and, if so, records it.
func (c *cooldown) Allow(now time.Time) bool {
	if c.window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.armed && now.Sub(c.last) < c.window {
		return false
	}
	c.last = now
	c.armed = true
	return true
}

// Remaining returns how long until the next alarm would pass.
func (c *cooldown) Remaining(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		return 0
	}
	if left := c.window - now.Sub(c.last); left > 0 {
		return left
	}
	return 0
}
