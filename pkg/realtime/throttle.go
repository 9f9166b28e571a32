package realtime

import (
	"sync"
	"time"
)

// opponentUpdateMinInterval caps opponent code fan-out at 20 Hz per
// match/sender.
const opponentUpdateMinInterval = 50 * time.Millisecond

// Coalescer rate-limits keyed sends. Bursts within the minimum interval
// replace each other and only the latest fires when the window opens:
// intermediate values may be dropped, the final value is always delivered.
type Coalescer struct {
	interval time.Duration

	mu      sync.Mutex
	last    map[string]time.Time
	pending map[string]func()
	timers  map[string]*time.Timer
}

// NewCoalescer creates a coalescer with the given minimum interval.
func NewCoalescer(interval time.Duration) *Coalescer {
	return &Coalescer{
		interval: interval,
		last:     make(map[string]time.Time),
		pending:  make(map[string]func()),
		timers:   make(map[string]*time.Timer),
	}
}

// Publish schedules send for the key. If the window is open it fires
// immediately; otherwise it replaces any pending send and fires when the
// window reopens.
func (c *Coalescer) Publish(key string, send func()) {
	c.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(c.last[key])

	if elapsed >= c.interval {
		c.last[key] = now
		c.mu.Unlock()
		send()
		return
	}

	c.pending[key] = send
	if _, armed := c.timers[key]; !armed {
		c.timers[key] = time.AfterFunc(c.interval-elapsed, func() {
			c.flush(key)
		})
	}
	c.mu.Unlock()
}

func (c *Coalescer) flush(key string) {
	c.mu.Lock()
	send := c.pending[key]
	delete(c.pending, key)
	delete(c.timers, key)
	c.last[key] = time.Now()
	c.mu.Unlock()

	if send != nil {
		send()
	}
}
