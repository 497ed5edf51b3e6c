// Package fakeclock provides virtual time for tests
package fakeclock

import (
	"sync"
	"time"

	"github.com/nkiryanov/stocksim/internal/tokenclock"
)

// Clock is a tokenclock.Scheduler with manually advanced time
// Timers fire synchronously inside Advance in order of their deadlines
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
	seq    int
}

var _ tokenclock.Scheduler = (*Clock)(nil)

func New(now time.Time) *Clock {
	return &Clock{now: now}
}

type timer struct {
	clock *Clock
	at    time.Time
	seq   int
	fn    func()
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	for i, armed := range t.clock.timers {
		if armed == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, fn func()) tokenclock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &timer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward firing every timer due
// Timers armed by callbacks fire too if their deadline is within the window
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := -1
		for i, t := range c.timers {
			if t.at.After(target) {
				continue
			}
			if next == -1 || t.at.Before(c.timers[next].at) || (t.at.Equal(c.timers[next].at) && t.seq < c.timers[next].seq) {
				next = i
			}
		}

		if next == -1 {
			c.now = target
			c.mu.Unlock()
			return
		}

		t := c.timers[next]
		c.timers = append(c.timers[:next], c.timers[next+1:]...)
		if t.at.After(c.now) {
			c.now = t.at
		}
		c.mu.Unlock()

		t.fn()
	}
}

// Pending returns count of armed timers
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
