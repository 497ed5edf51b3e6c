package tokenclock

import (
	"sync"
	"time"

	"github.com/nkiryanov/stocksim/internal/logger"
)

// Default interval of the recurring expiry check
const DefaultCheckInterval = 30 * time.Minute

type Timer interface {
	// Stop prevents timer from firing
	// Returns false if timer already fired or stopped
	Stop() bool
}

// Scheduler is a source of time and one-shot timers
// Tests provide virtual implementation, so no real waiting needed
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealScheduler uses wall clock
type RealScheduler struct{}

func (RealScheduler) Now() time.Time {
	return time.Now()
}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Clock fires callback when access token expires
// At most one timer is armed at a time: arming new one cancels previous
type Clock struct {
	scheduler Scheduler
	logger    logger.Logger

	mu    sync.Mutex
	timer Timer

	// Bumped on each Schedule and Cancel
	// Timer callback compares it to find out it was cancelled while firing
	generation uint64
}

func New(scheduler Scheduler, l logger.Logger) *Clock {
	if scheduler == nil {
		scheduler = RealScheduler{}
	}

	return &Clock{
		scheduler: scheduler,
		logger:    l.With("component", "token_clock"),
	}
}

func (c *Clock) Now() time.Time {
	return c.scheduler.Now()
}

// Expired reports whether token is expired right now
func (c *Clock) Expired(token string) bool {
	return Expired(token, c.scheduler.Now())
}

// Schedule arms timer firing onExpire once at token expiry
//
// onExpire is called synchronously before return when token can't be decoded,
// has no expiry or is expired already. Caller must not hold locks onExpire needs.
func (c *Clock) Schedule(token string, onExpire func()) {
	c.mu.Lock()
	c.stopLocked()
	gen := c.generation

	claims, err := Decode(token)
	if err != nil || !claims.HasExpiry {
		c.mu.Unlock()
		c.logger.Warn("Token has no usable expiry, expire immediately", "error", err)
		onExpire()
		return
	}

	remaining := claims.ExpiresAt.Sub(c.scheduler.Now())
	if remaining <= 0 {
		c.mu.Unlock()
		c.logger.Debug("Token expired already", "expires_at", claims.ExpiresAt)
		onExpire()
		return
	}

	c.timer = c.scheduler.AfterFunc(remaining, func() {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.generation++
		c.mu.Unlock()

		c.logger.Debug("Token expiry timer fired")
		onExpire()
	})
	c.mu.Unlock()

	c.logger.Debug("Token expiry timer armed", "expires_at", claims.ExpiresAt, "remaining", remaining)
}

// Cancel stops armed timer if any
func (c *Clock) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Armed reports whether expiry timer is waiting to fire
func (c *Clock) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *Clock) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

// Watch re-validates token returned by tokenFn every interval and calls onExpire if it's expired
// It guards against lost one-shot timer, e.g. when process was suspended. Absent token is not checked.
// Returned stop func is idempotent.
func (c *Clock) Watch(interval time.Duration, tokenFn func() (string, bool), onExpire func()) (stop func()) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	var (
		mu      sync.Mutex
		timer   Timer
		stopped bool
	)

	var tick func()
	tick = func() {
		if token, ok := tokenFn(); ok && c.Expired(token) {
			c.logger.Info("Periodic check found expired token")
			onExpire()
		}

		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			timer = c.scheduler.AfterFunc(interval, tick)
		}
	}

	mu.Lock()
	timer = c.scheduler.AfterFunc(interval, tick)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		timer.Stop()
	}
}
