package sim

import (
	"sort"
	"sync"
	"time"
)

// Clock is a hal.Counter that can also schedule callbacks in its own time base.
type Clock interface {
	Micros() uint64
	// After runs fn once the clock has advanced us microseconds. The
	// returned function cancels the schedule.
	After(us uint64, fn func()) (cancel func())
}

type manualTimer struct {
	id uint64
	at uint64
	fn func()
}

// ManualClock only moves when Advance is called. Due callbacks run
// synchronously on the advancing goroutine, in deadline order.
type ManualClock struct {
	mu     sync.Mutex
	now    uint64
	nextID uint64
	timers []manualTimer
}

// NewManualClock returns a clock stopped at start.
func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

// Micros implements hal.Counter.
func (c *ManualClock) Micros() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After implements Clock.
func (c *ManualClock) After(us uint64, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.timers = append(c.timers, manualTimer{id: id, at: c.now + us, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, t := range c.timers {
			if t.id == id {
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
				return
			}
		}
	}
}

// Pending returns the number of scheduled callbacks.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward and runs every callback that became due.
// Each callback observes Micros() equal to its own deadline.
func (c *ManualClock) Advance(us uint64) {
	c.mu.Lock()
	target := c.now + us
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at < c.timers[j].at })
		if len(c.timers) == 0 || c.timers[0].at > target {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		if t.at > c.now {
			c.now = t.at
		}
		c.mu.Unlock()
		t.fn()
	}
}

// ScaledClock runs scale times faster than the wall clock.
type ScaledClock struct {
	start time.Time
	scale float64
}

// NewScaledClock returns a clock at zero running at the given speed-up.
// A non-positive scale means real time.
func NewScaledClock(scale float64) *ScaledClock {
	if scale <= 0 {
		scale = 1
	}
	return &ScaledClock{start: time.Now(), scale: scale}
}

// Micros implements hal.Counter.
func (c *ScaledClock) Micros() uint64 {
	return uint64(float64(time.Since(c.start).Microseconds()) * c.scale)
}

// Scale returns the speed-up factor.
func (c *ScaledClock) Scale() float64 {
	return c.scale
}

// Wall converts a simulated duration to wall time.
func (c *ScaledClock) Wall(us uint64) time.Duration {
	return time.Duration(float64(us)/c.scale) * time.Microsecond
}

// After implements Clock.
func (c *ScaledClock) After(us uint64, fn func()) func() {
	t := time.AfterFunc(c.Wall(us), fn)
	return func() { t.Stop() }
}
