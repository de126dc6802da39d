package hal

import (
	"sync"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
)

// MonotonicCounter counts microseconds since it was created, from the
// runtime's monotonic clock.
type MonotonicCounter struct {
	start time.Time
}

// NewMonotonicCounter starts a counter at zero.
func NewMonotonicCounter() *MonotonicCounter {
	return &MonotonicCounter{start: time.Now()}
}

// Micros implements Counter.
func (c *MonotonicCounter) Micros() uint64 {
	return uint64(time.Since(c.start).Microseconds())
}

// TimerAlarm is an Alarm backed by a runtime timer. The callback runs on
// the timer's goroutine.
type TimerAlarm struct {
	mu    sync.Mutex
	timer *time.Timer
	max   uint64
	gen   uint64
}

// NewTimerAlarm returns an alarm whose counter is bits wide.
func NewTimerAlarm(bits int) *TimerAlarm {
	return &TimerAlarm{max: AlarmMicrosForBits(bits)}
}

// Arm implements Alarm.
func (a *TimerAlarm) Arm(us uint64, fire func()) error {
	if us > a.max {
		return apperrors.ErrAlarmWidth
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(time.Duration(us)*time.Microsecond, func() {
		a.mu.Lock()
		current := gen == a.gen
		if current {
			a.timer = nil
		}
		a.mu.Unlock()
		if current {
			fire()
		}
	})
	return nil
}

// Cancel implements Alarm.
func (a *TimerAlarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

// MaxMicros implements Alarm.
func (a *TimerAlarm) MaxMicros() uint64 {
	return a.max
}
