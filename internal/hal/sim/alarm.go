package sim

import (
	"sync"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/hal"
)

// Alarm is a hal.Alarm scheduled on a sim Clock. With Stall set it accepts
// Arm but never fires, which models a dead timer.
type Alarm struct {
	clock Clock
	max   uint64

	mu     sync.Mutex
	cancel func()
	armed  bool
	last   uint64
	arms   int
	stall  bool
}

// NewAlarm returns an alarm on clock with a bits-wide counter.
func NewAlarm(clock Clock, bits int) *Alarm {
	return &Alarm{clock: clock, max: hal.AlarmMicrosForBits(bits)}
}

// Arm implements hal.Alarm.
func (a *Alarm) Arm(us uint64, fire func()) error {
	if us > a.max {
		return apperrors.ErrAlarmWidth
	}
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.armed = true
	a.last = us
	a.arms++
	stall := a.stall
	a.mu.Unlock()

	if stall {
		return nil
	}

	var once sync.Once
	cancel := a.clock.After(us, func() {
		once.Do(func() {
			a.mu.Lock()
			a.armed = false
			a.cancel = nil
			a.mu.Unlock()
			fire()
		})
	})
	a.mu.Lock()
	if a.armed && a.last == us {
		a.cancel = cancel
	}
	a.mu.Unlock()
	return nil
}

// Cancel implements hal.Alarm.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.armed = false
}

// MaxMicros implements hal.Alarm.
func (a *Alarm) MaxMicros() uint64 { return a.max }

// Armed reports whether a schedule is pending.
func (a *Alarm) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed
}

// Last returns the most recently armed duration.
func (a *Alarm) Last() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Arms returns how many times Arm succeeded.
func (a *Alarm) Arms() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.arms
}

// Stall makes subsequent Arm calls never fire.
func (a *Alarm) Stall(stall bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stall = stall
}
