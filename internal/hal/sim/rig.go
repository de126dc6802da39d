package sim

import (
	"sync"

	"github.com/Iron-Ham/swarmbot/internal/hal"
)

// Responder answers a trigger pulse that ended at triggeredAt with the echo
// edges the sensor would produce. An empty result means no echo at all; a
// lone rising edge means the echo never came back.
type Responder func(triggeredAt uint64) []hal.Edge

// Rig is a simulated board with handles on every part.
type Rig struct {
	Board   *hal.Board
	MotorA1 *Pin
	MotorA2 *Pin
	MotorB1 *Pin
	MotorB2 *Pin
	Trigger *Pin
	Echo    *EchoInput
	Clock   Clock
	Alarm   *Alarm

	mu        sync.Mutex
	responder Responder
	syncEcho  bool
	triggers  int
}

type rigOptions struct {
	clock     Clock
	alarmBits int
	responder Responder
	syncEcho  bool
}

// RigOption configures NewRig.
type RigOption func(*rigOptions)

// WithClock sets the rig clock. The default is a ManualClock at zero.
func WithClock(c Clock) RigOption {
	return func(o *rigOptions) { o.clock = c }
}

// WithAlarmBits sets the alarm counter width (default 54).
func WithAlarmBits(bits int) RigOption {
	return func(o *rigOptions) { o.alarmBits = bits }
}

// WithResponder sets how trigger pulses are answered.
func WithResponder(r Responder) RigOption {
	return func(o *rigOptions) { o.responder = r }
}

// WithSyncEcho delivers echo edges on the triggering goroutine instead of
// a separate one.
func WithSyncEcho() RigOption {
	return func(o *rigOptions) { o.syncEcho = true }
}

// NewRig builds a simulated board.
func NewRig(opts ...RigOption) *Rig {
	o := rigOptions{alarmBits: 54}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = NewManualClock(0)
	}

	r := &Rig{
		MotorA1:   NewPin("motor_a_in1"),
		MotorA2:   NewPin("motor_a_in2"),
		MotorB1:   NewPin("motor_b_in1"),
		MotorB2:   NewPin("motor_b_in2"),
		Trigger:   NewPin("trigger"),
		Echo:      NewEchoInput("echo"),
		Clock:     o.clock,
		Alarm:     NewAlarm(o.clock, o.alarmBits),
		responder: o.responder,
		syncEcho:  o.syncEcho,
	}
	r.Board = &hal.Board{
		MotorA:  hal.MotorChannel{In1: r.MotorA1, In2: r.MotorA2},
		MotorB:  hal.MotorChannel{In1: r.MotorB1, In2: r.MotorB2},
		Trigger: r.Trigger,
		Echo:    r.Echo,
		Clock:   r.Clock,
		Alarm:   r.Alarm,
	}
	r.Trigger.OnChange(func(from, to hal.Level) {
		if from == hal.High && to == hal.Low {
			r.onTrigger()
		}
	})
	return r
}

// SetResponder replaces the trigger responder.
func (r *Rig) SetResponder(resp Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responder = resp
}

// Triggers returns the number of completed trigger pulses.
func (r *Rig) Triggers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggers
}

// MotorPattern returns the four motor pin levels as A1, A2, B1, B2.
func (r *Rig) MotorPattern() [4]hal.Level {
	return [4]hal.Level{r.MotorA1.Level(), r.MotorA2.Level(), r.MotorB1.Level(), r.MotorB2.Level()}
}

func (r *Rig) onTrigger() {
	r.mu.Lock()
	r.triggers++
	resp := r.responder
	syncEcho := r.syncEcho
	r.mu.Unlock()

	if resp == nil {
		return
	}
	edges := resp(r.Clock.Micros())
	deliver := func() {
		for _, e := range edges {
			r.Echo.Emit(e)
		}
	}
	if syncEcho {
		deliver()
		return
	}
	go deliver()
}

// ScriptResponder answers successive triggers with the given pulse widths
// in microseconds, repeating the last one. A width of 0 produces a rising
// edge with no falling edge.
func ScriptResponder(widths ...uint64) Responder {
	var mu sync.Mutex
	i := 0
	return func(at uint64) []hal.Edge {
		mu.Lock()
		defer mu.Unlock()
		if len(widths) == 0 {
			return nil
		}
		w := widths[min(i, len(widths)-1)]
		i++
		if w == 0 {
			return []hal.Edge{{Rising: true, At: at}}
		}
		return []hal.Edge{{Rising: true, At: at}, {Rising: false, At: at + w}}
	}
}
