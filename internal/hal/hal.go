// Package hal is the hardware boundary of the agent: motor driver pins, the
// ranging trigger and echo lines, a free-running microsecond counter and a
// one-shot alarm. Backends live in subpackages (periph, serialbridge, sim).
package hal

import (
	"errors"
	"io"
	"math"
	"time"
)

// Level is a digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// String returns "0" or "1".
func (l Level) String() string {
	if l {
		return "1"
	}
	return "0"
}

// OutputPin is a push-pull digital output.
type OutputPin interface {
	Set(Level) error
	Name() string
}

// Edge is a level transition on an input line. At is the counter value in
// microseconds, captured when the transition happened rather than when the
// callback ran.
type Edge struct {
	Rising bool
	At     uint64
}

// EdgeInput delivers both-edge transitions of an input line.
type EdgeInput interface {
	// Watch installs fn as the edge callback. fn runs in the backend's
	// event context and must never block. Watch replaces any previous
	// callback.
	Watch(fn func(Edge)) error
	Close() error
	Name() string
}

// Counter is a free-running microsecond counter.
type Counter interface {
	Micros() uint64
}

// Alarm is a one-shot microsecond alarm.
type Alarm interface {
	// Arm schedules fire to run once after us microseconds, replacing any
	// pending schedule. It fails when us exceeds MaxMicros.
	Arm(us uint64, fire func()) error
	// Cancel drops the pending schedule, if any.
	Cancel()
	// MaxMicros is the widest duration the alarm counter can hold.
	MaxMicros() uint64
}

// MotorChannel is one H-bridge channel.
type MotorChannel struct {
	In1 OutputPin
	In2 OutputPin
}

// Set drives both inputs of the channel.
func (m MotorChannel) Set(in1, in2 Level) error {
	return errors.Join(m.In1.Set(in1), m.In2.Set(in2))
}

// Board bundles the hardware the agent uses.
type Board struct {
	MotorA  MotorChannel
	MotorB  MotorChannel
	Trigger OutputPin
	Echo    EdgeInput
	Clock   Counter
	Alarm   Alarm

	closers []io.Closer
}

// OnClose registers resources released by Close, in reverse order.
func (b *Board) OnClose(c io.Closer) {
	b.closers = append(b.closers, c)
}

// Close stops the motors, cancels the alarm, and releases backend resources.
func (b *Board) Close() error {
	var errs []error
	if b.Alarm != nil {
		b.Alarm.Cancel()
	}
	for _, ch := range []MotorChannel{b.MotorA, b.MotorB} {
		if ch.In1 != nil && ch.In2 != nil {
			errs = append(errs, ch.Set(Low, Low))
		}
	}
	if b.Echo != nil {
		errs = append(errs, b.Echo.Close())
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// MaxDurationMicros is the longest alarm a time.Duration can express.
const MaxDurationMicros = uint64(math.MaxInt64 / int64(time.Microsecond))

// AlarmMicrosForBits returns the widest alarm an n-bit counter supports,
// capped at MaxDurationMicros.
func AlarmMicrosForBits(bits int) uint64 {
	return min(MaxMicrosForBits(bits), MaxDurationMicros)
}

// MaxMicrosForBits returns the largest value an n-bit counter can hold.
func MaxMicrosForBits(bits int) uint64 {
	if bits <= 0 {
		return 0
	}
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}
