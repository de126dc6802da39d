// Package periph drives the agent's hardware from Linux GPIO through
// periph.io. Echo edges are captured by a watcher goroutine blocked in
// WaitForEdge and stamped with the board counter as soon as it wakes.
package periph

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// PinNames are gpioreg names, e.g. "GPIO17" or "P1_11".
type PinNames struct {
	MotorAIn1 string
	MotorAIn2 string
	MotorBIn1 string
	MotorBIn2 string
	Trigger   string
	Echo      string
}

// Pins are resolved periph pins.
type Pins struct {
	MotorAIn1 gpio.PinIO
	MotorAIn2 gpio.PinIO
	MotorBIn1 gpio.PinIO
	MotorBIn2 gpio.PinIO
	Trigger   gpio.PinIO
	Echo      gpio.PinIO
}

// Open initializes the host drivers, resolves names and builds a Board.
func Open(names PinNames, alarmBits int, logger *logging.Logger) (*hal.Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, apperrors.NewHardwareError("periph", "host init", err)
	}

	var pins Pins
	for _, p := range []struct {
		name string
		dst  *gpio.PinIO
	}{
		{names.MotorAIn1, &pins.MotorAIn1},
		{names.MotorAIn2, &pins.MotorAIn2},
		{names.MotorBIn1, &pins.MotorBIn1},
		{names.MotorBIn2, &pins.MotorBIn2},
		{names.Trigger, &pins.Trigger},
		{names.Echo, &pins.Echo},
	} {
		pin := gpioreg.ByName(p.name)
		if pin == nil {
			return nil, apperrors.NewHardwareError("periph", "resolve pin", apperrors.ErrPinUnavailable).WithPin(p.name)
		}
		*p.dst = pin
	}

	return NewBoard(pins, hal.NewMonotonicCounter(), hal.NewTimerAlarm(alarmBits), logger)
}

// NewBoard configures already-resolved pins: outputs driven low, echo as a
// pulled-down both-edge input.
func NewBoard(pins Pins, clock hal.Counter, alarm hal.Alarm, logger *logging.Logger) (*hal.Board, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	log := logger.WithComponent("hal.periph")

	outs := make(map[gpio.PinIO]*outputPin)
	out := func(p gpio.PinIO) (*outputPin, error) {
		if o, ok := outs[p]; ok {
			return o, nil
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, apperrors.NewHardwareError("periph", "configure output", err).WithPin(p.Name())
		}
		o := &outputPin{pin: p}
		outs[p] = o
		return o, nil
	}

	board := &hal.Board{Clock: clock, Alarm: alarm}
	var err error
	var a1, a2, b1, b2, trig *outputPin
	if a1, err = out(pins.MotorAIn1); err != nil {
		return nil, err
	}
	if a2, err = out(pins.MotorAIn2); err != nil {
		return nil, err
	}
	if b1, err = out(pins.MotorBIn1); err != nil {
		return nil, err
	}
	if b2, err = out(pins.MotorBIn2); err != nil {
		return nil, err
	}
	if trig, err = out(pins.Trigger); err != nil {
		return nil, err
	}
	board.MotorA = hal.MotorChannel{In1: a1, In2: a2}
	board.MotorB = hal.MotorChannel{In1: b1, In2: b2}
	board.Trigger = trig

	if err := pins.Echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, apperrors.NewHardwareError("periph", "configure echo input", err).WithPin(pins.Echo.Name())
	}
	board.Echo = &edgeInput{pin: pins.Echo, clock: clock, log: log, poll: 100 * time.Millisecond}

	log.Info("gpio board ready",
		"motor_a", a1.Name()+","+a2.Name(),
		"motor_b", b1.Name()+","+b2.Name(),
		"trigger", trig.Name(),
		"echo", pins.Echo.Name())
	return board, nil
}

type outputPin struct {
	pin gpio.PinIO
}

func (o *outputPin) Set(l hal.Level) error {
	lvl := gpio.Low
	if l == hal.High {
		lvl = gpio.High
	}
	if err := o.pin.Out(lvl); err != nil {
		return apperrors.NewHardwareError("periph", "set level", err).WithPin(o.pin.Name())
	}
	return nil
}

func (o *outputPin) Name() string { return o.pin.Name() }

type edgeInput struct {
	pin   gpio.PinIO
	clock hal.Counter
	log   *logging.Logger
	poll  time.Duration

	fn      atomic.Pointer[func(hal.Edge)]
	startMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

func (e *edgeInput) Name() string { return e.pin.Name() }

func (e *edgeInput) Watch(fn func(hal.Edge)) error {
	e.fn.Store(&fn)

	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.stop != nil {
		return nil
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(e.stop, e.done)
	return nil
}

// loop owns stop and done; Close clears the fields before signalling.
func (e *edgeInput) loop(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !e.pin.WaitForEdge(e.poll) {
			continue
		}
		at := e.clock.Micros()
		rising := e.pin.Read() == gpio.High
		if fn := e.fn.Load(); fn != nil {
			(*fn)(hal.Edge{Rising: rising, At: at})
		}
	}
}

func (e *edgeInput) Close() error {
	e.startMu.Lock()
	stop, done := e.stop, e.done
	e.stop = nil
	e.startMu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	if err := e.pin.Halt(); err != nil {
		return fmt.Errorf("halt echo pin %s: %w", e.pin.Name(), err)
	}
	return nil
}
