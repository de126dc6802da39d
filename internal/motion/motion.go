package motion

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// Kind is a movement primitive.
type Kind int

const (
	Forward Kind = iota
	TurnLeft
	TurnRight
)

// String returns the kind's log name.
func (k Kind) String() string {
	switch k {
	case Forward:
		return "forward"
	case TurnLeft:
		return "turn_left"
	case TurnRight:
		return "turn_right"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names produced by String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "forward":
		return Forward, nil
	case "turn_left", "left":
		return TurnLeft, nil
	case "turn_right", "right":
		return TurnRight, nil
	}
	return 0, apperrors.NewValidationError("unknown motion kind").WithField("kind").WithValue(s).WithCause(apperrors.ErrInvalidRequest)
}

// Request is one movement. Magnitude is millimetres for Forward and
// radians for turns.
type Request struct {
	Kind      Kind
	Magnitude float64
}

// Calibration maps commands to time.
type Calibration struct {
	LinearMMPerSec   float64
	AngularRadPerSec float64
}

// DefaultCalibration returns 500 mm/s and 0.5 rad/s.
func DefaultCalibration() Calibration {
	return Calibration{LinearMMPerSec: 500, AngularRadPerSec: 0.5}
}

func (c Calibration) velocity(k Kind) (float64, error) {
	switch k {
	case Forward:
		return c.LinearMMPerSec, nil
	case TurnLeft, TurnRight:
		return c.AngularRadPerSec, nil
	}
	return 0, apperrors.NewValidationError("unknown motion kind").WithField("kind").WithValue(int(k)).WithCause(apperrors.ErrInvalidRequest)
}

// Duration returns how long req runs, in microseconds, truncated. It fails
// for negative or non-finite magnitudes, a non-positive velocity, and
// durations wider than maxMicros.
func (c Calibration) Duration(req Request, maxMicros uint64) (uint64, error) {
	v, err := c.velocity(req.Kind)
	if err != nil {
		return 0, err
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, apperrors.NewValidationError("velocity must be positive and finite").
			WithField(req.Kind.String() + "_velocity").WithValue(v).WithCause(apperrors.ErrInvalidRequest)
	}
	m := req.Magnitude
	if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
		return 0, apperrors.NewValidationError("magnitude must be finite and non-negative").
			WithField("magnitude").WithValue(m).WithCause(apperrors.ErrInvalidRequest)
	}
	us := math.Floor(m / v * 1e6)
	if us >= math.Ldexp(1, 64) || uint64(us) > maxMicros {
		return 0, apperrors.NewValidationError("duration too wide for alarm").
			WithField("magnitude").WithValue(m).WithCause(apperrors.ErrAlarmWidth)
	}
	return uint64(us), nil
}

// Supervisor guards blocking operations.
type Supervisor interface {
	Guard(op string, budget time.Duration) (done func())
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithBus publishes motion events on bus.
func WithBus(bus *event.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithSupervisor runs every actuation under s.
func WithSupervisor(s Supervisor) Option {
	return func(c *Controller) { c.supervisor = s }
}

// Controller actuates the two motor channels.
type Controller struct {
	motorA     hal.MotorChannel
	motorB     hal.MotorChannel
	alarm      hal.Alarm
	cal        Calibration
	logger     *logging.Logger
	bus        *event.Bus
	supervisor Supervisor

	busy atomic.Bool
	// done is the completion flag: the alarm callback fills it, Drive
	// waits on and clears it.
	done chan struct{}

	drives  atomic.Uint64
	elapsed atomic.Uint64
}

// New returns a Controller for the board's motors and alarm.
func New(b *hal.Board, cal Calibration, opts ...Option) *Controller {
	c := &Controller{
		motorA: b.MotorA,
		motorB: b.MotorB,
		alarm:  b.Alarm,
		cal:    cal,
		done:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NopLogger()
	}
	c.logger = c.logger.WithComponent("motion")
	return c
}

// Calibration returns the controller's calibration.
func (c *Controller) Calibration() Calibration { return c.cal }

// Duration computes req's duration against the board alarm's width.
func (c *Controller) Duration(req Request) (uint64, error) {
	return c.cal.Duration(req, c.alarm.MaxMicros())
}

type pattern struct {
	a1, a2, b1, b2 hal.Level
}

var patterns = map[Kind]pattern{
	Forward:   {hal.Low, hal.High, hal.Low, hal.High},
	TurnLeft:  {hal.Low, hal.High, hal.High, hal.Low},
	TurnRight: {hal.High, hal.Low, hal.Low, hal.High},
}

func (c *Controller) apply(p pattern) error {
	if err := c.motorA.Set(p.a1, p.a2); err != nil {
		return err
	}
	return c.motorB.Set(p.b1, p.b2)
}

// Drive performs req and returns once it has finished and the motors are
// stopped. It cannot be cancelled. A call made while another is running
// returns ErrActuationBusy without touching the pins.
func (c *Controller) Drive(req Request) error {
	us, err := c.Duration(req)
	if err != nil {
		c.logger.Warn("rejected motion request",
			"kind", req.Kind.String(),
			"magnitude", req.Magnitude,
			"error", err.Error(),
		)
		return err
	}
	if !c.busy.CompareAndSwap(false, true) {
		return apperrors.ErrActuationBusy
	}
	defer c.busy.Store(false)

	if c.supervisor != nil {
		release := c.supervisor.Guard("drive", time.Duration(us)*time.Microsecond)
		defer release()
	}

	// A completion left over from an earlier alarm must not end this drive.
	select {
	case <-c.done:
	default:
	}

	c.bus.Publish(event.NewMotionStartedEvent(req.Kind.String(), req.Magnitude, us))
	c.logger.Debug("drive",
		"kind", req.Kind.String(),
		"magnitude", req.Magnitude,
		"duration_us", us,
	)

	if us > 0 {
		if err := c.alarm.Arm(us, c.complete); err != nil {
			c.logger.Error("arm alarm failed", "duration_us", us, "error", err.Error())
			c.stop()
			return apperrors.NewHardwareError("motion", "arm alarm", err).WithSeverity(apperrors.SeverityCritical)
		}
		if err := c.apply(patterns[req.Kind]); err != nil {
			c.alarm.Cancel()
			c.logger.Error("set motor pattern failed", "kind", req.Kind.String(), "error", err.Error())
			c.stop()
			return apperrors.NewHardwareError("motion", "set motor pattern", err)
		}
		<-c.done
	}

	c.stop()
	select {
	case <-c.done:
	default:
	}

	c.drives.Add(1)
	c.elapsed.Add(us)
	c.bus.Publish(event.NewMotionCompletedEvent(req.Kind.String(), req.Magnitude, us))
	return nil
}

// complete is the alarm callback. It never blocks.
func (c *Controller) complete() {
	select {
	case c.done <- struct{}{}:
	default:
	}
}

// stop drives every motor pin low. A failed write is logged and retried
// once; the remaining pins are driven regardless.
func (c *Controller) stop() {
	for _, ch := range []hal.MotorChannel{c.motorA, c.motorB} {
		for _, p := range []hal.OutputPin{ch.In1, ch.In2} {
			if err := p.Set(hal.Low); err != nil {
				c.logger.Error("stop failed, retrying", "pin", p.Name(), "error", err.Error())
				if err := p.Set(hal.Low); err != nil {
					c.logger.Error("stop retry failed", "pin", p.Name(), "error", err.Error())
				}
			}
		}
	}
}

// Stop forces every motor pin low. It does not interrupt a running Drive.
func (c *Controller) Stop() {
	c.stop()
}

// Stats reports completed drives and their summed duration.
func (c *Controller) Stats() (drives uint64, total time.Duration) {
	return c.drives.Load(), time.Duration(c.elapsed.Load()) * time.Microsecond
}
