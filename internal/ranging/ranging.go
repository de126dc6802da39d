package ranging

import (
	"math"
	"sync/atomic"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// Config holds the ranging parameters.
type Config struct {
	TriggerPulse        time.Duration
	Timeout             time.Duration
	MaxWindowMicros     uint64
	MinRangeMM          float64
	MaxRangeMM          float64
	SpeedOfSoundMMPerUs float64
}

// DefaultConfig returns HC-SR04 values: 4000mm rated range, a window of
// 23530µs for the round trip at that range, and a 30ms wait.
func DefaultConfig() Config {
	return Config{
		TriggerPulse:        10 * time.Microsecond,
		Timeout:             30 * time.Millisecond,
		MaxWindowMicros:     23530,
		MinRangeMM:          20,
		MaxRangeMM:          4000,
		SpeedOfSoundMMPerUs: 0.34,
	}
}

// Clamp bounds d to [MinRangeMM, MaxRangeMM].
func (c Config) Clamp(d float64) float64 {
	if math.IsNaN(d) || d < c.MinRangeMM {
		return c.MinRangeMM
	}
	if d > c.MaxRangeMM {
		return c.MaxRangeMM
	}
	return d
}

// Distance converts an echo window to millimetres. end before start is
// treated as an empty window.
func Distance(start, end uint64, speedMMPerUs float64) float64 {
	if end <= start {
		return 0
	}
	return float64(end-start) * speedMMPerUs / 2
}

// Reading is the outcome of one measurement.
type Reading struct {
	DistanceMM  float64
	PulseMicros uint64
	TimedOut    bool
}

// Supervisor guards blocking operations.
type Supervisor interface {
	Guard(op string, budget time.Duration) (done func())
}

// Option configures a Timer.
type Option func(*Timer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Timer) { t.logger = l }
}

// WithBus publishes ranging events on bus.
func WithBus(bus *event.Bus) Option {
	return func(t *Timer) { t.bus = bus }
}

// WithSupervisor runs every measurement under s.
func WithSupervisor(s Supervisor) Option {
	return func(t *Timer) { t.supervisor = s }
}

// Timer runs echo measurements on a trigger pin and an echo input.
type Timer struct {
	cfg        Config
	trigger    hal.OutputPin
	echo       hal.EdgeInput
	logger     *logging.Logger
	bus        *event.Bus
	supervisor Supervisor

	// Echo window. Written by the edge callback, read by Measure once the
	// wake signal or the timeout has been observed.
	pulseStart atomic.Uint64
	pulseEnd   atomic.Uint64
	rose       atomic.Bool
	armed      atomic.Bool
	wake       chan struct{}

	busy     atomic.Bool
	last     atomic.Uint64 // math.Float64bits of the last clamped reading
	ignored  atomic.Uint64
	timeouts atomic.Uint64
}

// New installs the echo callback and returns a Timer. The trigger is
// driven low.
func New(trigger hal.OutputPin, echo hal.EdgeInput, cfg Config, opts ...Option) (*Timer, error) {
	if trigger == nil || echo == nil {
		return nil, apperrors.NewValidationError("trigger and echo are required").WithCause(apperrors.ErrPinUnavailable)
	}
	t := &Timer{
		cfg:     cfg,
		trigger: trigger,
		echo:    echo,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.NopLogger()
	}
	t.logger = t.logger.WithComponent("ranging")
	t.last.Store(math.Float64bits(cfg.MaxRangeMM))

	if err := trigger.Set(hal.Low); err != nil {
		return nil, apperrors.NewHardwareError("ranging", "drive trigger low", err).WithPin(trigger.Name())
	}
	if err := echo.Watch(t.onEdge); err != nil {
		return nil, apperrors.NewHardwareError("ranging", "watch echo", err).WithPin(echo.Name())
	}
	return t, nil
}

// NewFromBoard is New on the board's trigger and echo lines.
func NewFromBoard(b *hal.Board, cfg Config, opts ...Option) (*Timer, error) {
	return New(b.Trigger, b.Echo, cfg, opts...)
}

// onEdge runs in the backend's event context. It never blocks.
func (t *Timer) onEdge(e hal.Edge) {
	if !t.armed.Load() {
		t.ignored.Add(1)
		return
	}
	if e.Rising {
		t.pulseStart.Store(e.At)
		t.pulseEnd.Store(0)
		t.rose.Store(true)
		return
	}
	if !t.rose.Load() {
		t.ignored.Add(1)
		return
	}
	start := t.pulseStart.Load()
	t.pulseEnd.Store(max(e.At, start))
	t.armed.Store(false)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Measure returns the distance ahead in millimetres.
func (t *Timer) Measure() float64 {
	return t.Sample().DistanceMM
}

// Sample performs one measurement. It returns within Timeout plus the
// trigger pulse. A call made while another is in flight logs the misuse
// and returns the previous reading.
func (t *Timer) Sample() Reading {
	if !t.busy.CompareAndSwap(false, true) {
		t.logger.Error("concurrent measurement rejected", "error", apperrors.ErrRangingBusy.Error())
		return Reading{DistanceMM: t.Last()}
	}
	defer t.busy.Store(false)

	if t.supervisor != nil {
		done := t.supervisor.Guard("measure", t.cfg.Timeout+t.cfg.TriggerPulse)
		defer done()
	}

	t.reset()
	t.armed.Store(true)
	t.pulse()

	timer := time.NewTimer(t.cfg.Timeout)
	defer timer.Stop()

	var (
		r          Reading
		start, end uint64
	)
	select {
	case <-t.wake:
		start, end = t.pulseStart.Load(), t.pulseEnd.Load()
	case <-timer.C:
		t.armed.Store(false)
		start = t.pulseStart.Load()
		end = start + t.cfg.MaxWindowMicros
		t.pulseEnd.Store(end)
		r.TimedOut = true
		t.timeouts.Add(1)
		t.logger.Warn("echo timed out",
			"timeout", t.cfg.Timeout.String(),
			"saw_rising", t.rose.Load(),
		)
		t.bus.Publish(event.NewRangingTimeoutEvent(t.cfg.Timeout))
	}

	r.PulseMicros = end - start
	raw := Distance(start, end, t.cfg.SpeedOfSoundMMPerUs)
	r.DistanceMM = t.cfg.Clamp(raw)
	t.last.Store(math.Float64bits(r.DistanceMM))

	t.logger.Debug("measured",
		"pulse_us", r.PulseMicros,
		"raw_mm", raw,
		"distance_mm", r.DistanceMM,
	)
	t.bus.Publish(event.NewRangingMeasuredEvent(r.PulseMicros, r.DistanceMM, r.TimedOut))
	return r
}

// reset zeroes the window and drains a wake left over from a late edge.
func (t *Timer) reset() {
	t.armed.Store(false)
	t.rose.Store(false)
	t.pulseStart.Store(0)
	t.pulseEnd.Store(0)
	select {
	case <-t.wake:
	default:
	}
}

func (t *Timer) pulse() {
	if err := t.trigger.Set(hal.High); err != nil {
		t.logger.Error("trigger high failed", "pin", t.trigger.Name(), "error", err.Error())
		return
	}
	time.Sleep(t.cfg.TriggerPulse)
	if err := t.trigger.Set(hal.Low); err != nil {
		t.logger.Error("trigger low failed", "pin", t.trigger.Name(), "error", err.Error())
	}
}

// Last returns the most recent clamped reading, or MaxRangeMM before the
// first measurement.
func (t *Timer) Last() float64 {
	return math.Float64frombits(t.last.Load())
}

// Stats reports edges ignored outside a measurement and timeouts.
func (t *Timer) Stats() (ignoredEdges, timeouts uint64) {
	return t.ignored.Load(), t.timeouts.Load()
}

// Close detaches the echo callback.
func (t *Timer) Close() error {
	t.armed.Store(false)
	return t.echo.Watch(func(hal.Edge) {})
}
