package motion

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/hal/sim"
	"github.com/Iron-Ham/swarmbot/internal/testutil"
)

const (
	L = hal.Low
	H = hal.High
)

func TestCalibration_Duration(t *testing.T) {
	cal := DefaultCalibration()
	max54 := hal.MaxMicrosForBits(54)

	tests := []struct {
		name    string
		cal     Calibration
		req     Request
		max     uint64
		want    uint64
		wantErr error
	}{
		{"forward 200mm", cal, Request{Forward, 200}, max54, 400_000, nil},
		{"quarter turn right", cal, Request{TurnRight, math.Pi / 2}, max54, 3_141_592, nil},
		{"quarter turn left", cal, Request{TurnLeft, math.Pi / 2}, max54, 3_141_592, nil},
		{"half turn", cal, Request{TurnRight, math.Pi}, max54, 6_283_185, nil},
		{"zero", cal, Request{Forward, 0}, max54, 0, nil},
		{"negative", cal, Request{Forward, -1}, max54, 0, apperrors.ErrInvalidRequest},
		{"NaN", cal, Request{TurnLeft, math.NaN()}, max54, 0, apperrors.ErrInvalidRequest},
		{"infinite", cal, Request{Forward, math.Inf(1)}, max54, 0, apperrors.ErrInvalidRequest},
		{"zero velocity", Calibration{LinearMMPerSec: 0, AngularRadPerSec: 1}, Request{Forward, 1}, max54, 0, apperrors.ErrInvalidRequest},
		{"unknown kind", cal, Request{Kind(9), 1}, max54, 0, apperrors.ErrInvalidRequest},
		{"wider than alarm", cal, Request{Forward, 200}, hal.MaxMicrosForBits(16), 0, apperrors.ErrAlarmWidth},
		{"wider than uint64", Calibration{LinearMMPerSec: 1e-300, AngularRadPerSec: 1}, Request{Forward, 1}, max54, 0, apperrors.ErrAlarmWidth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cal.Duration(tt.req, tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Duration() err = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, apperrors.ErrInvalidInput) {
					t.Errorf("Duration() err = %v, want a validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Duration() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Duration() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCalibration_DurationStrictlyIncreasing(t *testing.T) {
	cal := DefaultCalibration()
	maxUS := hal.MaxMicrosForBits(54)
	for _, k := range []Kind{Forward, TurnLeft, TurnRight} {
		prev, err := cal.Duration(Request{k, 0}, maxUS)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i <= 500; i++ {
			d, err := cal.Duration(Request{k, float64(i) * 0.01}, maxUS)
			if err != nil {
				t.Fatal(err)
			}
			if d <= prev {
				t.Fatalf("%s: Duration(%v) = %d not above %d", k, float64(i)*0.01, d, prev)
			}
			prev = d
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Forward, TurnLeft, TurnRight} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("backward"); !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("ParseKind(backward) err = %v", err)
	}
	if got := Kind(7).String(); got != "kind(7)" {
		t.Errorf("Kind(7).String() = %q", got)
	}
}

// startDrive runs Drive on a goroutine and waits until the alarm is armed.
func startDrive(t *testing.T, c *Controller, rig *sim.Rig, req Request) <-chan error {
	t.Helper()
	arms, b2 := rig.Alarm.Arms(), rig.MotorB2.Writes()
	errc := make(chan error, 1)
	go func() { errc <- c.Drive(req) }()
	testutil.Eventually(t, time.Second, func() bool {
		return rig.Alarm.Arms() > arms && rig.MotorB2.Writes() > b2
	}, "drive never armed the alarm")
	return errc
}

func TestDrive_Patterns(t *testing.T) {
	tests := []struct {
		req  Request
		want [4]hal.Level
	}{
		{Request{Forward, 200}, [4]hal.Level{L, H, L, H}},
		{Request{TurnLeft, math.Pi / 2}, [4]hal.Level{L, H, H, L}},
		{Request{TurnRight, math.Pi / 2}, [4]hal.Level{H, L, L, H}},
	}
	for _, tt := range tests {
		t.Run(tt.req.Kind.String(), func(t *testing.T) {
			rig := sim.NewRig()
			clock := rig.Clock.(*sim.ManualClock)
			c := New(rig.Board, DefaultCalibration())

			errc := startDrive(t, c, rig, tt.req)
			if got := rig.MotorPattern(); got != tt.want {
				t.Errorf("pattern while driving = %v, want %v", got, tt.want)
			}
			want, _ := c.Duration(tt.req)
			if rig.Alarm.Last() != want {
				t.Errorf("alarm armed for %d, want %d", rig.Alarm.Last(), want)
			}

			clock.Advance(want)
			if err := <-errc; err != nil {
				t.Fatalf("Drive() error = %v", err)
			}
			if got := rig.MotorPattern(); got != [4]hal.Level{} {
				t.Errorf("pattern after drive = %v, want all low", got)
			}
		})
	}
}

func TestDrive_WaitsForCompletion(t *testing.T) {
	rig := sim.NewRig()
	clock := rig.Clock.(*sim.ManualClock)
	c := New(rig.Board, DefaultCalibration())

	errc := startDrive(t, c, rig, Request{Forward, 200})

	clock.Advance(399_999)
	select {
	case err := <-errc:
		t.Fatalf("Drive returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(1)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Drive() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drive did not return after the alarm fired")
	}
	if drives, total := c.Stats(); drives != 1 || total != 400*time.Millisecond {
		t.Errorf("Stats() = %d, %v", drives, total)
	}
}

func TestDrive_StaleCompletionIgnored(t *testing.T) {
	rig := sim.NewRig()
	clock := rig.Clock.(*sim.ManualClock)
	c := New(rig.Board, DefaultCalibration())

	// A completion that belongs to no drive.
	c.complete()

	errc := startDrive(t, c, rig, Request{TurnLeft, 1})
	select {
	case err := <-errc:
		t.Fatalf("Drive returned on a stale completion: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	clock.Advance(2_000_000)
	if err := <-errc; err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
}

func TestDrive_Busy(t *testing.T) {
	rig := sim.NewRig()
	clock := rig.Clock.(*sim.ManualClock)
	c := New(rig.Board, DefaultCalibration())

	errc := startDrive(t, c, rig, Request{Forward, 100})
	writes := rig.MotorA1.Writes()

	if err := c.Drive(Request{TurnLeft, 1}); !errors.Is(err, apperrors.ErrActuationBusy) {
		t.Errorf("concurrent Drive() = %v, want ErrActuationBusy", err)
	}
	if rig.MotorA1.Writes() != writes {
		t.Error("concurrent Drive touched the pins")
	}

	clock.Advance(200_000)
	if err := <-errc; err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
}

func TestDrive_InvalidRequestDoesNotMove(t *testing.T) {
	rig := sim.NewRig()
	c := New(rig.Board, DefaultCalibration())

	if err := c.Drive(Request{Forward, -5}); !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("Drive() = %v, want ErrInvalidRequest", err)
	}
	if rig.Alarm.Arms() != 0 || rig.MotorA1.Writes() != 0 {
		t.Error("invalid request reached the hardware")
	}
}

func TestDrive_ZeroMagnitude(t *testing.T) {
	rig := sim.NewRig()
	c := New(rig.Board, DefaultCalibration())

	if err := c.Drive(Request{Forward, 0}); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if rig.Alarm.Arms() != 0 {
		t.Error("zero-length drive armed the alarm")
	}
	if got := rig.MotorPattern(); got != [4]hal.Level{} {
		t.Errorf("pattern = %v, want all low", got)
	}
}

func TestDrive_PinFailureStopsMotors(t *testing.T) {
	rig := sim.NewRig()
	logger, logs := testutil.CaptureLogger(t)
	c := New(rig.Board, DefaultCalibration(), WithLogger(logger))

	rig.MotorB1.FailNext(errors.New("EIO"))
	err := c.Drive(Request{Forward, 100})
	if err == nil {
		t.Fatal("Drive() succeeded despite a pin failure")
	}
	var hwErr *apperrors.HardwareError
	if !errors.As(err, &hwErr) {
		t.Errorf("Drive() error = %T, want *HardwareError", err)
	}
	if rig.Alarm.Armed() {
		t.Error("alarm still armed after failure")
	}
	if got := rig.MotorPattern(); got != [4]hal.Level{} {
		t.Errorf("pattern = %v, want all low", got)
	}
	if logs.Count("ERROR", "set motor pattern failed") != 1 {
		t.Errorf("expected a pattern failure log, got:\n%s", logs.String())
	}
}

func TestDrive_AlarmFailureIsCritical(t *testing.T) {
	rig := sim.NewRig()
	board := *rig.Board
	board.Alarm = brokenAlarm{}
	c := New(&board, DefaultCalibration())

	err := c.Drive(Request{Forward, 100})
	if !errors.Is(err, errAlarmDead) {
		t.Fatalf("Drive() = %v, want the alarm error", err)
	}
	if sev := apperrors.GetSeverity(err); sev != apperrors.SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", sev)
	}
	if got := rig.MotorPattern(); got != [4]hal.Level{} {
		t.Errorf("pattern = %v, want all low", got)
	}
}

var errAlarmDead = errors.New("alarm dead")

type brokenAlarm struct{}

func (brokenAlarm) Arm(uint64, func()) error { return errAlarmDead }
func (brokenAlarm) Cancel()                  {}
func (brokenAlarm) MaxMicros() uint64        { return hal.MaxDurationMicros }

func TestDrive_Events(t *testing.T) {
	rig := sim.NewRig()
	clock := rig.Clock.(*sim.ManualClock)
	bus := event.NewBus()
	var mu sync.Mutex
	var seen []string
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.EventType())
	})
	c := New(rig.Board, DefaultCalibration(), WithBus(bus))

	errc := startDrive(t, c, rig, Request{TurnRight, math.Pi / 2})
	clock.Advance(3_141_592)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != event.TypeMotionStarted || seen[1] != event.TypeMotionCompleted {
		t.Errorf("events = %v", seen)
	}
}

func TestDrive_RealTimerAlarm(t *testing.T) {
	rig := sim.NewRig()
	board := *rig.Board
	board.Alarm = hal.NewTimerAlarm(54)
	c := New(&board, DefaultCalibration())

	begin := time.Now()
	if err := c.Drive(Request{Forward, 5}); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if elapsed := time.Since(begin); elapsed < 10*time.Millisecond {
		t.Errorf("Drive returned after %v, want at least 10ms", elapsed)
	}
	if got := rig.MotorPattern(); got != [4]hal.Level{} {
		t.Errorf("pattern = %v, want all low", got)
	}
}

// A 54-bit counter is wider than time.Duration in microseconds; the drive
// must be refused rather than fire immediately.
func TestDrive_RealTimerAlarmRejectsOverlongDrive(t *testing.T) {
	rig := sim.NewRig()
	board := *rig.Board
	board.Alarm = hal.NewTimerAlarm(54)
	sup := &recordingSupervisor{}
	c := New(&board, DefaultCalibration(), WithSupervisor(sup))

	if err := c.Drive(Request{Forward, 5e12}); !errors.Is(err, apperrors.ErrAlarmWidth) {
		t.Fatalf("Drive() = %v, want ErrAlarmWidth", err)
	}
	if rig.MotorA1.Writes() != 0 || rig.MotorA2.Writes() != 0 {
		t.Error("overlong drive reached the motor pins")
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.released != 0 || sup.budget != 0 {
		t.Errorf("supervisor guarded a rejected drive: budget = %v", sup.budget)
	}
}

func TestDrive_Supervised(t *testing.T) {
	rig := sim.NewRig()
	clock := rig.Clock.(*sim.ManualClock)
	sup := &recordingSupervisor{}
	c := New(rig.Board, DefaultCalibration(), WithSupervisor(sup))

	errc := startDrive(t, c, rig, Request{Forward, 200})
	clock.Advance(400_000)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.budget != 400*time.Millisecond || sup.released != 1 {
		t.Errorf("supervisor budget = %v released = %d", sup.budget, sup.released)
	}
}

type recordingSupervisor struct {
	mu       sync.Mutex
	budget   time.Duration
	released int
}

func (s *recordingSupervisor) Guard(_ string, budget time.Duration) func() {
	s.mu.Lock()
	s.budget = budget
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}
}
