package periph

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/hal/sim"
)

func testPins() (Pins, *gpiotest.Pin) {
	echo := &gpiotest.Pin{N: "GPIO25", EdgesChan: make(chan gpio.Level, 4)}
	return Pins{
		MotorAIn1: &gpiotest.Pin{N: "GPIO17", L: gpio.High},
		MotorAIn2: &gpiotest.Pin{N: "GPIO27"},
		MotorBIn1: &gpiotest.Pin{N: "GPIO22"},
		MotorBIn2: &gpiotest.Pin{N: "GPIO23"},
		Trigger:   &gpiotest.Pin{N: "GPIO24"},
		Echo:      echo,
	}, echo
}

func TestNewBoard_DrivesOutputsLow(t *testing.T) {
	pins, _ := testPins()
	board, err := NewBoard(pins, sim.NewManualClock(0), hal.NewTimerAlarm(54), nil)
	if err != nil {
		t.Fatalf("NewBoard failed: %v", err)
	}
	defer func() { _ = board.Close() }()

	if got := pins.MotorAIn1.Read(); got != gpio.Low {
		t.Errorf("motor A in1 = %v after init, want Low", got)
	}
	if board.Trigger.Name() != "GPIO24" {
		t.Errorf("trigger name = %q", board.Trigger.Name())
	}

	if err := board.MotorA.Set(hal.Low, hal.High); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if pins.MotorAIn2.Read() != gpio.High {
		t.Error("motor A in2 not driven high")
	}
}

func TestEdgeInput_StampsEdges(t *testing.T) {
	pins, echo := testPins()
	clock := sim.NewManualClock(5000)
	board, err := NewBoard(pins, clock, hal.NewTimerAlarm(54), nil)
	if err != nil {
		t.Fatalf("NewBoard failed: %v", err)
	}

	edges := make(chan hal.Edge, 4)
	if err := board.Echo.Watch(func(e hal.Edge) { edges <- e }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	echo.EdgesChan <- gpio.High
	first := <-edges
	clock.Advance(588)
	echo.EdgesChan <- gpio.Low
	second := <-edges

	if !first.Rising || second.Rising {
		t.Errorf("edges = %+v, %+v", first, second)
	}
	if second.At-first.At != 588 {
		t.Errorf("width = %d, want 588", second.At-first.At)
	}

	done := make(chan error, 1)
	go func() { done <- board.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the watcher")
	}
}

func TestEdgeInput_CloseIdleWatcher(t *testing.T) {
	_, echo := testPins()
	in := &edgeInput{pin: echo, clock: sim.NewManualClock(0), poll: 5 * time.Millisecond}

	closeWithin := func(d time.Duration) {
		t.Helper()
		done := make(chan error, 1)
		go func() { done <- in.Close() }()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Close failed: %v", err)
			}
		case <-time.After(d):
			t.Fatal("Close did not stop the idle watcher")
		}
	}

	if err := in.Close(); err != nil {
		t.Fatalf("Close before Watch failed: %v", err)
	}
	if err := in.Watch(func(hal.Edge) {}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	closeWithin(time.Second)
	closeWithin(time.Second)

	// A closed input can be watched again.
	edges := make(chan hal.Edge, 1)
	if err := in.Watch(func(e hal.Edge) { edges <- e }); err != nil {
		t.Fatalf("second Watch failed: %v", err)
	}
	echo.EdgesChan <- gpio.High
	select {
	case e := <-edges:
		if !e.Rising {
			t.Errorf("edge = %+v, want rising", e)
		}
	case <-time.After(time.Second):
		t.Fatal("restarted watcher saw no edge")
	}
	closeWithin(time.Second)
}
