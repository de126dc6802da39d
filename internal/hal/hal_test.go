package hal

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
)

type fakePin struct {
	name   string
	levels []Level
	err    error
}

func (p *fakePin) Set(l Level) error {
	p.levels = append(p.levels, l)
	return p.err
}

func (p *fakePin) Name() string { return p.name }

type fakeEcho struct{ closed bool }

func (e *fakeEcho) Watch(func(Edge)) error { return nil }
func (e *fakeEcho) Close() error           { e.closed = true; return nil }
func (e *fakeEcho) Name() string           { return "echo" }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestMaxMicrosForBits(t *testing.T) {
	tests := []struct {
		bits int
		want uint64
	}{
		{0, 0},
		{1, 1},
		{32, 1<<32 - 1},
		{54, 1<<54 - 1},
		{64, ^uint64(0)},
		{70, ^uint64(0)},
	}
	for _, tt := range tests {
		if got := MaxMicrosForBits(tt.bits); got != tt.want {
			t.Errorf("MaxMicrosForBits(%d) = %d, want %d", tt.bits, got, tt.want)
		}
	}
}

func TestAlarmMicrosForBits(t *testing.T) {
	tests := []struct {
		bits int
		want uint64
	}{
		{0, 0},
		{32, 1<<32 - 1},
		{53, 1<<53 - 1},
		{54, MaxDurationMicros},
		{64, MaxDurationMicros},
	}
	for _, tt := range tests {
		if got := AlarmMicrosForBits(tt.bits); got != tt.want {
			t.Errorf("AlarmMicrosForBits(%d) = %d, want %d", tt.bits, got, tt.want)
		}
	}
	if d := time.Duration(MaxDurationMicros) * time.Microsecond; d <= 0 {
		t.Errorf("MaxDurationMicros overflows time.Duration: %v", d)
	}
}

func TestLevelString(t *testing.T) {
	if High.String() != "1" || Low.String() != "0" {
		t.Errorf("High=%s Low=%s", High, Low)
	}
}

func TestBoardClose(t *testing.T) {
	a1, a2 := &fakePin{name: "a1"}, &fakePin{name: "a2"}
	b1, b2 := &fakePin{name: "b1"}, &fakePin{name: "b2", err: errors.New("EIO")}
	echo := &fakeEcho{}

	var order []string
	board := &Board{
		MotorA: MotorChannel{In1: a1, In2: a2},
		MotorB: MotorChannel{In1: b1, In2: b2},
		Echo:   echo,
		Alarm:  NewTimerAlarm(32),
	}
	board.OnClose(closerFunc(func() error { order = append(order, "first"); return nil }))
	board.OnClose(closerFunc(func() error { order = append(order, "second"); return nil }))

	err := board.Close()
	if err == nil {
		t.Error("Close() should report the pin failure")
	}
	for _, p := range []*fakePin{a1, a2, b1, b2} {
		if len(p.levels) != 1 || p.levels[0] != Low {
			t.Errorf("pin %s levels = %v, want [0]", p.name, p.levels)
		}
	}
	if !echo.closed {
		t.Error("echo input was not closed")
	}
	if len(order) != 2 || order[0] != "second" {
		t.Errorf("closers ran in order %v, want reverse registration", order)
	}
}

func TestTimerAlarm(t *testing.T) {
	t.Run("fires once", func(t *testing.T) {
		a := NewTimerAlarm(54)
		fired := make(chan struct{}, 2)
		if err := a.Arm(1000, func() { fired <- struct{}{} }); err != nil {
			t.Fatalf("Arm failed: %v", err)
		}
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("alarm did not fire")
		}
	})

	t.Run("cancel suppresses fire", func(t *testing.T) {
		a := NewTimerAlarm(54)
		fired := make(chan struct{}, 1)
		_ = a.Arm(20000, func() { fired <- struct{}{} })
		a.Cancel()
		select {
		case <-fired:
			t.Fatal("cancelled alarm fired")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("rejects durations wider than the counter", func(t *testing.T) {
		a := NewTimerAlarm(8)
		if a.MaxMicros() != 255 {
			t.Fatalf("MaxMicros() = %d", a.MaxMicros())
		}
		if err := a.Arm(256, func() {}); !errors.Is(err, apperrors.ErrAlarmWidth) {
			t.Errorf("Arm(256) = %v, want ErrAlarmWidth", err)
		}
	})

	t.Run("wide counter capped to duration range", func(t *testing.T) {
		a := NewTimerAlarm(54)
		if a.MaxMicros() != MaxDurationMicros {
			t.Fatalf("MaxMicros() = %d, want %d", a.MaxMicros(), MaxDurationMicros)
		}
		fired := make(chan struct{}, 1)
		if err := a.Arm(MaxDurationMicros+1, func() { fired <- struct{}{} }); !errors.Is(err, apperrors.ErrAlarmWidth) {
			t.Errorf("Arm(MaxDurationMicros+1) = %v, want ErrAlarmWidth", err)
		}
		select {
		case <-fired:
			t.Fatal("rejected alarm fired")
		case <-time.After(20 * time.Millisecond):
		}
	})
}

func TestMonotonicCounter(t *testing.T) {
	c := NewMonotonicCounter()
	first := c.Micros()
	time.Sleep(2 * time.Millisecond)
	if second := c.Micros(); second < first+1000 {
		t.Errorf("counter advanced %dus over 2ms", second-first)
	}
}
