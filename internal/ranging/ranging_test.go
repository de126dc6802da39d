package ranging

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/hal/sim"
	"github.com/Iron-Ham/swarmbot/internal/testutil"
)

func approx(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TriggerPulse = time.Microsecond
	return cfg
}

func newTimer(t *testing.T, rig *sim.Rig, opts ...Option) *Timer {
	t.Helper()
	rt, err := NewFromBoard(rig.Board, testConfig(), opts...)
	if err != nil {
		t.Fatalf("NewFromBoard failed: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name       string
		start, end uint64
		want       float64
	}{
		{"100mm", 0, 588, 99.96},
		{"offset start", 1_000_000, 1_000_588, 99.96},
		{"empty window", 500, 500, 0},
		{"end before start", 600, 500, 0},
		{"rated maximum", 0, 23530, 4000.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.start, tt.end, 0.34); !approx(got, tt.want, 1e-9) {
				t.Errorf("Distance(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestConfig_Clamp(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		in, want float64
	}{
		{0, 20},
		{8.5, 20},
		{20, 20},
		{150, 150},
		{4000, 4000},
		{4000.1, 4000},
		{math.Inf(1), 4000},
		{math.NaN(), 20},
	}
	for _, tt := range tests {
		if got := cfg.Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDistance_ClampedAndMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	prev := -1.0
	for width := uint64(0); width <= 40_000; width += 7 {
		d := cfg.Clamp(Distance(100, 100+width, cfg.SpeedOfSoundMMPerUs))
		if d < cfg.MinRangeMM || d > cfg.MaxRangeMM {
			t.Fatalf("width %d: %v outside [%v, %v]", width, d, cfg.MinRangeMM, cfg.MaxRangeMM)
		}
		if d < prev {
			t.Fatalf("width %d: %v < previous %v", width, d, prev)
		}
		prev = d
	}
}

func TestSample_Echo(t *testing.T) {
	tests := []struct {
		name string
		opts []sim.RigOption
	}{
		{"sync delivery", []sim.RigOption{sim.WithSyncEcho()}},
		{"async delivery", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := sim.NewRig(append(tt.opts, sim.WithResponder(sim.ScriptResponder(588)))...)
			rt := newTimer(t, rig)

			r := rt.Sample()
			if r.TimedOut {
				t.Fatal("Sample timed out")
			}
			if r.PulseMicros != 588 {
				t.Errorf("PulseMicros = %d, want 588", r.PulseMicros)
			}
			if !approx(r.DistanceMM, 100, 0.05) {
				t.Errorf("DistanceMM = %v, want ~100", r.DistanceMM)
			}
			if rt.Last() != r.DistanceMM {
				t.Errorf("Last() = %v, want %v", rt.Last(), r.DistanceMM)
			}
		})
	}
}

func TestSample_TriggerPulse(t *testing.T) {
	rig := sim.NewRig(sim.WithSyncEcho(), sim.WithResponder(sim.ScriptResponder(588)))
	rt := newTimer(t, rig)
	rt.Measure()

	want := []hal.Level{hal.Low, hal.High, hal.Low}
	got := rig.Trigger.History()
	if len(got) != len(want) {
		t.Fatalf("trigger history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("trigger history[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if rig.Triggers() != 1 {
		t.Errorf("Triggers() = %d, want 1", rig.Triggers())
	}
}

func TestSample_Timeout(t *testing.T) {
	tests := []struct {
		name      string
		responder sim.Responder
	}{
		{"rising edge only", sim.ScriptResponder(0)},
		{"no echo", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := sim.NewRig(sim.WithSyncEcho(), sim.WithResponder(tt.responder))
			logger, logs := testutil.CaptureLogger(t)
			bus := event.NewBus()
			var timeouts int
			var mu sync.Mutex
			bus.Subscribe(event.TypeRangingTimeout, func(event.Event) {
				mu.Lock()
				timeouts++
				mu.Unlock()
			})

			cfg := testConfig()
			cfg.Timeout = 5 * time.Millisecond
			rt, err := NewFromBoard(rig.Board, cfg, WithLogger(logger), WithBus(bus))
			if err != nil {
				t.Fatalf("NewFromBoard failed: %v", err)
			}

			begin := time.Now()
			r := rt.Sample()
			elapsed := time.Since(begin)

			if !r.TimedOut {
				t.Error("TimedOut = false, want true")
			}
			if r.DistanceMM != cfg.MaxRangeMM {
				t.Errorf("DistanceMM = %v, want %v", r.DistanceMM, cfg.MaxRangeMM)
			}
			if r.PulseMicros != cfg.MaxWindowMicros {
				t.Errorf("PulseMicros = %d, want %d", r.PulseMicros, cfg.MaxWindowMicros)
			}
			if elapsed > cfg.Timeout+500*time.Millisecond {
				t.Errorf("Sample took %v, want about %v", elapsed, cfg.Timeout)
			}
			if logs.Count("WARN", "echo timed out") != 1 {
				t.Errorf("expected one timeout warning, got:\n%s", logs.String())
			}
			mu.Lock()
			defer mu.Unlock()
			if timeouts != 1 {
				t.Errorf("timeout events = %d, want 1", timeouts)
			}
			if _, n := rt.Stats(); n != 1 {
				t.Errorf("Stats timeouts = %d, want 1", n)
			}
		})
	}
}

func TestSample_ClampsShortEcho(t *testing.T) {
	rig := sim.NewRig(sim.WithSyncEcho(), sim.WithResponder(sim.ScriptResponder(50)))
	rt := newTimer(t, rig)
	if got := rt.Measure(); got != 20 {
		t.Errorf("Measure() = %v, want 20", got)
	}
}

func TestSample_IgnoresStrayEdges(t *testing.T) {
	rig := sim.NewRig(sim.WithSyncEcho(), sim.WithResponder(func(at uint64) []hal.Edge {
		return []hal.Edge{
			{Rising: false, At: at + 5},
			{Rising: true, At: at + 20},
			{Rising: false, At: at + 608},
		}
	}))
	rt := newTimer(t, rig)

	// Outside any measurement.
	rig.Echo.Emit(hal.Edge{Rising: true, At: 1})

	if got := rt.Measure(); !approx(got, 100, 0.05) {
		t.Errorf("Measure() = %v, want ~100", got)
	}
	if ignored, _ := rt.Stats(); ignored != 2 {
		t.Errorf("ignored edges = %d, want 2", ignored)
	}
}

func TestSample_ConsecutiveReadingsAgree(t *testing.T) {
	rig := sim.NewRig(sim.WithSyncEcho(), sim.WithResponder(sim.ScriptResponder(1176, 1179, 1174)))
	rt := newTimer(t, rig)

	first := rt.Measure()
	for i := 0; i < 2; i++ {
		if got := rt.Measure(); !approx(got, first, 1) {
			t.Errorf("reading %d = %v, first = %v", i+2, got, first)
		}
	}
}

func TestSample_ConcurrentCallReturnsLast(t *testing.T) {
	var rt *Timer
	var nested Reading
	rig := sim.NewRig(sim.WithSyncEcho())
	rig.SetResponder(func(at uint64) []hal.Edge {
		// Runs inside the outer measurement.
		nested = rt.Sample()
		return []hal.Edge{{Rising: true, At: at}, {Rising: false, At: at + 588}}
	})
	logger, logs := testutil.CaptureLogger(t)
	rt = newTimer(t, rig, WithLogger(logger))

	outer := rt.Sample()
	if nested.DistanceMM != DefaultConfig().MaxRangeMM {
		t.Errorf("nested reading = %v, want previous reading %v", nested.DistanceMM, DefaultConfig().MaxRangeMM)
	}
	if !approx(outer.DistanceMM, 100, 0.05) {
		t.Errorf("outer reading = %v, want ~100", outer.DistanceMM)
	}
	if rig.Triggers() != 1 {
		t.Errorf("Triggers() = %d, want 1", rig.Triggers())
	}
	if logs.Count("ERROR", "concurrent measurement") != 1 {
		t.Errorf("expected a concurrency error log, got:\n%s", logs.String())
	}
}

type recordingSupervisor struct {
	mu       sync.Mutex
	ops      []string
	released int
}

func (s *recordingSupervisor) Guard(op string, _ time.Duration) func() {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}
}

func TestSample_Supervised(t *testing.T) {
	rig := sim.NewRig(sim.WithSyncEcho(), sim.WithResponder(sim.ScriptResponder(588)))
	sup := &recordingSupervisor{}
	rt := newTimer(t, rig, WithSupervisor(sup))
	rt.Measure()

	if len(sup.ops) != 1 || sup.ops[0] != "measure" || sup.released != 1 {
		t.Errorf("supervisor ops = %v released = %d", sup.ops, sup.released)
	}
}

func TestSample_PublishesMeasured(t *testing.T) {
	rig := sim.NewRig(sim.WithSyncEcho(), sim.WithResponder(sim.ScriptResponder(588)))
	bus := event.NewBus()
	var got event.RangingMeasuredEvent
	bus.Subscribe(event.TypeRangingMeasured, func(e event.Event) {
		got = e.(event.RangingMeasuredEvent)
	})
	rt := newTimer(t, rig, WithBus(bus))
	rt.Measure()

	if got.PulseMicros != 588 || got.TimedOut || !approx(got.DistanceMM, 100, 0.05) {
		t.Errorf("measured event = %+v", got)
	}
}

func TestNew_RequiresPins(t *testing.T) {
	if _, err := New(nil, sim.NewEchoInput("echo"), DefaultConfig()); err == nil {
		t.Error("New(nil trigger) succeeded, want error")
	}
}
