package agent

import (
	"math"
	"testing"
	"time"

	"github.com/Iron-Ham/swarmbot/internal/motion"
)

func TestConfig_Request(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		action int
		want   motion.Request
		ok     bool
	}{
		{ActionForward, motion.Request{Kind: motion.Forward, Magnitude: 200}, true},
		{ActionTurnRight, motion.Request{Kind: motion.TurnRight, Magnitude: math.Pi / 2}, true},
		{ActionTurnAround, motion.Request{Kind: motion.TurnRight, Magnitude: math.Pi}, true},
		{ActionTurnLeft, motion.Request{Kind: motion.TurnLeft, Magnitude: math.Pi / 2}, true},
		{4, motion.Request{}, false},
		{-1, motion.Request{}, false},
	}
	for _, tt := range tests {
		got, ok := cfg.Request(tt.action)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Request(%d) = %+v, %v; want %+v, %v", tt.action, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{ForwardDistanceMM: 100, LoopInterval: time.Second}.withDefaults()
	if cfg.LoopInterval != time.Second {
		t.Errorf("LoopInterval = %v, want 1s", cfg.LoopInterval)
	}
	if cfg.ReadyPoll != 500*time.Millisecond {
		t.Errorf("ReadyPoll = %v, want 500ms", cfg.ReadyPoll)
	}
	if cfg.HandshakePoll != 50*time.Millisecond {
		t.Errorf("HandshakePoll = %v, want 50ms", cfg.HandshakePoll)
	}
	if cfg.ForwardDistanceMM != 100 {
		t.Errorf("ForwardDistanceMM = %v, want 100", cfg.ForwardDistanceMM)
	}
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		p    Phase
		want string
	}{
		{PhaseInit, "init"},
		{PhaseAwaitingMaster, "awaiting_master"},
		{PhaseAwaitingIndex, "awaiting_index"},
		{PhaseAwaitingStart, "awaiting_start"},
		{PhaseReady, "ready"},
		{Phase(42), "phase(42)"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
