package agent

import (
	"math"
	"time"

	"github.com/Iron-Ham/swarmbot/internal/motion"
)

// Action ids understood by the agent.
const (
	ActionForward    = 0
	ActionTurnRight  = 1
	ActionTurnAround = 2
	ActionTurnLeft   = 3
)

// Config tunes the agent's policy and timing.
type Config struct {
	// ForwardDistanceMM is how far action 0 drives.
	ForwardDistanceMM float64
	// SafetyThresholdMM refuses a forward move when the last reading is
	// closer than this.
	SafetyThresholdMM float64
	// StepReward is reported for every dispatched action.
	StepReward int
	// CollisionPenalty replaces StepReward for a refused forward move.
	CollisionPenalty int
	// LoopInterval bounds the message wait of the step loop.
	LoopInterval time.Duration
	// ReadyPoll is how often the master status is re-checked while a
	// publish is held back.
	ReadyPoll time.Duration
	// HandshakePoll is the wake-up period during the handshake.
	HandshakePoll time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		ForwardDistanceMM: 200,
		SafetyThresholdMM: 200,
		StepReward:        -1,
		CollisionPenalty:  -50,
		LoopInterval:      500 * time.Millisecond,
		ReadyPoll:         500 * time.Millisecond,
		HandshakePoll:     50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LoopInterval <= 0 {
		c.LoopInterval = d.LoopInterval
	}
	if c.ReadyPoll <= 0 {
		c.ReadyPoll = d.ReadyPoll
	}
	if c.HandshakePoll <= 0 {
		c.HandshakePoll = d.HandshakePoll
	}
	return c
}

// Request maps an action id to the motion it performs.
func (c Config) Request(action int) (motion.Request, bool) {
	switch action {
	case ActionForward:
		return motion.Request{Kind: motion.Forward, Magnitude: c.ForwardDistanceMM}, true
	case ActionTurnRight:
		return motion.Request{Kind: motion.TurnRight, Magnitude: math.Pi / 2}, true
	case ActionTurnAround:
		return motion.Request{Kind: motion.TurnRight, Magnitude: math.Pi}, true
	case ActionTurnLeft:
		return motion.Request{Kind: motion.TurnLeft, Magnitude: math.Pi / 2}, true
	default:
		return motion.Request{}, false
	}
}
