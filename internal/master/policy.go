package master

import (
	"fmt"
	"math/rand/v2"
	"sync"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
)

// NumActions is the size of the agent's action space.
const NumActions = 4

// Policy chooses the next action for an agent.
type Policy interface {
	Action(agent uint32, step int, observationMM float64) int
}

// Cycle plays 0, 1, 2, 3, 0, ...
type Cycle struct{}

// Action implements Policy.
func (Cycle) Action(_ uint32, step int, _ float64) int {
	return step % NumActions
}

// Random draws actions uniformly from a seeded source.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom returns a Random policy. Equal seeds give equal sequences.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(uint64(seed), 0x5eed))}
}

// Action implements Policy.
func (r *Random) Action(uint32, int, float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(NumActions)
}

// Scripted replays a fixed list of actions, wrapping around.
type Scripted struct {
	script []int
}

// NewScripted validates script and returns a Scripted policy.
func NewScripted(script []int) (*Scripted, error) {
	if len(script) == 0 {
		return nil, apperrors.NewValidationError("script is empty").WithField("script")
	}
	for i, a := range script {
		if a < 0 || a >= NumActions {
			return nil, apperrors.NewValidationError(fmt.Sprintf("action %d out of range", a)).
				WithField(fmt.Sprintf("script[%d]", i)).
				WithValue(a)
		}
	}
	return &Scripted{script: append([]int(nil), script...)}, nil
}

// Action implements Policy.
func (s *Scripted) Action(_ uint32, step int, _ float64) int {
	return s.script[step%len(s.script)]
}

// PolicyNames lists the names NewPolicy accepts.
func PolicyNames() []string {
	return []string{"cycle", "random", "scripted"}
}

// NewPolicy builds a policy by name.
func NewPolicy(name string, seed int64, script []int) (Policy, error) {
	switch name {
	case "cycle":
		return Cycle{}, nil
	case "random":
		return NewRandom(seed), nil
	case "scripted":
		return NewScripted(script)
	default:
		return nil, apperrors.NewValidationError("unknown policy").WithField("policy").WithValue(name)
	}
}
