package agent

import "fmt"

// Phase is the handshake position of an agent.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseAwaitingMaster
	PhaseAwaitingIndex
	PhaseAwaitingStart
	PhaseReady
)

// String returns the phase's log name.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseAwaitingMaster:
		return "awaiting_master"
	case PhaseAwaitingIndex:
		return "awaiting_index"
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}
