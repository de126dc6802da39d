package mailbox

import (
	"fmt"
	"time"
)

// Kind identifies an inbound topic.
type Kind int

const (
	// MasterStatus carries the master's readiness flag.
	MasterStatus Kind = iota

	// Index carries the agent index assigned by the master.
	Index

	// Start carries the episode start flag.
	Start

	// Action carries the next action id.
	Action

	numKinds
)

// Kinds lists every Kind in round-robin order.
func Kinds() []Kind {
	return []Kind{MasterStatus, Index, Start, Action}
}

// String returns the kind's log name.
func (k Kind) String() string {
	switch k {
	case MasterStatus:
		return "master_status"
	case Index:
		return "index"
	case Start:
		return "start"
	case Action:
		return "action"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

// Message is one inbound payload.
type Message struct {
	Kind      Kind
	Topic     string
	Payload   []byte
	Duplicate bool
	Received  time.Time
}
