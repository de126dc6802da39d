// Package event defines event types for decoupling swarmbot components.
// The ranging, motion, mailbox and transport layers publish what they did;
// the agent, CLI status output and tests observe it without direct
// dependencies.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "ranging.measured", "phase.changed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeRangingMeasured    = "ranging.measured"
	TypeRangingTimeout     = "ranging.timeout"
	TypeMotionStarted      = "motion.started"
	TypeMotionCompleted    = "motion.completed"
	TypeMailboxDelivered   = "mailbox.delivered"
	TypeMailboxOverwritten = "mailbox.overwritten"
	TypeLinkChanged        = "link.changed"
	TypePhaseChanged       = "phase.changed"
	TypeEpisodeStarted     = "episode.started"
	TypeActionDispatched   = "action.dispatched"
	TypeCollisionAverted   = "collision.averted"
	TypeStepCompleted      = "step.completed"
	TypeProtocolAnomaly    = "protocol.anomaly"
	TypeWatchdogExpired    = "watchdog.expired"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Ranging Events
// -----------------------------------------------------------------------------

// RangingMeasuredEvent is emitted after every completed measurement.
type RangingMeasuredEvent struct {
	baseEvent
	PulseMicros uint64  // pulse_end - pulse_start
	DistanceMM  float64 // clamped reading returned to the caller
	TimedOut    bool    // true when the echo window was synthesized
}

// NewRangingMeasuredEvent creates a RangingMeasuredEvent.
func NewRangingMeasuredEvent(pulseMicros uint64, distanceMM float64, timedOut bool) RangingMeasuredEvent {
	return RangingMeasuredEvent{
		baseEvent:   newBaseEvent(TypeRangingMeasured),
		PulseMicros: pulseMicros,
		DistanceMM:  distanceMM,
		TimedOut:    timedOut,
	}
}

// RangingTimeoutEvent is emitted when no falling echo edge arrived in time.
type RangingTimeoutEvent struct {
	baseEvent
	Waited time.Duration
}

// NewRangingTimeoutEvent creates a RangingTimeoutEvent.
func NewRangingTimeoutEvent(waited time.Duration) RangingTimeoutEvent {
	return RangingTimeoutEvent{
		baseEvent: newBaseEvent(TypeRangingTimeout),
		Waited:    waited,
	}
}

// -----------------------------------------------------------------------------
// Motion Events
// -----------------------------------------------------------------------------

// MotionEvent is emitted when an actuation starts and when it completes.
type MotionEvent struct {
	baseEvent
	Kind           string  // "forward", "turn_left", "turn_right"
	Magnitude      float64 // mm or radians
	DurationMicros uint64
}

// NewMotionStartedEvent creates a motion.started event.
func NewMotionStartedEvent(kind string, magnitude float64, durationMicros uint64) MotionEvent {
	return MotionEvent{
		baseEvent:      newBaseEvent(TypeMotionStarted),
		Kind:           kind,
		Magnitude:      magnitude,
		DurationMicros: durationMicros,
	}
}

// NewMotionCompletedEvent creates a motion.completed event.
func NewMotionCompletedEvent(kind string, magnitude float64, durationMicros uint64) MotionEvent {
	e := NewMotionStartedEvent(kind, magnitude, durationMicros)
	e.baseEvent = newBaseEvent(TypeMotionCompleted)
	return e
}

// -----------------------------------------------------------------------------
// Messaging Events
// -----------------------------------------------------------------------------

// MailboxEvent is emitted when a routed message lands in a mailbox slot.
// The mailbox.overwritten variant means an unconsumed value was replaced.
type MailboxEvent struct {
	baseEvent
	Kind  string
	Topic string
}

// NewMailboxDeliveredEvent creates a mailbox.delivered event.
func NewMailboxDeliveredEvent(kind, topic string) MailboxEvent {
	return MailboxEvent{baseEvent: newBaseEvent(TypeMailboxDelivered), Kind: kind, Topic: topic}
}

// NewMailboxOverwrittenEvent creates a mailbox.overwritten event.
func NewMailboxOverwrittenEvent(kind, topic string) MailboxEvent {
	return MailboxEvent{baseEvent: newBaseEvent(TypeMailboxOverwritten), Kind: kind, Topic: topic}
}

// LinkChangedEvent is emitted when the broker connection goes up or down.
type LinkChangedEvent struct {
	baseEvent
	Up     bool
	Broker string
	Reason string
}

// NewLinkChangedEvent creates a LinkChangedEvent.
func NewLinkChangedEvent(up bool, broker, reason string) LinkChangedEvent {
	return LinkChangedEvent{
		baseEvent: newBaseEvent(TypeLinkChanged),
		Up:        up,
		Broker:    broker,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Coordination Events
// -----------------------------------------------------------------------------

// PhaseChangedEvent is emitted on every coordination phase transition.
type PhaseChangedEvent struct {
	baseEvent
	Agent uint32 // 0 until an index has been assigned
	From  string
	To    string
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(agent uint32, from, to string) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		Agent:     agent,
		From:      from,
		To:        to,
	}
}

// EpisodeStartedEvent is emitted when a start message begins an episode.
type EpisodeStartedEvent struct {
	baseEvent
	Agent         uint32
	Episode       uint64
	ObservationMM float64
}

// NewEpisodeStartedEvent creates an EpisodeStartedEvent.
func NewEpisodeStartedEvent(agent uint32, episode uint64, observationMM float64) EpisodeStartedEvent {
	return EpisodeStartedEvent{
		baseEvent:     newBaseEvent(TypeEpisodeStarted),
		Agent:         agent,
		Episode:       episode,
		ObservationMM: observationMM,
	}
}

// ActionDispatchedEvent is emitted when an action id is accepted for execution.
type ActionDispatchedEvent struct {
	baseEvent
	Agent  uint32
	Action int
}

// NewActionDispatchedEvent creates an ActionDispatchedEvent.
func NewActionDispatchedEvent(agent uint32, action int) ActionDispatchedEvent {
	return ActionDispatchedEvent{
		baseEvent: newBaseEvent(TypeActionDispatched),
		Agent:     agent,
		Action:    action,
	}
}

// CollisionAvertedEvent is emitted when a forward action is refused because
// the obstacle ahead is closer than the safety threshold.
type CollisionAvertedEvent struct {
	baseEvent
	Agent       uint32
	DistanceMM  float64
	ThresholdMM float64
}

// NewCollisionAvertedEvent creates a CollisionAvertedEvent.
func NewCollisionAvertedEvent(agent uint32, distanceMM, thresholdMM float64) CollisionAvertedEvent {
	return CollisionAvertedEvent{
		baseEvent:   newBaseEvent(TypeCollisionAverted),
		Agent:       agent,
		DistanceMM:  distanceMM,
		ThresholdMM: thresholdMM,
	}
}

// StepCompletedEvent is emitted once the step result has been published.
type StepCompletedEvent struct {
	baseEvent
	Agent         uint32
	Step          uint64
	Action        int
	ObservationMM float64
	Reward        int
	Done          bool
}

// NewStepCompletedEvent creates a StepCompletedEvent.
func NewStepCompletedEvent(agent uint32, step uint64, action int, observationMM float64, reward int, done bool) StepCompletedEvent {
	return StepCompletedEvent{
		baseEvent:     newBaseEvent(TypeStepCompleted),
		Agent:         agent,
		Step:          step,
		Action:        action,
		ObservationMM: observationMM,
		Reward:        reward,
		Done:          done,
	}
}

// ProtocolAnomalyEvent is emitted for messages the agent ignored: malformed
// payloads, unknown actions, unknown topics, repeated index assignments.
type ProtocolAnomalyEvent struct {
	baseEvent
	Agent   uint32
	Topic   string
	Payload string
	Reason  string
}

// NewProtocolAnomalyEvent creates a ProtocolAnomalyEvent.
func NewProtocolAnomalyEvent(agent uint32, topic, payload, reason string) ProtocolAnomalyEvent {
	return ProtocolAnomalyEvent{
		baseEvent: newBaseEvent(TypeProtocolAnomaly),
		Agent:     agent,
		Topic:     topic,
		Payload:   payload,
		Reason:    reason,
	}
}

// WatchdogExpiredEvent is emitted when a guarded hardware operation overran.
type WatchdogExpiredEvent struct {
	baseEvent
	Operation string
	Budget    time.Duration
}

// NewWatchdogExpiredEvent creates a WatchdogExpiredEvent.
func NewWatchdogExpiredEvent(operation string, budget time.Duration) WatchdogExpiredEvent {
	return WatchdogExpiredEvent{
		baseEvent: newBaseEvent(TypeWatchdogExpired),
		Operation: operation,
		Budget:    budget,
	}
}
