// Package event provides a pub-sub event bus for decoupled inter-component
// communication in swarmbot.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Hardware:
//   - [RangingMeasuredEvent], [RangingTimeoutEvent]
//   - [MotionEvent] (motion.started, motion.completed)
//   - [WatchdogExpiredEvent]
//
// Messaging:
//   - [MailboxEvent] (mailbox.delivered, mailbox.overwritten)
//   - [LinkChangedEvent]
//
// Coordination:
//   - [PhaseChangedEvent], [EpisodeStartedEvent]
//   - [ActionDispatchedEvent], [CollisionAvertedEvent], [StepCompletedEvent]
//   - [ProtocolAnomalyEvent]
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publisher's goroutine, which may be a hardware edge
// watcher or the broker delivery goroutine. Handlers must not block. A
// panicking handler is logged and does not prevent delivery to the others.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	bus.Subscribe(event.TypeStepCompleted, func(e event.Event) {
//	    step := e.(event.StepCompletedEvent)
//	    fmt.Printf("step %d reward %d\n", step.Step, step.Reward)
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
package event
