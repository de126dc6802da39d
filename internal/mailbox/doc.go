// Package mailbox holds inbound coordination messages between the
// transport's delivery context and the agent's task loop.
//
// Each message kind has a single slot. Delivery overwrites whatever the
// slot holds, so the task always sees the latest value of each topic;
// older unconsumed values are counted as overwritten and dropped.
//
// # Main Types
//
//   - [Kind]: the closed set of inbound topics (master status, index,
//     start, action)
//   - [Slot]: one overwrite-on-arrival cell
//   - [Router]: topic to Kind table, extended as the handshake learns the
//     agent's topics
//   - [Mailbox]: one slot per Kind plus a wake signal for the task loop
//
// # Basic Usage
//
//	mb := mailbox.New(mailbox.WithBus(bus))
//	mb.Route("/master/status", mailbox.MasterStatus)
//
//	// delivery context
//	if err := mb.Deliver(msg.Topic, msg.Payload, msg.Duplicate); err != nil {
//	    // errors.Is(err, errors.ErrUnknownTopic)
//	}
//
//	// task context
//	if msg, ok := mb.Take(mailbox.Action); ok {
//	    ...
//	}
//
// # Thread Safety
//
// Deliver never blocks and never takes a lock on the lookup path, so it is
// safe to call from a transport callback. Take, TakeNext and Wait belong
// to a single consumer goroutine.
package mailbox
