package mailbox

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// Stats counts mailbox traffic.
type Stats struct {
	Delivered   uint64
	Overwritten uint64
	Dropped     uint64
	Taken       uint64
}

// Mailbox holds the latest message of each Kind.
type Mailbox struct {
	router *Router
	slots  [numKinds]Slot
	wake   chan struct{}
	bus    *event.Bus
	logger *logging.Logger

	// next is the round-robin cursor of TakeNext; consumer-owned.
	next int

	delivered   atomic.Uint64
	overwritten atomic.Uint64
	dropped     atomic.Uint64
	taken       atomic.Uint64
}

// New creates an empty Mailbox.
func New(opts ...Option) *Mailbox {
	m := &Mailbox{wake: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(m)
	}
	if m.router == nil {
		m.router = NewRouter()
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	m.logger = m.logger.WithComponent("mailbox")
	return m
}

// Router returns the routing table.
func (m *Mailbox) Router() *Router { return m.router }

// Route maps topic to kind.
func (m *Mailbox) Route(topic string, kind Kind) error {
	return m.router.Route(topic, kind)
}

// Deliver stores payload in the slot routed for topic and wakes the
// consumer. It never blocks. Messages on unrouted topics are dropped with
// an error wrapping ErrUnknownTopic.
func (m *Mailbox) Deliver(topic string, payload []byte, duplicate bool) error {
	kind, ok := m.router.Lookup(topic)
	if !ok {
		m.dropped.Add(1)
		m.logger.Debug("dropped message for unrouted topic", "topic", topic)
		return apperrors.NewProtocolError("no route for topic", apperrors.ErrUnknownTopic).
			WithTopic(topic).WithPayload(string(payload))
	}
	msg := Message{
		Kind:      kind,
		Topic:     topic,
		Payload:   bytes.Clone(payload),
		Duplicate: duplicate,
		Received:  time.Now(),
	}
	overwrote := m.slots[kind].Put(msg)
	m.delivered.Add(1)
	if overwrote {
		m.overwritten.Add(1)
		m.bus.Publish(event.NewMailboxOverwrittenEvent(kind.String(), topic))
	}
	m.bus.Publish(event.NewMailboxDeliveredEvent(kind.String(), topic))

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Take removes the pending message of kind.
func (m *Mailbox) Take(kind Kind) (Message, bool) {
	if !kind.Valid() {
		return Message{}, false
	}
	msg, ok := m.slots[kind].Take()
	if ok {
		m.taken.Add(1)
	}
	return msg, ok
}

// Pending reports whether kind has a message waiting.
func (m *Mailbox) Pending(kind Kind) bool {
	return kind.Valid() && m.slots[kind].Pending()
}

// TakeNext removes at most one pending message, visiting kinds in
// round-robin order so that a busy topic cannot starve the others. When
// kinds is non-empty only those kinds are considered.
func (m *Mailbox) TakeNext(kinds ...Kind) (Message, bool) {
	for i := 0; i < int(numKinds); i++ {
		k := Kind((m.next + i) % int(numKinds))
		if len(kinds) > 0 && !containsKind(kinds, k) {
			continue
		}
		if msg, ok := m.Take(k); ok {
			m.next = (int(k) + 1) % int(numKinds)
			return msg, true
		}
	}
	return Message{}, false
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

// Wait blocks until a message is pending, timeout elapses, or ctx is done.
// A non-positive timeout waits without bound. It reports whether a
// message is pending on return; the error is ctx's.
func (m *Mailbox) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if m.anyPending() {
		return true, nil
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return m.anyPending(), ctx.Err()
		case <-expired:
			return m.anyPending(), nil
		case <-m.wake:
			if m.anyPending() {
				return true, nil
			}
		}
	}
}

func (m *Mailbox) anyPending() bool {
	for i := range m.slots {
		if m.slots[i].Pending() {
			return true
		}
	}
	return false
}

// Reset drops every pending message.
func (m *Mailbox) Reset() {
	for i := range m.slots {
		m.slots[i].Clear()
	}
	select {
	case <-m.wake:
	default:
	}
}

// Stats returns the traffic counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		Delivered:   m.delivered.Load(),
		Overwritten: m.overwritten.Load(),
		Dropped:     m.dropped.Load(),
		Taken:       m.taken.Load(),
	}
}
