package mailbox

import (
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithBus attaches an event bus to the Mailbox. When set, every delivery
// publishes a mailbox.delivered event, and a delivery that replaced an
// unconsumed message also publishes mailbox.overwritten.
func WithBus(bus *event.Bus) Option {
	return func(m *Mailbox) {
		m.bus = bus
	}
}

// WithLogger sets the logger used for dropped messages.
func WithLogger(l *logging.Logger) Option {
	return func(m *Mailbox) {
		m.logger = l
	}
}

// WithRouter shares an existing router.
func WithRouter(r *Router) Option {
	return func(m *Mailbox) {
		m.router = r
	}
}
