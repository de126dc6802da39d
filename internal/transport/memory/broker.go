package memory

import (
	"bytes"
	"slices"
	"sync"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/logging"
	"github.com/Iron-Ham/swarmbot/internal/transport"
)

// Authenticator checks a client's credentials on connect.
type Authenticator func(clientID, username, password string) error

// Option configures a Broker.
type Option func(*Broker)

// WithAuthenticator rejects connections that auth refuses.
func WithAuthenticator(auth Authenticator) Option {
	return func(b *Broker) { b.auth = auth }
}

// WithLogger sets the broker logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker routes publications between in-process clients.
type Broker struct {
	auth   Authenticator
	logger *logging.Logger

	mu       sync.Mutex
	clients  map[string]*Client
	retained map[string][]byte
	log      []transport.Message
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		clients:  make(map[string]*Client),
		retained: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NopLogger()
	}
	b.logger = b.logger.WithComponent("transport.memory")
	return b
}

// Retained returns the retained payload for topic.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return bytes.Clone(p), ok
}

// History returns every publication routed by the broker, in order.
func (b *Broker) History() []transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.log)
}

// publish stores and fans out msg. Callers must not hold b.mu.
func (b *Broker) publish(msg transport.Message) {
	b.mu.Lock()
	if msg.Retained {
		if len(msg.Payload) == 0 {
			delete(b.retained, msg.Topic)
		} else {
			b.retained[msg.Topic] = bytes.Clone(msg.Payload)
		}
	}
	b.log = append(b.log, msg)
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	// A live publication is not marked retained for current subscribers.
	live := msg
	live.Retained = false
	for _, c := range targets {
		c.offer(live)
	}
}

func (b *Broker) retainedMatching(f *Filter) []transport.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []transport.Message
	topics := make([]string, 0, len(b.retained))
	for t := range b.retained {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	for _, t := range topics {
		if f.Match(t) {
			out = append(out, transport.Message{Topic: t, Payload: bytes.Clone(b.retained[t]), Retained: true})
		}
	}
	return out
}

func (b *Broker) attach(c *Client) error {
	if b.auth != nil {
		user, pass := c.credentials()
		if err := b.auth(c.id, user, pass); err != nil {
			return apperrors.NewTransportError("connect", "not authorized", err).WithRetryable(false)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.clients[c.id]; ok && old != c {
		// MQTT takes over the session of a client reconnecting with the
		// same ID.
		old.detach()
	}
	b.clients[c.id] = c
	return nil
}

func (b *Broker) remove(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[c.id] == c {
		delete(b.clients, c.id)
	}
}

// Client returns a new client bound to the broker. Messages for its
// subscriptions are passed to handler.
func (b *Broker) Client(id string, handler transport.Handler, opts ...ClientOption) *Client {
	c := &Client{
		id:      id,
		broker:  b,
		handler: handler,
		filters: make(map[string]*Filter),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure Client satisfies transport.Transport.
var _ transport.Transport = (*Client)(nil)
