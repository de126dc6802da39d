package transport

import "context"

// Message is one inbound publication.
type Message struct {
	Topic     string
	Payload   []byte
	Duplicate bool
	Retained  bool
}

// Handler receives inbound messages. It runs on the transport's delivery
// goroutine and must return quickly.
type Handler func(Message)

// Transport is a publish/subscribe link.
type Transport interface {
	// Connect establishes the link, blocking until it is up or ctx ends.
	Connect(ctx context.Context) error
	// Subscribe adds a topic filter. Subscriptions survive reconnects.
	Subscribe(topic string) error
	// Unsubscribe removes a topic filter.
	Unsubscribe(topic string) error
	// Publish sends payload on topic and waits for the broker's ack.
	Publish(topic string, payload []byte, retain bool) error
	// Connected reports whether the link is currently up.
	Connected() bool
	// Close disconnects cleanly.
	Close() error
}

// TokenSource supplies a broker password at connect time.
type TokenSource interface {
	Token() (string, error)
}
