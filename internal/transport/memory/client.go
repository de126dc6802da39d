package memory

import (
	"context"
	"slices"
	"sync"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/transport"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithWill publishes will when the client's link drops without Close.
func WithWill(w transport.Will) ClientOption {
	return func(c *Client) { c.will = &w }
}

// WithPassword presents static credentials on connect.
func WithPassword(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTokens presents a freshly minted token as the password on every
// connect.
func WithTokens(username string, tokens transport.TokenSource) ClientOption {
	return func(c *Client) {
		c.username = username
		c.tokens = tokens
	}
}

// Client is one broker connection.
type Client struct {
	id       string
	broker   *Broker
	handler  transport.Handler
	will     *transport.Will
	username string
	password string
	tokens   transport.TokenSource

	mu        sync.Mutex
	filters   map[string]*Filter
	up        bool
	attached  bool // connected at least once
	blocked   bool // link forced down by SetLink
	queue     []transport.Message
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	published []transport.Message
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) credentials() (string, string) {
	if c.tokens == nil {
		return c.username, c.password
	}
	tok, err := c.tokens.Token()
	if err != nil {
		c.broker.logger.Warn("client failed to mint token", "client", c.id, "error", err.Error())
		return c.username, ""
	}
	return c.username, tok
}

// Connect implements transport.Transport.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewTransportError("connect", "cancelled", err).WithRetryable(false)
	}
	c.mu.Lock()
	if c.up {
		c.mu.Unlock()
		return nil
	}
	if c.blocked {
		c.mu.Unlock()
		return apperrors.NewTransportError("connect", "link is down", apperrors.ErrLinkDown)
	}
	c.mu.Unlock()

	return c.attach()
}

func (c *Client) attach() error {
	if err := c.broker.attach(c); err != nil {
		return err
	}
	c.mu.Lock()
	c.up = true
	c.attached = true
	if c.stop == nil {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.run(c.stop, c.done)
	}
	filters := make([]*Filter, 0, len(c.filters))
	for _, f := range c.filters {
		filters = append(filters, f)
	}
	c.mu.Unlock()

	c.broker.logger.Debug("client connected", "client", c.id)
	for _, f := range filters {
		c.enqueue(c.broker.retainedMatching(f)...)
	}
	return nil
}

// detach marks the client down without publishing its will.
func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up = false
	c.queue = nil
}

// Subscribe implements transport.Transport. Retained messages matching
// the filter are delivered immediately.
func (c *Client) Subscribe(topic string) error {
	f, err := CompileFilter(topic)
	if err != nil {
		return apperrors.NewTransportError("subscribe", "invalid filter", err).WithTopic(topic).WithRetryable(false)
	}
	c.mu.Lock()
	c.filters[topic] = f
	up := c.up
	c.mu.Unlock()

	if up {
		c.enqueue(c.broker.retainedMatching(f)...)
	}
	return nil
}

// Unsubscribe implements transport.Transport.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.filters, topic)
	return nil
}

// Publish implements transport.Transport.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	if !c.attached {
		c.mu.Unlock()
		return apperrors.NewTransportError("publish", "never connected", apperrors.ErrNotConnected).WithTopic(topic)
	}
	if !c.up {
		c.mu.Unlock()
		return apperrors.NewTransportError("publish", "link is down", apperrors.ErrLinkDown).WithTopic(topic)
	}
	msg := transport.Message{Topic: topic, Payload: slices.Clone(payload), Retained: retain}
	c.published = append(c.published, msg)
	c.mu.Unlock()

	c.broker.publish(msg)
	return nil
}

// Connected implements transport.Transport.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

// Close implements transport.Transport. The will is not published.
func (c *Client) Close() error {
	c.broker.remove(c)
	c.mu.Lock()
	c.up = false
	c.queue = nil
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// SetLink simulates losing and regaining the network. Dropping the link
// publishes the will and discards undelivered messages; restoring it
// reconnects and replays retained messages for every subscription.
func (c *Client) SetLink(up bool) error {
	c.mu.Lock()
	if !up {
		wasUp := c.up
		c.blocked = true
		c.up = false
		c.queue = nil
		c.mu.Unlock()
		if wasUp {
			c.broker.remove(c)
			if c.will != nil {
				c.broker.publish(transport.Message{Topic: c.will.Topic, Payload: c.will.Payload, Retained: c.will.Retained})
			}
		}
		return nil
	}
	wasBlocked := c.blocked
	c.blocked = false
	c.mu.Unlock()
	if !wasBlocked {
		return nil
	}
	return c.attach()
}

// Published returns what this client published, in order.
func (c *Client) Published() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.published)
}

// Subscriptions returns the client's filters, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.filters))
	for f := range c.filters {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// offer queues msg when it matches a subscription.
func (c *Client) offer(msg transport.Message) {
	c.mu.Lock()
	if !c.up || !c.matches(msg.Topic) {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
	c.signal()
}

func (c *Client) enqueue(msgs ...transport.Message) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	if !c.up {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, msgs...)
	c.mu.Unlock()
	c.signal()
}

func (c *Client) matches(topic string) bool {
	for _, f := range c.filters {
		if f.Match(topic) {
			return true
		}
	}
	return false
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) run(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			if c.handler != nil {
				c.handler(msg)
			}
		}
	}
}
