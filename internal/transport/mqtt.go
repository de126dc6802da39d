package transport

import (
	"context"
	"crypto/tls"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// Will is the message the broker publishes if the client vanishes.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Tokens         TokenSource // overrides Password when set
	QoS            byte
	TLS            *tls.Config
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	Will           *Will
}

// MQTTOption configures an MQTT transport.
type MQTTOption func(*MQTT)

// WithMQTTLogger sets the logger.
func WithMQTTLogger(l *logging.Logger) MQTTOption {
	return func(m *MQTT) { m.logger = l }
}

// WithMQTTBus publishes link.changed events on bus.
func WithMQTTBus(bus *event.Bus) MQTTOption {
	return func(m *MQTT) { m.bus = bus }
}

// withClientFactory replaces paho's client constructor.
func withClientFactory(f func(*mqtt.ClientOptions) mqtt.Client) MQTTOption {
	return func(m *MQTT) { m.newClient = f }
}

// MQTT is a Transport over an MQTT broker.
type MQTT struct {
	cfg       MQTTConfig
	handler   Handler
	logger    *logging.Logger
	bus       *event.Bus
	newClient func(*mqtt.ClientOptions) mqtt.Client

	client mqtt.Client
	up     atomic.Bool

	mu     sync.Mutex
	topics []string // replayed on reconnect
}

// NewMQTT prepares a client; nothing is dialled until Connect.
func NewMQTT(cfg MQTTConfig, handler Handler, opts ...MQTTOption) *MQTT {
	m := &MQTT{
		cfg:       cfg,
		handler:   handler,
		newClient: mqtt.NewClient,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	m.logger = m.logger.WithComponent("transport.mqtt").With("broker", cfg.Broker)
	if m.cfg.ConnectTimeout <= 0 {
		m.cfg.ConnectTimeout = 5 * time.Second
	}
	m.client = m.newClient(m.clientOptions())
	return m
}

func (m *MQTT) clientOptions() *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(10 * time.Second).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(m.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			m.logger.Info("reconnecting")
		})
	if m.cfg.KeepAlive > 0 {
		o.SetKeepAlive(m.cfg.KeepAlive)
	}
	if m.cfg.TLS != nil {
		o.SetTLSConfig(m.cfg.TLS)
	}
	if w := m.cfg.Will; w != nil {
		o.SetBinaryWill(w.Topic, w.Payload, m.cfg.QoS, w.Retained)
	}
	if m.cfg.Tokens != nil {
		o.SetCredentialsProvider(m.credentials)
	} else {
		o.SetUsername(m.cfg.Username)
		o.SetPassword(m.cfg.Password)
	}
	return o
}

// credentials mints a fresh token for every connection attempt.
func (m *MQTT) credentials() (string, string) {
	user := m.cfg.Username
	if user == "" {
		user = m.cfg.ClientID
	}
	token, err := m.cfg.Tokens.Token()
	if err != nil {
		m.logger.Error("failed to mint broker token", "error", err.Error())
		return user, ""
	}
	return user, token
}

func (m *MQTT) onConnect(c mqtt.Client) {
	m.up.Store(true)
	m.logger.Info("link up")
	m.bus.Publish(event.NewLinkChangedEvent(true, m.cfg.Broker, "connected"))

	m.mu.Lock()
	topics := slices.Clone(m.topics)
	m.mu.Unlock()
	for _, topic := range topics {
		tok := c.Subscribe(topic, m.cfg.QoS, m.deliver)
		go func() {
			if !tok.WaitTimeout(m.cfg.ConnectTimeout) || tok.Error() != nil {
				m.logger.Warn("failed to replay subscription", "topic", topic, "error", errString(tok.Error()))
			}
		}()
	}
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.up.Store(false)
	m.logger.Warn("link down", "error", errString(err))
	m.bus.Publish(event.NewLinkChangedEvent(false, m.cfg.Broker, errString(err)))
}

func (m *MQTT) deliver(_ mqtt.Client, msg mqtt.Message) {
	if m.handler == nil {
		return
	}
	m.handler(Message{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		Duplicate: msg.Duplicate(),
		Retained:  msg.Retained(),
	})
}

// Connect implements Transport. Connection attempts are retried in the
// background until ctx ends.
func (m *MQTT) Connect(ctx context.Context) error {
	tok := m.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return apperrors.NewTransportError("connect", "broker refused connection", err)
		}
		return nil
	case <-ctx.Done():
		m.client.Disconnect(0)
		return apperrors.NewTransportError("connect", "gave up waiting for broker", ctx.Err()).WithRetryable(false)
	}
}

// Subscribe implements Transport.
func (m *MQTT) Subscribe(topic string) error {
	m.mu.Lock()
	if !slices.Contains(m.topics, topic) {
		m.topics = append(m.topics, topic)
	}
	m.mu.Unlock()

	if err := m.wait(m.client.Subscribe(topic, m.cfg.QoS, m.deliver)); err != nil {
		return apperrors.NewTransportError("subscribe", "subscribe failed", err).WithTopic(topic)
	}
	m.logger.Debug("subscribed", "topic", topic)
	return nil
}

// Unsubscribe implements Transport.
func (m *MQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	m.topics = slices.DeleteFunc(m.topics, func(t string) bool { return t == topic })
	m.mu.Unlock()

	if err := m.wait(m.client.Unsubscribe(topic)); err != nil {
		return apperrors.NewTransportError("unsubscribe", "unsubscribe failed", err).WithTopic(topic)
	}
	m.logger.Debug("unsubscribed", "topic", topic)
	return nil
}

// Publish implements Transport.
func (m *MQTT) Publish(topic string, payload []byte, retain bool) error {
	if !m.client.IsConnectionOpen() {
		return apperrors.NewTransportError("publish", "link is down", apperrors.ErrLinkDown).WithTopic(topic)
	}
	if err := m.wait(m.client.Publish(topic, m.cfg.QoS, retain, payload)); err != nil {
		return apperrors.NewTransportError("publish", "publish failed", err).WithTopic(topic)
	}
	return nil
}

func (m *MQTT) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(m.cfg.ConnectTimeout) {
		return apperrors.NewTimeoutError("broker acknowledgement", m.cfg.ConnectTimeout)
	}
	return tok.Error()
}

// Connected implements Transport.
func (m *MQTT) Connected() bool {
	return m.up.Load() && m.client.IsConnectionOpen()
}

// Close implements Transport.
func (m *MQTT) Close() error {
	if m.up.Swap(false) {
		m.bus.Publish(event.NewLinkChangedEvent(false, m.cfg.Broker, "closed"))
	}
	m.client.Disconnect(250)
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
