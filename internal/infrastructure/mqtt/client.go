package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// Client is a paho connection that remembers its subscriptions, replays
// them after a reconnect and keeps a retained online/offline status under
// Topics.Status.
//
// All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger Logger

	connected atomic.Bool

	mu   sync.RWMutex
	subs map[string]subscription
}

// Logger receives handler failures. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Option configures Connect.
type Option func(*Client)

// WithTopics sets the topic prefix used for the status topic.
func WithTopics(t Topics) Option {
	return func(c *Client) { c.topics = t }
}

// WithLogger reports connection loss and handler failures to l.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's goroutines and should not block. A returned
// error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker with a last will on the status topic and blocks
// until the first connection succeeds or times out.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.paho = pahomqtt.NewClient(c.pahoOptions())
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onConnect runs on a paho goroutine and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

// pahoOptions adds the last will and the connection callbacks to the
// options derived from the config.
func (c *Client) pahoOptions() *pahomqtt.ClientOptions {
	po := buildClientOptions(c.cfg)
	po.SetBinaryWill(c.statusTopic(), statusPayload(c.cfg.Broker.ClientID, StatusOffline, "unexpected_disconnect"), 1, true)
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })
	return po
}

func (c *Client) statusTopic() string {
	return c.topics.Status(c.cfg.Broker.ClientID)
}

func (c *Client) onConnect() {
	c.connected.Store(true)

	c.mu.RLock()
	for topic, sub := range c.subs {
		// A failed resubscribe surfaces on the next reconnect.
		c.paho.Subscribe(topic, sub.qos, c.wrap(sub.handler))
	}
	c.mu.RUnlock()

	c.paho.Publish(c.statusTopic(), byte(c.cfg.QoS), true, statusPayload(c.cfg.Broker.ClientID, StatusOnline, ""))
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	if c.logger != nil {
		c.logger.Warn("MQTT connection lost", "error", err)
	}
}

// Close marks the client offline on the broker and disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(c.statusTopic(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, StatusOffline, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		dispatch(c.logger, handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, recovering panics.
func dispatch(logger Logger, handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil && logger != nil {
		logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
