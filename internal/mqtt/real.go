package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/reading"
)

// DefaultBufferSize is how many outgoing messages are kept while the
// broker is unreachable.
const DefaultBufferSize = 256

// Options configures a RealClient.
type Options struct {
	Broker     string
	ClientID   string
	Topic      string // readings topic; TopicReadings when empty
	QoS        byte
	BufferSize int
}

type subscription struct {
	qos     byte
	handler Handler
}

// RealClient talks to an actual MQTT broker. It implements Publisher,
// Subscriber and ConnectionStatus.
//
// Outgoing messages published while disconnected are held in a ring
// buffer and replayed, oldest first, once the connection is back.
// Subscriptions are re-established on every reconnect.
type RealClient struct {
	client paho.Client
	topic  string
	qos    byte
	logger *zap.Logger

	mu   sync.Mutex
	buf  *ringBuffer
	subs map[string]subscription
}

// NewRealClient creates a client connected to the configured broker.
func NewRealClient(opts Options, logger *zap.Logger) (*RealClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Topic == "" {
		opts.Topic = TopicReadings
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	c := &RealClient{
		topic:  opts.Topic,
		qos:    opts.QoS,
		logger: logger,
		buf:    newRingBuffer(opts.BufferSize),
		subs:   make(map[string]subscription),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	c.client = paho.NewClient(clientOpts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// onConnect restores subscriptions and replays buffered messages.
func (c *RealClient) onConnect(client paho.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	pending := c.buf.drainAll()
	c.mu.Unlock()

	for topic, s := range subs {
		token := client.Subscribe(topic, s.qos, c.wrap(s.handler))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Error("mqtt resubscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}

	if len(pending) > 0 {
		c.logger.Info("mqtt replaying buffered messages", zap.Int("count", len(pending)))
	}
	for _, m := range pending {
		if err := c.send(m); err != nil {
			c.logger.Error("mqtt replay failed", zap.String("topic", m.topic), zap.Error(err))
		}
	}
}

func (c *RealClient) wrap(h Handler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h(msg.Payload())
	}
}

// Publish sends a reading to the readings topic.
func (c *RealClient) Publish(r reading.Reading) error {
	payload, err := FormatPayload(r)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return c.publish(bufferedMsg{topic: c.topic, payload: payload, qos: c.qos})
}

// PublishSystem sends a lifecycle event to the system topic.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - lifecycle events should arrive
	return c.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (c *RealClient) publish(m bufferedMsg) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		dropped := c.buf.push(m)
		c.mu.Unlock()
		if dropped {
			c.logger.Warn("mqtt buffer full, dropping oldest", zap.Int("capacity", c.buf.capacity))
		}
		return nil
	}
	return c.send(m)
}

func (c *RealClient) send(m bufferedMsg) error {
	token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}

// Subscribe registers h for topic at the client's QoS.
func (c *RealClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: c.qos, handler: h}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, c.qos, c.wrap(h))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return nil
}

// Buffered reports how many messages are waiting for a reconnect.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}

// IsConnected reports whether the broker connection is currently open.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
