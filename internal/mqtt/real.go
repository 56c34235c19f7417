package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sweeney/shaft-encoder/internal/logic"
)

// DefaultClientID is used when no client ID is configured.
const DefaultClientID = "encoder-monitor"

// bufferCapacity bounds the messages held while the broker is unreachable.
const bufferCapacity = 256

const publishTimeout = 5 * time.Second

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	logger *zap.SugaredLogger

	mu  sync.Mutex // guards buf and orders replay before new publishes
	buf *ringBuffer

	connects atomic.Int32
}

// NewRealPublisher creates a publisher connected to the given broker. A
// retained SHUTDOWN/MQTT_DISCONNECT will is registered so subscribers learn
// about an unclean exit.
func NewRealPublisher(broker, clientID string, logger *zap.SugaredLogger) (*RealPublisher, error) {
	if clientID == "" {
		clientID = DefaultClientID
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	p := &RealPublisher{
		logger: logger,
		buf:    newRingBuffer(bufferCapacity, logger),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warnw("mqtt connection lost", "broker", broker, "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	logger.Infow("mqtt connected", "broker", broker, "client_id", clientID)
	return p, nil
}

// newPublisher wraps an existing client. Used by tests.
func newPublisher(client paho.Client, logger *zap.SugaredLogger) *RealPublisher {
	return &RealPublisher{
		client: client,
		logger: logger,
		buf:    newRingBuffer(bufferCapacity, logger),
	}
}

// onConnect replays buffered messages and announces reconnects.
func (p *RealPublisher) onConnect() {
	if p.connects.Inc() > 1 {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err == nil {
			p.client.Publish(TopicSystem, 1, false, payload)
		}
		p.logger.Infow("mqtt reconnected")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range p.buf.drainAll() {
		token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.logger.Warnw("mqtt replay failed", "topic", msg.topic, "error", token.Error())
		}
	}
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// Publish sends an encoder event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) so lifecycle events survive a flaky link
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if n := p.Buffered(); n > 0 {
		p.logger.Warnw("mqtt closing with undelivered messages", "count", n)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
