package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/kiln-controller/internal/status"
)

// DefaultBufferSize holds about ten minutes of one-second ticks.
const DefaultBufferSize = 600

var errNotConnected = errors.New("not connected")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
	Logger     *slog.Logger

	// OnConnectionChange is called from the client's goroutines whenever the
	// connection goes up or down.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Ticks and notifications
// published while disconnected are held in an outbox and replayed, oldest
// first, when the connection comes back.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *slog.Logger

	mu  sync.Mutex
	buf *outbox
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "kiln-controller"
	}
	if o.Topics == (Topics{}) {
		o.Topics = DefaultTopics()
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	changed := o.OnConnectionChange
	if changed == nil {
		changed = func(bool) {}
	}

	p := &RealPublisher{
		topics: o.Topics,
		logger: o.Logger,
		buf:    newOutbox(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.Topics.System, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("mqtt_connected", "broker", o.Broker)
			changed(true)
			p.replay()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt_connection_lost", "error", err)
			changed(false)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.client.Disconnect(0)
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// PublishTick sends a tick to the ticks topic.
func (p *RealPublisher) PublishTick(tick status.Tick) error {
	payload, err := FormatTickPayload(tick)
	if err != nil {
		return fmt.Errorf("format tick payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publishOrBuffer(context.Background(), bufferedMsg{kind: kindTick, topic: p.topics.Ticks, payload: payload})
}

// Send publishes a notification to the notify topic.
func (p *RealPublisher) Send(ctx context.Context, text string) error {
	payload, err := FormatNotifyPayload(text)
	if err != nil {
		return fmt.Errorf("format notify payload: %w", err)
	}
	return p.publishOrBuffer(ctx, bufferedMsg{kind: kindNotify, topic: p.topics.Notify, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	if err := p.publish(context.Background(), bufferedMsg{
		topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained,
	}); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

func (p *RealPublisher) publishOrBuffer(ctx context.Context, msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
		return nil
	}
	if err := p.publish(ctx, msg); err != nil {
		p.enqueue(msg)
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) publish(ctx context.Context, msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		return errNotConnected
	}
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("publish timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *RealPublisher) enqueue(msg bufferedMsg) {
	p.mu.Lock()
	dropped := p.buf.push(msg)
	p.mu.Unlock()
	if dropped {
		p.logger.Warn("mqtt_buffer_full", "capacity", p.buf.capacity)
	}
}

func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}

	p.logger.Info("mqtt_replaying_buffer", "messages", len(msgs))
	for i, msg := range msgs {
		if err := p.publish(context.Background(), msg); err != nil {
			p.logger.Warn("mqtt_replay_failed", "error", err, "remaining", len(msgs)-i)
			p.mu.Lock()
			for _, m := range msgs[i:] {
				p.buf.push(m)
			}
			p.mu.Unlock()
			return
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the client currently has a live connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
