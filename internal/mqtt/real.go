package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/westinghouse/internal/logic"
)

const (
	// DefaultClientID identifies the daemon to the broker.
	DefaultClientID = "westinghouse"

	// DefaultBufferSize is how many messages are held while disconnected.
	DefaultBufferSize = 256

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("publish timeout")

// Config configures a RealPublisher.
type Config struct {
	Broker     string
	ClientID   string
	BufferSize int
	Logger     *slog.Logger

	// OnConnectionChange is called with the new state on connect and on loss.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are held in a ring buffer and replayed, oldest
// first, once the client reconnects.
type RealPublisher struct {
	client   paho.Client
	logger   *slog.Logger
	onChange func(bool)

	mu        sync.Mutex
	buf       *ring[bufferedMsg]
	connected bool
	replaying bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker. An unreachable
// broker is not an error: paho keeps retrying in the background and
// messages are buffered until it succeeds.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	p := newPublisher(nil, cfg)

	will, err := FormatSystemPayload(SystemEvent{Event: "SHUTDOWN", Reason: "CONNECTION_LOST", Timestamp: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.handleLost(err) })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.logger.Warn("mqtt broker not reachable yet, buffering", "broker", cfg.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(client paho.Client, cfg Config) *RealPublisher {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RealPublisher{
		client:   client,
		logger:   logger.With("component", "mqtt"),
		onChange: cfg.OnConnectionChange,
		buf:      newRing[bufferedMsg](size),
	}
}

func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending := p.buf.len()
	// New messages queue behind the backlog until it has been replayed.
	start := pending > 0 && !p.replaying
	if pending > 0 {
		p.replaying = true
	}
	p.mu.Unlock()

	p.logger.Info("mqtt connected", "replaying", pending, "reconnect", reconnect)
	if p.onChange != nil {
		p.onChange(true)
	}

	// The connect handler runs on paho's goroutine; waiting on tokens there
	// would stall the client.
	go func() {
		if start {
			p.replay()
		}
		if reconnect {
			if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
				p.logger.Warn("mqtt reconnect notice failed", "error", err)
			}
		}
	}()
}

// replay sends buffered messages oldest first until the buffer stays empty
// or the connection drops.
func (p *RealPublisher) replay() {
	for {
		p.mu.Lock()
		var batch []bufferedMsg
		if p.connected {
			batch = p.buf.drain()
		}
		if len(batch) == 0 {
			p.replaying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		for _, m := range batch {
			if err := p.send(m); err != nil {
				p.logger.Warn("mqtt replay failed", "topic", m.topic, "error", err)
			}
		}
	}
}

func (p *RealPublisher) handleLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.logger.Warn("mqtt connection lost", "error", err)
	if p.onChange != nil {
		p.onChange(false)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Publish sends a control event to the broker at QoS 0.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the broker at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	p.mu.Lock()
	if !p.connected || p.replaying {
		if p.buf.push(m) {
			p.logger.Debug("mqtt buffer full, dropped oldest message")
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker, allowing 1s for in-flight messages.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
