package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/live-weather-tracker/internal/common"
	"github.com/i474232898/live-weather-tracker/internal/push"
)

// Config selects the broker and the topic prefix. Events are published on
// <TopicPrefix>/<event name>, e.g. weather/weather_update.
type Config struct {
	Broker      string
	Port        int
	ClientID    string
	TopicPrefix string
}

// Subscriber delivers broker messages to a push.Sink. The last topic segment
// is the event name and the payload is passed through untouched.
type Subscriber struct {
	client    mqtt.Client
	cfg       Config
	sink      push.Sink
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ push.Transport = (*Subscriber)(nil)

func NewSubscriber(cfg Config, sink push.Sink, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("transport", "mqtt"),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	// Session settings
	opts.SetCleanSession(true)
	// Handlers run one at a time so events keep broker order.
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Subscribing from OnConnect restores the subscription after a reconnect.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
		if err := s.subscribe(); err != nil {
			s.logger.Error("mqtt subscribe failed", "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost", "error", fmt.Errorf("%w: %v", common.ErrConnection, err))
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect establishes the broker connection; the OnConnect handler subscribes.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return fmt.Errorf("%w: subscriber stopped", common.ErrConnection)
	default:
	}

	// Fast path.
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("%w: mqtt connect: %v", common.ErrConnection, err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("%w: subscriber stopped", common.ErrConnection)
		default:
		}
	}
}

func (s *Subscriber) topic() string {
	return strings.TrimRight(s.cfg.TopicPrefix, "/") + "/+"
}

func (s *Subscriber) subscribe() error {
	topic := s.topic()
	qos := byte(1) // At least once delivery

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	event := topic[strings.LastIndex(topic, "/")+1:]
	if event == "" {
		s.logger.Warn("dropping mqtt message without event name", "topic", topic, "error", common.ErrParse)
		return
	}
	if !json.Valid(payload) {
		s.logger.Warn("dropping mqtt message",
			"topic", topic,
			"error", fmt.Errorf("%w: payload is not JSON", common.ErrParse),
			"payload", string(payload),
		)
		return
	}

	data := make(json.RawMessage, len(payload))
	copy(data, payload)
	s.sink.Dispatch(event, data)
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Close unsubscribes and disconnects. Idempotent and safe to call multiple times.
func (s *Subscriber) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.IsConnected() {
		token := s.client.Unsubscribe(s.topic())
		token.WaitTimeout(2 * time.Second)
	}

	s.client.Disconnect(250)

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
	return nil
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
