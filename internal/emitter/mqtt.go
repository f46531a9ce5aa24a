// Package emitter publishes session events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/focus-sensor/internal/events"
)

// ClientConfig contains broker connection settings
type ClientConfig struct {
	Broker   string // host:port or scheme://host:port
	ClientID string
	Username string
	Password string
}

// Connect establishes an auto-reconnecting connection to the broker.
// The returned client is shared by the emitter and the control plane.
func Connect(ctx context.Context, cfg ClientConfig) (mqtt.Client, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker)
	}

	client := mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return client, nil
}

// Publisher is the part of mqtt.Client the emitter needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Config for an Emitter
type Config struct {
	// Topic prefix, events go to <Topic>/<event type>
	Topic string
	// QoS per event type (missing = 0)
	QoS map[string]byte
	// PublishTimeout bounds one publish (default 2s)
	PublishTimeout time.Duration
}

// Emitter publishes events as JSON
type Emitter struct {
	client Publisher
	cfg    Config

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// New creates an emitter over a connected client
func New(client Publisher, cfg Config) *Emitter {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Emitter{
		client:    client,
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Topic returns the topic an event type is published on
func (e *Emitter) Topic(t events.Type) string {
	return fmt.Sprintf("%s/%s", e.cfg.Topic, t)
}

// Publish sends one event to the broker
func (e *Emitter) Publish(ev events.Event) error {
	if !e.client.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	topic := e.Topic(ev.Type)
	qos := e.cfg.QoS[string(ev.Type)]

	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := e.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: event published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)

	return nil
}

// Run publishes every event received on ch until ch is closed or ctx is
// done. Events already buffered when ctx ends are still published.
// Publish errors are logged, the loop keeps going.
func (e *Emitter) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					e.publishLogged(ev)
				default:
					return
				}
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.publishLogged(ev)
		}
	}
}

func (e *Emitter) publishLogged(ev events.Event) {
	if err := e.Publish(ev); err != nil {
		slog.Warn("emitter: publish failed",
			"type", ev.Type,
			"session_id", ev.SessionID,
			"error", err)
	}
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.client.IsConnected(),
		Published: published,
		Errors:    e.errors,
	}
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
