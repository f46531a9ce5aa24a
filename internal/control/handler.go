// Package control executes remote session commands received over MQTT.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Commands
const (
	CommandStartSession = "start_session"
	CommandStopSession  = "stop_session"
	CommandGetStatus    = "get_status"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Client is the part of mqtt.Client the handler needs
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Callbacks contains the operations commands are mapped to
type Callbacks struct {
	OnStartSession func() (map[string]interface{}, error)
	OnStopSession  func() (map[string]interface{}, error)
	OnGetStatus    func() map[string]interface{}
}

// Config for a Handler
type Config struct {
	// Topic receives commands, acks go to <Topic>/ack
	Topic string
	QoS   byte
}

// Handler handles control plane commands
type Handler struct {
	cfg       Config
	client    Client
	callbacks Callbacks
	commands  chan Command

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewHandler creates a new control plane handler
func NewHandler(cfg Config, client Client, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}
}

// AckTopic is where responses are published
func (h *Handler) AckTopic() string {
	return h.cfg.Topic + "/ack"
}

// Start subscribes to the control topic and starts processing commands
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("control: subscribing to control plane", "topic", h.cfg.Topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(h.cfg.Topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the command worker
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	cancel := h.cancel
	h.mu.Unlock()

	if h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topic)
		token.WaitTimeout(2 * time.Second)
	}

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()

	slog.Info("control: handler stopped")
	return nil
}

// messageHandler is called by the MQTT client for every control message
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command and builds its response
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case CommandStartSession:
		resp = runCallback(resp, h.callbacks.OnStartSession)

	case CommandStopSession:
		resp = runCallback(resp, h.callbacks.OnStopSession)

	case CommandGetStatus:
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

func runCallback(resp Response, fn func() (map[string]interface{}, error)) Response {
	if fn == nil {
		resp.Status = "error"
		resp.Error = resp.CommandAck + " not implemented"
		return resp
	}
	data, err := fn()
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}
	resp.Status = "success"
	resp.Data = data
	return resp
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.AckTopic(), h.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
