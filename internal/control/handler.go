package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command   string                 `json:"command"`
	RequestID string                 `json:"request_id,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	RequestID  string                 `json:"request_id,omitempty"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// SettingsUpdate carries the fields of a reconfigure command. Empty fields
// keep the current value.
type SettingsUpdate struct {
	Facing     string
	Resolution string
	FrameRate  int
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   mqtt.Client
	commands chan Command

	started   atomic.Bool
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}
	callbacks CommandCallbacks
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus      func() map[string]interface{}
	OnStartRecording func() (attemptID, path string, err error)
	OnStopRecording  func() error
	OnStartSession   func() error
	OnStopSession    func() error
	OnReconfigure    func(update SettingsUpdate) (settings string, err error)
	OnShutdown       func() error
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control: handler started")

	// Process commands
	h.started.Store(true)
	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes and waits for the command in progress
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		topic := h.cfg.MQTT.Topics.Control
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(topic)
			token.WaitTimeout(2 * time.Second)
		}
		close(h.stopped)
	})

	if !h.started.Load() {
		return nil
	}
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		slog.Warn("control: command still running at stop")
	}

	slog.Info("control: handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
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

	slog.Info("control: command received", "command", cmd.Command, "request_id", cmd.RequestID)

	// Send to processing channel
	select {
	case <-h.stopped:
		slog.Warn("control: handler stopped, dropping command", "command", cmd.Command)
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			RequestID:  cmd.RequestID,
			Status:     "error",
			Error:      "command queue full",
		})
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopped:
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	resp := Response{
		CommandAck: cmd.Command,
		RequestID:  cmd.RequestID,
	}
	cb := h.callbacks

	switch cmd.Command {
	case "get_status":
		if cb.OnGetStatus == nil {
			notImplemented(&resp)
			break
		}
		resp.Status = "success"
		resp.Data = cb.OnGetStatus()

	case "start_recording":
		if cb.OnStartRecording == nil {
			notImplemented(&resp)
			break
		}
		attemptID, path, err := cb.OnStartRecording()
		result(&resp, err, map[string]interface{}{
			"attempt_id":  attemptID,
			"output_path": path,
			"message":     "recording requested; completion follows on the events topic",
		})

	case "stop_recording":
		if cb.OnStopRecording == nil {
			notImplemented(&resp)
			break
		}
		result(&resp, cb.OnStopRecording(), map[string]interface{}{"message": "stop requested"})

	case "start_session":
		if cb.OnStartSession == nil {
			notImplemented(&resp)
			break
		}
		result(&resp, cb.OnStartSession(), map[string]interface{}{"session_running": true})

	case "stop_session":
		if cb.OnStopSession == nil {
			notImplemented(&resp)
			break
		}
		result(&resp, cb.OnStopSession(), map[string]interface{}{"session_running": false})

	case "reconfigure":
		if cb.OnReconfigure == nil {
			notImplemented(&resp)
			break
		}
		update, err := parseSettingsUpdate(cmd.Params)
		if err != nil {
			result(&resp, err, nil)
			break
		}
		settings, err := cb.OnReconfigure(update)
		result(&resp, err, map[string]interface{}{
			"settings": settings,
			"message":  "session reconfigured",
		})

	case "shutdown":
		if cb.OnShutdown == nil {
			notImplemented(&resp)
			break
		}
		slog.Warn("control: shutdown command received via MQTT control plane")
		result(&resp, nil, map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		})
		// The response goes out before the service starts tearing down
		h.sendResponse(resp)

		go func() {
			if err := cb.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// result fills resp from err, attaching data on success
func result(resp *Response, err error, data map[string]interface{}) {
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = "success"
	resp.Data = data
}

func notImplemented(resp *Response) {
	resp.Status = "error"
	resp.Error = resp.CommandAck + " not implemented"
}

// parseSettingsUpdate extracts facing, resolution and frame_rate from params
func parseSettingsUpdate(params map[string]interface{}) (SettingsUpdate, error) {
	var update SettingsUpdate

	if v, ok := params["facing"]; ok {
		s, ok := v.(string)
		if !ok {
			return update, fmt.Errorf("invalid 'facing' parameter (expected string: back/front)")
		}
		update.Facing = s
	}
	if v, ok := params["resolution"]; ok {
		s, ok := v.(string)
		if !ok {
			return update, fmt.Errorf("invalid 'resolution' parameter (expected string: 720p/1080p/4k)")
		}
		update.Resolution = s
	}
	if v, ok := params["frame_rate"]; ok {
		// JSON numbers decode as float64
		f, ok := v.(float64)
		if !ok || f <= 0 || f != float64(int(f)) {
			return update, fmt.Errorf("invalid 'frame_rate' parameter (expected positive integer)")
		}
		update.FrameRate = int(f)
	}

	if update == (SettingsUpdate{}) {
		return update, fmt.Errorf("reconfigure requires at least one of facing, resolution, frame_rate")
	}
	return update, nil
}

// sendResponse publishes a response on the events topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Events
	qos := h.cfg.MQTT.QoS["events"]

	token := h.client.Publish(topic, qos, false, payload)
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
