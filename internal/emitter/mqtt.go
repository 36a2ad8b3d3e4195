package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/config"
)

// ErrNotConnected is returned by publishes while the broker is unreachable
var ErrNotConnected = errors.New("mqtt not connected")

// StateSource yields recording state snapshots newer than a sequence number
type StateSource interface {
	Next(ctx context.Context, after uint64) (camerarecorder.RecordingState, uint64, error)
}

// MQTTEmitter publishes recording state and outcomes to the MQTT broker
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// BrokerURL adds the tcp:// scheme to a bare host:port
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Connection handlers
	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// UseClient attaches an already connected client
func (e *MQTTEmitter) UseClient(client mqtt.Client) {
	e.Client = client
	e.setConnected(client.IsConnected())
}

// PublishState publishes a retained state snapshot
func (e *MQTTEmitter) PublishState(state camerarecorder.RecordingState) error {
	payload, err := json.Marshal(NewStatePayload(e.cfg.InstanceID, state))
	if err != nil {
		return e.fail(fmt.Errorf("failed to marshal state: %w", err))
	}
	return e.publish(e.cfg.MQTT.Topics.State, e.cfg.MQTT.QoS["state"], true, payload)
}

// PublishOutcome publishes a recording outcome event
func (e *MQTTEmitter) PublishOutcome(outcome camerarecorder.Outcome) error {
	payload, err := json.Marshal(NewOutcomePayload(e.cfg.InstanceID, outcome))
	if err != nil {
		return e.fail(fmt.Errorf("failed to marshal outcome: %w", err))
	}
	return e.publish(e.cfg.MQTT.Topics.Events, e.cfg.MQTT.QoS["events"], false, payload)
}

// PublishEvent publishes a raw payload on the events topic
func (e *MQTTEmitter) PublishEvent(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Events, e.cfg.MQTT.QoS["events"], false, payload)
}

// Run publishes every state snapshot from states and every outcome from
// outcomes until ctx is done. Publish failures are logged and counted.
func (e *MQTTEmitter) Run(ctx context.Context, states StateSource, outcomes <-chan camerarecorder.Outcome) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var seq uint64
		for {
			state, next, err := states.Next(ctx, seq)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("emitter: state source closed", "error", err)
				}
				return
			}
			seq = next
			if err := e.PublishState(state); err != nil {
				slog.Warn("emitter: failed to publish state", "phase", state.Phase.String(), "error", err)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case outcome, ok := <-outcomes:
				if !ok {
					return
				}
				if err := e.PublishOutcome(outcome); err != nil {
					slog.Warn("emitter: failed to publish outcome", "attempt_id", outcome.AttemptID, "error", err)
				}
			}
		}
	}()

	wg.Wait()
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (e *MQTTEmitter) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !e.isConnected() {
		return e.fail(ErrNotConnected)
	}

	token := e.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return e.fail(fmt.Errorf("publish timeout"))
	}
	if err := token.Error(); err != nil {
		return e.fail(fmt.Errorf("publish failed: %w", err))
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: message published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

func (e *MQTTEmitter) fail(err error) error {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
	return err
}

func (e *MQTTEmitter) setConnected(connected bool) {
	e.mu.Lock()
	e.connected = connected
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
