package camerarecorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StateReceiver always holds the latest RecordingState snapshot
type StateReceiver interface {
	// Receive blocks until a snapshot is available
	Receive() RecordingState
	// TryReceive returns the latest snapshot without blocking
	TryReceive() (RecordingState, bool)
	// Next blocks until a snapshot newer than sequence after is published
	Next(ctx context.Context, after uint64) (RecordingState, uint64, error)
	Close()
}

// Options configures a Camera
type Options struct {
	// StorageDir receives recordings as "<uuid>.mp4" (default: "<tmp>/camera-recorder")
	StorageDir string
	// Library receives successful recordings; nil keeps them in StorageDir
	Library Library
	// StopTimeout bounds the wait for a completion after StopRecording
	// (default: 10 seconds; negative disables the bound)
	StopTimeout time.Duration
	// SaveTimeout bounds a single Library.Save call (default: 30 seconds)
	SaveTimeout time.Duration
}

// DefaultStopTimeout is the completion wait applied when Options.StopTimeout is zero
const DefaultStopTimeout = 10 * time.Second

// Camera wires the capture graph, preview port, recording controller and
// completion sink together.
//
// A camera whose configuration failed is still usable: it stays inert,
// reports the error in Session().ConfigErr and rejects StartSession and
// StartRecording until a Reload succeeds.
type Camera struct {
	graph      *CaptureGraph
	preview    *PreviewPort
	controller *RecordingController
	sink       *CompletionSink

	mu     sync.Mutex
	closed bool
}

// NewCamera validates settings, builds the components and configures the
// session. Only invalid arguments fail construction.
func NewCamera(backend Backend, settings CaptureSettings, opts Options) (*Camera, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	graph, err := NewCaptureGraph(backend)
	if err != nil {
		return nil, err
	}

	controller, err := NewRecordingController(graph, opts.StorageDir)
	if err != nil {
		return nil, err
	}

	stopTimeout := opts.StopTimeout
	switch {
	case stopTimeout == 0:
		stopTimeout = DefaultStopTimeout
	case stopTimeout < 0:
		stopTimeout = 0
	}

	sink, err := NewCompletionSink(controller, SinkConfig{
		Library:     opts.Library,
		StopTimeout: stopTimeout,
		SaveTimeout: opts.SaveTimeout,
	})
	if err != nil {
		return nil, err
	}

	c := &Camera{
		graph:      graph,
		preview:    NewPreviewPort(graph),
		controller: controller,
		sink:       sink,
	}

	if err := graph.Configure(settings); err != nil {
		slog.Warn("camera-recorder: camera created without a functional session",
			"settings", settings.String(),
			"error", err,
		)
	}

	slog.Info("camera-recorder: camera created",
		"settings", settings.String(),
		"storage_dir", controller.StorageDir(),
		"stop_timeout", stopTimeout,
		"library", opts.Library != nil,
	)

	return c, nil
}

// Preview returns the preview port
func (c *Camera) Preview() *PreviewPort {
	return c.preview
}

// RenderTarget is shorthand for Preview().RenderTarget()
func (c *Camera) RenderTarget() *RenderTarget {
	return c.preview.RenderTarget()
}

// StartSession starts the capture session without blocking
func (c *Camera) StartSession() error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.graph.Start()
}

// StopSession stops the capture session. An in-flight recording is
// terminated by the backend and completes with an error.
func (c *Camera) StopSession() {
	c.graph.Stop()
}

// Reload applies new settings: stop, configure, start
func (c *Camera) Reload(settings CaptureSettings) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.graph.Reconfigure(settings)
}

// StartRecording starts a new recording attempt. It holds the close lock so
// an attempt accepted here is always seen by a concurrent Close.
func (c *Camera) StartRecording() (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.controller.StartRecording()
}

// StopRecording requests the end of the in-flight attempt
func (c *Camera) StopRecording() error {
	return c.controller.StopRecording()
}

// State returns a snapshot of the recording state
func (c *Camera) State() RecordingState {
	return c.controller.State()
}

// IsRecording reports whether an attempt is in flight
func (c *Camera) IsRecording() bool {
	return c.controller.IsRecording()
}

// Session returns a snapshot of the capture session
func (c *Camera) Session() SessionInfo {
	return c.graph.Info()
}

// Subscribe returns a latest-value receiver of recording state
func (c *Camera) Subscribe(id string) (StateReceiver, error) {
	return c.controller.Subscribe(id)
}

// Unsubscribe removes a state subscriber
func (c *Camera) Unsubscribe(id string) error {
	return c.controller.Unsubscribe(id)
}

// SubscribeOutcomes registers ch for recording outcomes
func (c *Camera) SubscribeOutcomes(id string, ch chan<- Outcome) error {
	return c.sink.SubscribeOutcomes(id, ch)
}

// UnsubscribeOutcomes removes an outcome subscriber
func (c *Camera) UnsubscribeOutcomes(id string) error {
	return c.sink.UnsubscribeOutcomes(id)
}

// Stats returns lifetime counters
func (c *Camera) Stats() CameraStats {
	stats := CameraStats{
		SessionStarts: c.graph.Starts(),
		Attempts:      c.controller.Attempts(),
	}
	c.sink.fillStats(&stats)
	return stats
}

// Close stops an in-flight recording and waits for its completion, stops
// the session and waits for pending library saves, all bounded by ctx.
// Close is idempotent.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	slog.Info("camera-recorder: closing camera")

	var firstErr error
	if attempt := c.controller.ActiveAttempt(); attempt != nil {
		if err := c.controller.StopRecording(); err != nil {
			slog.Debug("camera-recorder: stop on close", "error", err)
		}
		if _, err := attempt.Wait(ctx); err != nil {
			firstErr = fmt.Errorf("camera-recorder: waiting for recording to finish: %w", err)
		}
	}

	c.graph.Stop()

	if err := c.sink.Close(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("camera-recorder: waiting for library saves: %w", err)
	}
	c.controller.close()

	slog.Info("camera-recorder: camera closed", "error", firstErr)
	return firstErr
}

func (c *Camera) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
