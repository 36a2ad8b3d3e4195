// Package simulated is an in-memory capture subsystem.
//
// It behaves like a real backend (asynchronous start, one completion per
// recording attempt, recordings terminated with an error when the session
// stops) without touching any device. Tests drive it directly; the daemon
// uses it when no camera is attached.
package simulated

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
)

var (
	// ErrSessionNotRunning terminates a recording started on a stopped session
	ErrSessionNotRunning = errors.New("simulated: session is not running")
	// ErrSessionStopped terminates a recording whose session was stopped
	ErrSessionStopped = errors.New("simulated: session stopped while recording")
	// ErrDeviceBusy rejects acquiring a device that another input holds
	ErrDeviceBusy = errors.New("simulated: device busy")
)

// Config describes the simulated hardware and its behaviour
type Config struct {
	// Cameras lists the available camera positions (default: back and front)
	Cameras []camerarecorder.DevicePosition
	// NoMicrophone removes the audio device
	NoMicrophone bool
	// RejectVideoInput makes sessions refuse camera inputs
	RejectVideoInput bool
	// RejectOutput makes sessions refuse file outputs
	RejectOutput bool
	// NoOrientation makes video connections unable to rotate
	NoOrientation bool
	// ManualCompletion leaves stopped attempts open until FileOutput.Finish is called
	ManualCompletion bool
	// SkipStartedEvent suppresses the start confirmation
	SkipStartedEvent bool
	// WriteFiles writes a placeholder file at the destination of successful attempts
	WriteFiles bool
	// StartDelay is how long StartRunning blocks
	StartDelay time.Duration
	// FinishDelay delays the completion event after a stop
	FinishDelay time.Duration
	// FrameWidth and FrameHeight size preview frames (default: 64x36)
	FrameWidth  int
	FrameHeight int
}

// Backend implements camerarecorder.Backend in memory
type Backend struct {
	cfg Config

	mu       sync.Mutex
	sessions []*Session
	outputs  []*FileOutput
	held     map[string]bool
}

// New creates a simulated backend
func New(cfg Config) *Backend {
	if cfg.Cameras == nil {
		cfg.Cameras = []camerarecorder.DevicePosition{
			camerarecorder.PositionBack,
			camerarecorder.PositionFront,
		}
	}
	if cfg.FrameWidth <= 0 || cfg.FrameHeight <= 0 {
		cfg.FrameWidth, cfg.FrameHeight = 64, 36
	}
	return &Backend{
		cfg:  cfg,
		held: make(map[string]bool),
	}
}

// NewSession creates an idle session
func (b *Backend) NewSession() (camerarecorder.Session, error) {
	s := newSession(b)

	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()

	slog.Debug("simulated: session created", "sessions", len(b.sessions))
	return s, nil
}

// DefaultDevice returns the camera at position, or the microphone
func (b *Backend) DefaultDevice(media camerarecorder.MediaType, position camerarecorder.DevicePosition) (camerarecorder.Device, bool) {
	if media == camerarecorder.MediaAudio {
		if b.cfg.NoMicrophone {
			return camerarecorder.Device{}, false
		}
		return camerarecorder.Device{
			ID:    "sim:mic0",
			Name:  "Simulated Microphone",
			Media: camerarecorder.MediaAudio,
		}, true
	}

	for _, p := range b.cfg.Cameras {
		if p == position {
			return camerarecorder.Device{
				ID:       fmt.Sprintf("sim:camera-%s", p),
				Name:     fmt.Sprintf("Simulated %s camera", p),
				Media:    camerarecorder.MediaVideo,
				Position: p,
			}, true
		}
	}
	return camerarecorder.Device{}, false
}

// NewDeviceInput opens device. It fails while an input of device is
// attached to a session.
func (b *Backend) NewDeviceInput(device camerarecorder.Device) (camerarecorder.DeviceInput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.held[device.ID] {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, device.ID)
	}
	return &DeviceInput{device: device}, nil
}

// NewFileOutput creates a file output
func (b *Backend) NewFileOutput() (camerarecorder.FileOutput, error) {
	o := &FileOutput{backend: b}

	b.mu.Lock()
	b.outputs = append(b.outputs, o)
	b.mu.Unlock()

	return o, nil
}

// Sessions returns every session created so far
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// LastSession returns the most recent session, or nil
func (b *Backend) LastSession() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

// Outputs returns every file output created so far
func (b *Backend) Outputs() []*FileOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FileOutput(nil), b.outputs...)
}

// LastOutput returns the most recent file output, or nil
func (b *Backend) LastOutput() *FileOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outputs) == 0 {
		return nil
	}
	return b.outputs[len(b.outputs)-1]
}

func (b *Backend) hold(device camerarecorder.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held[device.ID] = true
}

func (b *Backend) release(device camerarecorder.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, device.ID)
}

// DeviceInput is an acquired simulated device
type DeviceInput struct {
	device camerarecorder.Device
}

// Device returns the acquired device
func (in *DeviceInput) Device() camerarecorder.Device {
	return in.device
}
