package camerarecorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// CaptureGraph owns the capture session, its inputs and the single file output.
//
// Lifecycle operations are serialized: Configure, Start, Stop and
// Reconfigure never interleave, so the session is only ever mutated inside
// one begin/commit bracket at a time and never while running.
type CaptureGraph struct {
	backend Backend

	// opMu serializes configure/start/stop sequences
	opMu sync.Mutex

	// mu guards the fields below for readers (preview, recording controller)
	mu         sync.RWMutex
	session    Session
	videoInput DeviceInput
	audioInput DeviceInput
	output     FileOutput
	settings   CaptureSettings
	resolved   ResolvedConfig
	functional bool
	running    bool
	configErr  error

	// startDone is closed when the in-flight StartRunning dispatch returns
	startDone chan struct{}

	starts         uint64
	configurations uint64
}

// NewCaptureGraph creates an unconfigured graph. Call Configure before Start.
func NewCaptureGraph(backend Backend) (*CaptureGraph, error) {
	if backend == nil {
		return nil, fmt.Errorf("camera-recorder: backend is required")
	}
	return &CaptureGraph{backend: backend}, nil
}

// Configure replaces the session's inputs and output for settings.
//
// A missing camera, or a session that rejects the video input or the file
// output, leaves the graph inert and returns an error wrapping
// ErrDeviceUnavailable. A missing microphone is not an error. Configure
// returns ErrSessionRunning on a running graph; use Reconfigure instead.
func (g *CaptureGraph) Configure(settings CaptureSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	g.opMu.Lock()
	defer g.opMu.Unlock()

	if g.IsRunning() {
		return ErrSessionRunning
	}
	return g.configureLocked(settings)
}

// Start begins running the session without blocking the caller.
// Starting a running graph is a no-op; an inert graph fails fast.
func (g *CaptureGraph) Start() error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	return g.startLocked()
}

// Stop halts the session and returns once it has stopped.
// Stopping a graph that is not running is a no-op.
func (g *CaptureGraph) Stop() {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.stopLocked()
}

// Reconfigure runs stop → configure → start as one serialized sequence.
// A configuration error is returned and the graph is left stopped.
func (g *CaptureGraph) Reconfigure(settings CaptureSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	g.opMu.Lock()
	defer g.opMu.Unlock()

	slog.Info("camera-recorder: reconfiguring session",
		"from", g.Settings().String(),
		"to", settings.String(),
	)

	g.stopLocked()
	if err := g.configureLocked(settings); err != nil {
		return err
	}
	return g.startLocked()
}

// Session returns the current session (nil before the first Configure)
func (g *CaptureGraph) Session() Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session
}

// Output returns the current file output, or nil when the graph is inert
func (g *CaptureGraph) Output() FileOutput {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.functional {
		return nil
	}
	return g.output
}

// IsRunning reports whether Start has been accepted without a later Stop
func (g *CaptureGraph) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// IsFunctional reports whether the last configuration attached a camera and an output
func (g *CaptureGraph) IsFunctional() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.functional
}

// Settings returns the last requested settings
func (g *CaptureGraph) Settings() CaptureSettings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// Info returns a snapshot of the graph
func (g *CaptureGraph) Info() SessionInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	info := SessionInfo{
		Running:        g.running,
		Functional:     g.functional,
		Settings:       g.settings,
		Resolved:       g.resolved,
		HasAudio:       g.audioInput != nil,
		ConfigErr:      g.configErr,
		Configurations: atomic.LoadUint64(&g.configurations),
	}
	if g.videoInput != nil {
		info.VideoDevice = g.videoInput.Device().ID
	}
	return info
}

// Starts returns how many session start dispatches were issued
func (g *CaptureGraph) Starts() uint64 {
	return atomic.LoadUint64(&g.starts)
}

func (g *CaptureGraph) configureLocked(settings CaptureSettings) error {
	resolved := Resolve(settings)
	atomic.AddUint64(&g.configurations, 1)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.releaseLocked()

	g.settings = settings
	g.resolved = resolved
	g.functional = false
	g.videoInput, g.audioInput, g.output = nil, nil, nil

	session, err := g.backend.NewSession()
	if err != nil {
		g.session = nil
		return g.failLocked(fmt.Errorf("%w: create session: %w", ErrDeviceUnavailable, err))
	}
	g.session = session

	session.BeginConfiguration()
	defer session.CommitConfiguration()

	for _, in := range session.Inputs() {
		session.RemoveInput(in)
	}
	for _, out := range session.Outputs() {
		session.RemoveOutput(out)
	}

	session.SetFormat(resolved)

	device, ok := g.backend.DefaultDevice(MediaVideo, resolved.Position)
	if !ok {
		return g.failLocked(fmt.Errorf("%w: no %s camera", ErrDeviceUnavailable, resolved.Position))
	}

	videoInput, err := g.backend.NewDeviceInput(device)
	if err != nil {
		return g.failLocked(fmt.Errorf("%w: camera %s: %w", ErrDeviceUnavailable, device.ID, err))
	}
	if !session.CanAddInput(videoInput) {
		return g.failLocked(fmt.Errorf("%w: session rejected camera %s", ErrDeviceUnavailable, device.ID))
	}
	session.AddInput(videoInput)
	g.videoInput = videoInput

	g.addAudioLocked(session)

	output, err := g.backend.NewFileOutput()
	if err != nil {
		return g.failLocked(fmt.Errorf("%w: file output: %w", ErrDeviceUnavailable, err))
	}
	if !session.CanAddOutput(output) {
		return g.failLocked(fmt.Errorf("%w: session rejected file output", ErrDeviceUnavailable))
	}
	session.AddOutput(output)
	g.output = output

	if conn := output.VideoConnection(); conn != nil && conn.SupportsOrientation() {
		conn.SetOrientation(OrientationPortrait)
	} else {
		slog.Warn("camera-recorder: video connection does not support orientation, keeping default")
	}

	g.functional = true
	g.configErr = nil

	slog.Info("camera-recorder: session configured",
		"settings", settings.String(),
		"preset", resolved.Preset,
		"camera", device.ID,
		"audio", g.audioInput != nil,
	)

	return nil
}

// addAudioLocked attaches the microphone if there is one; failures only log
func (g *CaptureGraph) addAudioLocked(session Session) {
	mic, ok := g.backend.DefaultDevice(MediaAudio, PositionUnspecified)
	if !ok {
		slog.Info("camera-recorder: no microphone found, recording video only")
		return
	}

	audioInput, err := g.backend.NewDeviceInput(mic)
	if err != nil {
		slog.Warn("camera-recorder: microphone unavailable, recording video only",
			"device", mic.ID,
			"error", err,
		)
		return
	}
	if !session.CanAddInput(audioInput) {
		slog.Warn("camera-recorder: session rejected microphone, recording video only", "device", mic.ID)
		return
	}

	session.AddInput(audioInput)
	g.audioInput = audioInput
}

// releaseLocked detaches everything from the previous session so its devices are freed
func (g *CaptureGraph) releaseLocked() {
	old := g.session
	if old == nil {
		return
	}

	old.BeginConfiguration()
	for _, in := range old.Inputs() {
		old.RemoveInput(in)
	}
	for _, out := range old.Outputs() {
		old.RemoveOutput(out)
	}
	old.CommitConfiguration()
}

func (g *CaptureGraph) failLocked(err error) error {
	g.functional = false
	g.configErr = err

	slog.Error("camera-recorder: session left inert",
		"settings", g.settings.String(),
		"error", err,
	)
	return err
}

func (g *CaptureGraph) startLocked() error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		slog.Debug("camera-recorder: session already running, start ignored")
		return nil
	}
	if !g.functional || g.session == nil {
		err := g.configErr
		g.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: session not configured", ErrDeviceUnavailable)
		}
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return err
	}

	session := g.session
	preset := g.resolved.Preset
	done := make(chan struct{})
	g.running = true
	g.startDone = done
	g.mu.Unlock()

	atomic.AddUint64(&g.starts, 1)

	go func() {
		defer close(done)
		session.StartRunning()
		slog.Info("camera-recorder: session running", "preset", preset)
	}()

	return nil
}

func (g *CaptureGraph) stopLocked() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		slog.Debug("camera-recorder: session not running, stop ignored")
		return
	}
	session := g.session
	done := g.startDone
	g.running = false
	g.startDone = nil
	g.mu.Unlock()

	if done != nil {
		<-done
	}
	session.StopRunning()

	slog.Info("camera-recorder: session stopped")
}
