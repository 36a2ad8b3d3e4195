package simulated

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
)

// Session implements camerarecorder.Session and camerarecorder.PreviewSource
type Session struct {
	backend *Backend

	mu         sync.Mutex
	batchDepth int
	format     camerarecorder.ResolvedConfig
	inputs     []camerarecorder.DeviceInput
	outputs    []*FileOutput
	running    bool
	frameSeq   uint64

	startCalls int
	stopCalls  int
	commits    int
	violations int
}

func newSession(b *Backend) *Session {
	return &Session{backend: b}
}

func (s *Session) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchDepth++
}

func (s *Session) CommitConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchDepth == 0 {
		s.violations++
		slog.Warn("simulated: commit without begin")
		return
	}
	s.batchDepth--
	s.commits++
}

func (s *Session) SetFormat(format camerarecorder.ResolvedConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkBatchLocked("set format")
	s.format = format
}

func (s *Session) Inputs() []camerarecorder.DeviceInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]camerarecorder.DeviceInput(nil), s.inputs...)
}

// CanAddInput accepts one camera and one microphone
func (s *Session) CanAddInput(input camerarecorder.DeviceInput) bool {
	media := input.Device().Media
	if media == camerarecorder.MediaVideo && s.backend.cfg.RejectVideoInput {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.inputs {
		if in.Device().Media == media {
			return false
		}
	}
	return true
}

func (s *Session) AddInput(input camerarecorder.DeviceInput) {
	s.mu.Lock()
	s.checkBatchLocked("add input")
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()

	s.backend.hold(input.Device())
}

func (s *Session) RemoveInput(input camerarecorder.DeviceInput) {
	s.mu.Lock()
	s.checkBatchLocked("remove input")
	for i, in := range s.inputs {
		if in == input {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.backend.release(input.Device())
}

func (s *Session) Outputs() []camerarecorder.FileOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	outs := make([]camerarecorder.FileOutput, 0, len(s.outputs))
	for _, o := range s.outputs {
		outs = append(outs, o)
	}
	return outs
}

// CanAddOutput accepts a single file output
func (s *Session) CanAddOutput(output camerarecorder.FileOutput) bool {
	if s.backend.cfg.RejectOutput {
		return false
	}
	if _, ok := output.(*FileOutput); !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outputs) == 0
}

func (s *Session) AddOutput(output camerarecorder.FileOutput) {
	o := output.(*FileOutput)

	s.mu.Lock()
	s.checkBatchLocked("add output")
	s.outputs = append(s.outputs, o)
	s.mu.Unlock()

	o.attach(s)
}

func (s *Session) RemoveOutput(output camerarecorder.FileOutput) {
	o, ok := output.(*FileOutput)
	if !ok {
		return
	}

	s.mu.Lock()
	s.checkBatchLocked("remove output")
	for i, existing := range s.outputs {
		if existing == o {
			s.outputs = append(s.outputs[:i], s.outputs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	o.detach()
}

// StartRunning blocks for Config.StartDelay, then marks the session running
func (s *Session) StartRunning() {
	s.mu.Lock()
	s.startCalls++
	s.mu.Unlock()

	if d := s.backend.cfg.StartDelay; d > 0 {
		time.Sleep(d)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	slog.Debug("simulated: session running", "preset", s.Format().Preset)
}

// StopRunning stops the session; an in-flight recording finishes with ErrSessionStopped
func (s *Session) StopRunning() {
	s.mu.Lock()
	s.stopCalls++
	s.running = false
	outputs := append([]*FileOutput(nil), s.outputs...)
	s.mu.Unlock()

	for _, o := range outputs {
		o.Finish(ErrSessionStopped)
	}

	slog.Debug("simulated: session stopped")
}

func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LatestPreviewFrame synthesizes a frame while the session runs
func (s *Session) LatestPreviewFrame() (camerarecorder.PreviewFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return camerarecorder.PreviewFrame{}, false
	}
	s.frameSeq++

	w, h := s.backend.cfg.FrameWidth, s.backend.cfg.FrameHeight
	return camerarecorder.PreviewFrame{
		Seq:       s.frameSeq,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      make([]byte, w*h*3),
		TraceID:   uuid.New().String(),
	}, true
}

// Format returns the applied format
func (s *Session) Format() camerarecorder.ResolvedConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// StartCalls returns how many times StartRunning was called
func (s *Session) StartCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

// StopCalls returns how many times StopRunning was called
func (s *Session) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// Commits returns how many configuration batches were committed
func (s *Session) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Violations counts mutations made outside a configuration batch
func (s *Session) Violations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violations
}

// InBatch reports whether a configuration batch is open
func (s *Session) InBatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchDepth > 0
}

func (s *Session) checkBatchLocked(op string) {
	if s.batchDepth == 0 {
		s.violations++
		slog.Warn("simulated: session mutated outside a configuration batch", "op", op)
	}
}
