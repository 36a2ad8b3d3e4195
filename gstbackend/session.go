//go:build cgo

package gstbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/gstpipe"
)

type commandKind int

const (
	cmdStartRecording commandKind = iota
	cmdStopRecording
)

// command is a recording request handed to the session supervisor
type command struct {
	kind   commandKind
	path   string
	flip   string
	events chan<- camerarecorder.RecordingEvent
}

// activeRecording is the attempt owned by the supervisor
type activeRecording struct {
	path     string
	events   chan<- camerarecorder.RecordingEvent
	p        *pipeline
	stopping bool
}

// sessionConfig is the snapshot of the committed configuration a running
// supervisor builds pipelines from
type sessionConfig struct {
	format    camerarecorder.ResolvedConfig
	videoNode string
	audio     bool
}

// Session implements camerarecorder.Session and camerarecorder.PreviewSource.
//
// A running session is owned by a supervisor goroutine that holds the
// current pipeline; recording commands and pipeline ends are serialized
// through it.
type Session struct {
	backend *Backend

	mu         sync.Mutex
	batchDepth int
	format     camerarecorder.ResolvedConfig
	inputs     []camerarecorder.DeviceInput
	outputs    []*FileOutput
	running    bool
	cancel     context.CancelFunc
	cmds       chan command
	done       chan struct{}

	recording atomic.Bool
	latest    atomic.Pointer[camerarecorder.PreviewFrame]
	retry     *gstpipe.RetryState

	// Statistics (atomic)
	frames        uint64
	bytesRead     uint64
	errorsDevice  uint64
	errorsStorage uint64
	errorsCodec   uint64
	errorsUnknown uint64
	recordings    uint64
}

func newSession(b *Backend) *Session {
	return &Session{
		backend: b,
		retry:   gstpipe.NewRetryState(),
	}
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
		slog.Warn("gstbackend: commit without begin")
		return
	}
	s.batchDepth--
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
	if _, ok := input.(*deviceInput); !ok {
		return false
	}
	media := input.Device().Media

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

// CanAddOutput accepts a single file output created by this backend
func (s *Session) CanAddOutput(output camerarecorder.FileOutput) bool {
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

// StartRunning launches the supervisor. The preview pipeline comes up
// asynchronously, with retries, so a missing camera does not block the caller.
func (s *Session) StartRunning() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}

	sc := s.snapshotLocked()
	ctx, cancel := context.WithCancel(context.Background())
	cmds := make(chan command, 8)
	done := make(chan struct{})

	s.running = true
	s.cancel = cancel
	s.cmds = cmds
	s.done = done
	s.mu.Unlock()

	slog.Info("gstbackend: session starting",
		"device", sc.videoNode,
		"format", fmt.Sprintf("%dx%d@%d", sc.format.Width, sc.format.Height, sc.format.FrameRate),
		"audio", sc.audio,
	)

	go s.supervise(ctx, sc, cmds, done)
}

// StopRunning cancels the supervisor and waits for it. An active recording
// is drained and finished with ErrSessionStopped.
func (s *Session) StopRunning() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel, s.cmds, s.done = nil, nil, nil
	s.mu.Unlock()

	cancel()
	<-done

	s.latest.Store(nil)

	slog.Info("gstbackend: session stopped",
		"frames", atomic.LoadUint64(&s.frames),
		"bytes_read", atomic.LoadUint64(&s.bytesRead),
		"recordings", atomic.LoadUint64(&s.recordings),
		"pipeline_restarts", atomic.LoadUint32(s.retry.Retries),
		"errors_device", atomic.LoadUint64(&s.errorsDevice),
		"errors_storage", atomic.LoadUint64(&s.errorsStorage),
		"errors_codec", atomic.LoadUint64(&s.errorsCodec),
		"errors_unknown", atomic.LoadUint64(&s.errorsUnknown),
	)
}

func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LatestPreviewFrame returns the newest preview frame of the running session
func (s *Session) LatestPreviewFrame() (camerarecorder.PreviewFrame, bool) {
	if !s.IsRunning() {
		return camerarecorder.PreviewFrame{}, false
	}
	frame := s.latest.Load()
	if frame == nil {
		return camerarecorder.PreviewFrame{}, false
	}
	return *frame, true
}

// submit hands cmd to the supervisor without blocking
func (s *Session) submit(cmd command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmds == nil {
		return ErrSessionNotRunning
	}
	select {
	case s.cmds <- cmd:
		return nil
	default:
		return ErrOutputBusy
	}
}

func (s *Session) snapshotLocked() sessionConfig {
	sc := sessionConfig{format: s.format}
	for _, in := range s.inputs {
		switch in.Device().Media {
		case camerarecorder.MediaVideo:
			sc.videoNode = in.Device().ID
		case camerarecorder.MediaAudio:
			sc.audio = true
		}
	}
	return sc
}

func (s *Session) checkBatchLocked(op string) {
	if s.batchDepth == 0 {
		slog.Warn("gstbackend: session mutated outside a configuration batch", "op", op)
	}
}

// countError increments the counter of err's category
func (s *Session) countError(err error) {
	category := gstpipe.ErrCategoryUnknown
	var perr *PipelineError
	if errors.As(err, &perr) {
		category = perr.Category
	}

	switch category {
	case gstpipe.ErrCategoryDevice:
		atomic.AddUint64(&s.errorsDevice, 1)
	case gstpipe.ErrCategoryStorage:
		atomic.AddUint64(&s.errorsStorage, 1)
	case gstpipe.ErrCategoryCodec:
		atomic.AddUint64(&s.errorsCodec, 1)
	default:
		atomic.AddUint64(&s.errorsUnknown, 1)
	}
}

// supervise owns the session's pipelines until ctx is done
func (s *Session) supervise(ctx context.Context, sc sessionConfig, cmds chan command, done chan<- struct{}) {
	defer close(done)

	cfg := s.backend.cfg
	ended := make(chan pipelineEnd)

	var (
		current    *pipeline
		active     *activeRecording
		eosTimer   *time.Timer
		eosTimeout <-chan time.Time
	)

	finish := func(err error) {
		if eosTimer != nil {
			eosTimer.Stop()
			eosTimer, eosTimeout = nil, nil
		}
		if active == nil {
			return
		}
		slog.Info("gstbackend: recording finished", "path", active.path, "error", err)
		active.events <- finished(active.path, err)
		active = nil
		s.recording.Store(false)
	}

	startPreview := func() {
		current = nil
		if sc.videoNode == "" {
			slog.Warn("gstbackend: session has no camera, preview disabled")
			return
		}
		preview := cfg.pipelineConfig(sc.format, sc.videoNode, false, "", gstpipe.FlipNone)
		err := gstpipe.RunWithRetry(ctx, func(ctx context.Context) error {
			p, err := s.play(ctx, preview, ended)
			if err != nil {
				return err
			}
			current = p
			return nil
		}, cfg.Retry, s.retry)
		if err != nil && ctx.Err() == nil {
			slog.Error("gstbackend: preview pipeline unavailable", "error", err)
		}
	}

	startPreview()

	for {
		select {
		case <-ctx.Done():
			if active != nil && active.p == current && current != nil {
				if err := current.drain(cfg.EOSTimeout); err != nil {
					slog.Warn("gstbackend: recording not finalized on stop", "path", active.path, "error", err)
				}
			} else {
				current.stop()
			}
			finish(ErrSessionStopped)
			drainCommands(cmds)
			return

		case cmd := <-cmds:
			switch cmd.kind {
			case cmdStartRecording:
				if active != nil {
					cmd.events <- finished(cmd.path, ErrOutputBusy)
					continue
				}

				current.stop()
				current = nil

				recording := cfg.pipelineConfig(sc.format, sc.videoNode, sc.audio, cmd.path, cmd.flip)
				p, err := s.play(ctx, recording, ended)
				if err != nil {
					slog.Error("gstbackend: failed to start recording", "path", cmd.path, "error", err)
					cmd.events <- finished(cmd.path, fmt.Errorf("gstbackend: start recording: %w", err))
					startPreview()
					continue
				}

				current = p
				active = &activeRecording{path: cmd.path, events: cmd.events, p: p}
				s.recording.Store(true)
				atomic.AddUint64(&s.recordings, 1)
				cmd.events <- camerarecorder.RecordingEvent{
					Kind: camerarecorder.EventStarted,
					Path: cmd.path,
					At:   time.Now(),
				}

			case cmdStopRecording:
				if active == nil || active.stopping {
					continue
				}
				active.stopping = true
				if !active.p.sendEOS() {
					current.stop()
					current = nil
					finish(fmt.Errorf("gstbackend: pipeline rejected EOS"))
					startPreview()
					continue
				}
				eosTimer = time.NewTimer(cfg.EOSTimeout)
				eosTimeout = eosTimer.C
			}

		case end := <-ended:
			if end.p != current {
				continue
			}
			current.stop()
			current = nil
			if active != nil && active.p == end.p {
				finish(end.err)
			}
			startPreview()

		case <-eosTimeout:
			eosTimer, eosTimeout = nil, nil
			current.stop()
			current = nil
			finish(ErrEOSTimeout)
			startPreview()
		}
	}
}

// drainCommands finishes start requests that arrived after shutdown began
func drainCommands(cmds chan command) {
	for {
		select {
		case cmd := <-cmds:
			if cmd.kind == cmdStartRecording {
				cmd.events <- finished(cmd.path, ErrSessionNotRunning)
			}
		default:
			return
		}
	}
}

func finished(path string, err error) camerarecorder.RecordingEvent {
	return camerarecorder.RecordingEvent{
		Kind: camerarecorder.EventFinished,
		Path: path,
		Err:  err,
		At:   time.Now(),
	}
}
