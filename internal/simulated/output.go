package simulated

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
)

// FileOutput implements camerarecorder.FileOutput.
//
// Events of an attempt are delivered in order by a goroutine owned by the
// output, never on the caller's goroutine.
type FileOutput struct {
	backend *Backend

	mu          sync.Mutex
	session     *Session
	orientation camerarecorder.Orientation
	oriented    bool
	current     *attempt
	startCalls  int
	stopCalls   int
	paths       []string
}

type attempt struct {
	path     string
	queue    chan camerarecorder.RecordingEvent
	finished bool
}

// VideoConnection returns nil unless the output's session has a camera input
func (o *FileOutput) VideoConnection() camerarecorder.Connection {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()

	if session == nil {
		return nil
	}
	for _, in := range session.Inputs() {
		if in.Device().Media == camerarecorder.MediaVideo {
			return &connection{output: o}
		}
	}
	return nil
}

// StartRecording begins an attempt. On a stopped session the attempt
// finishes immediately with ErrSessionNotRunning.
func (o *FileOutput) StartRecording(path string, events chan<- camerarecorder.RecordingEvent) {
	a := &attempt{
		path:  path,
		queue: make(chan camerarecorder.RecordingEvent, 4),
	}
	go o.deliver(a, events)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.startCalls++
	o.paths = append(o.paths, path)

	if o.current != nil && !o.current.finished {
		a.finish(fmt.Errorf("simulated: output busy"))
		return
	}
	o.current = a

	if o.session == nil || !o.session.IsRunning() {
		a.finish(ErrSessionNotRunning)
		return
	}

	if !o.backend.cfg.SkipStartedEvent {
		a.queue <- camerarecorder.RecordingEvent{
			Kind: camerarecorder.EventStarted,
			Path: path,
			At:   time.Now(),
		}
	}
	slog.Debug("simulated: recording started", "path", path)
}

// StopRecording ends the attempt. With ManualCompletion the attempt stays
// open until Finish is called.
func (o *FileOutput) StopRecording() {
	o.mu.Lock()
	o.stopCalls++
	a := o.current
	manual := o.backend.cfg.ManualCompletion
	o.mu.Unlock()

	if a == nil || manual {
		return
	}
	o.Finish(nil)
}

// Finish completes the current attempt with err (nil for success).
// It reports false when there is no open attempt.
func (o *FileOutput) Finish(err error) bool {
	return o.Complete("", err)
}

// Complete is Finish with the file path reported by the completion event
// overridden (empty keeps the destination path).
func (o *FileOutput) Complete(path string, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	a := o.current
	if a == nil || a.finished {
		return false
	}
	if path == "" {
		path = a.path
	}

	if err == nil && o.backend.cfg.WriteFiles {
		if werr := os.WriteFile(path, []byte("simulated recording\n"), 0o644); werr != nil {
			err = fmt.Errorf("simulated: write %s: %w", path, werr)
		}
	}

	a.finishAt(path, err)
	slog.Debug("simulated: recording finished", "path", path, "error", err)
	return true
}

// IsRecording reports whether an attempt is open
func (o *FileOutput) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil && !o.current.finished
}

// StartCalls returns how many times StartRecording was called
func (o *FileOutput) StartCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startCalls
}

// StopCalls returns how many times StopRecording was called
func (o *FileOutput) StopCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopCalls
}

// Paths returns the destination of every StartRecording call
func (o *FileOutput) Paths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.paths...)
}

// Orientation returns the orientation set on the video connection, if any
func (o *FileOutput) Orientation() (camerarecorder.Orientation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orientation, o.oriented
}

func (o *FileOutput) attach(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = s
}

func (o *FileOutput) detach() {
	o.Finish(ErrSessionStopped)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = nil
}

// deliver forwards an attempt's events in order, delaying the completion by Config.FinishDelay
func (o *FileOutput) deliver(a *attempt, events chan<- camerarecorder.RecordingEvent) {
	for ev := range a.queue {
		if ev.Kind == camerarecorder.EventFinished {
			if d := o.backend.cfg.FinishDelay; d > 0 {
				time.Sleep(d)
			}
			ev.At = time.Now()
		}
		events <- ev
	}
}

func (a *attempt) finish(err error) {
	a.finishAt(a.path, err)
}

// finishAt queues the single completion and closes the queue; callers hold the output lock
func (a *attempt) finishAt(path string, err error) {
	a.finished = true
	a.queue <- camerarecorder.RecordingEvent{
		Kind: camerarecorder.EventFinished,
		Path: path,
		Err:  err,
		At:   time.Now(),
	}
	close(a.queue)
}

type connection struct {
	output *FileOutput
}

func (c *connection) SupportsOrientation() bool {
	return !c.output.backend.cfg.NoOrientation
}

func (c *connection) SetOrientation(orientation camerarecorder.Orientation) {
	if !c.SupportsOrientation() {
		return
	}
	c.output.mu.Lock()
	defer c.output.mu.Unlock()
	c.output.orientation = orientation
	c.output.oriented = true
}
