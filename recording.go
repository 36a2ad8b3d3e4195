package camerarecorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/statebus"
)

// attemptEventBuffer leaves room for a start confirmation, the completion
// and a late duplicate, so a backend send never blocks
const attemptEventBuffer = 4

// Attempt is one accepted recording. Done is closed when its completion has
// been consumed; Outcome is valid from then on.
type Attempt struct {
	ID        string
	Path      string
	StartedAt time.Time

	output FileOutput
	events chan RecordingEvent

	stopOnce      sync.Once
	stopRequested chan struct{}

	done    chan struct{}
	outcome Outcome
}

func newAttempt(id, path string, output FileOutput, now time.Time) *Attempt {
	return &Attempt{
		ID:            id,
		Path:          path,
		StartedAt:     now,
		output:        output,
		events:        make(chan RecordingEvent, attemptEventBuffer),
		stopRequested: make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Done is closed once the attempt has completed
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Outcome returns the completion result. It is only meaningful after Done is closed.
func (a *Attempt) Outcome() Outcome {
	select {
	case <-a.done:
		return a.outcome
	default:
		return Outcome{AttemptID: a.ID, Path: a.Path, StartedAt: a.StartedAt}
	}
}

// Wait blocks until the attempt completes or ctx is done
func (a *Attempt) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-a.done:
		return a.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (a *Attempt) requestStop() {
	a.stopOnce.Do(func() { close(a.stopRequested) })
}

func (a *Attempt) resolve(o Outcome) {
	a.outcome = o
	close(a.done)
}

// RecordingController owns the recording state machine and issues start and
// stop calls against the graph's file output.
//
// Start is optimistic: the phase moves to Starting as soon as the output
// accepted the call. Stop is event-driven: the phase moves to Stopping and
// only the CompletionSink brings it back to Idle.
type RecordingController struct {
	graph      *CaptureGraph
	storageDir string
	newID      func() string
	now        func() time.Time

	mu      sync.Mutex
	state   RecordingState
	attempt *Attempt
	sink    *CompletionSink

	states *statebus.Bus[RecordingState]

	attempts uint64
}

// NewRecordingController creates a controller that records into storageDir.
// An empty storageDir uses "<tmp>/camera-recorder".
func NewRecordingController(graph *CaptureGraph, storageDir string) (*RecordingController, error) {
	if graph == nil {
		return nil, fmt.Errorf("camera-recorder: capture graph is required")
	}
	if storageDir == "" {
		storageDir = filepath.Join(os.TempDir(), "camera-recorder")
	}

	c := &RecordingController{
		graph:      graph,
		storageDir: storageDir,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
		states:     statebus.New[RecordingState](),
	}
	c.state.UpdatedAt = c.now()
	return c, nil
}

// StorageDir returns where recordings are written
func (c *RecordingController) StorageDir() string {
	return c.storageDir
}

// StartRecording starts a new attempt on the graph's current output.
//
// It returns ErrAlreadyRecording while another attempt is in flight and
// ErrDeviceUnavailable when the graph is inert. Neither reaches the output.
func (c *RecordingController) StartRecording() (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseIdle {
		slog.Warn("camera-recorder: start ignored, already recording",
			"attempt_id", c.state.AttemptID,
			"phase", c.state.Phase.String(),
		)
		return nil, ErrAlreadyRecording
	}
	if c.sink == nil {
		return nil, fmt.Errorf("camera-recorder: no completion sink attached")
	}

	output := c.graph.Output()
	if output == nil {
		return nil, fmt.Errorf("%w: no file output", ErrDeviceUnavailable)
	}

	if err := os.MkdirAll(c.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	id := c.newID()
	path := filepath.Join(c.storageDir, id+".mp4")

	now := c.now()
	attempt := newAttempt(id, path, output, now)
	if err := c.sink.track(attempt); err != nil {
		return nil, err
	}
	if conn := output.VideoConnection(); conn != nil && conn.SupportsOrientation() {
		conn.SetOrientation(OrientationPortrait)
	}

	atomic.AddUint64(&c.attempts, 1)
	c.attempt = attempt
	c.state.Phase = PhaseStarting
	c.state.AttemptID = id
	c.state.ActiveOutputPath = path
	c.state.StartedAt = now
	c.publishLocked()

	output.StartRecording(path, attempt.events)

	slog.Info("camera-recorder: recording started",
		"attempt_id", id,
		"path", path,
	)

	return attempt, nil
}

// StopRecording asks the output to finish the in-flight attempt.
//
// It returns ErrNotRecording when idle or when a stop is already pending.
// The phase stays Stopping until the completion event is consumed.
func (c *RecordingController) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Phase {
	case PhaseIdle:
		slog.Warn("camera-recorder: stop ignored, not recording")
		return ErrNotRecording
	case PhaseStopping:
		slog.Debug("camera-recorder: stop ignored, already stopping", "attempt_id", c.state.AttemptID)
		return fmt.Errorf("%w: stop already requested", ErrNotRecording)
	}

	attempt := c.attempt
	attempt.output.StopRecording()
	attempt.requestStop()

	c.state.Phase = PhaseStopping
	c.publishLocked()

	slog.Info("camera-recorder: recording stop requested", "attempt_id", attempt.ID)
	return nil
}

// State returns a snapshot of the recording state
func (c *RecordingController) State() RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.UpdatedAt = c.now()
	return s
}

// IsRecording reports whether an attempt is in flight
func (c *RecordingController) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase != PhaseIdle
}

// Attempts returns how many recordings were accepted
func (c *RecordingController) Attempts() uint64 {
	return atomic.LoadUint64(&c.attempts)
}

// ActiveAttempt returns the in-flight attempt, or nil when idle
func (c *RecordingController) ActiveAttempt() *Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Subscribe returns a receiver that always holds the latest state snapshot
func (c *RecordingController) Subscribe(id string) (StateReceiver, error) {
	rx, err := c.states.SubscribeLatest(id)
	if err != nil {
		return nil, fmt.Errorf("camera-recorder: subscribe %q: %w", id, err)
	}
	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
	return rx, nil
}

// Unsubscribe removes a state subscriber
func (c *RecordingController) Unsubscribe(id string) error {
	return c.states.Unsubscribe(id)
}

// markStarted moves Starting to Recording when the output confirms the attempt
func (c *RecordingController) markStarted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.AttemptID != id || c.state.Phase != PhaseStarting {
		return
	}
	c.state.Phase = PhaseRecording
	c.publishLocked()

	slog.Debug("camera-recorder: output confirmed recording", "attempt_id", id)
}

// finish returns the state machine to Idle for attempt id.
// It reports false for a stale attempt, whose completion is discarded.
func (c *RecordingController) finish(id string, o Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.AttemptID != id {
		slog.Warn("camera-recorder: discarding completion for stale attempt",
			"attempt_id", id,
			"current_attempt_id", c.state.AttemptID,
		)
		return false
	}

	c.state.Phase = PhaseIdle
	c.state.AttemptID = ""
	c.state.ActiveOutputPath = ""
	c.state.StartedAt = time.Time{}
	if o.Err != nil {
		c.state.LastError = o.Err
	} else {
		c.state.LastCompletedPath = o.Path
		c.state.LastError = nil
	}
	c.attempt = nil
	c.publishLocked()
	return true
}

func (c *RecordingController) attach(sink *CompletionSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

func (c *RecordingController) close() {
	c.states.Close()
}

func (c *RecordingController) publishLocked() {
	c.state.UpdatedAt = c.now()
	c.states.Publish(c.state)
}
