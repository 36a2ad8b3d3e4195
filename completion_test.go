package camerarecorder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/simulated"
)

// closeSink waits for every watcher and pending save
func closeSink(t *testing.T, sink *camerarecorder.CompletionSink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestNewCompletionSink_Validation(t *testing.T) {
	if _, err := camerarecorder.NewCompletionSink(nil, camerarecorder.SinkConfig{}); err == nil {
		t.Error("NewCompletionSink(nil) should fail")
	}

	g, _ := newGraph(t, simulated.Config{})
	ctrl, err := camerarecorder.NewRecordingController(g, t.TempDir())
	if err != nil {
		t.Fatalf("NewRecordingController() error = %v", err)
	}
	if _, err := camerarecorder.NewCompletionSink(ctrl, camerarecorder.SinkConfig{StopTimeout: -time.Second}); err == nil {
		t.Error("negative stop timeout should fail")
	}
}

func TestCompletionSink_SuccessPersistsOnce(t *testing.T) {
	lib := newRecordingLibrary(nil)
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{Library: lib})

	a, err := r.ctrl.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	if !r.output().Complete("/tmp/a.mov", nil) {
		t.Fatal("Complete() found no open attempt")
	}
	o := waitAttempt(t, a)

	if o.Err != nil {
		t.Errorf("outcome error = %v", o.Err)
	}
	if o.Path != "/tmp/a.mov" {
		t.Errorf("outcome path = %q, want /tmp/a.mov", o.Path)
	}
	if o.Persistence != camerarecorder.PersistencePending {
		t.Errorf("persistence = %v, want pending", o.Persistence)
	}
	if r.ctrl.IsRecording() {
		t.Error("IsRecording() = true after completion")
	}
	if got := r.ctrl.State().LastCompletedPath; got != "/tmp/a.mov" {
		t.Errorf("LastCompletedPath = %q, want /tmp/a.mov", got)
	}

	closeSink(t, r.sink)

	paths := lib.Paths()
	if len(paths) != 1 || paths[0] != "/tmp/a.mov" {
		t.Errorf("library saved %v, want [/tmp/a.mov]", paths)
	}
}

func TestCompletionSink_FailureSkipsLibrary(t *testing.T) {
	lib := newRecordingLibrary(nil)
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{Library: lib})

	a, err := r.ctrl.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	diskFull := errors.New("disk full")
	r.output().Finish(diskFull)
	o := waitAttempt(t, a)

	if !errors.Is(o.Err, camerarecorder.ErrRecordingFailed) || !errors.Is(o.Err, diskFull) {
		t.Errorf("outcome error = %v, want ErrRecordingFailed wrapping the backend error", o.Err)
	}
	if o.Persistence != camerarecorder.PersistenceSkipped {
		t.Errorf("persistence = %v, want skipped", o.Persistence)
	}

	state := r.ctrl.State()
	if state.IsRecording() {
		t.Error("IsRecording() = true after a failed completion")
	}
	if !errors.Is(state.LastError, diskFull) {
		t.Errorf("LastError = %v", state.LastError)
	}
	if state.LastCompletedPath != "" {
		t.Errorf("LastCompletedPath = %q, want empty", state.LastCompletedPath)
	}

	closeSink(t, r.sink)
	if paths := lib.Paths(); len(paths) != 0 {
		t.Errorf("library called with %v on a failed recording", paths)
	}
}

func TestCompletionSink_SessionStopFailsRecording(t *testing.T) {
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{})

	a, err := r.ctrl.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	r.graph.Stop()
	o := waitAttempt(t, a)

	if !errors.Is(o.Err, simulated.ErrSessionStopped) {
		t.Errorf("outcome error = %v, want ErrSessionStopped", o.Err)
	}
	if r.ctrl.IsRecording() {
		t.Error("controller should be idle")
	}
}

func TestCompletionSink_StopTimeout(t *testing.T) {
	lib := newRecordingLibrary(nil)
	r := newRecorder(t, simulated.Config{ManualCompletion: true}, camerarecorder.SinkConfig{
		Library:     lib,
		StopTimeout: 30 * time.Millisecond,
	})

	a, err := r.ctrl.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	// No timer before a stop is requested
	time.Sleep(60 * time.Millisecond)
	if !r.ctrl.IsRecording() {
		t.Fatal("attempt timed out without a stop request")
	}

	if err := r.ctrl.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	o := waitAttempt(t, a)

	if !errors.Is(o.Err, camerarecorder.ErrCompletionTimeout) {
		t.Fatalf("outcome error = %v, want ErrCompletionTimeout", o.Err)
	}
	state := r.ctrl.State()
	if state.IsRecording() {
		t.Error("controller should be idle after the timeout")
	}

	// A late completion for the abandoned attempt changes nothing
	r.output().Finish(nil)
	time.Sleep(20 * time.Millisecond)

	late := r.ctrl.State()
	if late.LastCompletedPath != "" || !errors.Is(late.LastError, camerarecorder.ErrCompletionTimeout) {
		t.Errorf("late completion changed the state: %+v", late)
	}

	closeSink(t, r.sink)
	if paths := lib.Paths(); len(paths) != 0 {
		t.Errorf("library called with %v after a timeout", paths)
	}
}

func TestCompletionSink_SaveFailureDoesNotTouchState(t *testing.T) {
	lib := newRecordingLibrary(errors.New("library offline"))
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{Library: lib})

	outcomes := make(chan camerarecorder.Outcome, 4)
	if err := r.sink.SubscribeOutcomes("test", outcomes); err != nil {
		t.Fatalf("SubscribeOutcomes() error = %v", err)
	}

	a, err := r.ctrl.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := r.ctrl.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	var got []camerarecorder.Outcome
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case o := <-outcomes:
			got = append(got, o)
		case <-timeout:
			t.Fatalf("received %d outcomes, want 2", len(got))
		}
	}

	if got[0].Persistence != camerarecorder.PersistencePending || got[0].Err != nil {
		t.Errorf("first outcome = %+v, want pending without error", got[0])
	}
	if got[1].Persistence != camerarecorder.PersistenceFailed {
		t.Errorf("second outcome persistence = %v, want failed", got[1].Persistence)
	}
	if !errors.Is(got[1].SaveErr, camerarecorder.ErrPersistenceFailed) {
		t.Errorf("SaveErr = %v, want ErrPersistenceFailed", got[1].SaveErr)
	}
	if got[1].AttemptID != a.ID {
		t.Errorf("outcome attempt = %q, want %q", got[1].AttemptID, a.ID)
	}

	state := r.ctrl.State()
	if state.LastError != nil {
		t.Errorf("LastError = %v, a save failure must not touch recording state", state.LastError)
	}
	if state.LastCompletedPath != a.Path {
		t.Errorf("LastCompletedPath = %q, want %q", state.LastCompletedPath, a.Path)
	}
}

func TestCompletionSink_SavedOutcomeCarriesRef(t *testing.T) {
	lib := newRecordingLibrary(nil)
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{Library: lib})

	outcomes := make(chan camerarecorder.Outcome, 4)
	if err := r.sink.SubscribeOutcomes("test", outcomes); err != nil {
		t.Fatalf("SubscribeOutcomes() error = %v", err)
	}

	if _, err := r.ctrl.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := r.ctrl.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case o := <-outcomes:
			if o.Persistence != camerarecorder.PersistenceSaved {
				continue
			}
			if o.LibraryRef != "lib:"+o.Path {
				t.Errorf("LibraryRef = %q", o.LibraryRef)
			}
			return
		case <-deadline:
			t.Fatal("no saved outcome published")
		}
	}
}

func TestCompletionSink_LibraryFunc(t *testing.T) {
	called := make(chan string, 1)
	lib := camerarecorder.LibraryFunc(func(ctx context.Context, path string) (string, error) {
		called <- path
		return "ok", nil
	})
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{Library: lib})

	a, err := r.ctrl.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := r.ctrl.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	select {
	case path := <-called:
		if path != a.Path {
			t.Errorf("library got %q, want %q", path, a.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("library never called")
	}
}

func TestCompletionSink_RecordingOnStoppedSession(t *testing.T) {
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{})

	// Stopping the session keeps the graph functional, so the start reaches the output
	r.graph.Stop()

	a, err := r.ctrl.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	o := waitAttempt(t, a)
	if !errors.Is(o.Err, simulated.ErrSessionNotRunning) {
		t.Errorf("outcome error = %v, want ErrSessionNotRunning", o.Err)
	}
	if r.ctrl.IsRecording() {
		t.Error("controller should be idle")
	}
}

// slowLibrary takes delay to save and gives up when ctx is done
type slowLibrary struct {
	delay time.Duration
}

func (l slowLibrary) Save(ctx context.Context, path string) (string, error) {
	select {
	case <-time.After(l.delay):
		return "lib:" + path, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCompletionSink_CloseLetsPendingSavesFinish(t *testing.T) {
	cam, _ := newRunningCamera(t, simulated.Config{}, camerarecorder.Options{
		Library: slowLibrary{delay: 50 * time.Millisecond},
	})
	outcomes := make(chan camerarecorder.Outcome, 4)
	if err := cam.SubscribeOutcomes("test", outcomes); err != nil {
		t.Fatalf("SubscribeOutcomes() error = %v", err)
	}

	a, err := cam.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := cam.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	waitAttempt(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cam.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if stats := cam.Stats(); stats.Saved != 1 || stats.SaveFailed != 0 {
		t.Errorf("Stats() = %+v, want 1 saved and no failures", stats)
	}

	var saved bool
	for len(outcomes) > 0 {
		o := <-outcomes
		if o.Persistence == camerarecorder.PersistenceFailed {
			t.Errorf("save failed during Close: %v", o.SaveErr)
		}
		saved = saved || o.Persistence == camerarecorder.PersistenceSaved
	}
	if !saved {
		t.Error("saved outcome not published before Close returned")
	}
}

func TestCompletionSink_CloseDeadlineCancelsSaves(t *testing.T) {
	cam, _ := newRunningCamera(t, simulated.Config{}, camerarecorder.Options{
		Library: slowLibrary{delay: time.Hour},
	})

	a, err := cam.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	cam.StopRecording()
	waitAttempt(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := cam.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close() error = %v, want DeadlineExceeded", err)
	}
	waitFor(t, time.Second, "save cancelled", func() bool { return cam.Stats().SaveFailed == 1 })
}

func TestCompletionSink_RejectsAttemptsAfterClose(t *testing.T) {
	r := newRecorder(t, simulated.Config{}, camerarecorder.SinkConfig{})
	closeSink(t, r.sink)

	if _, err := r.ctrl.StartRecording(); !errors.Is(err, camerarecorder.ErrClosed) {
		t.Fatalf("StartRecording() after sink Close() error = %v, want ErrClosed", err)
	}
	if r.ctrl.IsRecording() || r.ctrl.Attempts() != 0 {
		t.Errorf("state = %+v, attempts = %d", r.ctrl.State(), r.ctrl.Attempts())
	}
	if got := r.output().StartCalls(); got != 0 {
		t.Errorf("output StartCalls() = %d, want 0", got)
	}
}
