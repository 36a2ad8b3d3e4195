package camerarecorder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/simulated"
)

func TestNewCamera_InvalidSettings(t *testing.T) {
	backend := simulated.New(simulated.Config{})
	_, err := camerarecorder.NewCamera(backend, camerarecorder.CaptureSettings{FrameRate: 0}, camerarecorder.Options{})
	if err == nil {
		t.Fatal("NewCamera() with zero frame rate should fail")
	}
	if len(backend.Sessions()) != 0 {
		t.Error("invalid settings should not touch the backend")
	}
}

func TestNewCamera_NilBackend(t *testing.T) {
	if _, err := camerarecorder.NewCamera(nil, camerarecorder.DefaultCaptureSettings(), camerarecorder.Options{}); err == nil {
		t.Fatal("NewCamera(nil) should fail")
	}
}

func TestCamera_RecordFlow(t *testing.T) {
	lib := newRecordingLibrary(nil)
	cam, backend := newRunningCamera(t, simulated.Config{WriteFiles: true}, camerarecorder.Options{Library: lib})

	a, err := cam.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if !cam.IsRecording() {
		t.Error("IsRecording() = false after start")
	}

	if err := cam.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	o := waitAttempt(t, a)
	if o.Err != nil {
		t.Fatalf("outcome error = %v", o.Err)
	}
	if _, err := os.Stat(o.Path); err != nil {
		t.Errorf("recording not written: %v", err)
	}

	select {
	case path := <-lib.saved:
		if path != a.Path {
			t.Errorf("library got %q, want %q", path, a.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("library never called")
	}

	waitFor(t, time.Second, "saved counter", func() bool { return cam.Stats().Saved == 1 })

	stats := cam.Stats()
	if stats.SessionStarts != 1 || stats.Attempts != 1 || stats.Completed != 1 || stats.Failed != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if backend.LastOutput().StartCalls() != 1 {
		t.Errorf("output StartRecording called %d times", backend.LastOutput().StartCalls())
	}
}

func TestCamera_DeviceUnavailableScenario(t *testing.T) {
	backend := simulated.New(simulated.Config{
		Cameras: []camerarecorder.DevicePosition{camerarecorder.PositionBack},
	})
	settings := camerarecorder.CaptureSettings{
		Facing:     camerarecorder.FacingFront,
		Resolution: camerarecorder.Res1080p,
		FrameRate:  30,
	}

	cam, err := camerarecorder.NewCamera(backend, settings, camerarecorder.Options{StorageDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewCamera() error = %v", err)
	}
	defer cam.Close(context.Background())

	info := cam.Session()
	if info.Functional || !errors.Is(info.ConfigErr, camerarecorder.ErrDeviceUnavailable) {
		t.Fatalf("Session() = %+v, want inert with ErrDeviceUnavailable", info)
	}
	if cam.IsRecording() {
		t.Error("IsRecording() = true")
	}
	if err := cam.StartSession(); !errors.Is(err, camerarecorder.ErrDeviceUnavailable) {
		t.Errorf("StartSession() error = %v, want ErrDeviceUnavailable", err)
	}
	if _, err := cam.StartRecording(); !errors.Is(err, camerarecorder.ErrDeviceUnavailable) {
		t.Errorf("StartRecording() error = %v, want ErrDeviceUnavailable", err)
	}
	if cam.IsRecording() {
		t.Error("IsRecording() = true after a rejected start")
	}

	// Falling back to the back camera recovers
	settings.Facing = camerarecorder.FacingBack
	if err := cam.Reload(settings); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !cam.Session().Functional || !cam.Session().Running {
		t.Errorf("Session() after reload = %+v", cam.Session())
	}
}

func TestCamera_ReloadKeepsRenderTarget(t *testing.T) {
	cam, backend := newRunningCamera(t, simulated.Config{}, camerarecorder.Options{})

	target := cam.RenderTarget()
	if target != cam.Preview().RenderTarget() {
		t.Fatal("RenderTarget() not memoized")
	}

	settings2 := camerarecorder.CaptureSettings{
		Facing:     camerarecorder.FacingFront,
		Resolution: camerarecorder.Res720p,
		FrameRate:  24,
	}
	if err := cam.Reload(settings2); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	waitFor(t, time.Second, "reloaded session running", backend.LastSession().IsRunning)

	if cam.RenderTarget() != target {
		t.Error("render target replaced by Reload()")
	}
	if _, ok := target.LatestFrame(); !ok {
		t.Error("render target shows no frames from the reloaded session")
	}
	if got := cam.Session().Resolved.Preset; got != camerarecorder.PresetHD1280x720 {
		t.Errorf("preset = %q, want %q", got, camerarecorder.PresetHD1280x720)
	}
	if got := cam.Session().Settings; got != settings2 {
		t.Errorf("settings = %v, want %v", got, settings2)
	}
}

func TestCamera_SubscribeOutcomes(t *testing.T) {
	cam, _ := newRunningCamera(t, simulated.Config{}, camerarecorder.Options{})

	outcomes := make(chan camerarecorder.Outcome, 1)
	if err := cam.SubscribeOutcomes("test", outcomes); err != nil {
		t.Fatalf("SubscribeOutcomes() error = %v", err)
	}
	defer cam.UnsubscribeOutcomes("test")

	a, err := cam.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := cam.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	select {
	case o := <-outcomes:
		if o.AttemptID != a.ID || o.Persistence != camerarecorder.PersistenceSkipped {
			t.Errorf("outcome = %+v", o)
		}
		if o.Duration() < 0 {
			t.Errorf("negative duration %v", o.Duration())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome published")
	}
}

func TestCamera_StateSubscription(t *testing.T) {
	cam, _ := newRunningCamera(t, simulated.Config{}, camerarecorder.Options{})

	rx, err := cam.Subscribe("ui")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cam.Unsubscribe("ui")

	if state := rx.Receive(); state.Phase != camerarecorder.PhaseIdle {
		t.Errorf("initial phase = %v", state.Phase)
	}

	if _, err := cam.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	state, ok := rx.TryReceive()
	if !ok || !state.IsRecording() {
		t.Errorf("TryReceive() = (%+v, %v), want a recording state", state, ok)
	}
}

func TestCamera_CloseStopsActiveRecording(t *testing.T) {
	backend := simulated.New(simulated.Config{})
	dir := t.TempDir()
	cam, err := camerarecorder.NewCamera(backend, camerarecorder.DefaultCaptureSettings(), camerarecorder.Options{StorageDir: dir})
	if err != nil {
		t.Fatalf("NewCamera() error = %v", err)
	}
	if err := cam.StartSession(); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	waitFor(t, time.Second, "session running", backend.LastSession().IsRunning)

	a, err := cam.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cam.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-a.Done():
	default:
		t.Error("active attempt not completed by Close()")
	}
	if a.Outcome().Err != nil {
		t.Errorf("outcome error = %v", a.Outcome().Err)
	}
	if backend.LastSession().IsRunning() {
		t.Error("session still running after Close()")
	}

	// Idempotent, and the camera refuses new work
	if err := cam.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := cam.StartRecording(); !errors.Is(err, camerarecorder.ErrClosed) {
		t.Errorf("StartRecording() after Close() error = %v, want ErrClosed", err)
	}
	if err := cam.StartSession(); !errors.Is(err, camerarecorder.ErrClosed) {
		t.Errorf("StartSession() after Close() error = %v, want ErrClosed", err)
	}
	if err := cam.Reload(camerarecorder.DefaultCaptureSettings()); !errors.Is(err, camerarecorder.ErrClosed) {
		t.Errorf("Reload() after Close() error = %v, want ErrClosed", err)
	}
}

func TestCamera_CloseBoundedByContext(t *testing.T) {
	backend := simulated.New(simulated.Config{ManualCompletion: true})
	cam, err := camerarecorder.NewCamera(backend, camerarecorder.DefaultCaptureSettings(), camerarecorder.Options{
		StorageDir:  t.TempDir(),
		StopTimeout: -1,
	})
	if err != nil {
		t.Fatalf("NewCamera() error = %v", err)
	}
	if err := cam.StartSession(); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	waitFor(t, time.Second, "session running", backend.LastSession().IsRunning)

	if _, err := cam.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := cam.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want DeadlineExceeded", err)
	}
}

func TestCamera_DefaultStorageDirIsUsed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "videos")
	cam, _ := newRunningCamera(t, simulated.Config{}, camerarecorder.Options{StorageDir: dir})

	a, err := cam.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if filepath.Dir(a.Path) != dir {
		t.Errorf("path %q not in %q", a.Path, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("storage dir not created: %v", err)
	}
}

func TestCamera_StartRacingClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		backend := simulated.New(simulated.Config{})
		cam, err := camerarecorder.NewCamera(backend, camerarecorder.DefaultCaptureSettings(), camerarecorder.Options{StorageDir: t.TempDir()})
		if err != nil {
			t.Fatalf("NewCamera() error = %v", err)
		}
		if err := cam.StartSession(); err != nil {
			t.Fatalf("StartSession() error = %v", err)
		}
		waitFor(t, time.Second, "session running", func() bool {
			s := backend.LastSession()
			return s != nil && s.IsRunning()
		})

		type result struct {
			a   *camerarecorder.Attempt
			err error
		}
		started := make(chan result, 1)
		go func() {
			a, err := cam.StartRecording()
			started <- result{a, err}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := cam.Close(ctx); err != nil {
			t.Fatalf("iteration %d: Close() error = %v", i, err)
		}
		cancel()

		res := <-started
		if res.err != nil {
			if !errors.Is(res.err, camerarecorder.ErrClosed) {
				t.Fatalf("iteration %d: StartRecording() error = %v", i, res.err)
			}
			continue
		}
		// An accepted attempt was finished by Close
		select {
		case <-res.a.Done():
		default:
			t.Fatalf("iteration %d: attempt accepted during Close() left open", i)
		}
	}
}
