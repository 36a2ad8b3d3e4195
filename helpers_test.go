package camerarecorder_test

import (
	"context"
	"sync"
	"testing"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/simulated"
)

// waitFor polls cond until it holds or timeout expires
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout after %v waiting for %s", timeout, what)
}

// waitAttempt blocks until the attempt completes
func waitAttempt(t *testing.T, a *camerarecorder.Attempt) camerarecorder.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o, err := a.Wait(ctx)
	if err != nil {
		t.Fatalf("attempt %s did not complete: %v", a.ID, err)
	}
	return o
}

// recordingLibrary records every Save call
type recordingLibrary struct {
	mu    sync.Mutex
	paths []string
	err   error
	saved chan string
}

func newRecordingLibrary(err error) *recordingLibrary {
	return &recordingLibrary{err: err, saved: make(chan string, 16)}
}

func (l *recordingLibrary) Save(ctx context.Context, path string) (string, error) {
	l.mu.Lock()
	l.paths = append(l.paths, path)
	l.mu.Unlock()

	l.saved <- path
	if l.err != nil {
		return "", l.err
	}
	return "lib:" + path, nil
}

func (l *recordingLibrary) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// newRunningCamera builds a camera on a simulated backend and waits for the session to run
func newRunningCamera(t *testing.T, cfg simulated.Config, opts camerarecorder.Options) (*camerarecorder.Camera, *simulated.Backend) {
	t.Helper()

	backend := simulated.New(cfg)
	if opts.StorageDir == "" {
		opts.StorageDir = t.TempDir()
	}

	cam, err := camerarecorder.NewCamera(backend, camerarecorder.DefaultCaptureSettings(), opts)
	if err != nil {
		t.Fatalf("NewCamera() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cam.Close(ctx)
	})

	if err := cam.StartSession(); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	waitFor(t, time.Second, "session running", func() bool {
		s := backend.LastSession()
		return s != nil && s.IsRunning()
	})

	return cam, backend
}
