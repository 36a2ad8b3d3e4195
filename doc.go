// Package camerarecorder implements a camera capture pipeline: a live
// preview feed plus on-demand video recording to local files, with finished
// recordings handed to a media library.
//
// # Philosophy
//
// "The completion event is the only truth."
//
// Starting a recording is optimistic, stopping one is not. The state machine
// only returns to Idle when the backend reports that the attempt finished,
// successfully or not. Every attempt has its own ID, so a completion that
// arrives after the attempt was abandoned is discarded instead of corrupting
// the next one.
//
// # Architecture
//
//	CaptureSettings → Resolve → CaptureGraph ──→ PreviewPort → RenderTarget
//	                                 │
//	                                 └─ FileOutput ← RecordingController
//	                                        │
//	                                   completion event
//	                                        ↓
//	                                 CompletionSink → Library
//
// Components:
//
//   - Resolve: pure mapping from settings to a session preset
//   - CaptureGraph: session lifecycle (configure, start, stop, reconfigure)
//   - PreviewPort: memoized render target that follows the live session
//   - RecordingController: Idle → Starting → Recording → Stopping → Idle
//   - CompletionSink: consumes completions, bounds stops, persists files
//
// Camera wires all of them together and is the entry point most callers need.
//
// # Basic Usage
//
//	cam, err := camerarecorder.NewCamera(backend, camerarecorder.DefaultCaptureSettings(), camerarecorder.Options{
//	    StorageDir: "/var/lib/camera-recorder",
//	    Library:    lib,
//	})
//	if err != nil {
//	    return err
//	}
//	defer cam.Close(ctx)
//
//	if err := cam.StartSession(); err != nil {
//	    return err // ErrDeviceUnavailable when the camera is missing
//	}
//
//	attempt, err := cam.StartRecording()
//	if err != nil {
//	    return err
//	}
//	// ...
//	_ = cam.StopRecording()
//	outcome, err := attempt.Wait(ctx)
//
// # Backends
//
// The Backend interface abstracts the platform capture subsystem.
// gstbackend drives a GStreamer pipeline; internal/simulated is an in-memory
// backend used by tests and by camerad when no camera is attached.
//
// # Concurrency
//
// Lifecycle calls on the graph are serialized. Session start is dispatched
// off the caller's goroutine. Completion events may arrive on any goroutine;
// every state mutation is guarded and published to subscribers as a
// latest-value snapshot.
package camerarecorder
