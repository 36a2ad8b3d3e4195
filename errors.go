package camerarecorder

import "errors"

// Errors surfaced by the camera. None of them is fatal: they are returned to
// the caller, recorded in RecordingState.LastError or published in an Outcome.
var (
	// ErrDeviceUnavailable means no matching camera exists or the session rejected an input/output
	ErrDeviceUnavailable = errors.New("camera-recorder: device unavailable")
	// ErrAlreadyRecording rejects a start while an attempt is in flight
	ErrAlreadyRecording = errors.New("camera-recorder: already recording")
	// ErrNotRecording rejects a stop when no attempt can be stopped
	ErrNotRecording = errors.New("camera-recorder: not recording")
	// ErrRecordingFailed means the completion event carried an error
	ErrRecordingFailed = errors.New("camera-recorder: recording failed")
	// ErrPersistenceFailed means the library did not accept a finished recording
	ErrPersistenceFailed = errors.New("camera-recorder: persistence failed")
	// ErrCompletionTimeout means no completion event arrived within the stop timeout
	ErrCompletionTimeout = errors.New("camera-recorder: completion timed out")
	// ErrStorageUnavailable means the destination directory could not be prepared
	ErrStorageUnavailable = errors.New("camera-recorder: storage unavailable")
	// ErrSessionRunning rejects a configuration pass on a running graph
	ErrSessionRunning = errors.New("camera-recorder: session is running")
	// ErrClosed rejects calls on a closed camera
	ErrClosed = errors.New("camera-recorder: camera is closed")
)
