package camerarecorder

import "time"

// DevicePosition is the physical placement of a capture device
type DevicePosition int

const (
	PositionUnspecified DevicePosition = iota
	PositionBack
	PositionFront
)

// String returns a human-readable string representation of the position
func (p DevicePosition) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return "unspecified"
	}
}

// MediaType distinguishes camera devices from microphones
type MediaType int

const (
	MediaVideo MediaType = iota
	MediaAudio
)

// String returns a human-readable string representation of the media type
func (m MediaType) String() string {
	if m == MediaAudio {
		return "audio"
	}
	return "video"
}

// Orientation is the rotation applied to recorded video
type Orientation int

const (
	OrientationPortrait Orientation = iota
	OrientationPortraitUpsideDown
	OrientationLandscapeRight
	OrientationLandscapeLeft
)

// String returns a human-readable string representation of the orientation
func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationPortraitUpsideDown:
		return "portrait-upside-down"
	case OrientationLandscapeRight:
		return "landscape-right"
	case OrientationLandscapeLeft:
		return "landscape-left"
	default:
		return "unknown"
	}
}

// Device describes a capture device discovered by a Backend
type Device struct {
	// ID is the backend-specific identifier (e.g., "/dev/video0")
	ID       string
	Name     string
	Media    MediaType
	Position DevicePosition
}

// Backend is the platform capture subsystem.
//
// Implementations: the GStreamer backend (package gstbackend) and the
// in-memory simulator used by tests and the daemon's sim mode.
type Backend interface {
	// NewSession creates an idle, empty session
	NewSession() (Session, error)
	// DefaultDevice returns the preferred device of a media type at a position.
	// Audio devices ignore the position.
	DefaultDevice(media MediaType, position DevicePosition) (Device, bool)
	// NewDeviceInput acquires a device for use as a session input
	NewDeviceInput(device Device) (DeviceInput, error)
	// NewFileOutput creates a movie-file output
	NewFileOutput() (FileOutput, error)
}

// DeviceInput is an acquired device that can be attached to a session
type DeviceInput interface {
	Device() Device
}

// Session coordinates inputs and outputs.
//
// Every mutation (inputs, outputs, format) must happen between
// BeginConfiguration and CommitConfiguration; a running session applies the
// whole batch at commit.
type Session interface {
	BeginConfiguration()
	CommitConfiguration()

	// SetFormat applies the resolved preset and frame rate
	SetFormat(format ResolvedConfig)

	Inputs() []DeviceInput
	CanAddInput(input DeviceInput) bool
	AddInput(input DeviceInput)
	RemoveInput(input DeviceInput)

	Outputs() []FileOutput
	CanAddOutput(output FileOutput) bool
	AddOutput(output FileOutput)
	RemoveOutput(output FileOutput)

	// StartRunning blocks until the session is running (callers dispatch it off their goroutine)
	StartRunning()
	// StopRunning blocks until the session has stopped
	StopRunning()
	IsRunning() bool
}

// Connection is the video connection between a session and an output
type Connection interface {
	SupportsOrientation() bool
	SetOrientation(o Orientation)
}

// FileOutput records the session's media to a file.
//
// Contract: every StartRecording call results in exactly one EventFinished
// delivered on the given channel, whether the attempt is stopped by the
// caller or terminated by the subsystem (storage exhausted, session stopped).
// An EventStarted may precede it. Events are delivered from the backend's
// own goroutine; the channel is buffered by the caller so sends never block.
type FileOutput interface {
	// VideoConnection returns nil when the output is not attached to a video input
	VideoConnection() Connection
	StartRecording(path string, events chan<- RecordingEvent)
	StopRecording()
	IsRecording() bool
}

// PreviewSource is implemented by sessions that expose decoded preview frames
type PreviewSource interface {
	LatestPreviewFrame() (PreviewFrame, bool)
}

// PreviewFrame is a single decoded frame from the live session
type PreviewFrame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was decoded
	Timestamp time.Time
	Width     int
	Height    int
	// Data contains RGB pixels
	Data []byte
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// RecordingEventKind distinguishes start confirmations from completions
type RecordingEventKind int

const (
	// EventStarted confirms the output began writing
	EventStarted RecordingEventKind = iota
	// EventFinished is the single completion of an attempt
	EventFinished
)

// String returns a human-readable string representation of the kind
func (k RecordingEventKind) String() string {
	if k == EventStarted {
		return "started"
	}
	return "finished"
}

// RecordingEvent is delivered by a FileOutput for a recording attempt
type RecordingEvent struct {
	Kind RecordingEventKind
	// Path is the file written by the attempt
	Path string
	// Err is non-nil when the attempt terminated abnormally
	Err error
	At  time.Time
}
