package camerarecorder

import (
	"fmt"
	"strings"
	"time"
)

// Facing selects which physical camera a session captures from
type Facing int

const (
	// FacingBack is the rear (world-facing) camera
	FacingBack Facing = iota
	// FacingFront is the user-facing camera
	FacingFront
)

// String returns a human-readable string representation of the facing
func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ParseFacing parses "back" or "front" (case-insensitive)
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back", "rear":
		return FacingBack, nil
	case "front", "user":
		return FacingFront, nil
	default:
		return 0, fmt.Errorf("camera-recorder: unknown facing %q (must be back or front)", s)
	}
}

// Resolution represents supported recording resolutions
type Resolution int

const (
	// Res720p represents 1280x720 resolution (HD)
	Res720p Resolution = iota
	// Res1080p represents 1920x1080 resolution (Full HD)
	Res1080p
	// Res4K represents 3840x2160 resolution (UHD)
	Res4K
)

// Resolutions lists every supported resolution, in ascending order
func Resolutions() []Resolution {
	return []Resolution{Res720p, Res1080p, Res4K}
}

// String returns a human-readable string representation of the resolution
func (r Resolution) String() string {
	switch r {
	case Res720p:
		return "720p"
	case Res1080p:
		return "1080p"
	case Res4K:
		return "4K"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseResolution parses "720p", "1080p" or "4k" (case-insensitive)
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "720p", "hd":
		return Res720p, nil
	case "1080p", "fullhd":
		return Res1080p, nil
	case "4k", "2160p", "uhd":
		return Res4K, nil
	default:
		return 0, fmt.Errorf("camera-recorder: unknown resolution %q (must be 720p, 1080p or 4k)", s)
	}
}

// CaptureSettings is the requested camera configuration.
//
// Settings are plain values: a new configuration pass always takes a fresh
// CaptureSettings and never mutates the one currently applied.
type CaptureSettings struct {
	// Facing selects the back or front camera
	Facing Facing
	// Resolution selects the session preset
	Resolution Resolution
	// FrameRate is the requested capture rate in frames per second (> 0)
	FrameRate int
}

// DefaultCaptureSettings returns back camera, 1080p, 30 fps
func DefaultCaptureSettings() CaptureSettings {
	return CaptureSettings{
		Facing:     FacingBack,
		Resolution: Res1080p,
		FrameRate:  30,
	}
}

// Validate checks the settings without resolving them
func (s CaptureSettings) Validate() error {
	if s.Facing != FacingBack && s.Facing != FacingFront {
		return fmt.Errorf("camera-recorder: invalid facing %v", s.Facing)
	}
	if s.Resolution < Res720p || s.Resolution > Res4K {
		return fmt.Errorf("camera-recorder: invalid resolution %v", s.Resolution)
	}
	if s.FrameRate <= 0 {
		return fmt.Errorf("camera-recorder: invalid frame rate %d (must be > 0)", s.FrameRate)
	}
	return nil
}

// String formats the settings as "back/1080p@30"
func (s CaptureSettings) String() string {
	return fmt.Sprintf("%s/%s@%d", s.Facing, s.Resolution, s.FrameRate)
}

// RecordingPhase is the tagged state of the recording state machine.
//
//	Idle → Starting → Recording → Stopping → Idle
//
// Starting is entered optimistically when the start call is issued; the
// transition back to Idle only ever happens when a completion is consumed.
type RecordingPhase int

const (
	PhaseIdle RecordingPhase = iota
	PhaseStarting
	PhaseRecording
	PhaseStopping
)

// String returns a human-readable string representation of the phase
func (p RecordingPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRecording:
		return "recording"
	case PhaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// RecordingState is a snapshot of the recording state machine
type RecordingState struct {
	// Phase is the current tagged state
	Phase RecordingPhase
	// AttemptID identifies the in-flight attempt (empty when Idle)
	AttemptID string
	// ActiveOutputPath is the destination of the in-flight attempt
	ActiveOutputPath string
	// LastCompletedPath is the file of the most recent successful attempt
	LastCompletedPath string
	// LastError is the error of the most recent failed attempt (nil after a success)
	LastError error
	// StartedAt is when the in-flight attempt was accepted
	StartedAt time.Time
	// UpdatedAt is when this snapshot was taken
	UpdatedAt time.Time
}

// IsRecording reports whether an accepted attempt has not yet completed
func (s RecordingState) IsRecording() bool {
	return s.Phase != PhaseIdle
}

// PersistenceStatus tracks the media-library hand-off of a finished attempt
type PersistenceStatus int

const (
	// PersistencePending means the file was handed to the library and the save is in flight
	PersistencePending PersistenceStatus = iota
	// PersistenceSkipped means the attempt failed or no library is configured
	PersistenceSkipped
	// PersistenceSaved means the library accepted the file
	PersistenceSaved
	// PersistenceFailed means the library rejected the file (see Outcome.SaveErr)
	PersistenceFailed
)

// String returns a human-readable string representation of the status
func (p PersistenceStatus) String() string {
	switch p {
	case PersistencePending:
		return "pending"
	case PersistenceSkipped:
		return "skipped"
	case PersistenceSaved:
		return "saved"
	case PersistenceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports how a recording attempt ended.
//
// Every attempt publishes one Outcome when it completes. Successful attempts
// forwarded to a library publish a second Outcome with the final persistence
// status.
type Outcome struct {
	AttemptID string
	// Path is the recorded file
	Path string
	// Err is nil, or wraps ErrRecordingFailed or ErrCompletionTimeout
	Err error
	// Persistence is the library hand-off status
	Persistence PersistenceStatus
	// SaveErr wraps ErrPersistenceFailed when Persistence is PersistenceFailed
	SaveErr error
	// LibraryRef is the library's identifier for the saved file, if any
	LibraryRef string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall-clock length of the attempt
func (o Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// SessionInfo describes the capture graph
type SessionInfo struct {
	// Running is true between Start and Stop
	Running bool
	// Functional is false when the last configuration left the graph inert
	Functional bool
	// Settings is the last requested configuration
	Settings CaptureSettings
	// Resolved is what Settings resolved to
	Resolved ResolvedConfig
	// HasAudio is true when a microphone input is attached
	HasAudio bool
	// VideoDevice is the ID of the attached camera, if any
	VideoDevice string
	// ConfigErr is the error reported by the last configuration pass
	ConfigErr error
	// Configurations counts configuration passes
	Configurations uint64
}

// CameraStats contains lifetime counters of a Camera
type CameraStats struct {
	SessionStarts uint64
	Attempts      uint64
	Completed     uint64
	Failed        uint64
	TimedOut      uint64
	Saved         uint64
	SaveFailed    uint64
}
