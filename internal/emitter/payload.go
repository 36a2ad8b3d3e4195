package emitter

import (
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
)

// StatePayload is the retained recording-state message
type StatePayload struct {
	InstanceID        string `json:"instance_id"`
	Phase             string `json:"phase"`
	IsRecording       bool   `json:"is_recording"`
	AttemptID         string `json:"attempt_id,omitempty"`
	ActiveOutputPath  string `json:"active_output_path,omitempty"`
	LastCompletedPath string `json:"last_completed_path,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	StartedAt         string `json:"started_at,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// NewStatePayload converts a recording state snapshot
func NewStatePayload(instanceID string, s camerarecorder.RecordingState) StatePayload {
	p := StatePayload{
		InstanceID:        instanceID,
		Phase:             s.Phase.String(),
		IsRecording:       s.IsRecording(),
		AttemptID:         s.AttemptID,
		ActiveOutputPath:  s.ActiveOutputPath,
		LastCompletedPath: s.LastCompletedPath,
		StartedAt:         formatTime(s.StartedAt),
		Timestamp:         formatTime(s.UpdatedAt),
	}
	if s.LastError != nil {
		p.LastError = s.LastError.Error()
	}
	if p.Timestamp == "" {
		p.Timestamp = formatTime(time.Now())
	}
	return p
}

// OutcomePayload is the event published for every recording outcome
type OutcomePayload struct {
	InstanceID  string `json:"instance_id"`
	Event       string `json:"event"`
	AttemptID   string `json:"attempt_id"`
	Path        string `json:"path,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Persistence string `json:"persistence"`
	SaveError   string `json:"save_error,omitempty"`
	LibraryRef  string `json:"library_ref,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	FinishedAt  string `json:"finished_at,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	Timestamp   string `json:"timestamp"`
}

// Outcome events
const (
	EventRecordingFinished = "recording_finished"
	EventRecordingSaved    = "recording_saved"
)

// NewOutcomePayload converts an outcome. Persistence updates of a finished
// attempt are reported as recording_saved.
func NewOutcomePayload(instanceID string, o camerarecorder.Outcome) OutcomePayload {
	p := OutcomePayload{
		InstanceID:  instanceID,
		Event:       EventRecordingFinished,
		AttemptID:   o.AttemptID,
		Path:        o.Path,
		Success:     o.Err == nil,
		Persistence: o.Persistence.String(),
		LibraryRef:  o.LibraryRef,
		StartedAt:   formatTime(o.StartedAt),
		FinishedAt:  formatTime(o.FinishedAt),
		DurationMS:  o.Duration().Milliseconds(),
		Timestamp:   formatTime(time.Now()),
	}
	if o.Err != nil {
		p.Error = o.Err.Error()
	}
	if o.SaveErr != nil {
		p.SaveError = o.SaveErr.Error()
	}
	if o.Persistence == camerarecorder.PersistenceSaved || o.Persistence == camerarecorder.PersistenceFailed {
		p.Event = EventRecordingSaved
	}
	return p
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
