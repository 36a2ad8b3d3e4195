//go:build cgo

package gstbackend

import (
	"log/slog"
	"sync"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/gstpipe"
)

// FileOutput implements camerarecorder.FileOutput by asking the session
// supervisor to swap in a recording pipeline
type FileOutput struct {
	mu          sync.Mutex
	session     *Session
	orientation camerarecorder.Orientation
	oriented    bool
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

// StartRecording requests a recording to path. Rejected requests finish
// immediately on events.
func (o *FileOutput) StartRecording(path string, events chan<- camerarecorder.RecordingEvent) {
	o.mu.Lock()
	session := o.session
	flip := gstpipe.FlipNone
	if o.oriented {
		flip = flipFor(o.orientation)
	}
	o.mu.Unlock()

	if session == nil {
		events <- finished(path, ErrSessionNotRunning)
		return
	}

	err := session.submit(command{
		kind:   cmdStartRecording,
		path:   path,
		flip:   flip,
		events: events,
	})
	if err != nil {
		slog.Warn("gstbackend: recording request rejected", "path", path, "error", err)
		events <- finished(path, err)
	}
}

// StopRecording sends EOS to the active recording; its completion follows
// once the muxer has finalized the file
func (o *FileOutput) StopRecording() {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.submit(command{kind: cmdStopRecording}); err != nil {
		slog.Debug("gstbackend: stop request dropped", "error", err)
	}
}

// IsRecording reports whether the session is writing a file
func (o *FileOutput) IsRecording() bool {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()

	return session != nil && session.recording.Load()
}

func (o *FileOutput) attach(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = s
}

func (o *FileOutput) detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = nil
}

type connection struct {
	output *FileOutput
}

// SupportsOrientation is true: recordings are rotated with videoflip
func (c *connection) SupportsOrientation() bool {
	return true
}

func (c *connection) SetOrientation(orientation camerarecorder.Orientation) {
	c.output.mu.Lock()
	defer c.output.mu.Unlock()
	c.output.orientation = orientation
	c.output.oriented = true
}
