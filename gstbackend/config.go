// Package gstbackend implements camerarecorder.Backend on GStreamer.
//
// A session runs one pipeline at a time. While idle the pipeline only feeds
// the preview appsink; starting a recording swaps in a pipeline with an
// H.264/MP4 branch teed off the same camera, and stopping sends EOS so the
// muxer can finalize the file before the preview-only pipeline comes back.
//
// Building requires cgo and the GStreamer development packages. Without cgo
// New returns ErrUnavailable.
package gstbackend

import (
	"errors"
	"fmt"
	"os"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/gstpipe"
)

var (
	// ErrUnavailable is returned by New when GStreamer cannot be used
	ErrUnavailable = errors.New("gstbackend: GStreamer not available")
	// ErrSessionNotRunning terminates a recording started on a stopped session
	ErrSessionNotRunning = errors.New("gstbackend: session is not running")
	// ErrSessionStopped terminates a recording whose session was stopped
	ErrSessionStopped = errors.New("gstbackend: session stopped while recording")
	// ErrOutputBusy terminates a recording started while another is active
	ErrOutputBusy = errors.New("gstbackend: output already recording")
	// ErrEOSTimeout terminates a recording whose muxer never drained
	ErrEOSTimeout = errors.New("gstbackend: end of stream not received")
)

// PipelineError is a classified error posted on a pipeline bus
type PipelineError struct {
	Category gstpipe.ErrorCategory
	Message  string
	Debug    string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("gstbackend: pipeline error [%s]: %s", e.Category, e.Message)
}

func newPipelineError(message, debug string) *PipelineError {
	return &PipelineError{
		Category: gstpipe.Classify(message, debug),
		Message:  message,
		Debug:    debug,
	}
}

// AudioNone disables the microphone
const AudioNone = "none"

// Config configures the GStreamer backend
type Config struct {
	// VideoDevices maps camera positions to V4L2 device nodes
	// (default: back=/dev/video0, front=/dev/video1)
	VideoDevices map[camerarecorder.DevicePosition]string
	// AudioSource is pulsesrc, alsasrc or "none" (default: pulsesrc)
	AudioSource string
	// AudioDevice is the source's device property (default: the source's default device)
	AudioDevice string
	// Bitrate is the H.264 target bitrate in kbit/s (default: 8000)
	Bitrate int
	// PreviewWidth and PreviewHeight size preview frames (default: 640x360)
	PreviewWidth  int
	PreviewHeight int
	// ProbeDevices makes DefaultDevice report only device nodes that exist
	ProbeDevices bool
	// StartTimeout bounds the wait for a pipeline to reach PLAYING (default: 5 seconds)
	StartTimeout time.Duration
	// EOSTimeout bounds the wait for the muxer to drain after a stop (default: 5 seconds)
	EOSTimeout time.Duration
	// Retry controls restarting the preview pipeline after a failure
	Retry gstpipe.RetryConfig
}

// DefaultConfig returns the defaults applied to zero fields by New
func DefaultConfig() Config {
	return Config{
		VideoDevices: map[camerarecorder.DevicePosition]string{
			camerarecorder.PositionBack:  "/dev/video0",
			camerarecorder.PositionFront: "/dev/video1",
		},
		AudioSource:   gstpipe.AudioSourcePulse,
		Bitrate:       8000,
		PreviewWidth:  640,
		PreviewHeight: 360,
		StartTimeout:  5 * time.Second,
		EOSTimeout:    5 * time.Second,
		Retry:         gstpipe.DefaultRetryConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if len(c.VideoDevices) == 0 {
		c.VideoDevices = def.VideoDevices
	}
	if c.AudioSource == "" {
		c.AudioSource = def.AudioSource
	}
	if c.Bitrate <= 0 {
		c.Bitrate = def.Bitrate
	}
	if c.PreviewWidth <= 0 || c.PreviewHeight <= 0 {
		c.PreviewWidth, c.PreviewHeight = def.PreviewWidth, def.PreviewHeight
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = def.StartTimeout
	}
	if c.EOSTimeout <= 0 {
		c.EOSTimeout = def.EOSTimeout
	}
	if c.Retry.MaxRetries <= 0 || c.Retry.RetryDelay <= 0 || c.Retry.MaxRetryDelay <= 0 {
		c.Retry = def.Retry
	}
}

// Validate checks a configuration after defaults were applied
func (c Config) Validate() error {
	for pos, dev := range c.VideoDevices {
		if pos == camerarecorder.PositionUnspecified {
			return fmt.Errorf("gstbackend: camera %q has no position", dev)
		}
		if dev == "" {
			return fmt.Errorf("gstbackend: empty device node for %s camera", pos)
		}
	}
	switch c.AudioSource {
	case gstpipe.AudioSourcePulse, gstpipe.AudioSourceALSA, AudioNone:
	default:
		return fmt.Errorf("gstbackend: unknown audio source %q (must be pulsesrc, alsasrc or none)", c.AudioSource)
	}
	return nil
}

// videoDevice returns the camera at position, probing the node when configured
func (c Config) videoDevice(position camerarecorder.DevicePosition) (camerarecorder.Device, bool) {
	node, ok := c.VideoDevices[position]
	if !ok {
		return camerarecorder.Device{}, false
	}
	if c.ProbeDevices {
		if _, err := os.Stat(node); err != nil {
			return camerarecorder.Device{}, false
		}
	}
	return camerarecorder.Device{
		ID:       node,
		Name:     fmt.Sprintf("V4L2 %s camera (%s)", position, node),
		Media:    camerarecorder.MediaVideo,
		Position: position,
	}, true
}

// audioDevice returns the microphone unless audio is disabled
func (c Config) audioDevice() (camerarecorder.Device, bool) {
	if c.AudioSource == AudioNone {
		return camerarecorder.Device{}, false
	}
	id := c.AudioDevice
	if id == "" {
		id = c.AudioSource + ":default"
	}
	return camerarecorder.Device{
		ID:    id,
		Name:  fmt.Sprintf("%s microphone", c.AudioSource),
		Media: camerarecorder.MediaAudio,
	}, true
}

// flipFor maps the connection orientation to a videoflip method for a
// landscape sensor
func flipFor(o camerarecorder.Orientation) string {
	switch o {
	case camerarecorder.OrientationPortrait:
		return gstpipe.FlipClockwise
	case camerarecorder.OrientationPortraitUpsideDown:
		return gstpipe.FlipCounterclockwise
	case camerarecorder.OrientationLandscapeLeft:
		return gstpipe.FlipRotate180
	default:
		return gstpipe.FlipNone
	}
}

// pipelineConfig assembles the pipeline for a session format. An empty
// recordPath yields the preview-only pipeline.
func (c Config) pipelineConfig(format camerarecorder.ResolvedConfig, videoNode string, withAudio bool, recordPath, flip string) gstpipe.PipelineConfig {
	cfg := gstpipe.PipelineConfig{
		VideoDevice:   videoNode,
		Width:         format.Width,
		Height:        format.Height,
		FrameRate:     format.FrameRate,
		PreviewWidth:  c.PreviewWidth,
		PreviewHeight: c.PreviewHeight,
		RecordPath:    recordPath,
		Bitrate:       c.Bitrate,
		Flip:          flip,
	}
	if withAudio && c.AudioSource != AudioNone {
		cfg.AudioSource = c.AudioSource
		cfg.AudioDevice = c.AudioDevice
	}
	return cfg
}
