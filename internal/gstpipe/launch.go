// Package gstpipe builds GStreamer launch descriptions for the capture
// pipeline and holds the backend-independent parts of running one: error
// classification and start retry with exponential backoff.
//
// Nothing here links against GStreamer, so it is testable without cgo.
package gstpipe

import (
	"errors"
	"fmt"
	"strings"
)

// Element names the backend looks up in a parsed pipeline
const (
	PreviewSinkName = "preview"
	VideoSourceName = "video_src"
	MuxerName       = "mux"
	FileSinkName    = "file_sink"
)

// Audio sources supported for the recording branch
const (
	AudioSourcePulse = "pulsesrc"
	AudioSourceALSA  = "alsasrc"
)

// Flip methods for the recording branch (videoflip "method" nicks)
const (
	FlipNone             = ""
	FlipClockwise        = "clockwise"
	FlipRotate180        = "rotate-180"
	FlipCounterclockwise = "counterclockwise"
)

// PipelineConfig describes one capture pipeline
type PipelineConfig struct {
	// VideoDevice is the V4L2 device node (e.g. /dev/video0)
	VideoDevice string
	// Width, Height and FrameRate are requested from the camera
	Width     int
	Height    int
	FrameRate int

	// PreviewWidth and PreviewHeight size the RGB frames handed to the preview appsink
	PreviewWidth  int
	PreviewHeight int

	// RecordPath enables the recording branch when non-empty
	RecordPath string
	// Bitrate is the H.264 target bitrate in kbit/s
	Bitrate int
	// Flip rotates the recorded video (FlipNone keeps the sensor orientation)
	Flip string

	// AudioSource is pulsesrc or alsasrc; empty records video only
	AudioSource string
	// AudioDevice is passed as the source's device property when set
	AudioDevice string
}

// Recording reports whether the pipeline includes the recording branch
func (c PipelineConfig) Recording() bool {
	return c.RecordPath != ""
}

// Validate checks the configuration before a launch description is built
func (c PipelineConfig) Validate() error {
	if c.VideoDevice == "" {
		return fmt.Errorf("gstpipe: video device is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("gstpipe: invalid capture size %dx%d", c.Width, c.Height)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("gstpipe: invalid frame rate %d", c.FrameRate)
	}
	if c.PreviewWidth <= 0 || c.PreviewHeight <= 0 {
		return fmt.Errorf("gstpipe: invalid preview size %dx%d", c.PreviewWidth, c.PreviewHeight)
	}
	for _, v := range []string{c.VideoDevice, c.RecordPath, c.AudioDevice} {
		if err := checkValue(v); err != nil {
			return err
		}
	}
	if !c.Recording() {
		return nil
	}

	if c.Bitrate <= 0 {
		return fmt.Errorf("gstpipe: invalid bitrate %d", c.Bitrate)
	}
	switch c.Flip {
	case FlipNone, FlipClockwise, FlipRotate180, FlipCounterclockwise:
	default:
		return fmt.Errorf("gstpipe: unknown flip method %q", c.Flip)
	}
	switch c.AudioSource {
	case "", AudioSourcePulse, AudioSourceALSA:
	default:
		return fmt.Errorf("gstpipe: unknown audio source %q", c.AudioSource)
	}
	return nil
}

// BuildLaunch returns the gst-launch description for cfg.
//
// Preview only:
//
//	v4l2src → caps → videoconvert → tee ─→ queue(leaky) → videoscale → RGB caps → appsink
//
// With a recording branch the tee also feeds:
//
//	queue → [videoflip] → x264enc → h264parse → mp4mux → filesink
//	[audio src → audioconvert → audioresample → avenc_aac → aacparse → mp4mux]
func BuildLaunch(cfg PipelineConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder

	fmt.Fprintf(&b, "v4l2src device=%s name=%s do-timestamp=true", quote(cfg.VideoDevice), VideoSourceName)
	fmt.Fprintf(&b, " ! %s", RawCaps(cfg.Width, cfg.Height, cfg.FrameRate))
	b.WriteString(" ! videoconvert ! tee name=t")

	// Preview branch: latest frame only
	b.WriteString(" t. ! queue leaky=downstream max-size-buffers=1")
	fmt.Fprintf(&b, " ! videoscale ! video/x-raw,format=RGB,width=%d,height=%d", cfg.PreviewWidth, cfg.PreviewHeight)
	fmt.Fprintf(&b, " ! appsink name=%s sync=false max-buffers=1 drop=true", PreviewSinkName)

	if !cfg.Recording() {
		return b.String(), nil
	}

	b.WriteString(" t. ! queue")
	if cfg.Flip != FlipNone {
		fmt.Fprintf(&b, " ! videoflip method=%s", cfg.Flip)
	}
	fmt.Fprintf(&b, " ! x264enc bitrate=%d tune=zerolatency speed-preset=veryfast", cfg.Bitrate)
	b.WriteString(" ! h264parse")
	fmt.Fprintf(&b, " ! mp4mux name=%s", MuxerName)
	fmt.Fprintf(&b, " ! filesink name=%s location=%s", FileSinkName, quote(cfg.RecordPath))

	if cfg.AudioSource != "" {
		b.WriteString(" " + cfg.AudioSource)
		if cfg.AudioDevice != "" {
			fmt.Fprintf(&b, " device=%s", quote(cfg.AudioDevice))
		}
		b.WriteString(" ! queue ! audioconvert ! audioresample ! avenc_aac ! aacparse")
		fmt.Fprintf(&b, " ! %s.", MuxerName)
	}

	return b.String(), nil
}

// RawCaps formats raw video caps for the camera
func RawCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

// ErrUnquotable is returned for values that cannot be embedded in a launch description
var ErrUnquotable = errors.New("gstpipe: value contains a newline")

// quote wraps s in double quotes, escaping backslashes and quotes
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// checkValue rejects values that quote cannot make safe
func checkValue(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%w: %q", ErrUnquotable, s)
	}
	return nil
}
