//go:build cgo

package gstbackend

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
)

var gstInitOnce sync.Once

// initGStreamer initializes the GStreamer library once per process
func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// requiredElements must be installed for any pipeline this backend builds
var requiredElements = []string{
	"v4l2src", "videoconvert", "videoscale", "tee", "queue", "appsink",
	"x264enc", "h264parse", "mp4mux", "filesink",
}

// Backend implements camerarecorder.Backend on GStreamer
type Backend struct {
	cfg Config

	mu   sync.Mutex
	held map[string]bool
}

// New checks that GStreamer and the required elements are available.
// Missing audio elements only disable the microphone.
func New(cfg Config) (*Backend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	initGStreamer()

	for _, name := range requiredElements {
		if gst.Find(name) == nil {
			return nil, fmt.Errorf("%w: element %q not installed", ErrUnavailable, name)
		}
	}

	if cfg.AudioSource != AudioNone {
		for _, name := range []string{cfg.AudioSource, "audioconvert", "audioresample", "avenc_aac", "aacparse"} {
			if gst.Find(name) == nil {
				slog.Warn("gstbackend: audio element missing, recording video only", "element", name)
				cfg.AudioSource = AudioNone
				break
			}
		}
	}

	slog.Info("gstbackend: backend ready",
		"cameras", len(cfg.VideoDevices),
		"audio", cfg.AudioSource,
		"bitrate_kbps", cfg.Bitrate,
		"preview", fmt.Sprintf("%dx%d", cfg.PreviewWidth, cfg.PreviewHeight),
	)

	return &Backend{
		cfg:  cfg,
		held: make(map[string]bool),
	}, nil
}

// NewSession creates an idle session
func (b *Backend) NewSession() (camerarecorder.Session, error) {
	return newSession(b), nil
}

// DefaultDevice returns the configured camera at position, or the microphone
func (b *Backend) DefaultDevice(media camerarecorder.MediaType, position camerarecorder.DevicePosition) (camerarecorder.Device, bool) {
	if media == camerarecorder.MediaAudio {
		return b.cfg.audioDevice()
	}
	return b.cfg.videoDevice(position)
}

// NewDeviceInput opens device. A device node can feed one session at a time.
func (b *Backend) NewDeviceInput(device camerarecorder.Device) (camerarecorder.DeviceInput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.held[device.ID] {
		return nil, fmt.Errorf("gstbackend: device %s already attached to a session", device.ID)
	}
	return &deviceInput{device: device}, nil
}

// NewFileOutput creates a file output
func (b *Backend) NewFileOutput() (camerarecorder.FileOutput, error) {
	return &FileOutput{}, nil
}

func (b *Backend) hold(device camerarecorder.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held[device.ID] = true
}

func (b *Backend) release(device camerarecorder.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, device.ID)
}

type deviceInput struct {
	device camerarecorder.Device
}

func (in *deviceInput) Device() camerarecorder.Device {
	return in.device
}
