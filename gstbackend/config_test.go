package gstbackend

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/gstpipe"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	def := DefaultConfig()
	if cfg.VideoDevices[camerarecorder.PositionBack] != "/dev/video0" {
		t.Errorf("back camera = %q, want /dev/video0", cfg.VideoDevices[camerarecorder.PositionBack])
	}
	if cfg.AudioSource != gstpipe.AudioSourcePulse {
		t.Errorf("AudioSource = %q, want %q", cfg.AudioSource, gstpipe.AudioSourcePulse)
	}
	if cfg.Bitrate != def.Bitrate || cfg.PreviewWidth != 640 || cfg.PreviewHeight != 360 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.StartTimeout != 5*time.Second || cfg.EOSTimeout != 5*time.Second {
		t.Errorf("timeouts = %v/%v, want 5s/5s", cfg.StartTimeout, cfg.EOSTimeout)
	}
	if cfg.Retry != gstpipe.DefaultRetryConfig() {
		t.Errorf("Retry = %+v, want defaults", cfg.Retry)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		VideoDevices: map[camerarecorder.DevicePosition]string{camerarecorder.PositionFront: "/dev/video4"},
		AudioSource:  AudioNone,
		Bitrate:      2000,
		EOSTimeout:   time.Second,
	}
	cfg.applyDefaults()

	if len(cfg.VideoDevices) != 1 || cfg.VideoDevices[camerarecorder.PositionFront] != "/dev/video4" {
		t.Errorf("VideoDevices overwritten: %v", cfg.VideoDevices)
	}
	if cfg.AudioSource != AudioNone || cfg.Bitrate != 2000 || cfg.EOSTimeout != time.Second {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"alsa", func(c *Config) { c.AudioSource = gstpipe.AudioSourceALSA }, ""},
		{"no audio", func(c *Config) { c.AudioSource = AudioNone }, ""},
		{"unknown audio", func(c *Config) { c.AudioSource = "jackaudiosrc" }, "unknown audio source"},
		{"empty node", func(c *Config) {
			c.VideoDevices = map[camerarecorder.DevicePosition]string{camerarecorder.PositionBack: ""}
		}, "empty device node"},
		{"no position", func(c *Config) {
			c.VideoDevices = map[camerarecorder.DevicePosition]string{camerarecorder.PositionUnspecified: "/dev/video0"}
		}, "has no position"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestVideoDevice(t *testing.T) {
	cfg := DefaultConfig()

	dev, ok := cfg.videoDevice(camerarecorder.PositionFront)
	if !ok {
		t.Fatal("front camera not found")
	}
	if dev.ID != "/dev/video1" || dev.Media != camerarecorder.MediaVideo || dev.Position != camerarecorder.PositionFront {
		t.Errorf("unexpected device %+v", dev)
	}

	cfg.VideoDevices = map[camerarecorder.DevicePosition]string{camerarecorder.PositionBack: "/dev/video0"}
	if _, ok := cfg.videoDevice(camerarecorder.PositionFront); ok {
		t.Error("unconfigured position should not resolve")
	}
}

func TestVideoDeviceProbe(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ProbeDevices = true
	cfg.VideoDevices = map[camerarecorder.DevicePosition]string{
		camerarecorder.PositionBack:  dir,
		camerarecorder.PositionFront: filepath.Join(dir, "missing"),
	}

	if _, ok := cfg.videoDevice(camerarecorder.PositionBack); !ok {
		t.Error("existing node should be reported")
	}
	if _, ok := cfg.videoDevice(camerarecorder.PositionFront); ok {
		t.Error("missing node should not be reported when probing")
	}
}

func TestAudioDevice(t *testing.T) {
	cfg := DefaultConfig()
	dev, ok := cfg.audioDevice()
	if !ok {
		t.Fatal("microphone not reported")
	}
	if dev.ID != "pulsesrc:default" || dev.Media != camerarecorder.MediaAudio {
		t.Errorf("unexpected device %+v", dev)
	}

	cfg.AudioDevice = "hw:1,0"
	if dev, _ := cfg.audioDevice(); dev.ID != "hw:1,0" {
		t.Errorf("ID = %q, want hw:1,0", dev.ID)
	}

	cfg.AudioSource = AudioNone
	if _, ok := cfg.audioDevice(); ok {
		t.Error("microphone reported with audio disabled")
	}
}

func TestFlipFor(t *testing.T) {
	tests := []struct {
		orientation camerarecorder.Orientation
		want        string
	}{
		{camerarecorder.OrientationPortrait, gstpipe.FlipClockwise},
		{camerarecorder.OrientationPortraitUpsideDown, gstpipe.FlipCounterclockwise},
		{camerarecorder.OrientationLandscapeLeft, gstpipe.FlipRotate180},
		{camerarecorder.OrientationLandscapeRight, gstpipe.FlipNone},
	}

	for _, tt := range tests {
		t.Run(tt.orientation.String(), func(t *testing.T) {
			if got := flipFor(tt.orientation); got != tt.want {
				t.Errorf("flipFor(%v) = %q, want %q", tt.orientation, got, tt.want)
			}
		})
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	format := camerarecorder.ResolvedConfig{Width: 1920, Height: 1080, FrameRate: 30}

	preview := cfg.pipelineConfig(format, "/dev/video0", true, "", gstpipe.FlipNone)
	if preview.Recording() {
		t.Error("empty path should build a preview-only pipeline")
	}
	if err := preview.Validate(); err != nil {
		t.Fatalf("preview Validate() = %v", err)
	}

	rec := cfg.pipelineConfig(format, "/dev/video0", true, "/tmp/a.mp4", gstpipe.FlipClockwise)
	if !rec.Recording() || rec.AudioSource != gstpipe.AudioSourcePulse || rec.Flip != gstpipe.FlipClockwise {
		t.Errorf("unexpected recording config %+v", rec)
	}
	if rec.Width != 1920 || rec.Height != 1080 || rec.FrameRate != 30 || rec.Bitrate != cfg.Bitrate {
		t.Errorf("format not applied: %+v", rec)
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("recording Validate() = %v", err)
	}

	cfg.AudioSource = AudioNone
	if silent := cfg.pipelineConfig(format, "/dev/video0", true, "/tmp/a.mp4", ""); silent.AudioSource != "" {
		t.Errorf("AudioSource = %q with audio disabled", silent.AudioSource)
	}
	if noMic := DefaultConfig().pipelineConfig(format, "/dev/video0", false, "/tmp/a.mp4", ""); noMic.AudioSource != "" {
		t.Errorf("AudioSource = %q without a microphone input", noMic.AudioSource)
	}
}

func TestPipelineError(t *testing.T) {
	err := newPipelineError("Could not open device '/dev/video0' for reading", "v4l2src0: No such file or directory")
	if err.Category != gstpipe.ErrCategoryDevice {
		t.Errorf("Category = %v, want device", err.Category)
	}
	if !strings.Contains(err.Error(), "[device]") {
		t.Errorf("Error() = %q, want category tag", err.Error())
	}

	var perr *PipelineError
	if !errors.As(error(err), &perr) {
		t.Error("errors.As failed")
	}
}
