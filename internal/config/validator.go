package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	switch cfg.Backend {
	case "":
		cfg.Backend = "gst"
	case "gst", "sim":
	default:
		return fmt.Errorf("backend must be 'gst' or 'sim', got '%s'", cfg.Backend)
	}

	// Validate camera config
	if cfg.Camera.Facing == "" {
		cfg.Camera.Facing = "back"
	}
	if cfg.Camera.Resolution == "" {
		cfg.Camera.Resolution = "1080p"
	}
	if _, err := camerarecorder.ParseFacing(cfg.Camera.Facing); err != nil {
		return fmt.Errorf("camera.facing: %w", err)
	}
	if _, err := camerarecorder.ParseResolution(cfg.Camera.Resolution); err != nil {
		return fmt.Errorf("camera.resolution: %w", err)
	}
	if cfg.Camera.FrameRate == 0 {
		cfg.Camera.FrameRate = 30
	}
	if cfg.Camera.FrameRate < 0 {
		return fmt.Errorf("camera.frame_rate must be > 0")
	}
	if cfg.Camera.BitrateKbps < 0 {
		return fmt.Errorf("camera.bitrate_kbps must be >= 0")
	}
	for facing := range cfg.Camera.VideoDevices {
		if _, err := camerarecorder.ParseFacing(facing); err != nil {
			return fmt.Errorf("camera.video_devices: unknown facing '%s' (must be 'back' or 'front')", facing)
		}
	}

	// Validate recording config
	if cfg.Recording.StorageDir == "" {
		cfg.Recording.StorageDir = filepath.Join(os.TempDir(), "camera-recorder", cfg.InstanceID)
	}
	if cfg.Recording.StopTimeoutS == 0 {
		cfg.Recording.StopTimeoutS = 10
	}
	if cfg.Recording.StopTimeoutS < 0 {
		return fmt.Errorf("recording.stop_timeout_s must be > 0")
	}

	// Validate MQTT broker
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("care/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.State == "" {
		cfg.MQTT.Topics.State = fmt.Sprintf("care/camera/%s/state", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("care/camera/%s/events", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"state":   1,
			"events":  1,
		}
	}
	for name, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2, got %d", name, qos)
		}
	}

	return nil
}
