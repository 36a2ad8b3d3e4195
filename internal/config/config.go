package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete camerad configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Backend          string          `yaml:"backend"`            // gst or sim (default: gst)
	Camera           CameraConfig    `yaml:"camera"`
	Recording        RecordingConfig `yaml:"recording"`
	Library          LibraryConfig   `yaml:"library"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Facing       string            `yaml:"facing"`        // back, front (default: back)
	Resolution   string            `yaml:"resolution"`    // 720p, 1080p, 4k (default: 1080p)
	FrameRate    int               `yaml:"frame_rate"`    // 1-240 (default: 30)
	VideoDevices map[string]string `yaml:"video_devices"` // facing -> V4L2 node
	AudioSource  string            `yaml:"audio_source"`  // pulsesrc, alsasrc, none
	AudioDevice  string            `yaml:"audio_device"`
	BitrateKbps  int               `yaml:"bitrate_kbps"` // H.264 target (default: 8000)
}

// RecordingConfig contains recording settings
type RecordingConfig struct {
	StorageDir   string `yaml:"storage_dir"`
	StopTimeoutS int    `yaml:"stop_timeout_s"` // completion wait after stop (default: 10)
}

// LibraryConfig contains media library settings
type LibraryConfig struct {
	Dir string `yaml:"dir"` // empty keeps recordings in storage_dir
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	State   string `yaml:"state"`
	Events  string `yaml:"events"`
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StopTimeout returns the completion wait applied after a stop
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Recording.StopTimeoutS) * time.Second
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
