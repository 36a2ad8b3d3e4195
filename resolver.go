package camerarecorder

import "fmt"

// SessionPreset names a session quality preset
type SessionPreset string

const (
	PresetHD1280x720    SessionPreset = "hd1280x720"
	PresetHD1920x1080   SessionPreset = "hd1920x1080"
	PresetHD4K3840x2160 SessionPreset = "hd4K3840x2160"
)

// ResolvedConfig is the concrete session configuration for a CaptureSettings
type ResolvedConfig struct {
	Preset    SessionPreset
	Position  DevicePosition
	Width     int
	Height    int
	FrameRate int
}

// String formats the config as "hd1920x1080@30 (back)"
func (c ResolvedConfig) String() string {
	return fmt.Sprintf("%s@%d (%s)", c.Preset, c.FrameRate, c.Position)
}

// Resolve maps requested settings to the session configuration.
//
// Resolve is pure and total over the supported resolutions. An unknown
// Resolution value is a programming error and panics.
func Resolve(settings CaptureSettings) ResolvedConfig {
	preset, width, height := presetFor(settings.Resolution)
	return ResolvedConfig{
		Preset:    preset,
		Position:  positionFor(settings.Facing),
		Width:     width,
		Height:    height,
		FrameRate: settings.FrameRate,
	}
}

func presetFor(r Resolution) (SessionPreset, int, int) {
	switch r {
	case Res720p:
		return PresetHD1280x720, 1280, 720
	case Res1080p:
		return PresetHD1920x1080, 1920, 1080
	case Res4K:
		return PresetHD4K3840x2160, 3840, 2160
	}
	panic(fmt.Sprintf("camera-recorder: unmapped resolution %d", int(r)))
}

func positionFor(f Facing) DevicePosition {
	if f == FacingFront {
		return PositionFront
	}
	return PositionBack
}

// Position returns the device position a facing selects
func (f Facing) Position() DevicePosition {
	return positionFor(f)
}
