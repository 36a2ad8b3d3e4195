//go:build !cgo

package gstbackend

import (
	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
)

// Backend is unavailable without cgo
type Backend struct {
	camerarecorder.Backend
}

// New always fails: GStreamer bindings require cgo
func New(cfg Config) (*Backend, error) {
	return nil, ErrUnavailable
}
