package gstpipe

import (
	"strings"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates camera or microphone failures (missing node, busy, permissions)
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryStorage indicates the destination file could not be written
	ErrCategoryStorage
	// ErrCategoryCodec indicates caps negotiation or encoder failures
	ErrCategoryCodec
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryStorage:
		return "storage"
	case ErrCategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// Retryable reports whether restarting the pipeline may clear the error
func (e ErrorCategory) Retryable() bool {
	return e == ErrCategoryDevice || e == ErrCategoryUnknown
}

// Classify categorizes a GStreamer error from its message and debug string.
//
// go-gst's GError does not expose the error domain, so classification relies
// on keyword heuristics. Storage is checked first: filesink failures mention
// "resource" as well, which would otherwise read as a device error.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, storageKeywords):
		return ErrCategoryStorage
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	default:
		return ErrCategoryUnknown
	}
}

var storageKeywords = []string{
	"filesink",
	"could not open file",
	"no space left",
	"error while writing to file",
	"read-only file system",
	"file for writing",
}

var codecKeywords = []string{
	"not negotiated",
	"not-negotiated",
	"negotiation",
	"caps",
	"x264",
	"encode",
	"mp4mux",
	"avenc_aac",
	"no element",
	"missing plugin",
}

var deviceKeywords = []string{
	"v4l2",
	"/dev/video",
	"device",
	"busy",
	"permission denied",
	"pulse",
	"alsa",
	"resource",
	"cannot identify",
	"not found",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
