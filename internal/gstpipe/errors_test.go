package gstpipe

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{
			name:    "camera busy",
			message: "Could not open device '/dev/video0' for reading and writing.",
			debug:   "v4l2_calls.c(650): gst_v4l2_open (): system error: Device or resource busy",
			want:    ErrCategoryDevice,
		},
		{
			name:    "camera missing",
			message: "Cannot identify device '/dev/video3'.",
			want:    ErrCategoryDevice,
		},
		{
			name:    "disk full",
			message: "Error while writing to file \"/var/lib/a.mp4\".",
			debug:   "gstfilesink.c: No space left on device",
			want:    ErrCategoryStorage,
		},
		{
			name:    "unwritable destination",
			message: "Could not open file \"/ro/a.mp4\" for writing.",
			debug:   "gstfilesink.c(489): system error: Read-only file system",
			want:    ErrCategoryStorage,
		},
		{
			name:    "caps negotiation",
			message: "Internal data stream error.",
			debug:   "streaming stopped, reason not-negotiated (-4)",
			want:    ErrCategoryCodec,
		},
		{
			name:    "not negotiated",
			message: "not negotiated",
			want:    ErrCategoryCodec,
		},
		{
			name:    "encoder",
			message: "Failed to encode frame",
			debug:   "gstx264enc.c: encoder error",
			want:    ErrCategoryCodec,
		},
		{
			name:    "pulse",
			message: "Failed to connect: Connection refused",
			debug:   "pulsesrc.c: context connect failed",
			want:    ErrCategoryDevice,
		},
		{
			name:    "nothing matches",
			message: "something odd happened",
			want:    ErrCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.message, tt.debug); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCategory_Retryable(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		want     bool
	}{
		{ErrCategoryDevice, true},
		{ErrCategoryUnknown, true},
		{ErrCategoryStorage, false},
		{ErrCategoryCodec, false},
	}
	for _, tt := range tests {
		if got := tt.category.Retryable(); got != tt.want {
			t.Errorf("%v.Retryable() = %v, want %v", tt.category, got, tt.want)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	names := map[ErrorCategory]string{
		ErrCategoryDevice:  "device",
		ErrCategoryStorage: "storage",
		ErrCategoryCodec:   "codec",
		ErrCategoryUnknown: "unknown",
		ErrorCategory(42):  "unknown",
	}
	for c, want := range names {
		if got := c.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
