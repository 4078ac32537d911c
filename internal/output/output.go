package output

import (
	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// Sink defines the interface for delivered-frame consumers.
// This allows the session's output to be swapped or combined:
// - MJPEG HTTP stream
// - WebSocket frame push
// - etc.
type Sink interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a delivered frame to the output. The delivery is
	// shared with other sinks and must not be modified.
	WriteFrame(d *camera.Delivery) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int
	Height int
	FPS    int
}
