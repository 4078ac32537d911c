package capture

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// ErrDeviceInUse is returned by Open when the device is already claimed, by
// this process or another one.
var ErrDeviceInUse = errors.New("device in use")

// Capabilities is the static capability set of a device. It is queried
// before every configuration change.
type Capabilities struct {
	FlashModes  []camera.FlashMode   `json:"flash_modes"`
	Formats     []camera.PixelFormat `json:"formats"`
	StillWidth  int                  `json:"still_width"`
	StillHeight int                  `json:"still_height"`
}

// SupportsFlash reports whether mode can be applied. Off is always
// supported.
func (c Capabilities) SupportsFlash(mode camera.FlashMode) bool {
	if mode == camera.FlashOff {
		return true
	}
	return slices.Contains(c.FlashModes, mode)
}

// SupportsFormat reports whether the device can stream in format. An empty
// format list means any format the codec understands.
func (c Capabilities) SupportsFormat(format camera.PixelFormat) bool {
	return len(c.Formats) == 0 || slices.Contains(c.Formats, format)
}

// DeviceInfo describes a physical camera unit
type DeviceInfo struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Position     camera.Position `json:"position"`
	Mirrored     bool            `json:"mirrored"`
	Capabilities Capabilities    `json:"capabilities"`
}

// StreamFormat is the requested live stream geometry
type StreamFormat struct {
	Width       int
	Height      int
	FPS         int
	PixelFormat camera.PixelFormat
}

// Device is a camera that can be opened as a capture input
type Device interface {
	Info() DeviceInfo

	// Open claims the device and starts streaming frames in format.
	Open(ctx context.Context, format StreamFormat) (Input, error)
}

// Input is an opened, claimed device. It owns the continuous frame output
// and the still output.
type Input interface {
	// Frames delivers live frames. The channel is closed by Close.
	Frames() <-chan camera.Frame

	// CaptureStill takes one full-resolution photo with the given flash mode
	CaptureStill(ctx context.Context, flash camera.FlashMode) (camera.Frame, error)

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Claim guards exclusive use of a device within the process
type Claim struct {
	mu    sync.Mutex
	taken bool
}

// Acquire takes the claim, returning false if it is already held
func (c *Claim) Acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken {
		return false
	}
	c.taken = true
	return true
}

// Release gives the claim back
func (c *Claim) Release() {
	c.mu.Lock()
	c.taken = false
	c.mu.Unlock()
}
