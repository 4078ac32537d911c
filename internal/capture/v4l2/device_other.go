//go:build !linux

// Package v4l2 opens USB and CSI cameras through Video4Linux2.
package v4l2

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
)

// Config describes one V4L2 node
type Config struct {
	Path         string
	Name         string
	Position     camera.Position
	Mirrored     bool
	Capabilities capture.Capabilities
	Flash        *capture.Flash
	Buffers      int
}

// Device is unavailable outside Linux; Open always fails
type Device struct {
	cfg Config
}

// New creates a device that reports itself but cannot be opened
func New(cfg Config) *Device {
	return &Device{cfg: cfg}
}

// Info returns the device description
func (d *Device) Info() capture.DeviceInfo {
	return capture.DeviceInfo{
		ID:           d.cfg.Path,
		Name:         d.cfg.Name,
		Position:     d.cfg.Position,
		Mirrored:     d.cfg.Mirrored,
		Capabilities: d.cfg.Capabilities,
	}
}

// Open always fails with ErrDeviceUnavailable
func (d *Device) Open(ctx context.Context, format capture.StreamFormat) (capture.Input, error) {
	return nil, fmt.Errorf("%w: v4l2 is only supported on linux", camera.ErrDeviceUnavailable)
}
