// Package capture defines camera devices and their opened inputs, and
// provides the synthetic test-pattern backend.
package capture

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// Router selects devices by position
type Router struct {
	mu      sync.RWMutex
	devices []Device
}

// NewRouter creates a router over the given devices
func NewRouter(devices ...Device) *Router {
	return &Router{devices: devices}
}

// Add registers another device
func (r *Router) Add(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, d)

	info := d.Info()
	logger.WithComponent("capture-router").Info().
		Str("id", info.ID).
		Str("position", string(info.Position)).
		Msg("Device registered")
}

// Select returns the first device at position
func (r *Router) Select(position camera.Position) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		if d.Info().Position == position {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s camera", camera.ErrDeviceUnavailable, position)
}

// Has reports whether a device exists at position
func (r *Router) Has(position camera.Position) bool {
	_, err := r.Select(position)
	return err == nil
}

// Devices lists the registered devices
func (r *Router) Devices() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(r.devices))
	for _, d := range r.devices {
		infos = append(infos, d.Info())
	}
	return infos
}
