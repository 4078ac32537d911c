package capture

import (
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// OrientationSensor holds the latest physical orientation reported by the
// host. Frames that arrive without an orientation are stamped from it.
type OrientationSensor struct {
	mu      sync.RWMutex
	current camera.DeviceOrientation
}

// NewOrientationSensor creates a sensor reporting initial
func NewOrientationSensor(initial camera.DeviceOrientation) *OrientationSensor {
	return &OrientationSensor{current: initial}
}

// Set records a new reading
func (s *OrientationSensor) Set(o camera.DeviceOrientation) {
	s.mu.Lock()
	s.current = o
	s.mu.Unlock()
}

// Current returns the latest reading
func (s *OrientationSensor) Current() camera.DeviceOrientation {
	if s == nil {
		return camera.DeviceUnknown
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
