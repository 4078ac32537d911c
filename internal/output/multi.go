package output

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// Multi fans each delivery out to several sinks. A failing sink is logged
// and skipped; it never blocks delivery to the others.
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMulti creates a fan-out over sinks
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Add appends a sink. It is not started.
func (m *Multi) Add(s Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Start starts every sink that is not running yet
func (m *Multi) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, s := range m.sinks {
		if s.IsRunning() {
			continue
		}
		if err := s.Start(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stop stops every sink
func (m *Multi) Stop() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, s := range m.sinks {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// WriteFrame delivers d to every running sink
func (m *Multi) WriteFrame(d *camera.Delivery) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sinks {
		if !s.IsRunning() {
			continue
		}
		if err := s.WriteFrame(d); err != nil {
			logger.WithComponent("output").Warn().
				Err(err).
				Str("sink", s.Name()).
				Uint64("sequence", d.Sequence).
				Msg("Sink rejected frame")
		}
	}
	return nil
}

// Name returns the output type name
func (m *Multi) Name() string {
	return "Fan-out"
}

// IsRunning reports whether any sink is running
func (m *Multi) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		if s.IsRunning() {
			return true
		}
	}
	return false
}
