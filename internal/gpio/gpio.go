// Package gpio drives the torch/flash LED line on boards that wire one to a
// GPIO header.
package gpio

import (
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Driver controls output pins
type Driver interface {
	SetupOutput(pin int) error
	WritePin(pin int, level Level) error
	Close() error
}

// NewDriver returns a MockDriver when mock is set and a go-rpio driver otherwise
func NewDriver(mock bool) (Driver, error) {
	if mock {
		logger.WithComponent("gpio").Info().Msg("Using mock GPIO driver")
		return NewMockDriver(), nil
	}
	return NewRPiDriver()
}

// MockDriver records pin levels in memory and logs every write
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	writes int
}

// NewMockDriver creates a MockDriver
func NewMockDriver() *MockDriver {
	return &MockDriver{levels: make(map[int]Level)}
}

func (m *MockDriver) SetupOutput(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = Low
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.mu.Lock()
	m.levels[pin] = level
	m.writes++
	m.mu.Unlock()

	logger.WithComponent("gpio").Debug().
		Int("pin", pin).
		Bool("high", bool(level)).
		Msg("WritePin (mock)")
	return nil
}

// Level returns the last level written to pin
func (m *MockDriver) Level(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

// Writes returns how many writes have been made
func (m *MockDriver) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MockDriver) Close() error {
	return nil
}
