package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// RPiDriver drives Raspberry Pi pins through go-rpio's /dev/gpiomem mapping.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
}

// NewRPiDriver maps GPIO memory. Requires a Raspberry Pi and access to
// /dev/gpiomem (or root).
func NewRPiDriver() (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	logger.WithComponent("gpio").Info().Msg("GPIO memory mapped")

	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupOutput(pin int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.mu.Lock()
	p, ok := r.pins[pin]
	r.mu.Unlock()
	if !ok {
		if err := r.SetupOutput(pin); err != nil {
			return err
		}
		p = rpio.Pin(pin)
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

// Close drives every used pin low and returns it to input before unmapping
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pins {
		p.Low()
		p.Input()
	}
	return rpio.Close()
}
