package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/gpio"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// DefaultAutoFlashLuma is the mean luma below which auto flash fires
const DefaultAutoFlashLuma = 60

// mjpegSampleEvery limits how often compressed frames are decoded for
// brightness
const mjpegSampleEvery = 8

// Flash drives a torch LED on a GPIO pin around still captures
type Flash struct {
	driver    gpio.Driver
	pin       int
	threshold uint8
	warmup    time.Duration

	// lastLuma is the mean luma of the most recent live frame
	lastLuma atomic.Uint32
	observed atomic.Uint64
}

// NewFlash configures pin as an output and drives it low
func NewFlash(driver gpio.Driver, pin int, threshold uint8, warmup time.Duration) (*Flash, error) {
	if err := driver.SetupOutput(pin); err != nil {
		return nil, fmt.Errorf("failed to set up flash pin %d: %w", pin, err)
	}
	if threshold == 0 {
		threshold = DefaultAutoFlashLuma
	}
	f := &Flash{driver: driver, pin: pin, threshold: threshold, warmup: warmup}
	f.lastLuma.Store(255)
	return f, nil
}

// Observe records the brightness of a live frame for auto mode
func (f *Flash) Observe(frame camera.Frame) {
	if f == nil {
		return
	}
	if frame.Format == camera.PixelFormatMJPEG && f.observed.Add(1)%mjpegSampleEvery != 1 {
		return
	}
	if luma, ok := MeanLuma(frame); ok {
		f.lastLuma.Store(uint32(luma))
	}
}

// ShouldFire reports whether mode fires given the last observed brightness
func (f *Flash) ShouldFire(mode camera.FlashMode) bool {
	switch mode {
	case camera.FlashOn:
		return true
	case camera.FlashAuto:
		return f.lastLuma.Load() < uint32(f.threshold)
	}
	return false
}

// Fire turns the torch on if mode calls for it and returns the function
// that turns it back off.
func (f *Flash) Fire(mode camera.FlashMode) (func(), error) {
	if f == nil || !f.ShouldFire(mode) {
		return func() {}, nil
	}
	if err := f.driver.WritePin(f.pin, gpio.High); err != nil {
		return nil, fmt.Errorf("failed to fire flash: %w", err)
	}
	logger.WithComponent("flash").Debug().Int("pin", f.pin).Str("mode", string(mode)).Msg("Flash on")
	if f.warmup > 0 {
		time.Sleep(f.warmup)
	}
	return func() {
		if err := f.driver.WritePin(f.pin, gpio.Low); err != nil {
			logger.WithComponent("flash").Warn().Err(err).Int("pin", f.pin).Msg("Failed to turn flash off")
		}
	}, nil
}

// MeanLuma samples the luma of a frame. MJPEG frames are decoded first.
func MeanLuma(f camera.Frame) (uint8, bool) {
	if f.Format == camera.PixelFormatMJPEG {
		return jpegLuma(f.Data)
	}
	var (
		sum, n int
		step   = 1
	)
	switch f.Format {
	case camera.PixelFormatYUYV:
		step = 2
	case camera.PixelFormatNV12, camera.PixelFormatI420:
	case camera.PixelFormatRGBA, camera.PixelFormatBGRA:
		step = 4
	default:
		return 0, false
	}

	limit := f.Width * f.Height * step
	if limit > len(f.Data) || limit == 0 {
		return 0, false
	}
	// every 16th pixel is plenty for an exposure hint
	for i := 0; i < limit; i += step * 16 {
		sum += int(f.Data[i+lumaOffset(f.Format)])
		n++
	}
	return uint8(sum / n), true
}

// lumaOffset is the byte used as brightness within one pixel's group; green
// stands in for luma in packed RGB.
func lumaOffset(format camera.PixelFormat) int {
	if format == camera.PixelFormatRGBA || format == camera.PixelFormatBGRA {
		return 1
	}
	return 0
}

func jpegLuma(data []byte) (uint8, bool) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, false
	}
	var sum, n int
	switch img := img.(type) {
	case *image.YCbCr:
		for i := 0; i < len(img.Y); i += 16 {
			sum += int(img.Y[i])
			n++
		}
	case *image.Gray:
		for i := 0; i < len(img.Pix); i += 16 {
			sum += int(img.Pix[i])
			n++
		}
	default:
		return 0, false
	}
	if n == 0 {
		return 0, false
	}
	return uint8(sum / n), true
}
