//go:build linux

// Package v4l2 opens USB and CSI cameras through Video4Linux2.
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// Config describes one V4L2 node
type Config struct {
	Path         string
	Name         string
	Position     camera.Position
	Mirrored     bool
	Capabilities capture.Capabilities
	Flash        *capture.Flash

	// Buffers is the number of mmap buffers requested from the driver
	Buffers int
}

// Device is a V4L2 capture node such as /dev/video0
type Device struct {
	cfg   Config
	claim capture.Claim
}

// New creates a device for the node at cfg.Path. The node is not opened
// until Open.
func New(cfg Config) *Device {
	if cfg.Name == "" {
		cfg.Name = cfg.Path
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 4
	}
	if len(cfg.Capabilities.Formats) == 0 {
		cfg.Capabilities.Formats = []camera.PixelFormat{camera.PixelFormatYUYV, camera.PixelFormatMJPEG}
	}
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

func fourCC(format camera.PixelFormat) (v4l2.FourCCType, error) {
	switch format {
	case camera.PixelFormatYUYV:
		return v4l2.PixelFmtYUYV, nil
	case camera.PixelFormatMJPEG:
		return v4l2.PixelFmtMJPEG, nil
	}
	return 0, fmt.Errorf("%w: v4l2 backend cannot stream %q", camera.ErrConfig, format)
}

// Open opens the node, negotiates the format and starts streaming
func (d *Device) Open(ctx context.Context, format capture.StreamFormat) (capture.Input, error) {
	pixFmt, err := fourCC(format.PixelFormat)
	if err != nil {
		return nil, err
	}
	if !d.claim.Acquire() {
		return nil, fmt.Errorf("%s: %w", d.cfg.Path, capture.ErrDeviceInUse)
	}

	dev, err := device.Open(d.cfg.Path,
		device.WithIOType(v4l2.IOTypeMMAP),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: pixFmt,
			Width:       uint32(format.Width),
			Height:      uint32(format.Height),
			Field:       v4l2.FieldNone,
		}),
		device.WithFPS(uint32(format.FPS)),
		device.WithBufferSize(uint32(d.cfg.Buffers)),
	)
	if err != nil {
		d.claim.Release()
		if errors.Is(err, syscall.EBUSY) {
			return nil, fmt.Errorf("%s: %w", d.cfg.Path, capture.ErrDeviceInUse)
		}
		return nil, fmt.Errorf("%w: failed to open %s: %v", camera.ErrDeviceUnavailable, d.cfg.Path, err)
	}

	// The driver may have adjusted the geometry
	actual, err := dev.GetPixFormat()
	if err != nil {
		dev.Close()
		d.claim.Release()
		return nil, fmt.Errorf("%w: failed to read pixel format of %s: %v", camera.ErrConfig, d.cfg.Path, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(runCtx); err != nil {
		cancel()
		dev.Close()
		d.claim.Release()
		return nil, fmt.Errorf("%w: failed to start streaming on %s: %v", camera.ErrConfig, d.cfg.Path, err)
	}

	in := &input{
		dev:    d,
		handle: dev,
		width:  int(actual.Width),
		height: int(actual.Height),
		stride: int(actual.BytesPerLine),
		format: format.PixelFormat,
		frames: make(chan camera.Frame, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go in.run(runCtx)

	logger.WithComponent("v4l2").Info().
		Str("path", d.cfg.Path).
		Int("width", in.width).
		Int("height", in.height).
		Str("format", string(format.PixelFormat)).
		Msg("V4L2 camera opened")
	return in, nil
}

type input struct {
	dev    *Device
	handle *device.Device
	width  int
	height int
	stride int
	format camera.PixelFormat

	frames chan camera.Frame
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	seq     uint64
	waiters []*stillWaiter
}

// stillWaiter receives the first stream frame after skip more have passed
type stillWaiter struct {
	skip int
	ch   chan camera.Frame
}

// offerStill hands f to every waiter whose skip count has run out and
// returns the waiters still pending
func offerStill(waiters []*stillWaiter, f camera.Frame) []*stillWaiter {
	pending := waiters[:0]
	for _, w := range waiters {
		if w.skip > 0 {
			w.skip--
			pending = append(pending, w)
			continue
		}
		w.ch <- f
	}
	if len(pending) == 0 {
		return nil
	}
	return pending
}

func (in *input) Frames() <-chan camera.Frame {
	return in.frames
}

func (in *input) run(ctx context.Context) {
	defer close(in.done)

	output := in.handle.GetOutput()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-output:
			if !ok {
				return
			}
			// The driver reuses its mmap buffers
			data := make([]byte, len(raw))
			copy(data, raw)

			in.mu.Lock()
			in.seq++
			f := camera.Frame{
				Data:        data,
				Width:       in.width,
				Height:      in.height,
				Stride:      in.stride,
				Format:      in.format,
				Timestamp:   time.Now(),
				Sequence:    in.seq,
				Orientation: camera.DeviceUnknown,
			}
			in.waiters = offerStill(in.waiters, f)
			in.mu.Unlock()

			in.dev.cfg.Flash.Observe(f)

			select {
			case in.frames <- f:
			default:
			}
		}
	}
}

// CaptureStill fires the flash and returns a frame from the stream. V4L2
// nodes have no separate still pipeline. When the flash fires, the frames
// already queued in the driver's buffers were exposed without it and are
// skipped.
func (in *input) CaptureStill(ctx context.Context, flash camera.FlashMode) (camera.Frame, error) {
	fl := in.dev.cfg.Flash
	fired := fl != nil && fl.ShouldFire(flash)
	off, err := fl.Fire(flash)
	if err != nil {
		return camera.Frame{}, err
	}
	defer off()

	w := &stillWaiter{ch: make(chan camera.Frame, 1)}
	if fired {
		w.skip = in.dev.cfg.Buffers
	}
	in.mu.Lock()
	in.waiters = append(in.waiters, w)
	in.mu.Unlock()

	select {
	case <-ctx.Done():
		return camera.Frame{}, ctx.Err()
	case <-in.done:
		return camera.Frame{}, fmt.Errorf("%w: %s closed", camera.ErrInterrupted, in.dev.cfg.Path)
	case f := <-w.ch:
		return f, nil
	}
}

func (in *input) Close() error {
	var err error
	in.once.Do(func() {
		in.cancel()
		if stopErr := in.handle.Stop(); stopErr != nil {
			logger.WithComponent("v4l2").Warn().Err(stopErr).Str("path", in.dev.cfg.Path).Msg("Failed to stop stream")
		}
		<-in.done
		close(in.frames)
		err = in.handle.Close()
		in.dev.claim.Release()
	})
	return err
}
