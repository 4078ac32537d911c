package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/codec"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
	"github.com/bryanchriswhite/CanvasCamera/internal/overlay"
)

// SyntheticConfig describes a test-pattern camera
type SyntheticConfig struct {
	ID           string
	Name         string
	Position     camera.Position
	Mirrored     bool
	Capabilities Capabilities

	// Overlay is drawn on every frame; nil draws nothing
	Overlay *overlay.Manager

	// Flash is optional; without it flash modes are simulated by brightening
	// the still.
	Flash *Flash
}

// Synthetic is a camera that renders a moving gradient. It is used when no
// hardware is present and by tests, which can rotate it, slow down its
// stills and make it emit corrupt frames.
type Synthetic struct {
	cfg   SyntheticConfig
	claim Claim

	mu          sync.RWMutex
	orientation camera.DeviceOrientation
	stillDelay  time.Duration

	corruptNext atomic.Int32
	opens       atomic.Int32
}

// NewSynthetic creates a synthetic device
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.ID == "" {
		cfg.ID = "synthetic-" + string(cfg.Position)
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("Synthetic %s camera", cfg.Position)
	}
	return &Synthetic{cfg: cfg, orientation: camera.DeviceUnknown}
}

// Info returns the device description
func (s *Synthetic) Info() DeviceInfo {
	return DeviceInfo{
		ID:           s.cfg.ID,
		Name:         s.cfg.Name,
		Position:     s.cfg.Position,
		Mirrored:     s.cfg.Mirrored,
		Capabilities: s.cfg.Capabilities,
	}
}

// SetOrientation sets the physical orientation stamped onto frames. Unknown
// leaves stamping to the session's sensor.
func (s *Synthetic) SetOrientation(o camera.DeviceOrientation) {
	s.mu.Lock()
	s.orientation = o
	s.mu.Unlock()
}

// SetStillDelay makes CaptureStill take at least d
func (s *Synthetic) SetStillDelay(d time.Duration) {
	s.mu.Lock()
	s.stillDelay = d
	s.mu.Unlock()
}

// InjectCorrupt makes the next n live frames carry truncated buffers
func (s *Synthetic) InjectCorrupt(n int) {
	s.corruptNext.Add(int32(n))
}

// Opens returns how many times the device has been opened
func (s *Synthetic) Opens() int {
	return int(s.opens.Load())
}

// Hold claims the device as if another process were using it
func (s *Synthetic) Hold() bool {
	return s.claim.Acquire()
}

// Unhold releases a Hold
func (s *Synthetic) Unhold() {
	s.claim.Release()
}

// Open starts the test pattern stream
func (s *Synthetic) Open(ctx context.Context, format StreamFormat) (Input, error) {
	if format.Width <= 0 || format.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid stream size %dx%d", camera.ErrConfig, format.Width, format.Height)
	}
	if !codec.Supports(format.PixelFormat) || !s.cfg.Capabilities.SupportsFormat(format.PixelFormat) {
		return nil, fmt.Errorf("%w: %s cannot stream %q", camera.ErrConfig, s.cfg.ID, format.PixelFormat)
	}
	if !s.claim.Acquire() {
		return nil, fmt.Errorf("%s: %w", s.cfg.ID, ErrDeviceInUse)
	}
	s.opens.Add(1)
	if format.FPS <= 0 {
		format.FPS = 15
	}

	runCtx, cancel := context.WithCancel(context.Background())
	in := &syntheticInput{
		dev:    s,
		format: format,
		frames: make(chan camera.Frame, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go in.run(runCtx)

	logger.WithComponent("synthetic").Info().
		Str("id", s.cfg.ID).
		Int("width", format.Width).
		Int("height", format.Height).
		Int("fps", format.FPS).
		Str("format", string(format.PixelFormat)).
		Msg("Synthetic camera opened")
	return in, nil
}

func (s *Synthetic) currentOrientation() camera.DeviceOrientation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orientation
}

// render draws the pattern for frame seq at w x h
func (s *Synthetic) render(w, h int, seq uint64, ts time.Time) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := int(seq * 4)
	tint := uint8(0)
	if s.cfg.Position == camera.PositionFront {
		tint = 96
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*255/w + shift) % 256),
				G: uint8(y * 255 / h),
				B: tint,
				A: 0xff,
			})
		}
	}
	if s.cfg.Overlay != nil {
		s.cfg.Overlay.Render(img, overlay.FrameInfo{
			Sequence:  seq,
			Timestamp: ts,
			Position:  s.cfg.Position,
			Device:    s.cfg.ID,
		})
	}
	return img
}

type syntheticInput struct {
	dev    *Synthetic
	format StreamFormat
	frames chan camera.Frame
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	seq    atomic.Uint64
}

func (in *syntheticInput) Frames() <-chan camera.Frame {
	return in.frames
}

func (in *syntheticInput) run(ctx context.Context) {
	defer close(in.done)

	ticker := time.NewTicker(time.Second / time.Duration(in.format.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, err := in.frame()
			if err != nil {
				logger.WithComponent("synthetic").Error().Err(err).Msg("Failed to render frame")
				continue
			}
			in.dev.cfg.Flash.Observe(f)
			select {
			case in.frames <- f:
			default:
				// Consumer is behind; this frame is dropped
				f.Release()
			}
		}
	}
}

func (in *syntheticInput) frame() (camera.Frame, error) {
	seq := in.seq.Add(1)
	ts := time.Now()
	img := in.dev.render(in.format.Width, in.format.Height, seq, ts)
	data, err := codec.Pack(img, in.format.PixelFormat, 80)
	if err != nil {
		return camera.Frame{}, err
	}
	if in.dev.corruptNext.Load() > 0 && in.dev.corruptNext.Add(-1) >= 0 {
		data = data[:len(data)/3]
	}
	return camera.Frame{
		Data:        data,
		Width:       in.format.Width,
		Height:      in.format.Height,
		Format:      in.format.PixelFormat,
		Timestamp:   ts,
		Sequence:    seq,
		Orientation: in.dev.currentOrientation(),
	}, nil
}

// CaptureStill renders one JPEG at the device's still resolution
func (in *syntheticInput) CaptureStill(ctx context.Context, flash camera.FlashMode) (camera.Frame, error) {
	in.dev.mu.RLock()
	delay := in.dev.stillDelay
	in.dev.mu.RUnlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return camera.Frame{}, ctx.Err()
		case <-in.done:
			return camera.Frame{}, fmt.Errorf("%w: input closed", camera.ErrInterrupted)
		case <-timer.C:
		}
	}

	off, err := in.dev.cfg.Flash.Fire(flash)
	if err != nil {
		return camera.Frame{}, err
	}
	defer off()

	caps := in.dev.cfg.Capabilities
	w, h := caps.StillWidth, caps.StillHeight
	if w <= 0 || h <= 0 {
		w, h = in.format.Width*2, in.format.Height*2
	}
	ts := time.Now()
	img := in.dev.render(w, h, in.seq.Load(), ts)
	if flash == camera.FlashOn {
		brighten(img)
	}
	data, err := codec.EncodeJPEG(img, 95)
	if err != nil {
		return camera.Frame{}, err
	}

	if err := ctx.Err(); err != nil {
		return camera.Frame{}, err
	}
	return camera.Frame{
		Data:        data,
		Width:       w,
		Height:      h,
		Format:      camera.PixelFormatMJPEG,
		Timestamp:   ts,
		Sequence:    in.seq.Load(),
		Orientation: in.dev.currentOrientation(),
	}, nil
}

func brighten(img *image.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := int(img.Pix[i+c]) + 64
			if v > 255 {
				v = 255
			}
			img.Pix[i+c] = uint8(v)
		}
	}
}

func (in *syntheticInput) Close() error {
	in.once.Do(func() {
		in.cancel()
		<-in.done
		close(in.frames)
		in.dev.claim.Release()
		logger.WithComponent("synthetic").Info().Str("id", in.dev.cfg.ID).Msg("Synthetic camera closed")
	})
	return nil
}
