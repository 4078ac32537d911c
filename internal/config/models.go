package config

import (
	"fmt"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// Capture backends
const (
	BackendSynthetic = "synthetic"
	BackendV4L2      = "v4l2"
)

// Config represents the application configuration
type Config struct {
	ServerPort int            `json:"server_port" yaml:"server_port"`
	LogLevel   string         `json:"log_level" yaml:"log_level"`
	Capture    CaptureConfig  `json:"capture" yaml:"capture"`
	Devices    []DeviceConfig `json:"devices" yaml:"devices"`
	GPIO       GPIOConfig     `json:"gpio" yaml:"gpio"`
	Overlay    OverlayConfig  `json:"overlay" yaml:"overlay"`
}

// CaptureConfig represents the capture session settings
type CaptureConfig struct {
	Backend     string `json:"backend" yaml:"backend"`
	Width       int    `json:"width" yaml:"width"`
	Height      int    `json:"height" yaml:"height"`
	FPS         int    `json:"fps" yaml:"fps"`
	PixelFormat string `json:"pixel_format" yaml:"pixel_format"`

	// Still resolution; zero uses twice the stream size
	StillWidth  int `json:"still_width" yaml:"still_width"`
	StillHeight int `json:"still_height" yaml:"still_height"`

	Position       string `json:"position" yaml:"position"`
	FlashMode      string `json:"flash_mode" yaml:"flash_mode"`
	ThumbnailSize  int    `json:"thumbnail_size" yaml:"thumbnail_size"`
	JPEGQuality    int    `json:"jpeg_quality" yaml:"jpeg_quality"`
	StillTimeoutMs int    `json:"still_timeout_ms" yaml:"still_timeout_ms"`
	AutoFlashLuma  int    `json:"auto_flash_luma" yaml:"auto_flash_luma"`
}

// DeviceConfig represents one camera unit
type DeviceConfig struct {
	Position string `json:"position" yaml:"position"`
	// Path is the V4L2 device node; ignored by the synthetic backend
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Mirrored bool   `json:"mirrored" yaml:"mirrored"`
	// FlashPin is the BCM GPIO pin of the torch LED; zero means no flash
	FlashPin   int      `json:"flash_pin,omitempty" yaml:"flash_pin,omitempty"`
	FlashModes []string `json:"flash_modes,omitempty" yaml:"flash_modes,omitempty"`
}

// GPIOConfig represents GPIO driver settings
type GPIOConfig struct {
	// Mock logs pin writes instead of touching /dev/gpiomem
	Mock bool `json:"mock" yaml:"mock"`
}

// OverlayConfig represents overlay configuration for synthetic frames
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets"`
}

// Defaults returns default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Capture: CaptureConfig{
			Backend:        BackendSynthetic,
			Width:          640,
			Height:         480,
			FPS:            15,
			PixelFormat:    string(camera.PixelFormatYUYV),
			Position:       string(camera.PositionBack),
			FlashMode:      string(camera.FlashOff),
			ThumbnailSize:  0,
			JPEGQuality:    90,
			StillTimeoutMs: 10000,
			AutoFlashLuma:  60,
		},
		Devices: []DeviceConfig{
			{
				Position:   string(camera.PositionBack),
				Path:       "/dev/video0",
				Name:       "Back camera",
				FlashModes: []string{"off", "on", "auto"},
			},
			{
				Position: string(camera.PositionFront),
				Path:     "/dev/video1",
				Name:     "Front camera",
				Mirrored: true,
			},
		},
		GPIO: GPIOConfig{Mock: true},
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{
				{
					"id":         "label",
					"type":       "text",
					"enabled":    true,
					"text":       "{position} #{seq}",
					"x":          8,
					"y":          8,
					"color":      "#ffffff",
					"opacity":    0.8,
					"background": "#000000",
				},
			},
		},
	}
}

// Validate checks every field that would otherwise fail late, when the
// session opens a device.
func (c *Config) Validate() error {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.ServerPort)
	}
	if c.LogLevel != "" {
		switch c.LogLevel {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("invalid log_level %q (use: debug, info, warn, error)", c.LogLevel)
		}
	}

	cc := c.Capture
	switch cc.Backend {
	case BackendSynthetic, BackendV4L2:
	default:
		return fmt.Errorf("invalid capture.backend %q (use: %s, %s)", cc.Backend, BackendSynthetic, BackendV4L2)
	}
	if cc.Width <= 0 || cc.Height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", cc.Width, cc.Height)
	}
	if cc.FPS <= 0 {
		return fmt.Errorf("invalid capture.fps %d", cc.FPS)
	}
	if cc.StillWidth < 0 || cc.StillHeight < 0 {
		return fmt.Errorf("invalid still size %dx%d", cc.StillWidth, cc.StillHeight)
	}
	if _, err := camera.ParsePixelFormat(cc.PixelFormat); err != nil {
		return fmt.Errorf("capture.pixel_format: %w", err)
	}
	if _, err := camera.ParsePosition(cc.Position); err != nil {
		return fmt.Errorf("capture.position: %w", err)
	}
	if _, err := camera.ParseFlashMode(cc.FlashMode); err != nil {
		return fmt.Errorf("capture.flash_mode: %w", err)
	}
	if cc.ThumbnailSize < 0 {
		return fmt.Errorf("invalid capture.thumbnail_size %d", cc.ThumbnailSize)
	}
	if cc.JPEGQuality < 1 || cc.JPEGQuality > 100 {
		return fmt.Errorf("invalid capture.jpeg_quality %d (1-100)", cc.JPEGQuality)
	}
	if cc.AutoFlashLuma < 0 || cc.AutoFlashLuma > 255 {
		return fmt.Errorf("invalid capture.auto_flash_luma %d (0-255)", cc.AutoFlashLuma)
	}

	seen := make(map[camera.Position]bool)
	for i, d := range c.Devices {
		pos, err := camera.ParsePosition(d.Position)
		if err != nil {
			return fmt.Errorf("devices[%d].position: %w", i, err)
		}
		if seen[pos] {
			return fmt.Errorf("devices[%d]: duplicate %s camera", i, pos)
		}
		seen[pos] = true
		for _, m := range d.FlashModes {
			if _, err := camera.ParseFlashMode(m); err != nil {
				return fmt.Errorf("devices[%d].flash_modes: %w", i, err)
			}
		}
		if d.FlashPin < 0 {
			return fmt.Errorf("devices[%d]: invalid flash_pin %d", i, d.FlashPin)
		}
	}
	return nil
}

// fillDefaults sets zero-valued fields from Defaults
func (c *Config) fillDefaults() {
	d := Defaults()
	if c.ServerPort == 0 {
		c.ServerPort = d.ServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	cc := &c.Capture
	if cc.Backend == "" {
		cc.Backend = d.Capture.Backend
	}
	if cc.Width == 0 && cc.Height == 0 {
		cc.Width, cc.Height = d.Capture.Width, d.Capture.Height
	}
	if cc.FPS == 0 {
		cc.FPS = d.Capture.FPS
	}
	if cc.PixelFormat == "" {
		cc.PixelFormat = d.Capture.PixelFormat
	}
	if cc.Position == "" {
		cc.Position = d.Capture.Position
	}
	if cc.FlashMode == "" {
		cc.FlashMode = d.Capture.FlashMode
	}
	if cc.JPEGQuality == 0 {
		cc.JPEGQuality = d.Capture.JPEGQuality
	}
	if cc.StillTimeoutMs == 0 {
		cc.StillTimeoutMs = d.Capture.StillTimeoutMs
	}
	if cc.AutoFlashLuma == 0 {
		cc.AutoFlashLuma = d.Capture.AutoFlashLuma
	}
	if c.Devices == nil {
		logger.WithComponent("config").Debug().Msg("No devices configured, using defaults")
		c.Devices = d.Devices
	}
	if c.Overlay.Widgets == nil {
		c.Overlay.Widgets = []map[string]interface{}{}
	}
}
