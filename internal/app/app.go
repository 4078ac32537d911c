// Package app assembles the capture session, pipeline, outputs and host
// surface from a Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CanvasCamera/internal/api"
	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture/v4l2"
	"github.com/bryanchriswhite/CanvasCamera/internal/config"
	"github.com/bryanchriswhite/CanvasCamera/internal/gpio"
	"github.com/bryanchriswhite/CanvasCamera/internal/host"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
	"github.com/bryanchriswhite/CanvasCamera/internal/output"
	"github.com/bryanchriswhite/CanvasCamera/internal/overlay"
	"github.com/bryanchriswhite/CanvasCamera/internal/pipeline"
	"github.com/bryanchriswhite/CanvasCamera/internal/session"
)

// flashWarmup is how long the torch burns before a still is taken
const flashWarmup = 150 * time.Millisecond

// App is a fully wired camera service
type App struct {
	Config     *config.Config
	GPIO       gpio.Driver
	Router     *capture.Router
	Sensor     *capture.OrientationSensor
	Pipeline   *pipeline.Pipeline
	Session    *session.Manager
	Stills     *session.StillController
	Stream     *output.MJPEGOutput
	Frames     *output.Hub
	Outputs    *output.Multi
	Dispatcher *host.Dispatcher

	log *zerolog.Logger
}

// StreamFormat returns the live stream geometry from cfg
func StreamFormat(cfg *config.Config) capture.StreamFormat {
	return capture.StreamFormat{
		Width:       cfg.Capture.Width,
		Height:      cfg.Capture.Height,
		FPS:         cfg.Capture.FPS,
		PixelFormat: camera.PixelFormat(cfg.Capture.PixelFormat),
	}
}

// BuildRouter creates one device per configured camera on the configured
// backend. Flash pins are claimed through driver.
func BuildRouter(cfg *config.Config, driver gpio.Driver) (*capture.Router, error) {
	router := capture.NewRouter()

	var ov *overlay.Manager
	if cfg.Overlay.Enabled {
		ov = overlay.NewManager()
		ov.LoadFromConfig(cfg.Overlay.Widgets)
	}

	for i, dc := range cfg.Devices {
		pos, err := camera.ParsePosition(dc.Position)
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}

		caps := capture.Capabilities{
			StillWidth:  cfg.Capture.StillWidth,
			StillHeight: cfg.Capture.StillHeight,
		}
		for _, m := range dc.FlashModes {
			mode, err := camera.ParseFlashMode(m)
			if err != nil {
				return nil, fmt.Errorf("devices[%d]: %w", i, err)
			}
			caps.FlashModes = append(caps.FlashModes, mode)
		}

		var flash *capture.Flash
		if dc.FlashPin > 0 && driver != nil {
			flash, err = capture.NewFlash(driver, dc.FlashPin, uint8(cfg.Capture.AutoFlashLuma), flashWarmup)
			if err != nil {
				return nil, fmt.Errorf("devices[%d]: %w", i, err)
			}
		}

		switch cfg.Capture.Backend {
		case config.BackendV4L2:
			router.Add(v4l2.New(v4l2.Config{
				Path:         dc.Path,
				Name:         dc.Name,
				Position:     pos,
				Mirrored:     dc.Mirrored,
				Capabilities: caps,
				Flash:        flash,
			}))
		default:
			router.Add(capture.NewSynthetic(capture.SyntheticConfig{
				Name:         dc.Name,
				Position:     pos,
				Mirrored:     dc.Mirrored,
				Capabilities: caps,
				Overlay:      ov,
				Flash:        flash,
			}))
		}
	}
	return router, nil
}

// New wires an App from cfg. Nothing is streaming until Start.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", camera.ErrConfig, err)
	}
	a := &App{Config: cfg, log: logger.WithComponent("app")}

	driver, err := gpio.NewDriver(cfg.GPIO.Mock)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GPIO: %w", err)
	}
	a.GPIO = driver

	a.Router, err = BuildRouter(cfg, driver)
	if err != nil {
		driver.Close()
		return nil, err
	}

	a.Stream = output.NewMJPEGOutput(output.Config{
		Width:  cfg.Capture.Width,
		Height: cfg.Capture.Height,
		FPS:    cfg.Capture.FPS,
	})
	a.Frames = output.NewHub()
	a.Outputs = output.NewMulti(a.Stream, a.Frames)

	a.Pipeline = pipeline.New(a.Outputs, pipeline.Options{
		JPEGQuality: cfg.Capture.JPEGQuality,
	})

	pos, _ := camera.ParsePosition(cfg.Capture.Position)
	flash, _ := camera.ParseFlashMode(cfg.Capture.FlashMode)
	a.Sensor = capture.NewOrientationSensor(camera.DevicePortrait)
	a.Session = session.New(session.Config{
		Router:       a.Router,
		Format:       StreamFormat(cfg),
		Sink:         a.Pipeline,
		Sensor:       a.Sensor,
		Position:     pos,
		FlashMode:    flash,
		StillTimeout: time.Duration(cfg.Capture.StillTimeoutMs) * time.Millisecond,
	})
	a.Stills = session.NewStillController(a.Session, cfg.Capture.JPEGQuality)

	a.Dispatcher = host.New(host.Config{
		Session:              a.Session,
		Stills:               a.Stills,
		Sensor:               a.Sensor,
		Stats:                a.Pipeline.Stats,
		DefaultThumbnailSize: cfg.Capture.ThumbnailSize,
	})
	return a, nil
}

// Start starts outputs and the pipeline. The capture session itself is
// started by the host.
func (a *App) Start() error {
	if err := a.Outputs.Start(); err != nil {
		return err
	}
	a.Pipeline.Start()
	return nil
}

// Server returns an API server for the app
func (a *App) Server(cfgMgr *config.Manager) *api.Server {
	return api.NewServer(api.Options{
		Dispatcher: a.Dispatcher,
		Devices:    a.Session.Devices,
		Config:     cfgMgr,
		Stream:     a.Stream,
		Frames:     a.Frames,
	})
}

// ApplyConfig pushes runtime-adjustable settings from a reloaded config to
// the running session. Settings that need a restart are only logged.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	snap := a.Session.Snapshot()

	if pos, err := camera.ParsePosition(cfg.Capture.Position); err == nil && pos != snap.Position {
		if err := a.Session.SetCameraPosition(ctx, pos); err != nil {
			return fmt.Errorf("apply position %s: %w", pos, err)
		}
	}
	if mode, err := camera.ParseFlashMode(cfg.Capture.FlashMode); err == nil && mode != snap.FlashMode {
		if err := a.Session.SetFlashMode(ctx, mode); err != nil {
			return fmt.Errorf("apply flash mode %s: %w", mode, err)
		}
	}

	if StreamFormat(cfg) != StreamFormat(a.Config) || cfg.Capture.Backend != a.Config.Capture.Backend {
		a.log.Warn().Msg("Stream format or backend changed; restart to apply")
	}
	return nil
}

// Close stops everything in reverse order
func (a *App) Close() {
	a.Session.Close()
	a.Pipeline.Close()
	if err := a.Outputs.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to stop outputs")
	}
	if err := a.GPIO.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to release GPIO")
	}
}
