package app

import (
	"context"
	"testing"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/config"
	"github.com/bryanchriswhite/CanvasCamera/internal/gpio"
	"github.com/bryanchriswhite/CanvasCamera/internal/session"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Capture.Width = 32
	cfg.Capture.Height = 16
	cfg.Capture.FPS = 30
	return cfg
}

func TestBuildRouter_Synthetic(t *testing.T) {
	cfg := testConfig()
	cfg.Devices[0].FlashPin = 17
	driver := gpio.NewMockDriver()

	router, err := BuildRouter(cfg, driver)
	if err != nil {
		t.Fatalf("BuildRouter: %v", err)
	}
	if !router.Has(camera.PositionBack) || !router.Has(camera.PositionFront) {
		t.Fatalf("devices = %+v", router.Devices())
	}
	back, _ := router.Select(camera.PositionBack)
	if !back.Info().Capabilities.SupportsFlash(camera.FlashAuto) {
		t.Error("back camera should support auto flash")
	}
	front, _ := router.Select(camera.PositionFront)
	if !front.Info().Mirrored {
		t.Error("front camera should be mirrored")
	}
}

func TestBuildRouter_RejectsBadDevice(t *testing.T) {
	cfg := testConfig()
	cfg.Devices[1].FlashModes = []string{"strobe"}
	if _, err := BuildRouter(cfg, nil); err == nil {
		t.Fatal("expected error for unknown flash mode")
	}
}

func TestApp_StartAndApplyConfig(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Session.Start(ctx); err != nil {
		t.Fatalf("session start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for a.Stream.Latest() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no frame reached the stream output")
		}
		time.Sleep(10 * time.Millisecond)
	}

	next := testConfig()
	next.Capture.Position = "front"
	if err := a.ApplyConfig(ctx, next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	snap := a.Session.Snapshot()
	if snap.State != session.StateRunning || snap.Position != camera.PositionFront {
		t.Fatalf("snapshot = %+v", snap)
	}

	// The front camera has no flash
	next.Capture.FlashMode = "on"
	if err := a.ApplyConfig(ctx, next); err == nil {
		t.Fatal("expected unsupported flash error")
	}
}
