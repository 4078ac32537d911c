//go:build linux

package v4l2

import (
	"testing"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

func TestOfferStill_SkipsFramesQueuedBeforeFlash(t *testing.T) {
	flashed := &stillWaiter{skip: 2, ch: make(chan camera.Frame, 1)}
	plain := &stillWaiter{ch: make(chan camera.Frame, 1)}

	waiters := []*stillWaiter{flashed, plain}
	for seq := uint64(1); seq <= 3; seq++ {
		waiters = offerStill(waiters, camera.Frame{Sequence: seq})
	}
	if len(waiters) != 0 {
		t.Fatalf("%d waiters still pending", len(waiters))
	}

	if f := <-plain.ch; f.Sequence != 1 {
		t.Errorf("plain still got frame %d, want 1", f.Sequence)
	}
	if f := <-flashed.ch; f.Sequence != 3 {
		t.Errorf("flash still got frame %d, want 3", f.Sequence)
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{Path: "/dev/video9", Position: camera.PositionBack})
	info := d.Info()
	if info.Name != "/dev/video9" || d.cfg.Buffers != 4 {
		t.Fatalf("info = %+v, buffers = %d", info, d.cfg.Buffers)
	}
	if !info.Capabilities.SupportsFormat(camera.PixelFormatMJPEG) {
		t.Error("MJPEG should be a default format")
	}
}
