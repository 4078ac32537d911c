package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

func TestTextWidget_Expand(t *testing.T) {
	w, err := NewTextWidget("label", map[string]interface{}{"text": "{device}/{position} #{seq}"})
	if err != nil {
		t.Fatalf("NewTextWidget: %v", err)
	}
	got := w.Expand(FrameInfo{Sequence: 42, Position: camera.PositionFront, Device: "synthetic-front"})
	if got != "synthetic-front/front #42" {
		t.Errorf("Expand = %q", got)
	}
}

func TestTextWidget_RenderDrawsPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 40))
	w, err := NewTextWidget("label", map[string]interface{}{
		"text": "hello",
		"x":    2,
		"y":    2,
	})
	if err != nil {
		t.Fatalf("NewTextWidget: %v", err)
	}
	if err := w.Render(img, FrameInfo{Timestamp: time.Now()}); err != nil {
		t.Fatalf("Render: %v", err)
	}

	lit := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] > 0 {
			lit++
		}
	}
	if lit == 0 {
		t.Error("expected text pixels to be drawn")
	}
}

func TestManager_LoadFromConfigSkipsInvalid(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "a"},
		{"type": "text"},
		{"type": "sparkles", "id": "b"},
		{"type": "text", "id": "a"},
	})
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestManager_DisabledRendersNothing(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "a", "text": "x", "background": map[string]interface{}{"r": 255, "a": 255}},
	})
	m.SetEnabled(false)

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	m.Render(img, FrameInfo{})
	if img.RGBAAt(8, 8) != (color.RGBA{}) {
		t.Error("disabled overlay drew pixels")
	}
}
