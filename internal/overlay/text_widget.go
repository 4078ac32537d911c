package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget draws a label. The text may reference {seq}, {time}, {position}
// and {device}, which are expanded for every frame.
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 8, 8, 1.0),
		text:       "{device} #{seq}",
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    4,
	}

	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}

	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Expand substitutes the frame placeholders in the widget text
func (w *TextWidget) Expand(info FrameInfo) string {
	r := strings.NewReplacer(
		"{seq}", fmt.Sprintf("%d", info.Sequence),
		"{time}", info.Timestamp.Format(time.RFC3339),
		"{position}", string(info.Position),
		"{device}", info.Device,
	)
	return r.Replace(w.text)
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA, info FrameInfo) error {
	text := w.Expand(info)
	if !w.IsEnabled() || text == "" {
		return nil
	}

	face := basicfont.Face7x13
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()

	width := font.MeasureString(face, text).Ceil()
	boxW := width + w.padding*2
	boxH := lineHeight + w.padding*2

	box := image.NewRGBA(image.Rect(0, 0, boxW, boxH))
	if w.bgColor != nil {
		draw.Draw(box, box.Bounds(), image.NewUniform(*w.bgColor), image.Point{}, draw.Src)
	}

	d := &font.Drawer{
		Dst:  box,
		Src:  image.NewUniform(w.textColor),
		Face: face,
		Dot:  fixed.P(w.padding, w.padding+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)

	BlendImage(img, box, w.x, w.y, w.opacity)
	return nil
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)

	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	if _, ok := config["padding"]; ok {
		w.padding = getInt(config["padding"])
	}
	if c, ok := getColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := getColor(config["background"]); ok {
		w.bgColor = &c
	}

	if w.padding < 0 {
		return fmt.Errorf("text widget %s: negative padding", w.id)
	}
	return nil
}

// SetText updates the text template
func (w *TextWidget) SetText(text string) {
	w.text = text
}
