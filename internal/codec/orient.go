package codec

import (
	"image"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// Orient applies an orientation tag to a sensor-oriented image and returns a
// new upright image. The source is not modified.
func Orient(src *image.RGBA, tag camera.Orientation) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	dw, dh := w, h
	if tag.SwapsAxes() {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	if tag == camera.OrientationUp || tag == "" {
		for y := 0; y < h; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w*4], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return dst
	}

	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			dx, dy := target(tag, sx, sy, w, h)
			si := src.PixOffset(b.Min.X+sx, b.Min.Y+sy)
			di := dst.PixOffset(dx, dy)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// target returns where source pixel (x, y) of a w x h image lands
func target(tag camera.Orientation, x, y, w, h int) (int, int) {
	switch tag {
	case camera.OrientationDown:
		return w - 1 - x, h - 1 - y
	case camera.OrientationRight:
		return h - 1 - y, x
	case camera.OrientationLeft:
		return y, w - 1 - x
	case camera.OrientationUpMirrored:
		return w - 1 - x, y
	case camera.OrientationDownMirrored:
		return x, h - 1 - y
	case camera.OrientationRightMirrored:
		return h - 1 - y, w - 1 - x
	case camera.OrientationLeftMirrored:
		return y, x
	}
	return x, y
}
