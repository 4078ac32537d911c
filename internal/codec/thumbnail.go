package codec

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// CenterSquare returns the largest centered square inside r. The offset along
// the longer edge is (longer - shorter) / 2.
func CenterSquare(r image.Rectangle) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w > h {
		off := (w - h) / 2
		return image.Rect(r.Min.X+off, r.Min.Y, r.Min.X+off+h, r.Max.Y)
	}
	off := (h - w) / 2
	return image.Rect(r.Min.X, r.Min.Y+off, r.Max.X, r.Min.Y+off+w)
}

// Thumbnail center-crops img to a square on its shorter edge and scales the
// square to size x size. The result keeps the source's metadata.
func Thumbnail(img *camera.Image, size int) (*camera.Image, error) {
	if img == nil || img.Pixels == nil {
		return nil, fmt.Errorf("thumbnail: nil image")
	}
	if size <= 0 {
		return nil, fmt.Errorf("thumbnail: invalid size %d", size)
	}
	src := img.Pixels
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("thumbnail: empty image")
	}

	crop := CenterSquare(src.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	if crop.Dx() == size {
		draw.Draw(dst, dst.Bounds(), src, crop.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	}

	return &camera.Image{
		Pixels:      dst,
		Orientation: img.Orientation,
		Timestamp:   img.Timestamp,
		Sequence:    img.Sequence,
		Position:    img.Position,
	}, nil
}
