package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// gridImage returns a w x h image where each pixel encodes its coordinates
func gridImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 7, A: 255})
		}
	}
	return img
}

func pixelsOf(img *image.RGBA) map[color.RGBA]image.Point {
	out := make(map[color.RGBA]image.Point)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out[img.RGBAAt(x, y)] = image.Point{X: x, Y: y}
		}
	}
	return out
}

func TestDecode_BGRASwapsChannels(t *testing.T) {
	f := camera.Frame{
		Data:        []byte{10, 20, 30, 0, 40, 50, 60, 0},
		Width:       2,
		Height:      1,
		Format:      camera.PixelFormatBGRA,
		Orientation: camera.DeviceLandscapeLeft, // maps to Up on the back camera
		Timestamp:   time.Unix(100, 0),
		Sequence:    9,
	}
	img, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Orientation != camera.OrientationUp {
		t.Errorf("orientation = %s, want up", img.Orientation)
	}
	if got := img.Pixels.RGBAAt(0, 0); got != (color.RGBA{30, 20, 10, 255}) {
		t.Errorf("pixel(0,0) = %v", got)
	}
	if got := img.Pixels.RGBAAt(1, 0); got != (color.RGBA{60, 50, 40, 255}) {
		t.Errorf("pixel(1,0) = %v", got)
	}
	if img.Sequence != 9 || !img.Timestamp.Equal(f.Timestamp) {
		t.Errorf("metadata not carried over: seq=%d ts=%v", img.Sequence, img.Timestamp)
	}
}

func TestDecode_YUYVNeutralGray(t *testing.T) {
	f := camera.Frame{
		Data:        []byte{128, 128, 128, 128, 128, 128, 128, 128},
		Width:       2,
		Height:      2,
		Format:      camera.PixelFormatYUYV,
		Orientation: camera.DeviceLandscapeLeft,
	}
	img, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.Pixels.RGBAAt(x, y); got != (color.RGBA{128, 128, 128, 255}) {
				t.Errorf("pixel(%d,%d) = %v, want gray", x, y, got)
			}
		}
	}
}

func TestDecode_PlanarFormatsMatchSource(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 40, 90, 255
	}
	for _, format := range []camera.PixelFormat{camera.PixelFormatNV12, camera.PixelFormatI420, camera.PixelFormatYUYV} {
		data, err := Pack(src, format, 0)
		if err != nil {
			t.Fatalf("Pack(%s): %v", format, err)
		}
		img, err := Decode(camera.Frame{Data: data, Width: 4, Height: 4, Format: format, Orientation: camera.DeviceLandscapeLeft})
		if err != nil {
			t.Fatalf("Decode(%s): %v", format, err)
		}
		got := img.Pixels.RGBAAt(1, 1)
		if absDiff(got.R, 200) > 3 || absDiff(got.G, 40) > 3 || absDiff(got.B, 90) > 3 {
			t.Errorf("%s: pixel = %v, want ~{200 40 90}", format, got)
		}
	}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestDecode_CorruptFramesWrapConversionError(t *testing.T) {
	tests := []struct {
		name  string
		frame camera.Frame
	}{
		{"short yuyv", camera.Frame{Data: make([]byte, 3), Width: 2, Height: 2, Format: camera.PixelFormatYUYV}},
		{"short nv12", camera.Frame{Data: make([]byte, 10), Width: 4, Height: 4, Format: camera.PixelFormatNV12}},
		{"short bgra", camera.Frame{Data: make([]byte, 4), Width: 2, Height: 2, Format: camera.PixelFormatBGRA}},
		{"bad jpeg", camera.Frame{Data: []byte("not a jpeg"), Format: camera.PixelFormatMJPEG}},
		{"unknown format", camera.Frame{Data: make([]byte, 64), Width: 2, Height: 2, Format: "h264"}},
		{"zero size", camera.Frame{Data: make([]byte, 64), Format: camera.PixelFormatRGBA}},
		{"odd yuyv", camera.Frame{Data: make([]byte, 64), Width: 3, Height: 2, Format: camera.PixelFormatYUYV}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			if !errors.Is(err, camera.ErrFrameConversion) {
				t.Fatalf("err = %v, want ErrFrameConversion", err)
			}
		})
	}
}

func TestOrient_RotationsMoveCorners(t *testing.T) {
	src := gridImage(3, 2)
	topLeft := src.RGBAAt(0, 0)
	topRight := src.RGBAAt(2, 0)

	tests := []struct {
		tag        camera.Orientation
		w, h       int
		topLeftAt  image.Point
		topRightAt image.Point
	}{
		{camera.OrientationUp, 3, 2, image.Pt(0, 0), image.Pt(2, 0)},
		{camera.OrientationDown, 3, 2, image.Pt(2, 1), image.Pt(0, 1)},
		{camera.OrientationRight, 2, 3, image.Pt(1, 0), image.Pt(1, 2)},
		{camera.OrientationLeft, 2, 3, image.Pt(0, 2), image.Pt(0, 0)},
		{camera.OrientationUpMirrored, 3, 2, image.Pt(2, 0), image.Pt(0, 0)},
		{camera.OrientationLeftMirrored, 2, 3, image.Pt(0, 0), image.Pt(0, 2)},
	}
	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			out := Orient(src, tt.tag)
			if out.Bounds().Dx() != tt.w || out.Bounds().Dy() != tt.h {
				t.Fatalf("size = %v, want %dx%d", out.Bounds().Size(), tt.w, tt.h)
			}
			pos := pixelsOf(out)
			if pos[topLeft] != tt.topLeftAt {
				t.Errorf("top-left landed at %v, want %v", pos[topLeft], tt.topLeftAt)
			}
			if pos[topRight] != tt.topRightAt {
				t.Errorf("top-right landed at %v, want %v", pos[topRight], tt.topRightAt)
			}
		})
	}
}

func TestDecode_PortraitBackCameraIsUpright(t *testing.T) {
	src := gridImage(4, 2)
	data, _ := Pack(src, camera.PixelFormatRGBA, 0)
	img, err := Decode(camera.Frame{Data: data, Width: 4, Height: 2, Format: camera.PixelFormatRGBA, Orientation: camera.DevicePortrait})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Width() != 2 || img.Height() != 4 {
		t.Errorf("portrait image is %dx%d, want 2x4", img.Width(), img.Height())
	}
	if img.Orientation != camera.OrientationRight {
		t.Errorf("orientation = %s, want right", img.Orientation)
	}
}

func TestCenterSquare_SymmetricOffset(t *testing.T) {
	if got := CenterSquare(image.Rect(0, 0, 8, 4)); got != image.Rect(2, 0, 6, 4) {
		t.Errorf("landscape crop = %v", got)
	}
	if got := CenterSquare(image.Rect(0, 0, 4, 9)); got != image.Rect(0, 2, 4, 6) {
		t.Errorf("portrait crop = %v", got)
	}
}

func TestThumbnail_CropsCenterWithoutScaling(t *testing.T) {
	src := &camera.Image{Pixels: gridImage(8, 4), Orientation: camera.OrientationUp}
	th, err := Thumbnail(src, 4)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if got, want := th.Pixels.RGBAAt(0, 0), src.Pixels.RGBAAt(2, 0); got != want {
		t.Errorf("thumbnail(0,0) = %v, want source(2,0) %v", got, want)
	}
	if got, want := th.Pixels.RGBAAt(3, 3), src.Pixels.RGBAAt(5, 3); got != want {
		t.Errorf("thumbnail(3,3) = %v, want source(5,3) %v", got, want)
	}
}

func TestThumbnail_ScalesToRequestedSize(t *testing.T) {
	src := &camera.Image{Pixels: gridImage(100, 50)}
	th, err := Thumbnail(src, 10)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if s := th.Pixels.Bounds().Size(); s != image.Pt(10, 10) {
		t.Errorf("size = %v, want 10x10", s)
	}
}

func TestThumbnail_IdempotentOnSquare(t *testing.T) {
	src := &camera.Image{Pixels: gridImage(6, 6)}
	once, err := Thumbnail(src, 6)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	twice, err := Thumbnail(once, 6)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if !bytes.Equal(once.Pixels.Pix, twice.Pixels.Pix) {
		t.Error("thumbnail of a square thumbnail changed its bytes")
	}
	if !bytes.Equal(once.Pixels.Pix, src.Pixels.Pix) {
		t.Error("thumbnail of a square image of the same size changed its bytes")
	}
}

func TestThumbnail_RejectsInvalidSize(t *testing.T) {
	if _, err := Thumbnail(&camera.Image{Pixels: gridImage(2, 2)}, 0); err == nil {
		t.Error("expected error for size 0")
	}
}

func TestEncodeJPEG_DecodesAsMJPEGFrame(t *testing.T) {
	data, err := EncodeJPEG(gridImage(16, 8), 80)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	img, err := Decode(camera.Frame{Data: data, Width: 16, Height: 8, Format: camera.PixelFormatMJPEG, Orientation: camera.DeviceLandscapeLeft})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Width() != 16 || img.Height() != 8 {
		t.Errorf("decoded %dx%d, want 16x8", img.Width(), img.Height())
	}
}
