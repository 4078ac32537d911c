package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

// DefaultJPEGQuality matches the quality the MJPEG stream has always used
const DefaultJPEGQuality = 90

// EncodeJPEG encodes an image at the given quality (1-100, 0 for default)
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes an image losslessly
func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeForPath picks PNG for .png paths and JPEG otherwise
func EncodeForPath(path string, img image.Image, quality int) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return EncodePNG(img)
	}
	return EncodeJPEG(img, quality)
}

// Pack lays an RGBA image out in a raw pixel format. It is the inverse of
// Decode's format normalization and is used by synthetic capture inputs.
func Pack(img *image.RGBA, format camera.PixelFormat, quality int) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	ycc := func(x, y int) (uint8, uint8, uint8) {
		i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
		return color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
	}

	switch format {
	case camera.PixelFormatRGBA, camera.PixelFormatBGRA:
		out := make([]byte, w*h*4)
		for y := 0; y < h; y++ {
			row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(out[y*w*4:(y+1)*w*4], row[:w*4])
		}
		if format == camera.PixelFormatBGRA {
			for i := 0; i < len(out); i += 4 {
				out[i], out[i+2] = out[i+2], out[i]
			}
		}
		return out, nil

	case camera.PixelFormatYUYV:
		if w%2 != 0 {
			return nil, fmt.Errorf("yuyv requires an even width, got %d", w)
		}
		out := make([]byte, w*h*2)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x += 2 {
				y0, u0, v0 := ycc(x, y)
				y1, u1, v1 := ycc(x+1, y)
				i := (y*w + x) * 2
				out[i] = y0
				out[i+1] = uint8((int(u0) + int(u1)) / 2)
				out[i+2] = y1
				out[i+3] = uint8((int(v0) + int(v1)) / 2)
			}
		}
		return out, nil

	case camera.PixelFormatNV12, camera.PixelFormatI420:
		cw, ch := (w+1)/2, (h+1)/2
		out := make([]byte, w*h+2*cw*ch)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				yy, cb, cr := ycc(x, y)
				out[y*w+x] = yy
				if x%2 != 0 || y%2 != 0 {
					continue
				}
				c := (y/2)*cw + x/2
				if format == camera.PixelFormatNV12 {
					out[w*h+2*c] = cb
					out[w*h+2*c+1] = cr
				} else {
					out[w*h+c] = cb
					out[w*h+cw*ch+c] = cr
				}
			}
		}
		return out, nil

	case camera.PixelFormatMJPEG:
		return EncodeJPEG(img, quality)
	}
	return nil, fmt.Errorf("cannot pack pixel format %q", format)
}
