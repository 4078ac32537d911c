// Package codec converts raw capture frames into upright RGBA images and
// produces square thumbnails and encoded stills from them.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/orientation"
)

// converter turns one raw frame into a sensor-oriented RGBA image
type converter func(f camera.Frame) (*image.RGBA, error)

var converters = map[camera.PixelFormat]converter{
	camera.PixelFormatYUYV:  convertYUYV,
	camera.PixelFormatNV12:  convertNV12,
	camera.PixelFormatI420:  convertI420,
	camera.PixelFormatBGRA:  convertBGRA,
	camera.PixelFormatRGBA:  convertRGBA,
	camera.PixelFormatMJPEG: convertMJPEG,
}

// Supports reports whether Decode can handle the pixel format
func Supports(format camera.PixelFormat) bool {
	_, ok := converters[format]
	return ok
}

// Decode normalizes the frame's pixel format to RGBA and rotates/mirrors it
// so the result is upright for the device orientation recorded on the frame.
// All failures wrap camera.ErrFrameConversion.
func Decode(f camera.Frame) (*camera.Image, error) {
	conv, ok := converters[f.Format]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported pixel format %q", camera.ErrFrameConversion, f.Format)
	}
	if f.Format != camera.PixelFormatMJPEG && (f.Width <= 0 || f.Height <= 0) {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", camera.ErrFrameConversion, f.Width, f.Height)
	}

	raw, err := conv(f)
	if err != nil {
		return nil, err
	}

	tag := orientation.Map(f.Orientation, f.Mirrored)
	return &camera.Image{
		Pixels:      Orient(raw, tag),
		Orientation: tag,
		Timestamp:   f.Timestamp,
		Sequence:    f.Sequence,
		Position:    f.Position,
	}, nil
}

func shortBuffer(f camera.Frame, need int) error {
	return fmt.Errorf("%w: %s buffer too short for %dx%d: have %d bytes, need %d",
		camera.ErrFrameConversion, f.Format, f.Width, f.Height, len(f.Data), need)
}

func stride(f camera.Frame, packed int) (int, error) {
	if f.Stride == 0 {
		return packed, nil
	}
	if f.Stride < packed {
		return 0, fmt.Errorf("%w: stride %d smaller than row size %d", camera.ErrFrameConversion, f.Stride, packed)
	}
	return f.Stride, nil
}

func setYCbCr(dst *image.RGBA, x, y int, yy, cb, cr uint8) {
	r, g, b := color.YCbCrToRGB(yy, cb, cr)
	i := dst.PixOffset(x, y)
	dst.Pix[i+0] = r
	dst.Pix[i+1] = g
	dst.Pix[i+2] = b
	dst.Pix[i+3] = 0xff
}

// convertYUYV handles packed 4:2:2 (Y0 U Y1 V)
func convertYUYV(f camera.Frame) (*image.RGBA, error) {
	if f.Width%2 != 0 {
		return nil, fmt.Errorf("%w: yuyv width %d is odd", camera.ErrFrameConversion, f.Width)
	}
	rowLen, err := stride(f, f.Width*2)
	if err != nil {
		return nil, err
	}
	if need := rowLen*(f.Height-1) + f.Width*2; len(f.Data) < need {
		return nil, shortBuffer(f, need)
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		row := f.Data[y*rowLen:]
		for x := 0; x < f.Width; x += 2 {
			i := x * 2
			y0, u, y1, v := row[i], row[i+1], row[i+2], row[i+3]
			setYCbCr(img, x, y, y0, u, v)
			setYCbCr(img, x+1, y, y1, u, v)
		}
	}
	return img, nil
}

// convertNV12 handles a full Y plane followed by interleaved CbCr at 2x2
// subsampling
func convertNV12(f camera.Frame) (*image.RGBA, error) {
	rowLen, err := stride(f, f.Width)
	if err != nil {
		return nil, err
	}
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	ySize := rowLen * f.Height
	uvRow := rowLen
	if uvRow < cw*2 {
		uvRow = cw * 2
	}
	if need := ySize + uvRow*(ch-1) + cw*2; len(f.Data) < need {
		return nil, shortBuffer(f, need)
	}

	uv := f.Data[ySize:]
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := (y/2)*uvRow + (x/2)*2
			setYCbCr(img, x, y, f.Data[y*rowLen+x], uv[c], uv[c+1])
		}
	}
	return img, nil
}

// convertI420 handles three planes Y, Cb, Cr with 2x2 chroma subsampling
func convertI420(f camera.Frame) (*image.RGBA, error) {
	rowLen, err := stride(f, f.Width)
	if err != nil {
		return nil, err
	}
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	ySize := rowLen * f.Height
	cSize := cw * ch
	if need := ySize + 2*cSize; len(f.Data) < need {
		return nil, shortBuffer(f, need)
	}

	cb := f.Data[ySize : ySize+cSize]
	cr := f.Data[ySize+cSize : ySize+2*cSize]
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := (y/2)*cw + x/2
			setYCbCr(img, x, y, f.Data[y*rowLen+x], cb[c], cr[c])
		}
	}
	return img, nil
}

func convertBGRA(f camera.Frame) (*image.RGBA, error) {
	return convertPacked32(f, true)
}

func convertRGBA(f camera.Frame) (*image.RGBA, error) {
	return convertPacked32(f, false)
}

func convertPacked32(f camera.Frame, swap bool) (*image.RGBA, error) {
	rowLen, err := stride(f, f.Width*4)
	if err != nil {
		return nil, err
	}
	if need := rowLen*(f.Height-1) + f.Width*4; len(f.Data) < need {
		return nil, shortBuffer(f, need)
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*rowLen : y*rowLen+f.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		if !swap {
			copy(dst, src)
			continue
		}
		for i := 0; i < len(src); i += 4 {
			dst[i+0] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i+0]
			dst[i+3] = 0xff
		}
	}
	return img, nil
}

func convertMJPEG(f camera.Frame) (*image.RGBA, error) {
	decoded, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: mjpeg: %v", camera.ErrFrameConversion, err)
	}
	if f.Width > 0 && f.Height > 0 {
		if b := decoded.Bounds(); b.Dx() != f.Width || b.Dy() != f.Height {
			return nil, fmt.Errorf("%w: mjpeg is %dx%d, frame says %dx%d",
				camera.ErrFrameConversion, b.Dx(), b.Dy(), f.Width, f.Height)
		}
	}
	b := decoded.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), decoded, b.Min, draw.Src)
	return img, nil
}
