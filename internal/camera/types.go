// Package camera holds the value types shared by the capture session, the
// frame pipeline and the codec: positions, flash modes, orientations, frames
// and decoded images.
package camera

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Position identifies which physical camera unit is active
type Position string

const (
	PositionBack  Position = "back"
	PositionFront Position = "front"
)

// ParsePosition parses a position name (case-insensitive)
func ParsePosition(s string) (Position, error) {
	switch Position(strings.ToLower(strings.TrimSpace(s))) {
	case PositionBack:
		return PositionBack, nil
	case PositionFront:
		return PositionFront, nil
	}
	return "", fmt.Errorf("invalid camera position %q (use front or back)", s)
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Position) UnmarshalText(text []byte) error {
	v, err := ParsePosition(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// FlashMode is the flash behaviour applied to still captures
type FlashMode string

const (
	FlashOff  FlashMode = "off"
	FlashOn   FlashMode = "on"
	FlashAuto FlashMode = "auto"
)

// ParseFlashMode parses a flash mode name (case-insensitive)
func ParseFlashMode(s string) (FlashMode, error) {
	switch FlashMode(strings.ToLower(strings.TrimSpace(s))) {
	case FlashOff:
		return FlashOff, nil
	case FlashOn:
		return FlashOn, nil
	case FlashAuto:
		return FlashAuto, nil
	}
	return "", fmt.Errorf("invalid flash mode %q (use off, on or auto)", s)
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *FlashMode) UnmarshalText(text []byte) error {
	v, err := ParseFlashMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// DeviceOrientation is the physical orientation of the device body
type DeviceOrientation string

const (
	DeviceUnknown            DeviceOrientation = "unknown"
	DevicePortrait           DeviceOrientation = "portrait"
	DevicePortraitUpsideDown DeviceOrientation = "portrait_upside_down"
	DeviceLandscapeLeft      DeviceOrientation = "landscape_left"
	DeviceLandscapeRight     DeviceOrientation = "landscape_right"
	DeviceFaceUp             DeviceOrientation = "face_up"
	DeviceFaceDown           DeviceOrientation = "face_down"
)

// ParseDeviceOrientation parses a device orientation name
func ParseDeviceOrientation(s string) (DeviceOrientation, error) {
	o := DeviceOrientation(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case DeviceUnknown, DevicePortrait, DevicePortraitUpsideDown,
		DeviceLandscapeLeft, DeviceLandscapeRight, DeviceFaceUp, DeviceFaceDown:
		return o, nil
	case "":
		return DeviceUnknown, nil
	}
	return "", fmt.Errorf("invalid device orientation %q", s)
}

// IsCardinal reports whether o is one of the four rotations that determine
// how an image must be turned.
func (o DeviceOrientation) IsCardinal() bool {
	switch o {
	case DevicePortrait, DevicePortraitUpsideDown, DeviceLandscapeLeft, DeviceLandscapeRight:
		return true
	}
	return false
}

// Orientation is an image orientation tag: the transform that turns the
// sensor's pixel matrix upright.
type Orientation string

const (
	OrientationUp            Orientation = "up"
	OrientationDown          Orientation = "down"
	OrientationLeft          Orientation = "left"
	OrientationRight         Orientation = "right"
	OrientationUpMirrored    Orientation = "up_mirrored"
	OrientationDownMirrored  Orientation = "down_mirrored"
	OrientationLeftMirrored  Orientation = "left_mirrored"
	OrientationRightMirrored Orientation = "right_mirrored"
)

// SwapsAxes reports whether applying o exchanges width and height
func (o Orientation) SwapsAxes() bool {
	switch o {
	case OrientationLeft, OrientationRight, OrientationLeftMirrored, OrientationRightMirrored:
		return true
	}
	return false
}

// PixelFormat is the layout of a raw frame buffer
type PixelFormat string

const (
	PixelFormatYUYV  PixelFormat = "yuyv"
	PixelFormatNV12  PixelFormat = "nv12"
	PixelFormatI420  PixelFormat = "i420"
	PixelFormatBGRA  PixelFormat = "bgra"
	PixelFormatRGBA  PixelFormat = "rgba"
	PixelFormatMJPEG PixelFormat = "mjpeg"
)

// ParsePixelFormat parses a pixel format name
func ParsePixelFormat(s string) (PixelFormat, error) {
	f := PixelFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case PixelFormatYUYV, PixelFormatNV12, PixelFormatI420,
		PixelFormatBGRA, PixelFormatRGBA, PixelFormatMJPEG:
		return f, nil
	}
	return "", fmt.Errorf("unsupported pixel format %q", s)
}

// Frame is one raw buffer from a capture input plus its capture metadata.
// The pipeline owns a frame for exactly one conversion and must call Release
// once it has been converted or dropped.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
	// Stride is the byte length of one row of the first plane; zero means
	// tightly packed.
	Stride    int
	Timestamp time.Time
	Sequence  uint64

	// Orientation is the physical device orientation at capture time
	Orientation DeviceOrientation

	// Position and Mirrored are stamped by the session from the device that
	// produced the frame.
	Position Position
	Mirrored bool

	release func()
}

// WithRelease attaches a callback run when the frame's owner is done with it
func (f Frame) WithRelease(fn func()) Frame {
	f.release = fn
	return f
}

// Release returns the underlying buffer to its producer. Safe to call on a
// frame without a release callback.
func (f Frame) Release() {
	if f.release != nil {
		f.release()
	}
}

// Image is a decoded, upright pixel matrix. Images are never mutated after
// creation.
type Image struct {
	Pixels      *image.RGBA
	Orientation Orientation
	Timestamp   time.Time
	Sequence    uint64
	Position    Position
}

// Width returns the width of the upright image
func (i *Image) Width() int {
	return i.Pixels.Bounds().Dx()
}

// Height returns the height of the upright image
func (i *Image) Height() int {
	return i.Pixels.Bounds().Dy()
}

// Delivery is what the pipeline hands to a sink for one frame
type Delivery struct {
	JPEG        []byte
	Width       int
	Height      int
	Orientation Orientation
	Timestamp   time.Time
	Sequence    uint64
	Position    Position

	// Image is the decoded source of JPEG, for sinks that render pixels
	Image *Image

	// Thumbnail is set when the pipeline is configured with a thumbnail size
	Thumbnail []byte
}
