// Package orientation maps the physical device orientation at capture time
// to the image orientation tag that turns the sensor output upright.
package orientation

import "github.com/bryanchriswhite/CanvasCamera/internal/camera"

// The sensor is mounted in landscape-right. Front cameras are mirrored.
var (
	back = map[camera.DeviceOrientation]camera.Orientation{
		camera.DevicePortrait:           camera.OrientationRight,
		camera.DevicePortraitUpsideDown: camera.OrientationLeft,
		camera.DeviceLandscapeLeft:      camera.OrientationUp,
		camera.DeviceLandscapeRight:     camera.OrientationDown,
	}
	front = map[camera.DeviceOrientation]camera.Orientation{
		camera.DevicePortrait:           camera.OrientationLeftMirrored,
		camera.DevicePortraitUpsideDown: camera.OrientationRightMirrored,
		camera.DeviceLandscapeLeft:      camera.OrientationDownMirrored,
		camera.DeviceLandscapeRight:     camera.OrientationUpMirrored,
	}
)

// Default is used when no cardinal orientation has ever been observed
const Default = camera.DevicePortrait

// Resolve returns o if it is a cardinal rotation and last otherwise. Face-up,
// face-down and unknown readings carry no rotation information.
func Resolve(o, last camera.DeviceOrientation) camera.DeviceOrientation {
	if o.IsCardinal() {
		return o
	}
	if last.IsCardinal() {
		return last
	}
	return Default
}

// Map returns the orientation tag for a frame captured with the device held
// at o. Non-cardinal orientations map as Default; callers that track the last
// known orientation should Resolve first.
func Map(o camera.DeviceOrientation, mirrored bool) camera.Orientation {
	if !o.IsCardinal() {
		o = Default
	}
	if mirrored {
		return front[o]
	}
	return back[o]
}

// ForPosition is Map for a device whose mirroring follows its position
func ForPosition(o camera.DeviceOrientation, p camera.Position) camera.Orientation {
	return Map(o, p == camera.PositionFront)
}
