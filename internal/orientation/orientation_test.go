package orientation

import (
	"testing"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

func TestMap_BackCamera(t *testing.T) {
	tests := []struct {
		in   camera.DeviceOrientation
		want camera.Orientation
	}{
		{camera.DevicePortrait, camera.OrientationRight},
		{camera.DevicePortraitUpsideDown, camera.OrientationLeft},
		{camera.DeviceLandscapeLeft, camera.OrientationUp},
		{camera.DeviceLandscapeRight, camera.OrientationDown},
	}
	for _, tt := range tests {
		if got := Map(tt.in, false); got != tt.want {
			t.Errorf("Map(%s, back) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMap_FrontCameraIsMirrored(t *testing.T) {
	tests := []struct {
		in   camera.DeviceOrientation
		want camera.Orientation
	}{
		{camera.DevicePortrait, camera.OrientationLeftMirrored},
		{camera.DevicePortraitUpsideDown, camera.OrientationRightMirrored},
		{camera.DeviceLandscapeLeft, camera.OrientationDownMirrored},
		{camera.DeviceLandscapeRight, camera.OrientationUpMirrored},
	}
	for _, tt := range tests {
		if got := ForPosition(tt.in, camera.PositionFront); got != tt.want {
			t.Errorf("ForPosition(%s, front) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestResolve_RetainsLastKnown(t *testing.T) {
	last := camera.DeviceLandscapeLeft
	for _, o := range []camera.DeviceOrientation{camera.DeviceFaceUp, camera.DeviceFaceDown, camera.DeviceUnknown} {
		if got := Resolve(o, last); got != last {
			t.Errorf("Resolve(%s, %s) = %s, want %s", o, last, got, last)
		}
	}
	if got := Resolve(camera.DevicePortrait, last); got != camera.DevicePortrait {
		t.Errorf("Resolve(portrait) = %s, want portrait", got)
	}
}

func TestResolve_NoHistoryFallsBackToDefault(t *testing.T) {
	if got := Resolve(camera.DeviceFaceUp, camera.DeviceUnknown); got != Default {
		t.Errorf("Resolve(face_up, unknown) = %s, want %s", got, Default)
	}
}

func TestMap_NonCardinalUsesDefault(t *testing.T) {
	if got, want := Map(camera.DeviceFaceDown, false), Map(Default, false); got != want {
		t.Errorf("Map(face_down) = %s, want %s", got, want)
	}
}
