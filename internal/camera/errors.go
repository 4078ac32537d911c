package camera

import "errors"

// Session configuration errors
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrConfig            = errors.New("invalid session configuration")
	ErrUnsupportedMode   = errors.New("unsupported mode")
	ErrAlreadyStarting   = errors.New("session already starting")
)

// Still capture errors
var (
	ErrBusy              = errors.New("still capture already in progress")
	ErrSessionNotRunning = errors.New("session not running")
	ErrInterrupted       = errors.New("still capture interrupted")
)

// ErrFrameConversion marks a single frame that could not be decoded. It is
// absorbed by the pipeline and never returned to session callers.
var ErrFrameConversion = errors.New("frame conversion failed")

// Code returns the stable name of a taxonomy error for the host bridge, or
// "Error" for anything else.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceUnavailable):
		return "DeviceUnavailable"
	case errors.Is(err, ErrUnsupportedMode):
		return "UnsupportedMode"
	case errors.Is(err, ErrAlreadyStarting):
		return "AlreadyStarting"
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrBusy):
		return "Busy"
	case errors.Is(err, ErrSessionNotRunning):
		return "SessionNotRunning"
	case errors.Is(err, ErrInterrupted):
		return "Interrupted"
	case errors.Is(err, ErrFrameConversion):
		return "FrameConversionError"
	}
	return "Error"
}
