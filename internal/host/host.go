// Package host is the asynchronous command surface a UI bridge talks to.
// Requests carry an opaque ID and complete with exactly one Response; the
// caller is never blocked while the command runs.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
	"github.com/bryanchriswhite/CanvasCamera/internal/pipeline"
	"github.com/bryanchriswhite/CanvasCamera/internal/session"
)

// Command names
const (
	CmdStartCapture      = "startCapture"
	CmdStopCapture       = "stopCapture"
	CmdSetFlashMode      = "setFlashMode"
	CmdSetCameraPosition = "setCameraPosition"
	CmdCaptureImage      = "captureImage"
	CmdStatus            = "status"
	CmdSetOrientation    = "setOrientation"
)

// Codes for failures outside the camera error taxonomy
const (
	CodeUnknownCommand  = "UnknownCommand"
	CodeInvalidArgument = "InvalidArgument"
	CodeCanceled        = "Canceled"
	CodeTimeout         = "Timeout"
)

// ErrInvalidArgument marks malformed command arguments
var ErrInvalidArgument = errors.New("invalid argument")

// Request is one host command
type Request struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response completes a Request
type Response struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a failed command's stable code and message
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Session is the part of the capture session the host drives
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetFlashMode(ctx context.Context, mode camera.FlashMode) error
	SetCameraPosition(ctx context.Context, position camera.Position) error
	Snapshot() session.Snapshot
}

// Stills takes still photos
type Stills interface {
	CaptureImage(ctx context.Context, opts session.StillOptions) (*session.StillResult, error)
	State() (session.StillState, string)
}

// Config wires a Dispatcher
type Config struct {
	Session Session
	Stills  Stills

	// Sensor receives setOrientation; nil rejects the command
	Sensor *capture.OrientationSensor

	// Stats reports pipeline counters for status; optional
	Stats func() pipeline.Stats

	// DefaultThumbnailSize applies when captureImage omits one
	DefaultThumbnailSize int

	// Timeout bounds each command; zero means none
	Timeout time.Duration
}

// Dispatcher runs host commands against the session
type Dispatcher struct {
	cfg Config
}

// New creates a dispatcher
func New(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// CaptureResult is the captureImage payload. Byte fields marshal as base64.
type CaptureResult struct {
	RequestID   string             `json:"request_id"`
	Image       []byte             `json:"image"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Orientation camera.Orientation `json:"orientation"`
	Position    camera.Position    `json:"position"`
	Timestamp   time.Time          `json:"timestamp"`
	Thumbnail   []byte             `json:"thumbnail,omitempty"`
}

// Status is the status payload
type Status struct {
	Session     session.Snapshot         `json:"session"`
	Still       session.StillState       `json:"still"`
	Orientation camera.DeviceOrientation `json:"orientation"`
	Pipeline    *pipeline.Stats          `json:"pipeline,omitempty"`
}

// Dispatch runs req asynchronously. The returned channel yields exactly one
// Response and is then closed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) <-chan Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	out := make(chan Response, 1)

	go func() {
		defer close(out)
		if d.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
			defer cancel()
		}

		log := logger.WithRequest("host", req.ID)
		start := time.Now()
		result, err := d.run(ctx, req)

		resp := Response{ID: req.ID, Command: req.Command, OK: err == nil, Result: result}
		if err != nil {
			resp.Result = nil
			resp.Error = &Error{Code: code(err), Message: err.Error()}
			log.Warn().Str("command", req.Command).Str("code", resp.Error.Code).Err(err).Msg("Command failed")
		} else {
			log.Debug().Str("command", req.Command).Dur("elapsed", time.Since(start)).Msg("Command completed")
		}
		out <- resp
	}()
	return out
}

// Do dispatches req and waits for its response
func (d *Dispatcher) Do(ctx context.Context, req Request) Response {
	return <-d.Dispatch(ctx, req)
}

type unknownCommandError string

func (e unknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", string(e))
}

func code(err error) string {
	var unknown unknownCommandError
	switch {
	case errors.As(err, &unknown):
		return CodeUnknownCommand
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	}
	if c := camera.Code(err); c != "Error" {
		return c
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	}
	return "Error"
}

func (d *Dispatcher) run(ctx context.Context, req Request) (any, error) {
	switch req.Command {
	case CmdStartCapture:
		if err := d.cfg.Session.Start(ctx); err != nil {
			return nil, err
		}
		return d.cfg.Session.Snapshot(), nil
	case CmdStopCapture:
		return nil, d.cfg.Session.Stop(ctx)
	case CmdSetFlashMode:
		return d.setFlashMode(ctx, req.Args)
	case CmdSetCameraPosition:
		return d.setCameraPosition(ctx, req.Args)
	case CmdCaptureImage:
		return d.captureImage(ctx, req.Args)
	case CmdStatus:
		return d.status(), nil
	case CmdSetOrientation:
		return d.setOrientation(req.Args)
	}
	return nil, unknownCommandError(req.Command)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

func (d *Dispatcher) setFlashMode(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Mode string `json:"mode"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	mode, err := camera.ParseFlashMode(args.Mode)
	if err != nil || args.Mode == "" {
		return nil, fmt.Errorf("%w: flash mode %q", ErrInvalidArgument, args.Mode)
	}
	if err := d.cfg.Session.SetFlashMode(ctx, mode); err != nil {
		return nil, err
	}
	return map[string]camera.FlashMode{"mode": mode}, nil
}

func (d *Dispatcher) setCameraPosition(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Position string `json:"position"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	pos, err := camera.ParsePosition(args.Position)
	if err != nil || args.Position == "" {
		return nil, fmt.Errorf("%w: camera position %q", ErrInvalidArgument, args.Position)
	}
	if err := d.cfg.Session.SetCameraPosition(ctx, pos); err != nil {
		return nil, err
	}
	return map[string]camera.Position{"position": pos}, nil
}

func (d *Dispatcher) captureImage(ctx context.Context, raw json.RawMessage) (any, error) {
	args := struct {
		ThumbnailSize *int `json:"thumbnail_size"`
	}{}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	size := d.cfg.DefaultThumbnailSize
	if args.ThumbnailSize != nil {
		size = *args.ThumbnailSize
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: thumbnail size %d", ErrInvalidArgument, size)
	}

	res, err := d.cfg.Stills.CaptureImage(ctx, session.StillOptions{ThumbnailSize: size})
	if err != nil {
		return nil, err
	}
	return &CaptureResult{
		RequestID:   res.RequestID,
		Image:       res.JPEG,
		Width:       res.Image.Width(),
		Height:      res.Image.Height(),
		Orientation: res.Image.Orientation,
		Position:    res.Image.Position,
		Timestamp:   res.Image.Timestamp,
		Thumbnail:   res.ThumbnailJPEG,
	}, nil
}

func (d *Dispatcher) status() *Status {
	s := &Status{
		Session:     d.cfg.Session.Snapshot(),
		Orientation: d.cfg.Sensor.Current(),
	}
	if d.cfg.Stills != nil {
		s.Still, _ = d.cfg.Stills.State()
	}
	if d.cfg.Stats != nil {
		stats := d.cfg.Stats()
		s.Pipeline = &stats
	}
	return s
}

func (d *Dispatcher) setOrientation(raw json.RawMessage) (any, error) {
	var args struct {
		Orientation string `json:"orientation"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	o, err := camera.ParseDeviceOrientation(args.Orientation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if d.cfg.Sensor == nil {
		return nil, fmt.Errorf("%w: no orientation sensor", camera.ErrDeviceUnavailable)
	}
	d.cfg.Sensor.Set(o)
	return map[string]camera.DeviceOrientation{"orientation": o}, nil
}
