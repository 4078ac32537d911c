package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/codec"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
	"github.com/bryanchriswhite/CanvasCamera/internal/orientation"
)

// stillJob is one still capture owned by the capture context. It stays
// owned after its frame is handed over, until the requester reports the
// conversion done, so that a stop or reconfiguration can still abort it.
type stillJob struct {
	id     string
	cancel context.CancelFunc
	reply  chan stillOutcome

	// converting and err are touched only by the capture context
	converting bool
	err        error
}

type stillOutcome struct {
	job   *stillJob
	frame camera.Frame
	err   error
}

func (m *Manager) beginStill(c command) {
	job := c.still
	if m.state != StateRunning || m.graph == nil {
		job.reply <- stillOutcome{job: job, err: fmt.Errorf("%w: session is %s", camera.ErrSessionNotRunning, m.state)}
		return
	}
	if m.still != nil {
		job.reply <- stillOutcome{job: job, err: camera.ErrBusy}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StillTimeout)
	job.cancel = cancel
	m.still = job

	input, flash := m.graph.input, m.flash
	info := m.graph.info
	sensor := m.cfg.Sensor
	last := m.lastOrientation
	go func() {
		f, err := input.CaptureStill(ctx, flash)
		if err == nil {
			g := graph{info: info}
			f = g.stamp(f, sensor)
			f.Orientation = orientation.Resolve(f.Orientation, last)
		}
		o := stillOutcome{job: job, frame: f, err: err}
		select {
		case m.stillDone <- o:
		case <-m.done:
			f.Release()
		}
	}()
}

func (m *Manager) onStill(o stillOutcome) {
	if m.still != o.job {
		// Interrupted or cancelled; the requester already has its answer
		o.frame.Release()
		return
	}
	o.job.cancel()
	if o.err == nil {
		o.job.converting = true
	} else {
		m.still = nil
	}

	if errors.Is(o.err, context.DeadlineExceeded) {
		o.err = fmt.Errorf("still capture timed out after %s: %w", m.cfg.StillTimeout, o.err)
	}
	o.job.reply <- o
}

// interruptStill aborts the in-flight still, if any
func (m *Manager) interruptStill(reason string) {
	job := m.still
	if job == nil {
		return
	}
	m.still = nil
	err := fmt.Errorf("%w: %s", camera.ErrInterrupted, reason)
	if job.converting {
		// The requester holds the frame; finishStill reports the error
		job.err = err
	} else {
		job.cancel()
		job.reply <- stillOutcome{job: job, err: err}
	}
	m.log.Info().Str("request_id", job.id).Str("reason", reason).Msg("Still capture interrupted")
}

// cancelStill forgets a job whose requester stopped waiting
func (m *Manager) cancelStill(job *stillJob) {
	if job == nil || m.still != job {
		return
	}
	m.still = nil
	job.cancel()
}

// finishStill ends a converting job. It returns the interruption recorded
// while the requester was converting, if any.
func (m *Manager) finishStill(job *stillJob) error {
	if job == nil {
		return nil
	}
	if m.still == job {
		m.still = nil
		return nil
	}
	return job.err
}

// captureStill asks the capture context for one still frame from the
// running input. The returned frame is stamped with the device's position,
// mirroring and resolved orientation. On success the caller must call done
// once the frame has been converted; done reports ErrInterrupted if the
// session was stopped or reconfigured in the meantime.
func (m *Manager) captureStill(ctx context.Context, id string) (frame camera.Frame, done func() error, err error) {
	job := &stillJob{id: id, reply: make(chan stillOutcome, 1)}
	if err := m.post(ctx, command{kind: cmdStill, still: job}); err != nil {
		return camera.Frame{}, nil, err
	}
	select {
	case o := <-job.reply:
		if o.err != nil {
			return camera.Frame{}, nil, o.err
		}
		done = func() error {
			return m.do(context.Background(), command{kind: cmdStillDone, still: job})
		}
		return o.frame, done, nil
	case <-ctx.Done():
		cancelCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.post(cancelCtx, command{kind: cmdCancelStill, still: job})
		return camera.Frame{}, nil, ctx.Err()
	case <-m.done:
		return camera.Frame{}, nil, ErrClosed
	}
}

// StillState is the state of the current still request
type StillState string

const (
	StillIdle       StillState = "idle"
	StillCapturing  StillState = "capturing"
	StillConverting StillState = "converting"
	StillDelivered  StillState = "delivered"
	StillFailed     StillState = "failed"
)

// StillOptions parameterize one still capture
type StillOptions struct {
	// ThumbnailSize adds a square thumbnail when positive
	ThumbnailSize int
}

// StillResult is a delivered still image
type StillResult struct {
	RequestID   string
	RequestedAt time.Time

	Image     *camera.Image
	JPEG      []byte
	Thumbnail *camera.Image

	// ThumbnailJPEG is set when Thumbnail is
	ThumbnailJPEG []byte
}

// StillController runs still captures against a session, one at a time
type StillController struct {
	session *Manager
	quality int
	decode  func(camera.Frame) (*camera.Image, error)

	mu        sync.Mutex
	state     StillState
	requestID string
}

// NewStillController creates a controller encoding stills at quality
func NewStillController(session *Manager, quality int) *StillController {
	if quality <= 0 || quality > 100 {
		quality = codec.DefaultJPEGQuality
	}
	return &StillController{session: session, quality: quality, decode: codec.Decode, state: StillIdle}
}

// State returns the current request state and its ID
func (c *StillController) State() (StillState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.requestID
}

// CaptureImage takes one still photo. A second call while one is capturing
// or converting fails with ErrBusy and does not disturb the first.
func (c *StillController) CaptureImage(ctx context.Context, opts StillOptions) (*StillResult, error) {
	c.mu.Lock()
	if c.state == StillCapturing || c.state == StillConverting {
		c.mu.Unlock()
		return nil, camera.ErrBusy
	}
	id := uuid.NewString()
	c.state = StillCapturing
	c.requestID = id
	c.mu.Unlock()

	log := logger.WithRequest("still", id)
	requestedAt := time.Now()
	log.Debug().Int("thumbnail_size", opts.ThumbnailSize).Msg("Still capture requested")

	res, err := c.capture(ctx, id, opts)
	if err != nil {
		c.setState(StillFailed)
		log.Warn().Err(err).Str("code", camera.Code(err)).Msg("Still capture failed")
		return nil, err
	}
	res.RequestID = id
	res.RequestedAt = requestedAt

	c.setState(StillDelivered)
	log.Info().
		Int("width", res.Image.Width()).
		Int("height", res.Image.Height()).
		Str("orientation", string(res.Image.Orientation)).
		Dur("elapsed", time.Since(requestedAt)).
		Msg("Still delivered")
	return res, nil
}

func (c *StillController) capture(ctx context.Context, id string, opts StillOptions) (*StillResult, error) {
	frame, done, err := c.session.captureStill(ctx, id)
	if err != nil {
		return nil, err
	}

	c.setState(StillConverting)
	res, err := c.convert(frame, opts)
	if derr := done(); derr != nil {
		return nil, derr
	}
	return res, err
}

func (c *StillController) convert(frame camera.Frame, opts StillOptions) (*StillResult, error) {
	img, err := c.decode(frame)
	frame.Release()
	if err != nil {
		return nil, err
	}

	jpg, err := codec.EncodeJPEG(img.Pixels, c.quality)
	if err != nil {
		return nil, err
	}
	res := &StillResult{Image: img, JPEG: jpg}

	if opts.ThumbnailSize > 0 {
		th, err := codec.Thumbnail(img, opts.ThumbnailSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", camera.ErrConfig, err)
		}
		if res.ThumbnailJPEG, err = codec.EncodeJPEG(th.Pixels, c.quality); err != nil {
			return nil, err
		}
		res.Thumbnail = th
	}
	return res, nil
}

func (c *StillController) setState(s StillState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
