// Package pipeline converts live frames into encoded images and hands them to
// a sink, keeping at most one frame in flight per stage.
//
// Frames move through two single-slot mailboxes: Submit puts raw frames into
// the conversion slot, the converter puts encoded deliveries into the
// delivery slot, and the deliverer hands them to the sink through an
// Executor. A new item arriving at a full slot replaces the old one, so memory
// and staleness stay bounded when the sink is slow. Each stage runs on its own
// goroutine and preserves arrival order.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/codec"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
	"github.com/bryanchriswhite/CanvasCamera/internal/orientation"
)

// Sink receives converted frames
type Sink interface {
	WriteFrame(d *camera.Delivery) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(d *camera.Delivery) error

// WriteFrame calls f(d)
func (f SinkFunc) WriteFrame(d *camera.Delivery) error { return f(d) }

// Executor runs sink calls on the context the sink requires, for example a
// UI thread's queue. It must run functions in the order it receives them.
type Executor func(func())

// Inline runs fn on the pipeline's delivery goroutine
func Inline(fn func()) { fn() }

// Options tune a pipeline
type Options struct {
	// ThumbnailSize adds a square thumbnail of this side to each delivery
	ThumbnailSize int

	JPEGQuality int

	// Executor defaults to Inline
	Executor Executor
}

// Stats counts what happened to submitted frames
type Stats struct {
	Submitted        uint64 `json:"submitted"`
	Delivered        uint64 `json:"delivered"`
	Dropped          uint64 `json:"dropped"`
	ConversionErrors uint64 `json:"conversion_errors"`
	SinkErrors       uint64 `json:"sink_errors"`
}

type job struct {
	frame camera.Frame
	epoch uint64
}

type result struct {
	delivery *camera.Delivery
	epoch    uint64
}

// Pipeline is the frame delivery pipeline
type Pipeline struct {
	sink Sink
	opts Options

	inbox  *mailbox[job]
	outbox *mailbox[result]

	// epoch is bumped by Flush; work from an older epoch is discarded
	epoch atomic.Uint64

	// converter-owned state
	lastOrientation camera.DeviceOrientation
	lastTimestamp   time.Time

	submitted, delivered, dropped, convErrs, sinkErrs atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a pipeline delivering to sink. Call Start before Submit.
func New(sink Sink, opts Options) *Pipeline {
	if opts.Executor == nil {
		opts.Executor = Inline
	}
	return &Pipeline{
		sink:            sink,
		opts:            opts,
		inbox:           newMailbox[job](),
		outbox:          newMailbox[result](),
		lastOrientation: camera.DeviceUnknown,
	}
}

// Start launches the conversion and delivery goroutines. Starting a running
// pipeline is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	p.wg.Add(2)
	go p.convertLoop(ctx)
	go p.deliverLoop(ctx)

	logger.WithComponent("pipeline").Debug().
		Int("thumbnail_size", p.opts.ThumbnailSize).
		Msg("Pipeline started")
}

// Close stops the goroutines and discards anything queued
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.Flush()
}

// Submit queues a frame for conversion without blocking. A frame already
// waiting for conversion is released and counted as dropped.
func (p *Pipeline) Submit(f camera.Frame) {
	p.submitted.Add(1)
	if old, replaced := p.inbox.put(job{frame: f, epoch: p.epoch.Load()}); replaced {
		old.frame.Release()
		p.dropped.Add(1)
	}
}

// Flush discards the queued frame and any delivery not yet handed to the
// sink. Work already in progress is discarded when it completes.
func (p *Pipeline) Flush() {
	p.epoch.Add(1)
	if j, ok := p.inbox.drain(); ok {
		j.frame.Release()
		p.dropped.Add(1)
	}
	if _, ok := p.outbox.drain(); ok {
		p.dropped.Add(1)
	}
}

// Stats returns a snapshot of the counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:        p.submitted.Load(),
		Delivered:        p.delivered.Load(),
		Dropped:          p.dropped.Load(),
		ConversionErrors: p.convErrs.Load(),
		SinkErrors:       p.sinkErrs.Load(),
	}
}

func (p *Pipeline) convertLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		j, ok := p.inbox.take(ctx)
		if !ok {
			return
		}
		d, err := p.convert(j.frame)
		j.frame.Release()
		if err != nil {
			p.convErrs.Add(1)
			logger.WithComponent("pipeline").Warn().
				Err(err).
				Uint64("seq", j.frame.Sequence).
				Str("format", string(j.frame.Format)).
				Msg("Dropping frame")
			continue
		}
		if d == nil || j.epoch != p.epoch.Load() {
			p.dropped.Add(1)
			continue
		}
		if _, replaced := p.outbox.put(result{delivery: d, epoch: j.epoch}); replaced {
			p.dropped.Add(1)
		}
	}
}

// convert decodes and encodes one frame. A nil delivery with a nil error
// means the frame was out of order and skipped.
func (p *Pipeline) convert(f camera.Frame) (*camera.Delivery, error) {
	if !p.lastTimestamp.IsZero() && f.Timestamp.Before(p.lastTimestamp) {
		return nil, nil
	}

	f.Orientation = orientation.Resolve(f.Orientation, p.lastOrientation)
	img, err := codec.Decode(f)
	if err != nil {
		return nil, err
	}
	p.lastOrientation = f.Orientation
	p.lastTimestamp = f.Timestamp

	jpg, err := codec.EncodeJPEG(img.Pixels, p.opts.JPEGQuality)
	if err != nil {
		return nil, err
	}
	d := &camera.Delivery{
		JPEG:        jpg,
		Width:       img.Width(),
		Height:      img.Height(),
		Orientation: img.Orientation,
		Timestamp:   img.Timestamp,
		Sequence:    img.Sequence,
		Position:    img.Position,
		Image:       img,
	}

	if p.opts.ThumbnailSize > 0 {
		th, err := codec.Thumbnail(img, p.opts.ThumbnailSize)
		if err != nil {
			return nil, err
		}
		if d.Thumbnail, err = codec.EncodeJPEG(th.Pixels, p.opts.JPEGQuality); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (p *Pipeline) deliverLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		r, ok := p.outbox.take(ctx)
		if !ok {
			return
		}
		if r.epoch != p.epoch.Load() {
			p.dropped.Add(1)
			continue
		}

		done := make(chan struct{})
		p.opts.Executor(func() {
			defer close(done)
			if err := p.sink.WriteFrame(r.delivery); err != nil {
				p.sinkErrs.Add(1)
				logger.WithComponent("pipeline").Debug().Err(err).Uint64("seq", r.delivery.Sequence).Msg("Sink rejected frame")
				return
			}
			p.delivered.Add(1)
		})

		// One delivery at a time: the next frame waits in the outbox where
		// it can still be replaced by a newer one.
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}
