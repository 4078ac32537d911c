package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
	"github.com/bryanchriswhite/CanvasCamera/internal/orientation"
)

// DefaultStillTimeout bounds a single still capture
const DefaultStillTimeout = 10 * time.Second

// FrameSink receives live frames from the running session. *pipeline.Pipeline
// satisfies it.
type FrameSink interface {
	Submit(f camera.Frame)
	Flush()
}

type discard struct{}

func (discard) Submit(f camera.Frame) { f.Release() }
func (discard) Flush()                {}

// Config wires a Manager to its devices and frame consumer
type Config struct {
	Router *capture.Router
	Format capture.StreamFormat
	Sink   FrameSink

	// Sensor supplies orientation for frames whose device does not stamp
	// one. Nil means unknown.
	Sensor *capture.OrientationSensor

	// Position and FlashMode are used by Start when Configure was never
	// called.
	Position  camera.Position
	FlashMode camera.FlashMode

	StillTimeout time.Duration
}

// Manager is the capture session
type Manager struct {
	cfg Config
	log *zerolog.Logger

	cmds      chan command
	txDone    chan txResult
	frames    chan frameMsg
	stillDone chan stillOutcome
	quit      chan struct{}
	done      chan struct{}
	closed    atomic.Bool

	// txCtx is cancelled on Close so pending device opens give up
	txCtx    context.Context
	txCancel context.CancelFunc

	snap atomic.Pointer[Snapshot]

	// Everything below is owned by the capture context goroutine.
	state    State
	position camera.Position
	flash    camera.FlashMode
	graph    *graph
	gen      uint64
	tx       *transaction
	deferred []command
	still    *stillJob

	// lastOrientation is the last cardinal orientation seen on a live
	// frame. Face-up, face-down and unknown readings resolve to it.
	lastOrientation camera.DeviceOrientation
}

// New creates a session and starts its capture context
func New(cfg Config) *Manager {
	if cfg.Position == "" {
		cfg.Position = camera.PositionBack
	}
	if cfg.FlashMode == "" {
		cfg.FlashMode = camera.FlashOff
	}
	if cfg.StillTimeout <= 0 {
		cfg.StillTimeout = DefaultStillTimeout
	}
	if cfg.Router == nil {
		cfg.Router = capture.NewRouter()
	}
	if cfg.Sink == nil {
		cfg.Sink = discard{}
	}

	txCtx, txCancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		log:       logger.WithComponent("session"),
		cmds:      make(chan command),
		txDone:    make(chan txResult),
		frames:    make(chan frameMsg),
		stillDone: make(chan stillOutcome),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		txCtx:     txCtx,
		txCancel:  txCancel,
		state:     StateIdle,
		position:  cfg.Position,
		flash:     cfg.FlashMode,

		lastOrientation: orientation.Default,
	}
	m.publish()
	go m.loop()
	return m
}

// Configure selects the device for position, validates flash against it and
// builds the input/output graph without starting the stream. On a running
// session it reconfigures in place.
func (m *Manager) Configure(ctx context.Context, position camera.Position, flash camera.FlashMode) error {
	return m.do(ctx, command{kind: cmdConfigure, position: position, flash: flash})
}

// Start begins streaming, configuring first if needed. It returns once the
// session is running or the start failed.
func (m *Manager) Start(ctx context.Context) error {
	return m.do(ctx, command{kind: cmdStart})
}

// Stop halts the stream and releases the device. It always succeeds and is
// safe on a session that never started.
func (m *Manager) Stop(ctx context.Context) error {
	return m.do(ctx, command{kind: cmdStop})
}

// SetFlashMode changes the flash mode used by subsequent stills
func (m *Manager) SetFlashMode(ctx context.Context, mode camera.FlashMode) error {
	return m.do(ctx, command{kind: cmdSetFlash, flash: mode})
}

// SetCameraPosition switches to the device at position. A running stream is
// rebuilt on the new device; on failure the previous device stays active.
func (m *Manager) SetCameraPosition(ctx context.Context, position camera.Position) error {
	return m.do(ctx, command{kind: cmdSetPosition, position: position})
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	return m.snap.Load().State
}

// Snapshot returns the current public state
func (m *Manager) Snapshot() Snapshot {
	return *m.snap.Load()
}

// Devices lists the devices the session can select from
func (m *Manager) Devices() []capture.DeviceInfo {
	return m.cfg.Router.Devices()
}

// Close stops the session and ends the capture context
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		<-m.done
		return
	}
	close(m.quit)
	<-m.done
}

func (m *Manager) do(ctx context.Context, c command) error {
	c.reply = make(chan error, 1)
	if err := m.post(ctx, c); err != nil {
		return err
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		// The command still runs; only the wait is abandoned
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Manager) post(ctx context.Context, c command) error {
	select {
	case m.cmds <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case c := <-m.cmds:
			m.handle(c)
		case r := <-m.txDone:
			m.finishTx(r)
		case fm := <-m.frames:
			m.onFrame(fm)
		case o := <-m.stillDone:
			m.onStill(o)
		case <-m.quit:
			m.shutdown()
			return
		}
	}
}

func (m *Manager) handle(c command) {
	if m.tx != nil {
		switch {
		case c.kind == cmdStart && m.tx.kind != txReconfigure:
			c.reply <- camera.ErrAlreadyStarting
		case c.kind == cmdStill:
			c.still.reply <- stillOutcome{job: c.still, err: fmt.Errorf("%w: session is %s", camera.ErrSessionNotRunning, m.state)}
		case c.kind == cmdCancelStill:
			m.cancelStill(c.still)
		case c.kind == cmdStillDone:
			c.reply <- m.finishStill(c.still)
		default:
			m.log.Debug().Str("command", c.kind.String()).Msg("Deferring command until transaction completes")
			m.deferred = append(m.deferred, c)
		}
		return
	}

	switch c.kind {
	case cmdConfigure:
		m.configure(c)
	case cmdStart:
		m.start(c)
	case cmdStop:
		m.stop()
		c.reply <- nil
	case cmdSetFlash:
		c.reply <- m.setFlash(c.flash)
	case cmdSetPosition:
		m.setPosition(c)
	case cmdStill:
		m.beginStill(c)
	case cmdCancelStill:
		m.cancelStill(c.still)
	case cmdStillDone:
		c.reply <- m.finishStill(c.still)
	}
}

func (m *Manager) configure(c command) {
	if !m.cfg.Router.Has(c.position) {
		c.reply <- fmt.Errorf("%w: no %s camera", camera.ErrDeviceUnavailable, c.position)
		return
	}
	kind := txConfigure
	if m.state == StateRunning {
		kind = txReconfigure
	}
	m.begin(&transaction{
		kind:        kind,
		position:    c.position,
		flash:       c.flash,
		strictFlash: true,
		reply:       c.reply,
	})
}

func (m *Manager) start(c command) {
	switch {
	case m.state == StateRunning:
		c.reply <- nil
	case m.graph != nil:
		// Configured but idle: just attach the stream output
		m.graph.attach(m.frames, m.done)
		m.setState(StateRunning)
		m.log.Info().Str("device", m.graph.info.ID).Msg("Capture session running")
		c.reply <- nil
	default:
		if !m.cfg.Router.Has(m.position) {
			c.reply <- fmt.Errorf("%w: no %s camera", camera.ErrDeviceUnavailable, m.position)
			return
		}
		m.begin(&transaction{
			kind:     txStart,
			position: m.position,
			flash:    m.flash,
			reply:    c.reply,
		})
	}
}

func (m *Manager) stop() {
	if m.graph == nil && m.state == StateIdle {
		return
	}
	m.setState(StateStopping)
	m.interruptStill("session stopped")
	if m.graph != nil {
		if err := m.graph.close(); err != nil {
			m.log.Warn().Err(err).Str("device", m.graph.info.ID).Msg("Failed to close input")
		}
		m.graph = nil
	}
	m.cfg.Sink.Flush()
	m.setState(StateIdle)
	m.log.Info().Msg("Capture session stopped")
}

func (m *Manager) setFlash(mode camera.FlashMode) error {
	if m.graph != nil {
		if !m.graph.info.Capabilities.SupportsFlash(mode) {
			return fmt.Errorf("%w: %s does not support flash %q", camera.ErrUnsupportedMode, m.graph.info.ID, mode)
		}
	} else if dev, err := m.cfg.Router.Select(m.position); err == nil {
		info := dev.Info()
		if !info.Capabilities.SupportsFlash(mode) {
			return fmt.Errorf("%w: %s does not support flash %q", camera.ErrUnsupportedMode, info.ID, mode)
		}
	}
	if mode == m.flash {
		return nil
	}
	m.interruptStill("flash mode changed")
	m.flash = mode
	m.publish()
	m.log.Info().Str("flash_mode", string(mode)).Msg("Flash mode changed")
	return nil
}

func (m *Manager) setPosition(c command) {
	if !m.cfg.Router.Has(c.position) {
		c.reply <- fmt.Errorf("%w: no %s camera", camera.ErrDeviceUnavailable, c.position)
		return
	}
	if c.position == m.position {
		c.reply <- nil
		return
	}

	switch {
	case m.state == StateRunning:
		m.begin(&transaction{kind: txReconfigure, position: c.position, flash: m.flash, reply: c.reply})
	case m.graph != nil:
		m.begin(&transaction{kind: txConfigure, position: c.position, flash: m.flash, reply: c.reply})
	default:
		m.position = c.position
		m.publish()
		c.reply <- nil
	}
}

// begin starts a transaction: the device open runs off the capture context,
// which keeps serving frames and commands until finishTx.
func (m *Manager) begin(tx *transaction) {
	m.tx = tx
	switch tx.kind {
	case txReconfigure:
		m.interruptStill("camera reconfigured")
		if m.graph != nil {
			m.graph.detach()
		}
		m.setState(StateReconfiguring)
	default:
		m.setState(StateConfiguring)
	}

	m.log.Debug().
		Str("position", string(tx.position)).
		Str("flash_mode", string(tx.flash)).
		Msg("Opening capture device")

	go func() {
		g, flash, err := m.open(tx)
		r := txResult{tx: tx, graph: g, flash: flash, err: err}
		select {
		case m.txDone <- r:
		case <-m.done:
			if g != nil {
				_ = g.close()
			}
		}
	}()
}

// open builds a graph for the transaction's position. It runs on its own
// goroutine and must not touch loop-owned fields.
func (m *Manager) open(tx *transaction) (*graph, camera.FlashMode, error) {
	dev, err := m.cfg.Router.Select(tx.position)
	if err != nil {
		return nil, "", err
	}
	info := dev.Info()

	flash := tx.flash
	if !info.Capabilities.SupportsFlash(flash) {
		if tx.strictFlash {
			return nil, "", fmt.Errorf("%w: %w: %s does not support flash %q",
				camera.ErrConfig, camera.ErrUnsupportedMode, info.ID, flash)
		}
		m.log.Warn().
			Str("device", info.ID).
			Str("flash_mode", string(flash)).
			Msg("Flash mode not supported by new camera, using off")
		flash = camera.FlashOff
	}

	input, err := dev.Open(m.txCtx, m.cfg.Format)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrDeviceInUse):
			return nil, "", fmt.Errorf("%w: %w", camera.ErrDeviceUnavailable, err)
		case errors.Is(err, camera.ErrDeviceUnavailable), errors.Is(err, camera.ErrConfig):
			return nil, "", err
		default:
			return nil, "", fmt.Errorf("%w: %w", camera.ErrConfig, err)
		}
	}
	return &graph{device: dev, info: info, input: input}, flash, nil
}

func (m *Manager) finishTx(r txResult) {
	tx := m.tx
	m.tx = nil
	if tx == nil || tx != r.tx {
		// Cannot happen while transactions are serialized
		if r.graph != nil {
			_ = r.graph.close()
		}
		return
	}

	if r.err != nil {
		m.rollback(tx, r.err)
	} else {
		m.commit(tx, r)
	}
	tx.reply <- r.err

	for m.tx == nil && len(m.deferred) > 0 {
		c := m.deferred[0]
		m.deferred = m.deferred[1:]
		m.handle(c)
	}
}

func (m *Manager) commit(tx *transaction, r txResult) {
	if m.graph != nil {
		if err := m.graph.close(); err != nil {
			m.log.Warn().Err(err).Str("device", m.graph.info.ID).Msg("Failed to close previous input")
		}
	}

	m.gen++
	r.graph.gen = m.gen
	m.graph = r.graph
	m.position = tx.position
	m.flash = r.flash

	if tx.kind == txConfigure {
		m.setState(StateIdle)
		m.log.Info().Str("device", r.graph.info.ID).Msg("Capture session configured")
		return
	}

	m.graph.attach(m.frames, m.done)
	m.setState(StateRunning)
	m.log.Info().
		Str("device", r.graph.info.ID).
		Str("position", string(m.position)).
		Str("flash_mode", string(m.flash)).
		Msg("Capture session running")
}

func (m *Manager) rollback(tx *transaction, err error) {
	m.log.Error().Err(err).Str("position", string(tx.position)).Msg("Capture session transaction failed")

	if tx.kind != txReconfigure {
		m.setState(StateIdle)
		return
	}
	if m.graph == nil {
		m.setState(StateIdle)
		return
	}
	// Restore the previous graph
	m.graph.attach(m.frames, m.done)
	m.setState(StateRunning)
}

func (m *Manager) onFrame(fm frameMsg) {
	if m.graph == nil || fm.gen != m.graph.gen || m.state != StateRunning {
		fm.frame.Release()
		return
	}
	if fm.lost {
		m.log.Error().Str("device", m.graph.info.ID).Msg("Capture input ended unexpectedly")
		m.stop()
		return
	}
	f := m.graph.stamp(fm.frame, m.cfg.Sensor)
	f.Orientation = orientation.Resolve(f.Orientation, m.lastOrientation)
	m.lastOrientation = f.Orientation
	m.cfg.Sink.Submit(f)
}

func (m *Manager) shutdown() {
	m.txCancel()
	if m.tx != nil {
		r := <-m.txDone
		if r.graph != nil {
			_ = r.graph.close()
		}
		m.tx.reply <- ErrClosed
		m.tx = nil
	}
	for _, c := range m.deferred {
		if c.reply != nil {
			c.reply <- ErrClosed
		}
	}
	m.deferred = nil
	m.stop()
}

func (m *Manager) setState(s State) {
	m.state = s
	m.publish()
}

func (m *Manager) publish() {
	s := &Snapshot{
		State:      m.state,
		Position:   m.position,
		FlashMode:  m.flash,
		Configured: m.graph != nil,
	}
	if m.graph != nil {
		info := m.graph.info
		s.Device = &info
	}
	m.snap.Store(s)
}
