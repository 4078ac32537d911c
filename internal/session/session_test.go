package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
	"github.com/bryanchriswhite/CanvasCamera/internal/pipeline"
)

var testFormat = capture.StreamFormat{Width: 16, Height: 8, FPS: 100, PixelFormat: camera.PixelFormatRGBA}

// frameLog is a FrameSink that records submitted frames
type frameLog struct {
	mu      sync.Mutex
	frames  []camera.Frame
	flushes int
}

func (l *frameLog) Submit(f camera.Frame) {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
	f.Release()
}

func (l *frameLog) Flush() {
	l.mu.Lock()
	l.flushes++
	l.mu.Unlock()
}

func (l *frameLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func (l *frameLog) last() camera.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames[len(l.frames)-1]
}

func backCamera() *capture.Synthetic {
	return capture.NewSynthetic(capture.SyntheticConfig{
		Position: camera.PositionBack,
		Capabilities: capture.Capabilities{
			FlashModes: []camera.FlashMode{camera.FlashOff, camera.FlashOn, camera.FlashAuto},
		},
	})
}

func frontCamera() *capture.Synthetic {
	return capture.NewSynthetic(capture.SyntheticConfig{
		Position: camera.PositionFront,
		Mirrored: true,
	})
}

func newTestSession(t *testing.T, sink FrameSink, devices ...capture.Device) *Manager {
	t.Helper()
	m := New(Config{
		Router: capture.NewRouter(devices...),
		Format: testFormat,
		Sink:   sink,
		Sensor: capture.NewOrientationSensor(camera.DevicePortrait),
	})
	t.Cleanup(m.Close)
	return m
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManager_StartReachesRunningAndStopReturnsIdle(t *testing.T) {
	for _, pos := range []camera.Position{camera.PositionBack, camera.PositionFront} {
		t.Run(string(pos), func(t *testing.T) {
			ctx := testCtx(t)
			log := &frameLog{}
			m := newTestSession(t, log, backCamera(), frontCamera())

			if err := m.Configure(ctx, pos, camera.FlashOff); err != nil {
				t.Fatalf("Configure: %v", err)
			}
			snap := m.Snapshot()
			if snap.State != StateIdle || !snap.Configured {
				t.Fatalf("after configure got %+v, want configured idle", snap)
			}
			if err := m.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if got := m.State(); got != StateRunning {
				t.Fatalf("state = %s, want running", got)
			}
			waitUntil(t, "frames", func() bool { return log.count() >= 3 })
			if got := log.last().Position; got != pos {
				t.Errorf("frame position = %s, want %s", got, pos)
			}

			if err := m.Stop(ctx); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			snap = m.Snapshot()
			if snap.State != StateIdle || snap.Configured {
				t.Fatalf("after stop got %+v, want unconfigured idle", snap)
			}
		})
	}
}

func TestManager_StartWithoutConfigureUsesDefaults(t *testing.T) {
	ctx := testCtx(t)
	back := backCamera()
	m := newTestSession(t, &frameLog{}, back)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if back.Opens() != 1 {
		t.Errorf("device opened %d times, want 1", back.Opens())
	}
	if got := m.Snapshot().Device; got == nil || got.Position != camera.PositionBack {
		t.Errorf("device = %+v, want back camera", got)
	}
}

func TestManager_StopWithoutStartSucceeds(t *testing.T) {
	ctx := testCtx(t)
	log := &frameLog{}
	m := newTestSession(t, log, backCamera())

	for i := 0; i < 2; i++ {
		if err := m.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
}

func TestManager_StopFlushesSinkAndReleasesDevice(t *testing.T) {
	ctx := testCtx(t)
	log := &frameLog{}
	back := backCamera()
	m := newTestSession(t, log, back)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if log.flushes != 1 {
		t.Errorf("flushes = %d, want 1", log.flushes)
	}
	if !back.Hold() {
		t.Fatal("device still claimed after stop")
	}
	back.Unhold()
}

func TestManager_MissingPositionIsDeviceUnavailable(t *testing.T) {
	ctx := testCtx(t)
	m := newTestSession(t, &frameLog{}, backCamera())

	err := m.Configure(ctx, camera.PositionFront, camera.FlashOff)
	if !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("Configure front = %v, want ErrDeviceUnavailable", err)
	}
	if err := m.SetCameraPosition(ctx, camera.PositionFront); !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("SetCameraPosition front = %v, want ErrDeviceUnavailable", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
}

func TestManager_HeldDeviceIsDeviceUnavailable(t *testing.T) {
	ctx := testCtx(t)
	back := backCamera()
	if !back.Hold() {
		t.Fatal("Hold failed")
	}
	m := newTestSession(t, &frameLog{}, back)

	err := m.Start(ctx)
	if !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("Start = %v, want ErrDeviceUnavailable", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}

	back.Unhold()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestManager_UnsupportedFlashKeepsPreviousMode(t *testing.T) {
	ctx := testCtx(t)
	m := newTestSession(t, &frameLog{}, backCamera(), frontCamera())

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.SetFlashMode(ctx, camera.FlashOn); err != nil {
		t.Fatalf("SetFlashMode on: %v", err)
	}

	// Front camera has no flash; switching falls back to off
	if err := m.SetCameraPosition(ctx, camera.PositionFront); err != nil {
		t.Fatalf("SetCameraPosition: %v", err)
	}
	if got := m.Snapshot().FlashMode; got != camera.FlashOff {
		t.Fatalf("flash after switch = %s, want off", got)
	}

	err := m.SetFlashMode(ctx, camera.FlashAuto)
	if !errors.Is(err, camera.ErrUnsupportedMode) {
		t.Fatalf("SetFlashMode auto = %v, want ErrUnsupportedMode", err)
	}
	if got := m.Snapshot().FlashMode; got != camera.FlashOff {
		t.Fatalf("flash = %s, want previous mode off", got)
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want running", m.State())
	}
}

func TestManager_ConfigureWithUnsupportedFlashFails(t *testing.T) {
	ctx := testCtx(t)
	m := newTestSession(t, &frameLog{}, frontCamera())

	err := m.Configure(ctx, camera.PositionFront, camera.FlashOn)
	if !errors.Is(err, camera.ErrConfig) || !errors.Is(err, camera.ErrUnsupportedMode) {
		t.Fatalf("Configure = %v, want ErrConfig and ErrUnsupportedMode", err)
	}
	if m.Snapshot().Configured {
		t.Fatal("session configured after failure")
	}
}

func TestManager_InvalidFormatIsConfigError(t *testing.T) {
	ctx := testCtx(t)
	m := New(Config{
		Router: capture.NewRouter(backCamera()),
		Format: capture.StreamFormat{Width: 0, Height: 8, PixelFormat: camera.PixelFormatRGBA},
		Sink:   &frameLog{},
	})
	defer m.Close()

	if err := m.Start(ctx); !errors.Is(err, camera.ErrConfig) {
		t.Fatalf("Start = %v, want ErrConfig", err)
	}
}

func TestManager_PositionSwitchChangesOrientationMapping(t *testing.T) {
	ctx := testCtx(t)

	var mu sync.Mutex
	var got []*camera.Delivery
	p := pipeline.New(pipeline.SinkFunc(func(d *camera.Delivery) error {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
		return nil
	}), pipeline.Options{})
	p.Start()
	defer p.Close()

	deliveries := func() []*camera.Delivery {
		mu.Lock()
		defer mu.Unlock()
		return append([]*camera.Delivery(nil), got...)
	}
	countFrom := func(pos camera.Position) int {
		n := 0
		for _, d := range deliveries() {
			if d.Position == pos {
				n++
			}
		}
		return n
	}

	m := newTestSession(t, p, backCamera(), frontCamera())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, "back camera frames", func() bool { return countFrom(camera.PositionBack) >= 3 })

	if err := m.SetCameraPosition(ctx, camera.PositionFront); err != nil {
		t.Fatalf("SetCameraPosition: %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want running", m.State())
	}
	waitUntil(t, "front camera frames", func() bool { return countFrom(camera.PositionFront) >= 3 })

	want := map[camera.Position]camera.Orientation{
		camera.PositionBack:  camera.OrientationRight,
		camera.PositionFront: camera.OrientationLeftMirrored,
	}
	seenFront := false
	for _, d := range deliveries() {
		if d.Orientation != want[d.Position] {
			t.Errorf("frame %d from %s has orientation %s, want %s", d.Sequence, d.Position, d.Orientation, want[d.Position])
		}
		if d.Position == camera.PositionFront {
			seenFront = true
		} else if seenFront {
			t.Errorf("back camera frame %d delivered after the switch", d.Sequence)
		}
	}
}

func TestManager_FailedSwitchKeepsPreviousDevice(t *testing.T) {
	ctx := testCtx(t)
	log := &frameLog{}
	front := frontCamera()
	front.Hold()
	defer front.Unhold()
	m := newTestSession(t, log, backCamera(), front)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := m.SetCameraPosition(ctx, camera.PositionFront)
	if !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("SetCameraPosition = %v, want ErrDeviceUnavailable", err)
	}
	snap := m.Snapshot()
	if snap.State != StateRunning || snap.Position != camera.PositionBack {
		t.Fatalf("after failed switch got %+v, want running on back", snap)
	}

	n := log.count()
	waitUntil(t, "frames after rollback", func() bool { return log.count() > n+2 })
	if got := log.last().Position; got != camera.PositionBack {
		t.Fatalf("frame position = %s, want back", got)
	}
}

func TestManager_CorruptFrameDoesNotStopStream(t *testing.T) {
	ctx := testCtx(t)
	var mu sync.Mutex
	var seqs []uint64
	p := pipeline.New(pipeline.SinkFunc(func(d *camera.Delivery) error {
		mu.Lock()
		seqs = append(seqs, d.Sequence)
		mu.Unlock()
		return nil
	}), pipeline.Options{})
	p.Start()
	defer p.Close()

	back := backCamera()
	back.InjectCorrupt(1)
	m := newTestSession(t, p, back)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, "deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) >= 5
	})
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want running", m.State())
	}
}

// gatedDevice blocks Open until its gate is closed
type gatedDevice struct {
	*capture.Synthetic
	gate chan struct{}
}

func (d *gatedDevice) Open(ctx context.Context, format capture.StreamFormat) (capture.Input, error) {
	select {
	case <-d.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.Synthetic.Open(ctx, format)
}

func TestManager_StartDuringConfigureIsAlreadyStarting(t *testing.T) {
	ctx := testCtx(t)
	dev := &gatedDevice{Synthetic: backCamera(), gate: make(chan struct{})}
	m := newTestSession(t, &frameLog{}, dev)

	configured := make(chan error, 1)
	go func() { configured <- m.Configure(ctx, camera.PositionBack, camera.FlashOff) }()
	waitUntil(t, "configuring", func() bool { return m.State() == StateConfiguring })

	if err := m.Start(ctx); !errors.Is(err, camera.ErrAlreadyStarting) {
		t.Fatalf("Start = %v, want ErrAlreadyStarting", err)
	}

	// Flash changes wait for the transaction
	flashed := make(chan error, 1)
	go func() { flashed <- m.SetFlashMode(ctx, camera.FlashOn) }()
	select {
	case err := <-flashed:
		t.Fatalf("SetFlashMode returned %v before configure finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(dev.gate)
	if err := <-configured; err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := <-flashed; err != nil {
		t.Fatalf("SetFlashMode: %v", err)
	}
	if got := m.Snapshot().FlashMode; got != camera.FlashOn {
		t.Fatalf("flash = %s, want on", got)
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	ctx := testCtx(t)
	m := New(Config{Router: capture.NewRouter(backCamera()), Format: testFormat, Sink: &frameLog{}})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Close()
	m.Close()
	if err := m.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after close = %v, want ErrClosed", err)
	}
}

func TestManager_DeferredCommandsRunInIssueOrder(t *testing.T) {
	ctx := testCtx(t)
	back := capture.NewSynthetic(capture.SyntheticConfig{
		Position:     camera.PositionBack,
		Capabilities: capture.Capabilities{FlashModes: []camera.FlashMode{camera.FlashAuto}},
	})
	front := &gatedDevice{
		Synthetic: capture.NewSynthetic(capture.SyntheticConfig{
			Position:     camera.PositionFront,
			Mirrored:     true,
			Capabilities: capture.Capabilities{FlashModes: []camera.FlashMode{camera.FlashOn}},
		}),
		gate: make(chan struct{}),
	}
	m := newTestSession(t, &frameLog{}, back, front)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	switched := make(chan error, 1)
	go func() { switched <- m.SetCameraPosition(ctx, camera.PositionFront) }()
	waitUntil(t, "reconfiguring", func() bool { return m.State() == StateReconfiguring })

	// Each command only succeeds on the camera that the one before it
	// leaves selected: on needs front, auto needs back.
	replies := make(chan error, 3)
	for _, c := range []command{
		{kind: cmdSetFlash, flash: camera.FlashOn},
		{kind: cmdSetPosition, position: camera.PositionBack},
		{kind: cmdSetFlash, flash: camera.FlashAuto},
	} {
		c.reply = replies
		if err := m.post(ctx, c); err != nil {
			t.Fatalf("post %s: %v", c.kind, err)
		}
	}
	select {
	case err := <-replies:
		t.Fatalf("deferred command answered during the transaction: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(front.gate)
	if err := <-switched; err != nil {
		t.Fatalf("SetCameraPosition(front): %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case err := <-replies:
			if err != nil {
				t.Fatalf("deferred command %d: %v", i, err)
			}
		case <-ctx.Done():
			t.Fatalf("deferred command %d never answered", i)
		}
	}

	snap := m.Snapshot()
	if snap.State != StateRunning || snap.Position != camera.PositionBack || snap.FlashMode != camera.FlashAuto {
		t.Fatalf("snapshot = %+v, want running back camera with auto flash", snap)
	}
}
