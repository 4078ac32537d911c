package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
)

var epoch = time.Unix(1700000000, 0)

// testFrame returns a valid 4x4 RGBA frame with sequence seq
func testFrame(seq uint64, releases *atomic.Int32) camera.Frame {
	f := camera.Frame{
		Data:        make([]byte, 4*4*4),
		Width:       4,
		Height:      4,
		Format:      camera.PixelFormatRGBA,
		Timestamp:   epoch.Add(time.Duration(seq) * time.Millisecond),
		Sequence:    seq,
		Orientation: camera.DeviceLandscapeLeft,
	}
	if releases != nil {
		f = f.WithRelease(func() { releases.Add(1) })
	}
	return f
}

// recordingSink records deliveries and can block on each one
type recordingSink struct {
	mu      sync.Mutex
	got     []*camera.Delivery
	entered chan uint64
	gate    chan struct{}
}

func newRecordingSink(blocking bool) *recordingSink {
	s := &recordingSink{entered: make(chan uint64, 64)}
	if blocking {
		s.gate = make(chan struct{})
	}
	return s
}

func (s *recordingSink) WriteFrame(d *camera.Delivery) error {
	s.entered <- d.Sequence
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.got = append(s.got, d)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) sequences() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.got))
	for i, d := range s.got {
		out[i] = d.Sequence
	}
	return out
}

func (s *recordingSink) waitFor(t *testing.T, seq uint64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-s.entered:
			if got == seq {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for frame %d (delivered %v)", seq, s.sequences())
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func assertIncreasing(t *testing.T, seqs []uint64) {
	t.Helper()
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("deliveries out of order: %v", seqs)
		}
	}
}

func TestPipeline_DeliversInOrder(t *testing.T) {
	sink := newRecordingSink(false)
	p := New(sink, Options{})
	p.Start()
	defer p.Close()

	for seq := uint64(1); seq <= 20; seq++ {
		p.Submit(testFrame(seq, nil))
	}
	sink.waitFor(t, 20)

	seqs := sink.sequences()
	assertIncreasing(t, seqs)
	if seqs[len(seqs)-1] != 20 {
		t.Errorf("last delivery = %d, want 20", seqs[len(seqs)-1])
	}
}

func TestPipeline_LatestWinsUnderSlowSink(t *testing.T) {
	sink := newRecordingSink(true)
	p := New(sink, Options{})
	p.Start()
	defer p.Close()

	p.Submit(testFrame(1, nil))
	sink.waitFor(t, 1)

	for seq := uint64(2); seq <= 10; seq++ {
		p.Submit(testFrame(seq, nil))
	}
	// frames 2..10 compete for one conversion slot and one delivery slot
	waitUntil(t, "backlog to collapse", func() bool { return p.Stats().Dropped >= 7 })

	close(sink.gate)
	sink.waitFor(t, 10)

	seqs := sink.sequences()
	assertIncreasing(t, seqs)
	if seqs[0] != 1 || seqs[len(seqs)-1] != 10 {
		t.Errorf("deliveries = %v, want first 1 and last 10", seqs)
	}
	if len(seqs) > 3 {
		t.Errorf("delivered %d frames to a stalled sink, want at most 3: %v", len(seqs), seqs)
	}
}

func TestPipeline_CorruptFrameIsDroppedAndStreamContinues(t *testing.T) {
	sink := newRecordingSink(false)
	p := New(sink, Options{})
	p.Start()
	defer p.Close()

	p.Submit(testFrame(1, nil))
	sink.waitFor(t, 1)

	bad := testFrame(2, nil)
	bad.Data = bad.Data[:5]
	p.Submit(bad)
	waitUntil(t, "conversion error", func() bool { return p.Stats().ConversionErrors == 1 })

	p.Submit(testFrame(3, nil))
	sink.waitFor(t, 3)

	seqs := sink.sequences()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 3 {
		t.Errorf("deliveries = %v, want [1 3]", seqs)
	}
}

func TestPipeline_FlushDiscardsPending(t *testing.T) {
	sink := newRecordingSink(true)
	p := New(sink, Options{})
	p.Start()
	defer p.Close()

	p.Submit(testFrame(1, nil))
	sink.waitFor(t, 1)
	p.Submit(testFrame(2, nil))
	p.Flush()

	close(sink.gate)
	p.Submit(testFrame(3, nil))
	sink.waitFor(t, 3)

	for _, seq := range sink.sequences() {
		if seq == 2 {
			t.Fatal("flushed frame 2 was delivered")
		}
	}
}

func TestPipeline_OutOfOrderFrameSkipped(t *testing.T) {
	sink := newRecordingSink(false)
	p := New(sink, Options{})
	p.Start()
	defer p.Close()

	p.Submit(testFrame(5, nil))
	sink.waitFor(t, 5)

	stale := testFrame(6, nil)
	stale.Timestamp = epoch
	p.Submit(stale)
	p.Submit(testFrame(7, nil))
	sink.waitFor(t, 7)

	for _, seq := range sink.sequences() {
		if seq == 6 {
			t.Fatal("frame with an older timestamp was delivered")
		}
	}
}

func TestPipeline_ReleasesEveryFrame(t *testing.T) {
	var releases atomic.Int32
	sink := newRecordingSink(false)
	p := New(sink, Options{})
	p.Start()

	for seq := uint64(1); seq <= 15; seq++ {
		p.Submit(testFrame(seq, &releases))
	}
	sink.waitFor(t, 15)
	p.Close()

	if got := releases.Load(); got != 15 {
		t.Errorf("released %d frames, want 15", got)
	}
}

func TestPipeline_UsesExecutorForSinkHop(t *testing.T) {
	queue := make(chan func(), 8)
	go func() {
		for fn := range queue {
			fn()
		}
	}()
	defer close(queue)

	var hops atomic.Int32
	exec := func(fn func()) {
		hops.Add(1)
		queue <- fn
	}

	sink := newRecordingSink(false)
	p := New(sink, Options{Executor: exec})
	p.Start()
	defer p.Close()

	p.Submit(testFrame(1, nil))
	sink.waitFor(t, 1)
	if hops.Load() != 1 {
		t.Errorf("executor used %d times, want 1", hops.Load())
	}
}

func TestPipeline_RetainsLastKnownOrientation(t *testing.T) {
	sink := newRecordingSink(false)
	p := New(sink, Options{ThumbnailSize: 2})
	p.Start()
	defer p.Close()

	p.Submit(testFrame(1, nil))
	sink.waitFor(t, 1)

	flat := testFrame(2, nil)
	flat.Orientation = camera.DeviceFaceUp
	p.Submit(flat)
	sink.waitFor(t, 2)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, d := range sink.got {
		if d.Orientation != camera.OrientationUp {
			t.Errorf("frame %d orientation = %s, want up", d.Sequence, d.Orientation)
		}
		if len(d.Thumbnail) == 0 {
			t.Errorf("frame %d has no thumbnail", d.Sequence)
		}
	}
}
