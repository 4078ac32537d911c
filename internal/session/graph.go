package session

import (
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
)

// graph is one committed device/input/output wiring
type graph struct {
	device capture.Device
	info   capture.DeviceInfo
	input  capture.Input
	gen    uint64

	// stream output forwarder; nil when detached
	stop chan struct{}
	wg   sync.WaitGroup
}

// attach starts forwarding the input's frames to the capture context
func (g *graph) attach(out chan<- frameMsg, done <-chan struct{}) {
	if g.stop != nil {
		return
	}
	stop := make(chan struct{})
	g.stop = stop
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		for {
			select {
			case <-stop:
				return
			case f, ok := <-g.input.Frames():
				if !ok {
					select {
					case out <- frameMsg{gen: g.gen, lost: true}:
					case <-stop:
					case <-done:
					}
					return
				}
				select {
				case out <- frameMsg{gen: g.gen, frame: f}:
				case <-stop:
					f.Release()
					return
				case <-done:
					f.Release()
					return
				}
			}
		}
	}()
}

// detach stops forwarding; frames keep accumulating in the input, which
// drops them when its buffer is full.
func (g *graph) detach() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	g.wg.Wait()
	g.stop = nil
}

func (g *graph) attached() bool {
	return g.stop != nil
}

// close tears the graph down and releases the device
func (g *graph) close() error {
	g.detach()
	return g.input.Close()
}

// stamp fills in the device metadata of a frame from this graph
func (g *graph) stamp(f camera.Frame, sensor *capture.OrientationSensor) camera.Frame {
	f.Position = g.info.Position
	f.Mirrored = g.info.Mirrored
	if f.Orientation == "" || f.Orientation == camera.DeviceUnknown {
		f.Orientation = sensor.Current()
	}
	return f
}
