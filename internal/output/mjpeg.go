package output

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// MJPEGOutput streams delivered frames as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Most recent delivery
	frameMu    sync.RWMutex
	current    *camera.Delivery
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	frameCount uint64
	skipped    uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output
// Note: The HTTP handler is registered separately via GetHTTPHandler()
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0
	m.skipped = 0

	logger.WithComponent("mjpeg").Info().Msgf("Output started: %dx%d @ %d FPS", m.config.Width, m.config.Height, m.config.FPS)
	return nil
}

// Stop cleanly shuts down the output
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	// Close all client connections
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Msgf("Output stopped after %v frames", m.frameCount)
	return nil
}

// WriteFrame sends a frame to all connected clients. The JPEG was already
// encoded by the pipeline.
func (m *MJPEGOutput) WriteFrame(d *camera.Delivery) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}
	if len(d.JPEG) == 0 {
		return fmt.Errorf("delivery %d has no JPEG", d.Sequence)
	}

	m.frameMu.Lock()
	m.current = d
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	// Broadcast to all clients
	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- d.JPEG:
		default:
			// Client is slow, skip this frame
			m.mu.Lock()
			m.skipped++
			m.mu.Unlock()
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Latest returns the most recent delivery, or nil before the first frame
func (m *MJPEGOutput) Latest() *camera.Delivery {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.current
}

// Clients returns the number of connected stream clients
func (m *MJPEGOutput) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream
// Mount this at /stream or similar endpoint
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2) // Buffer 2 frames

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Msgf("New client connected (total: %d)", clientCount)

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Msgf("Client disconnected (remaining: %d)", clientCount)
		}()

		for {
			var jpegData []byte
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frameChan:
				if !ok {
					return
				}
				jpegData = data
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// GetLatestHandler serves the most recent frame as a single JPEG
func (m *MJPEGOutput) GetLatestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := m.Latest()
		if d == nil {
			http.Error(w, "no frame yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Frame-Orientation", string(d.Orientation))
		w.Header().Set("X-Camera-Position", string(d.Position))
		w.Write(d.JPEG)
	}
}

// GetViewerHandler returns an HTTP handler with the stream and capture controls
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>CanvasCamera</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            font-family: system-ui, -apple-system, sans-serif;
        }
        img.stream {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
        }
        .controls {
            position: fixed;
            bottom: 16px;
            left: 50%;
            transform: translateX(-50%);
            display: flex;
            gap: 8px;
        }
        .controls button {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border: none;
            border-radius: 20px;
            font-size: 13px;
            cursor: pointer;
        }
        .controls button:hover { background: rgba(60, 60, 60, 0.95); color: #fff; }
        img.still {
            position: fixed;
            top: 16px;
            right: 16px;
            width: 120px;
            border: 2px solid #fff;
            display: none;
        }
    </style>
</head>
<body>
    <img class="stream" src="/stream" alt="CanvasCamera live stream">
    <img class="still" id="still" alt="Last still">
    <div class="controls">
        <button onclick="call('POST', '/api/capture/start')">Start</button>
        <button onclick="call('POST', '/api/capture/stop')">Stop</button>
        <button onclick="flip()">Flip</button>
        <button onclick="flash()">Flash</button>
        <button onclick="snap()">Capture</button>
    </div>
    <script>
        const flashModes = ['off', 'on', 'auto'];
        function call(method, url, body) {
            return fetch(url, {
                method,
                headers: {'Content-Type': 'application/json'},
                body: body ? JSON.stringify(body) : undefined,
            }).then(r => r.json());
        }
        function flip() {
            call('GET', '/api/status').then(s => {
                const next = s.session.position === 'back' ? 'front' : 'back';
                return call('PUT', '/api/capture/position', {position: next});
            }).then(() => {
                document.querySelector('img.stream').src = '/stream?' + Date.now();
            });
        }
        function flash() {
            call('GET', '/api/status').then(s => {
                const i = flashModes.indexOf(s.session.flash_mode);
                return call('PUT', '/api/capture/flash', {mode: flashModes[(i + 1) % 3]});
            });
        }
        function snap() {
            call('POST', '/api/capture/image', {thumbnail_size: 240}).then(r => {
                if (!r.ok) { console.error(r.error); return; }
                const img = document.getElementById('still');
                img.src = 'data:image/jpeg;base64,' + (r.result.thumbnail || r.result.image);
                img.style.display = 'block';
            });
        }
    </script>
</body>
</html>`

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		running := m.running
		frameCount := m.frameCount
		skipped := m.skipped
		startTime := m.startTime
		m.mu.RUnlock()

		m.frameMu.RLock()
		lastUpdate := m.lastUpdate
		var orientation camera.Orientation
		var position camera.Position
		if m.current != nil {
			orientation, position = m.current.Orientation, m.current.Position
		}
		m.frameMu.RUnlock()

		clientCount := m.Clients()

		var fps float64
		if running && !startTime.IsZero() {
			elapsed := time.Since(startTime).Seconds()
			if elapsed > 0 {
				fps = float64(frameCount) / elapsed
			}
		}

		status, statusClass := "Stopped", "status-stopped"
		if running {
			status, statusClass = "Running", "status-running"
		}
		last := "Never"
		if !lastUpdate.IsZero() {
			last = time.Since(lastUpdate).Round(time.Millisecond).String() + " ago"
		}
		uptime := "N/A"
		if !startTime.IsZero() {
			uptime = time.Since(startTime).Round(time.Second).String()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>CanvasCamera - Stream Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .status-running { color: #4ec9b0; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>CanvasCamera Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span> <span class="value %s">%s</span></div>
    <div class="stat"><span class="label">Resolution:</span> <span class="value">%dx%d @ %d FPS (target)</span></div>
    <div class="stat"><span class="label">Actual FPS:</span> <span class="value">%.2f</span></div>
    <div class="stat"><span class="label">Total Frames:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Skipped (slow clients):</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Camera:</span> <span class="value">%s / %s</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">%s</span></div>
    <p><a href="/stream" style="color: #569cd6;">View Stream</a></p>
</body>
</html>`,
			statusClass, status,
			m.config.Width, m.config.Height, m.config.FPS,
			fps,
			frameCount,
			skipped,
			position, orientation,
			clientCount,
			last,
			uptime,
		)
	}
}
