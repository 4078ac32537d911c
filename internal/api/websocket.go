package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/host"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// resultMessage is a command result sent over the socket
type resultMessage struct {
	Type string `json:"type"`
	host.Response
}

// frameMessage is a pushed live frame. Image marshals as base64.
type frameMessage struct {
	Type        string             `json:"type"`
	Image       []byte             `json:"image"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Orientation camera.Orientation `json:"orientation"`
	Position    camera.Position    `json:"position"`
	Sequence    uint64             `json:"sequence"`
	Timestamp   time.Time          `json:"timestamp"`
	Thumbnail   []byte             `json:"thumbnail,omitempty"`
}

func newFrameMessage(d *camera.Delivery) frameMessage {
	return frameMessage{
		Type:        "frame",
		Image:       d.JPEG,
		Width:       d.Width,
		Height:      d.Height,
		Orientation: d.Orientation,
		Position:    d.Position,
		Sequence:    d.Sequence,
		Timestamp:   d.Timestamp,
		Thumbnail:   d.Thumbnail,
	}
}

// handleWebSocket accepts host commands as JSON and answers each with a
// result message. Live frames are pushed unless the client connects with
// ?frames=0.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Only the writer goroutine touches the connection for writes
	results := make(chan host.Response, 16)
	var frames <-chan *camera.Delivery
	if s.opts.Frames != nil && r.URL.Query().Get("frames") != "0" {
		sub := s.opts.Frames.Subscribe()
		defer s.opts.Frames.Unsubscribe(sub)
		frames = sub.Frames()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, results, frames)
	}()

	log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req host.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("WebSocket read failed")
			}
			break
		}

		respc := s.opts.Dispatcher.Dispatch(ctx, req)
		go func() {
			resp, ok := <-respc
			if !ok {
				return
			}
			select {
			case results <- resp:
			case <-ctx.Done():
			}
		}()
	}

	cancel()
	<-writerDone
	log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, results <-chan host.Response, frames <-chan *camera.Delivery) {
	log := logger.WithComponent("api")
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v interface{}) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case resp := <-results:
			if !write(resultMessage{Type: "result", Response: resp}) {
				conn.Close()
				return
			}
		case d, ok := <-frames:
			if !ok {
				// Frame output stopped; keep serving commands
				frames = nil
				continue
			}
			if !write(newFrameMessage(d)) {
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
