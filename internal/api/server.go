package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
	"github.com/bryanchriswhite/CanvasCamera/internal/config"
	"github.com/bryanchriswhite/CanvasCamera/internal/host"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
	"github.com/bryanchriswhite/CanvasCamera/internal/output"
)

const maxBodyBytes = 1 << 20

// Version is reported by the health endpoint
var Version = "0.1.0"

// Options wires a Server to the rest of the application
type Options struct {
	Dispatcher *host.Dispatcher

	// Devices lists the selectable cameras
	Devices func() []capture.DeviceInfo

	// Config is optional; without it the config endpoints return 404
	Config *config.Manager

	Stream *output.MJPEGOutput
	Frames *output.Hub
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	opts     Options
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Capture session
	api.HandleFunc("/capture/start", s.command(host.CmdStartCapture)).Methods("POST")
	api.HandleFunc("/capture/stop", s.command(host.CmdStopCapture)).Methods("POST")
	api.HandleFunc("/capture/flash", s.command(host.CmdSetFlashMode)).Methods("PUT")
	api.HandleFunc("/capture/position", s.command(host.CmdSetCameraPosition)).Methods("PUT")
	api.HandleFunc("/capture/image", s.handleCaptureImage).Methods("POST")
	api.HandleFunc("/device/orientation", s.command(host.CmdSetOrientation)).Methods("PUT")
	api.HandleFunc("/status", s.command(host.CmdStatus)).Methods("GET")
	api.HandleFunc("/devices", s.handleDevices).Methods("GET")

	// Commands and frame push over one socket
	api.HandleFunc("/ws", s.handleWebSocket)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.opts.Stream != nil {
		s.router.HandleFunc("/stream", s.opts.Stream.GetHTTPHandler())
		s.router.HandleFunc("/stream/latest.jpg", s.opts.Stream.GetLatestHandler())
		s.router.HandleFunc("/stats", s.opts.Stream.GetStatsHandler())
		s.router.HandleFunc("/", s.opts.Stream.GetViewerHandler())
	}
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Msgf("Starting server on http://localhost%s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
// Streaming connections are closed by stopping their outputs first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a command error code to an HTTP status
func statusFor(resp host.Response) int {
	if resp.OK {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case host.CodeInvalidArgument, host.CodeUnknownCommand:
		return http.StatusBadRequest
	case "DeviceUnavailable":
		return http.StatusServiceUnavailable
	case "UnsupportedMode", "ConfigError":
		return http.StatusUnprocessableEntity
	case "Busy", "AlreadyStarting", "SessionNotRunning", "Interrupted":
		return http.StatusConflict
	case host.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// readArgs returns the request body as command arguments
func readArgs(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return body, nil
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, command string) (host.Response, bool) {
	args, err := readArgs(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, host.Response{
			Command: command,
			Error:   &host.Error{Code: host.CodeInvalidArgument, Message: err.Error()},
		})
		return host.Response{}, false
	}
	resp := s.opts.Dispatcher.Do(r.Context(), host.Request{Command: command, Args: args})
	return resp, true
}

// command returns a handler that forwards the request body to a host command
func (s *Server) command(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, ok := s.dispatch(w, r, command)
		if !ok {
			return
		}
		writeJSON(w, statusFor(resp), resp)
	}
}

// handleCaptureImage returns the JSON result, or the raw JPEG with
// ?format=jpeg
func (s *Server) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.dispatch(w, r, host.CmdCaptureImage)
	if !ok {
		return
	}
	res, isImage := resp.Result.(*host.CaptureResult)
	if !resp.OK || !isImage || r.URL.Query().Get("format") != "jpeg" {
		writeJSON(w, statusFor(resp), resp)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Request-Id", resp.ID)
	w.Header().Set("X-Image-Orientation", string(res.Orientation))
	w.Header().Set("X-Camera-Position", string(res.Position))
	w.Write(res.Image)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := []capture.DeviceInfo{}
	if s.opts.Devices != nil {
		devices = append(devices, s.opts.Devices()...)
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		http.NotFound(w, r)
		return
	}
	var cfg config.Config
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.opts.Config.Update(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
