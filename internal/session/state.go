// Package session owns the capture session: device selection, input and
// output wiring, start/stop, runtime reconfiguration and still capture.
//
// All session state is owned by a single goroutine, the capture context.
// Public methods post commands to it and wait for the result; frames from the
// active input arrive on the same goroutine, so no session field is ever
// touched concurrently.
package session

import (
	"errors"

	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/capture"
)

// State is the session lifecycle state
type State string

const (
	StateIdle          State = "idle"
	StateConfiguring   State = "configuring"
	StateRunning       State = "running"
	StateStopping      State = "stopping"
	StateReconfiguring State = "reconfiguring"
)

// ErrClosed is returned for commands issued after Close
var ErrClosed = errors.New("session closed")

// Snapshot is a consistent read of the session's public state
type Snapshot struct {
	State      State               `json:"state"`
	Position   camera.Position     `json:"position"`
	FlashMode  camera.FlashMode    `json:"flash_mode"`
	Configured bool                `json:"configured"`
	Device     *capture.DeviceInfo `json:"device,omitempty"`
}

type cmdKind int

const (
	cmdConfigure cmdKind = iota
	cmdStart
	cmdStop
	cmdSetFlash
	cmdSetPosition
	cmdStill
	cmdCancelStill
	cmdStillDone
)

func (k cmdKind) String() string {
	switch k {
	case cmdConfigure:
		return "configure"
	case cmdStart:
		return "start"
	case cmdStop:
		return "stop"
	case cmdSetFlash:
		return "set_flash"
	case cmdSetPosition:
		return "set_position"
	case cmdStill:
		return "still"
	case cmdCancelStill:
		return "cancel_still"
	case cmdStillDone:
		return "still_done"
	}
	return "unknown"
}

type command struct {
	kind     cmdKind
	position camera.Position
	flash    camera.FlashMode
	still    *stillJob
	reply    chan error
}

type txKind int

const (
	txConfigure txKind = iota
	txStart
	txReconfigure
)

// transaction is an in-flight device open. It commits or rolls back as a
// whole when its result arrives on the capture context.
type transaction struct {
	kind     txKind
	position camera.Position
	flash    camera.FlashMode

	// strictFlash fails the transaction when the new device cannot use
	// flash; otherwise flash falls back to off.
	strictFlash bool

	reply chan error
}

type txResult struct {
	tx    *transaction
	graph *graph
	flash camera.FlashMode
	err   error
}

type frameMsg struct {
	gen   uint64
	frame camera.Frame
	lost  bool
}
