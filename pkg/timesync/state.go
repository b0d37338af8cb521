package timesync

import (
	"context"
	"errors"

	"github.com/robotalks/rtcsync/pkg/rtc"
)

// State is the lifecycle state of a Scheduler.
type State int32

// Scheduler states. Stopped is terminal.
const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

var (
	// ErrDisconnected indicates the device node vanished during the run.
	ErrDisconnected = errors.New("device disconnected")
	// ErrNotIdle indicates Run is called on a Scheduler which already ran.
	ErrNotIdle = errors.New("scheduler already started")
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitDeviceError   = 1
	ExitProtocolError = 2
	ExitUsage         = 3
)

// ExitCode maps the reason a run stopped to a process exit code.
// An interrupt is a clean stop.
func ExitCode(err error) int {
	var protoErr *rtc.ProtocolError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case errors.As(err, &protoErr):
		return ExitProtocolError
	}
	return ExitDeviceError
}
