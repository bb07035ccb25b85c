package rolling

import (
	"fmt"

	"github.com/cjeanneret/RollGo/internal/debug"
)

// DeviceState is the lifecycle state of the capture device.
// The Controller holds the only authoritative copy.
type DeviceState int

const (
	Uninitialized DeviceState = iota
	Idle
	Rolling
	Error
	Terminated
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Idle:          "idle",
	Rolling:       "rolling",
	Error:         "error",
	Terminated:    "terminated",
}

func (s DeviceState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name, so JSON payloads carry "rolling"
// rather than a number.
func (s DeviceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Command is the action that moves the device from one state to another.
type Command int

const (
	Invalid Command = iota
	Create
	GoIdle
	StartRolling
	StopRolling
	Exit
)

var commandNames = [...]string{
	Invalid:      "invalid",
	Create:       "create",
	GoIdle:       "go-idle",
	StartRolling: "start-rolling",
	StopRolling:  "stop-rolling",
	Exit:         "exit",
}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Decide returns the command that takes the device from current to target.
// ok is false (and the command Invalid) when the transition is not allowed.
// Error is never a reachable target.
//
// Decide holds no state and may be called from any goroutine.
func Decide(current, target DeviceState) (Command, bool) {
	cmd := Invalid
	switch target {
	case Idle:
		switch current {
		case Uninitialized:
			cmd = Create
		case Rolling:
			cmd = StopRolling
		}
	case Rolling:
		if current == Idle {
			cmd = StartRolling
		}
	case Terminated:
		if current == Idle {
			cmd = Exit
		}
	}
	debug.Trace("Decide: current=%s target=%s -> %s", current, target, cmd)
	return cmd, cmd != Invalid
}
