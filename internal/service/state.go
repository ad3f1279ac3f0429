package service

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of the managed server.
// Exactly one value holds at any time; only the Actor changes it.
type State int

const (
	// StateStopped means the listener is not bound
	StateStopped State = iota

	// StateActive means the listener holds the port
	StateActive
)

// String returns the wire name of the state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Code returns the numeric status code reported to observers (0 = active, 1 = stopped)
func (s State) Code() int {
	if s == StateActive {
		return 0
	}
	return 1
}

// Command is a lifecycle request. The set is closed: start or stop.
type Command int

const (
	// CommandStart requests a transition to StateActive
	CommandStart Command = iota + 1

	// CommandStop requests a transition to StateStopped
	CommandStop
)

// String returns the wire name of the command
func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Valid reports whether c is one of the known commands
func (c Command) Valid() bool {
	return c == CommandStart || c == CommandStop
}

// ParseCommand converts a wire action ("start", "stop") into a Command
func ParseCommand(action string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "start":
		return CommandStart, nil
	case "stop":
		return CommandStop, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be start or stop)", ErrUnknownCommand, action)
	}
}

// StatusReport is emitted after every processed command, including no-ops.
// Failed transitions never produce a report.
type StatusReport struct {
	State State
	Port  int
}

// Observer receives status reports in processing order.
// Notify is called from the dispatch goroutine and must not call back into the Channel.
type Observer interface {
	Notify(report StatusReport)
}

// ObserverFunc adapts a plain function to the Observer interface
type ObserverFunc func(report StatusReport)

// Notify calls f(report)
func (f ObserverFunc) Notify(report StatusReport) {
	f(report)
}
