package service

import "errors"

var (
	// ErrBindFailure is returned when the listener could not acquire the port.
	// The actor stays in StateStopped.
	ErrBindFailure = errors.New("bind failure")

	// ErrReleaseFailure is returned when the listener could not shut down cleanly.
	// The actor stays in StateActive and the caller may retry the stop.
	ErrReleaseFailure = errors.New("release failure")

	// ErrChannelClosed is returned to callers whose command was not accepted
	// before the channel was closed
	ErrChannelClosed = errors.New("command channel closed")

	// ErrUnknownCommand is returned for actions outside the start/stop set
	ErrUnknownCommand = errors.New("unknown command")
)

// Retryable reports whether the caller may resubmit the same command.
// Only release failures leave the server in a state where a retry makes sense.
func Retryable(err error) bool {
	return errors.Is(err, ErrReleaseFailure)
}
