package service

import (
	"fmt"

	"go.uber.org/zap"
)

// Listener binds and releases the server port.
// Implementations own the socket; the Actor only sequences calls around them.
// Neither call has a timeout: a hang blocks the Actor and every later command.
type Listener interface {
	Bind(port int) error
	Release(port int) error
}

// Actor owns the server lifecycle state. It is not safe for concurrent use;
// the Channel dispatch goroutine is its only caller.
type Actor struct {
	logger   *zap.Logger
	listener Listener
	port     int
	state    State
	emit     func(StatusReport)
}

// NewActor creates an actor in StateStopped for the given port.
// emit is called once per successfully processed command.
func NewActor(logger *zap.Logger, listener Listener, port int, emit func(StatusReport)) *Actor {
	if emit == nil {
		emit = func(StatusReport) {}
	}
	return &Actor{
		logger:   logger,
		listener: listener,
		port:     port,
		state:    StateStopped,
		emit:     emit,
	}
}

// handle runs a single command to completion
func (a *Actor) handle(cmd Command) error {
	switch cmd {
	case CommandStart:
		return a.handleStart()
	case CommandStop:
		return a.handleStop()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

func (a *Actor) handleStart() error {
	if a.state == StateActive {
		a.logger.Debug("Server already active", zap.Int("port", a.port))
		a.report()
		return nil
	}

	if err := a.listener.Bind(a.port); err != nil {
		return fmt.Errorf("%w: port %d: %w", ErrBindFailure, a.port, err)
	}

	a.state = StateActive
	a.logger.Info("Server activated", zap.Int("port", a.port))
	a.report()
	return nil
}

func (a *Actor) handleStop() error {
	if a.state == StateStopped {
		a.logger.Debug("Server already stopped", zap.Int("port", a.port))
		a.report()
		return nil
	}

	if err := a.listener.Release(a.port); err != nil {
		return fmt.Errorf("%w: port %d: %w", ErrReleaseFailure, a.port, err)
	}

	a.state = StateStopped
	a.logger.Info("Server deactivated", zap.Int("port", a.port))
	a.report()
	return nil
}

func (a *Actor) report() {
	a.emit(a.status())
}

// status is the actor's current state; failed commands leave it unchanged
func (a *Actor) status() StatusReport {
	return StatusReport{State: a.state, Port: a.port}
}
