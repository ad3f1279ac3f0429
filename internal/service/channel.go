package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type request struct {
	cmd   Command
	reply chan result
}

type result struct {
	report StatusReport
	err    error
}

// Channel is the single entry point for lifecycle commands.
// Any number of goroutines may Submit; one dispatch goroutine owns the Actor
// and processes commands strictly in the order they were accepted.
type Channel struct {
	logger   *zap.Logger
	actor    *Actor
	observer Observer

	requests  chan request
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates the actor for port and starts the dispatch loop.
// Reports are forwarded unchanged to observer; a nil observer discards them.
func NewChannel(logger *zap.Logger, listener Listener, port int, observer Observer) *Channel {
	c := &Channel{
		logger:   logger,
		observer: observer,
		requests: make(chan request),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.actor = NewActor(logger, listener, port, c.forward)

	go c.run()

	return c
}

// Submit hands cmd to the actor and blocks until it has been processed.
// ctx bounds only the wait for acceptance. Once accepted the command always
// runs to completion and its result is returned regardless of ctx.
func (c *Channel) Submit(ctx context.Context, cmd Command) error {
	_, err := c.Execute(ctx, cmd)
	return err
}

// Execute is Submit that also returns the actor's state right after this
// command ran. The report is nil when the command was never accepted.
func (c *Channel) Execute(ctx context.Context, cmd Command) (*StatusReport, error) {
	if !cmd.Valid() {
		return nil, ErrUnknownCommand
	}

	req := request{cmd: cmd, reply: make(chan result, 1)}

	select {
	case c.requests <- req:
	case <-c.closing:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res := <-req.reply
	return &res.report, res.err
}

// Close stops accepting commands and waits for the in-flight command, if any,
// to finish. Callers still waiting for acceptance receive ErrChannelClosed.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
	<-c.done
}

// Done is closed once the dispatch loop has exited
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) run() {
	defer close(c.done)

	for {
		select {
		case <-c.closing:
			c.logger.Info("Command channel closed")
			return
		case req := <-c.requests:
			err := c.actor.handle(req.cmd)
			if err != nil {
				c.logger.Error("Command failed",
					zap.String("command", req.cmd.String()),
					zap.Bool("retryable", Retryable(err)),
					zap.Error(err))
			}
			req.reply <- result{report: c.actor.status(), err: err}
		}
	}
}

func (c *Channel) forward(report StatusReport) {
	c.logger.Debug("Status report",
		zap.String("state", report.State.String()),
		zap.Int("port", report.Port))

	if c.observer != nil {
		c.observer.Notify(report)
	}
}
