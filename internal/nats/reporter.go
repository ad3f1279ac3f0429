package nats

import (
	"encoding/json"

	"github.com/stone-age-io/torrentd/internal/service"
	"github.com/stone-age-io/torrentd/internal/tasks"
	"go.uber.org/zap"
)

// Publisher sends telemetry to the bus
type Publisher interface {
	PublishTelemetry(subject string, data []byte) error
}

// StatusPublisher is the service.Observer that pushes status reports to NATS.
// It runs on the actor's dispatch goroutine, so it must not block on acks.
type StatusPublisher struct {
	logger    *zap.Logger
	publisher Publisher
	tracker   *tasks.Tracker
	subject   string
}

// NewStatusPublisher publishes reports to {prefix}.{device}.status.server
func NewStatusPublisher(logger *zap.Logger, publisher Publisher, tracker *tasks.Tracker, prefix, deviceID string) *StatusPublisher {
	return &StatusPublisher{
		logger:    logger,
		publisher: publisher,
		tracker:   tracker,
		subject:   Subject(prefix, deviceID, "status.server"),
	}
}

// Notify records and publishes a report
func (p *StatusPublisher) Notify(report service.StatusReport) {
	status := tasks.NewServerStatus(report)
	p.tracker.RecordReport(status)

	data, err := json.Marshal(status)
	if err != nil {
		p.logger.Error("Failed to marshal status report", zap.Error(err))
		return
	}

	if err := p.publisher.PublishTelemetry(p.subject, data); err != nil {
		p.logger.Warn("Failed to publish status report",
			zap.String("state", status.State),
			zap.Error(err))
	}
}
