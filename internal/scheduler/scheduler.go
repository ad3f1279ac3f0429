package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/stone-age-io/torrentd/internal/config"
	natsclient "github.com/stone-age-io/torrentd/internal/nats"
	"github.com/stone-age-io/torrentd/internal/tasks"
	"go.uber.org/zap"
)

// Scheduler runs periodic telemetry jobs
type Scheduler struct {
	cron      gocron.Scheduler
	logger    *zap.Logger
	publisher natsclient.Publisher
	tracker   *tasks.Tracker
	cfg       *config.Config
	version   string
}

// New creates a scheduler and registers the enabled jobs. Call Start to run them.
func New(logger *zap.Logger, publisher natsclient.Publisher, tracker *tasks.Tracker, cfg *config.Config, version string) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		cron:      cron,
		logger:    logger,
		publisher: publisher,
		tracker:   tracker,
		cfg:       cfg,
		version:   version,
	}

	if cfg.Tasks.Heartbeat.Enabled {
		_, err := cron.NewJob(
			gocron.DurationJob(cfg.Tasks.Heartbeat.Interval),
			gocron.NewTask(s.publishHeartbeat),
			gocron.WithName("heartbeat"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			cron.Shutdown()
			return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
		}
		logger.Info("Scheduled heartbeat", zap.Duration("interval", cfg.Tasks.Heartbeat.Interval))
	}

	return s, nil
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops the scheduler and waits for running jobs
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}

func (s *Scheduler) publishHeartbeat() {
	hb := s.tracker.CreateHeartbeat(s.version)

	data, err := json.Marshal(hb)
	if err != nil {
		s.logger.Error("Failed to marshal heartbeat", zap.Error(err))
		return
	}

	subject := natsclient.Subject(s.cfg.SubjectPrefix, s.cfg.DeviceID, "heartbeat")
	if err := s.publisher.PublishTelemetry(subject, data); err != nil {
		s.logger.Warn("Failed to publish heartbeat", zap.Error(err))
		return
	}

	s.tracker.RecordHeartbeat()
}
