package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/stone-age-io/torrentd/internal/bootstrap"
	"github.com/stone-age-io/torrentd/internal/config"
	natsclient "github.com/stone-age-io/torrentd/internal/nats"
	"github.com/stone-age-io/torrentd/internal/scheduler"
	"github.com/stone-age-io/torrentd/internal/service"
	"github.com/stone-age-io/torrentd/internal/tasks"
	"github.com/stone-age-io/torrentd/internal/torrent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const bootstrapTimeout = 30 * time.Second

// Agent wires the server channel to NATS and the scheduler
type Agent struct {
	config    *config.Config
	logger    *zap.Logger
	nats      *natsclient.Client
	scheduler *scheduler.Scheduler
	server    *service.Channel
	tracker   *tasks.Tracker
	version   string
	autostart sync.WaitGroup
}

// New creates a new agent instance
func New(configPath string, version string) (*Agent, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting torrentd",
		zap.String("version", version),
		zap.String("device_id", cfg.DeviceID),
		zap.Int("port", cfg.Server.Port))

	if cfg.NATS.Auth.Type == "pocketbase" {
		ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
		err := bootstrap.FetchCredentials(ctx, &cfg.NATS.Auth, cfg.DeviceID, logger)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to bootstrap credentials: %w", err)
		}
		// The .creds file exists now
		cfg.NATS.Auth.Type = "creds"
	}

	logger.Info("Connecting to NATS...")
	natsClient, err := natsclient.NewClient(&cfg.NATS, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	tracker := tasks.NewTracker(logger)
	reporter := natsclient.NewStatusPublisher(logger, natsClient, tracker, cfg.SubjectPrefix, cfg.DeviceID)
	listener := torrent.NewListener(logger, cfg.Server)
	server := service.NewChannel(logger, listener, cfg.Server.Port, reporter)

	handlers := natsclient.NewCommandHandlers(logger, cfg, server, tracker, natsClient.IsConnected, version)

	logger.Info("Subscribing to commands...")
	if err := handlers.SubscribeAll(natsClient); err != nil {
		server.Close()
		natsClient.Close()
		return nil, fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	sched, err := scheduler.New(logger, natsClient, tracker, cfg, version)
	if err != nil {
		server.Close()
		natsClient.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Agent{
		config:    cfg,
		logger:    logger,
		nats:      natsClient,
		scheduler: sched,
		server:    server,
		tracker:   tracker,
		version:   version,
	}, nil
}

// Start runs the scheduler and, when configured, starts the listener in the
// background. It does not block.
func (a *Agent) Start() {
	a.scheduler.Start()

	if a.config.Tasks.Autostart {
		a.autostart.Add(1)
		go func() {
			defer a.autostart.Done()
			a.startServer()
		}()
	}

	a.logger.Info("Agent running",
		zap.String("device_id", a.config.DeviceID),
		zap.String("version", a.version))
}

func (a *Agent) startServer() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.Commands.Timeout)
	defer cancel()

	if err := a.server.Submit(ctx, service.CommandStart); err != nil {
		a.tracker.RecordCommandError(err)
		a.logger.Error("Autostart failed", zap.Error(err))
		return
	}
	a.tracker.RecordCommandSuccess()
}

// Shutdown stops the listener, closes the server channel and drains NATS
func (a *Agent) Shutdown() error {
	a.logger.Info("Shutting down agent gracefully")

	if err := a.scheduler.Shutdown(); err != nil {
		a.logger.Error("Error shutting down scheduler", zap.Error(err))
	}

	// Stop must not overtake autostart's Start
	a.autostart.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.config.Commands.Timeout)
	if err := a.server.Submit(stopCtx, service.CommandStop); err != nil {
		a.logger.Error("Failed to stop listener", zap.Error(err), zap.Bool("retryable", service.Retryable(err)))
	}
	stopCancel()

	a.server.Close()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), a.config.NATS.DrainTimeout)
	defer drainCancel()

	if err := a.nats.Drain(drainCtx); err != nil {
		a.logger.Error("Error draining NATS", zap.Error(err))
	}

	a.logger.Info("Agent shutdown complete")
	a.logger.Sync()

	return nil
}

// initLogger creates the logger: JSON to a rotated file and console to stdout
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     28, // days
		Compress:   true,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
