package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/torrentd/internal/config"
	"github.com/stone-age-io/torrentd/internal/service"
	"github.com/stone-age-io/torrentd/internal/tasks"
	"go.uber.org/zap"
)

// Executor hands lifecycle commands to the server actor and returns the
// state that command left behind
type Executor interface {
	Execute(ctx context.Context, cmd service.Command) (*service.StatusReport, error)
}

// Subscriber registers request/reply handlers
type Subscriber interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// CommandHandlers manages all command subscriptions and handlers
type CommandHandlers struct {
	logger         *zap.Logger
	deviceID       string
	subjectPrefix  string
	commandTimeout time.Duration
	server         Executor
	tracker        *tasks.Tracker
	connected      func() bool
	version        string
}

// NewCommandHandlers creates a new command handler manager.
// connected reports NATS connectivity for health responses and may be nil.
func NewCommandHandlers(logger *zap.Logger, cfg *config.Config, server Executor, tracker *tasks.Tracker, connected func() bool, version string) *CommandHandlers {
	if connected == nil {
		connected = func() bool { return true }
	}
	return &CommandHandlers{
		logger:         logger,
		deviceID:       cfg.DeviceID,
		subjectPrefix:  cfg.SubjectPrefix,
		commandTimeout: cfg.Commands.Timeout,
		server:         server,
		tracker:        tracker,
		connected:      connected,
		version:        version,
	}
}

// Subject returns the fully qualified subject for this device
func Subject(prefix, deviceID, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, deviceID, suffix)
}

// handleWithRecovery wraps a command handler with panic recovery so one bad
// request cannot take down the agent
func (h *CommandHandlers) handleWithRecovery(name string, handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic recovered in command handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))

				h.respond(msg, errorResponse{
					Status:    "error",
					Error:     fmt.Sprintf("Internal error: handler panicked: %v", r),
					Timestamp: now(),
				})
			}
		}()

		handler(msg)
	}
}

// SubscribeAll subscribes to all command subjects for this device
func (h *CommandHandlers) SubscribeAll(client Subscriber) error {
	handlers := []struct {
		name    string
		handler nats.MsgHandler
	}{
		{"ping", h.handlePing},
		{"server", h.handleServerControl},
		{"health", h.handleHealth},
		{"metrics", h.handleMetrics},
	}

	for _, hd := range handlers {
		subject := Subject(h.subjectPrefix, h.deviceID, "cmd."+hd.name)
		if _, err := client.Subscribe(subject, h.handleWithRecovery(hd.name, hd.handler)); err != nil {
			return err
		}
	}

	return nil
}

// Response structures

type pingResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type serverControlRequest struct {
	Action string `json:"action"`
}

type serverControlResponse struct {
	Status    string              `json:"status"`
	RequestID string              `json:"request_id"`
	Action    string              `json:"action,omitempty"`
	Server    *tasks.ServerStatus `json:"server,omitempty"`
	Retryable bool                `json:"retryable,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp string              `json:"timestamp"`
}

type healthResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	NATSConnected bool                `json:"nats_connected"`
	AgentMetrics  *tasks.AgentMetrics `json:"agent_metrics"`
	Timestamp     string              `json:"timestamp"`
}

type metricsResponse struct {
	Status    string `json:"status"`
	Format    string `json:"format"`
	Metrics   string `json:"metrics,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// handlePing responds to ping commands
func (h *CommandHandlers) handlePing(msg *nats.Msg) {
	h.logger.Debug("Received ping command")

	h.respond(msg, pingResponse{
		Status:    "pong",
		Version:   h.version,
		Timestamp: now(),
	})
}

// handleServerControl processes server start/stop commands
func (h *CommandHandlers) handleServerControl(msg *nats.Msg) {
	h.respond(msg, h.serverControl(msg.Data))
}

// serverControl parses a request, submits it to the actor and builds the reply.
// The reply blocks until the actor has processed the command.
func (h *CommandHandlers) serverControl(data []byte) serverControlResponse {
	requestID := uuid.NewString()
	logger := h.logger.With(zap.String("request_id", requestID))

	var req serverControlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Error("Failed to parse server control request", zap.Error(err))
		h.tracker.RecordCommandError(err)
		return serverControlResponse{
			Status:    "error",
			RequestID: requestID,
			Error:     "Invalid request format",
			Timestamp: now(),
		}
	}

	cmd, err := service.ParseCommand(req.Action)
	if err != nil {
		logger.Warn("Rejected server control request", zap.Error(err))
		h.tracker.RecordCommandError(err)
		return serverControlResponse{
			Status:    "error",
			RequestID: requestID,
			Action:    req.Action,
			Error:     err.Error(),
			Timestamp: now(),
		}
	}

	logger.Info("Processing server control", zap.String("action", cmd.String()))

	ctx, cancel := context.WithTimeout(context.Background(), h.commandTimeout)
	defer cancel()

	report, err := h.server.Execute(ctx, cmd)
	server := serverStatus(report)
	if err != nil {
		logger.Error("Server control failed",
			zap.String("action", cmd.String()),
			zap.Error(err))
		h.tracker.RecordCommandError(err)
		return serverControlResponse{
			Status:    "error",
			RequestID: requestID,
			Action:    cmd.String(),
			Server:    server,
			Retryable: service.Retryable(err),
			Error:     err.Error(),
			Timestamp: now(),
		}
	}

	h.tracker.RecordCommandSuccess()
	logger.Info("Server control succeeded", zap.String("action", cmd.String()))

	return serverControlResponse{
		Status:    "success",
		RequestID: requestID,
		Action:    cmd.String(),
		Server:    server,
		Timestamp: now(),
	}
}

// serverStatus converts the report produced by this command, if any
func serverStatus(report *service.StatusReport) *tasks.ServerStatus {
	if report == nil {
		return nil
	}
	return tasks.NewServerStatus(*report)
}

// handleHealth returns agent health and performance metrics
func (h *CommandHandlers) handleHealth(msg *nats.Msg) {
	h.logger.Debug("Received health check command")
	h.respond(msg, h.health())
}

func (h *CommandHandlers) health() healthResponse {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return healthResponse{
		Status:        "healthy",
		Version:       h.version,
		NATSConnected: h.connected(),
		AgentMetrics:  h.tracker.GetAgentMetrics(ctx),
		Timestamp:     now(),
	}
}

// handleMetrics returns agent metrics in Prometheus text format
func (h *CommandHandlers) handleMetrics(msg *nats.Msg) {
	h.logger.Debug("Received metrics command")
	h.respond(msg, h.metrics())
}

func (h *CommandHandlers) metrics() metricsResponse {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := h.tracker.MetricsText(ctx)
	if err != nil {
		h.logger.Error("Failed to render metrics", zap.Error(err))
		return metricsResponse{
			Status:    "error",
			Format:    "prometheus-text",
			Error:     err.Error(),
			Timestamp: now(),
		}
	}

	return metricsResponse{
		Status:    "success",
		Format:    "prometheus-text",
		Metrics:   text,
		Timestamp: now(),
	}
}

// respond marshals v and replies to msg
func (h *CommandHandlers) respond(msg *nats.Msg, v interface{}) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal response", zap.Error(err))
		return
	}
	if err := msg.Respond(responseBytes); err != nil {
		h.logger.Warn("Failed to send response",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
