package tasks

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stone-age-io/torrentd/internal/utils"
	"go.uber.org/zap"
)

// AgentMetrics represents agent self-monitoring metrics
type AgentMetrics struct {
	MemoryUsageMB     float64       `json:"memory_usage_mb"`
	RSSMB             float64       `json:"rss_mb,omitempty"`
	CPUPercent        float64       `json:"cpu_percent"`
	Threads           int32         `json:"threads,omitempty"`
	Goroutines        int           `json:"goroutines"`
	UptimeSeconds     int64         `json:"uptime_seconds"`
	HostUptimeSeconds uint64        `json:"host_uptime_seconds,omitempty"`
	CommandsProcessed int64         `json:"commands_processed"`
	CommandsErrored   int64         `json:"commands_errored"`
	ReportsEmitted    int64         `json:"reports_emitted"`
	HeartbeatCount    int64         `json:"heartbeat_count"`
	LastError         string        `json:"last_error,omitempty"`
	LastErrorTime     string        `json:"last_error_time,omitempty"`
	LastHeartbeat     string        `json:"last_heartbeat,omitempty"`
	Server            *ServerStatus `json:"server,omitempty"`
}

// GetAgentMetrics returns current agent performance metrics.
// Process figures come from gopsutil; failures there are logged and left zero.
func (t *Tracker) GetAgentMetrics(ctx context.Context) *AgentMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	metrics := &AgentMetrics{
		// mem.Sys is the full Go runtime footprint
		MemoryUsageMB: utils.Round(float64(mem.Sys) / 1024 / 1024),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(t.startTime).Seconds()),
	}

	t.collectProcess(ctx, metrics)

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		metrics.HostUptimeSeconds = uptime
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics.CommandsProcessed = t.commandsProcessed
	metrics.CommandsErrored = t.commandsErrored
	metrics.ReportsEmitted = t.reportsEmitted
	metrics.HeartbeatCount = t.heartbeatCount

	if !t.lastErrorTime.IsZero() {
		metrics.LastError = t.lastError
		metrics.LastErrorTime = t.lastErrorTime.Format(time.RFC3339)
	}
	if !t.lastHeartbeat.IsZero() {
		metrics.LastHeartbeat = t.lastHeartbeat.Format(time.RFC3339)
	}
	if t.lastReport != nil {
		status := *t.lastReport
		metrics.Server = &status
	}

	return metrics
}

func (t *Tracker) collectProcess(ctx context.Context, metrics *AgentMetrics) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		t.logger.Warn("Failed to open own process for metrics", zap.Error(err))
		return
	}

	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
		metrics.RSSMB = utils.Round(float64(memInfo.RSS) / 1024 / 1024)
	} else {
		t.logger.Debug("Failed to read process memory", zap.Error(err))
	}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		metrics.CPUPercent = utils.Round(cpu)
	} else {
		t.logger.Debug("Failed to read process CPU", zap.Error(err))
	}

	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		metrics.Threads = threads
	}
}
