package tasks

import (
	"sync"
	"time"

	"github.com/stone-age-io/torrentd/internal/service"
	"go.uber.org/zap"
)

// ServerStatus is the wire form of a service.StatusReport
type ServerStatus struct {
	State     string `json:"state"`
	Status    int    `json:"status"` // 0 = active, 1 = stopped
	Port      int    `json:"port"`
	Timestamp string `json:"timestamp"`
}

// NewServerStatus converts a report into its wire form, stamped with the current time
func NewServerStatus(report service.StatusReport) *ServerStatus {
	return &ServerStatus{
		State:     report.State.String(),
		Status:    report.State.Code(),
		Port:      report.Port,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Tracker records agent activity for health, metrics and heartbeats.
// It only sees the server state through reports, never through the actor.
type Tracker struct {
	logger    *zap.Logger
	startTime time.Time

	mu                sync.RWMutex
	commandsProcessed int64
	commandsErrored   int64
	lastError         string
	lastErrorTime     time.Time
	reportsEmitted    int64
	lastReport        *ServerStatus
	heartbeatCount    int64
	lastHeartbeat     time.Time
}

// NewTracker creates a tracker; uptime is measured from now
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger:    logger,
		startTime: time.Now(),
	}
}

// RecordCommandSuccess increments the processed counter
func (t *Tracker) RecordCommandSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commandsProcessed++
}

// RecordCommandError increments the error counter and stores the last error
func (t *Tracker) RecordCommandError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.commandsErrored++
	t.commandsProcessed++ // Still counts as processed
	t.lastError = err.Error()
	t.lastErrorTime = time.Now()
}

// RecordReport stores the latest server status report
func (t *Tracker) RecordReport(status *ServerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reportsEmitted++
	t.lastReport = status
}

// RecordHeartbeat records a heartbeat publication
func (t *Tracker) RecordHeartbeat() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHeartbeat = time.Now()
	t.heartbeatCount++
}

// LastReport returns a copy of the most recent report, or nil before the first one
func (t *Tracker) LastReport() *ServerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.lastReport == nil {
		return nil
	}
	status := *t.lastReport
	return &status
}
