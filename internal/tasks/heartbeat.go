package tasks

import "time"

// Heartbeat is published periodically to show the agent is alive
type Heartbeat struct {
	Version   string        `json:"version"`
	Timestamp string        `json:"timestamp"`
	Server    *ServerStatus `json:"server,omitempty"` // Last reported server status
}

// CreateHeartbeat builds a heartbeat carrying the last known server status
func (t *Tracker) CreateHeartbeat(version string) *Heartbeat {
	return &Heartbeat{
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Server:    t.LastReport(),
	}
}
