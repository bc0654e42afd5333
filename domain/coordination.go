package domain

import "time"

// ProcessSnapshot is a point-in-time view of one supervised process.
type ProcessSnapshot struct {
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	PID          int32   `json:"pid"`
	MemoryMB     float64 `json:"memoryMb"`
	CPUPercent   float64 `json:"cpuPercent"`
	UptimeSec    int64   `json:"uptimeSec"`
	RestartCount int     `json:"restartCount"`
}

// MachineHeartbeat is one machine's liveness record as stored in the fleet's
// coordination store. Its absence past the TTL means the machine is down.
type MachineHeartbeat struct {
	MachineID string            `json:"machineId"`
	Status    string            `json:"status"`
	LastSeen  time.Time         `json:"lastSeen"`
	UptimeSec int64             `json:"uptimeSec"`
	Online    int               `json:"online"`
	Total     int               `json:"total"`
	Processes []ProcessSnapshot `json:"processes,omitempty"`
}

// LeadershipLock is the fleet-wide singleton lease. Whoever holds it runs the
// leader-only duties until the lease expires or is released.
type LeadershipLock struct {
	MachineID string `json:"machineId"`
}

// DeploySyncRecord announces "project X is at commit Y on machine Z". Keyed
// by project id with a short TTL; last writer wins.
type DeploySyncRecord struct {
	ProjectID   string    `json:"projectId"`
	Commit      string    `json:"commit"`
	MachineID   string    `json:"machineId"`
	Timestamp   time.Time `json:"timestamp"`
	TriggeredBy Trigger   `json:"triggeredBy"`
}
