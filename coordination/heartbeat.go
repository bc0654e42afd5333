package coordination

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/supervisor"
)

// heartbeatTTLFactor sizes the key TTL to survive several missed intervals.
const heartbeatTTLFactor = 3

// HeartbeatPublisher periodically writes this machine's liveness record.
// The key's TTL is the only thing keeping the machine "alive" in the fleet:
// there is no out-of-band disconnect notice.
type HeartbeatPublisher struct {
	store      Store
	machineID  string
	interval   time.Duration
	supervisor supervisor.Supervisor
	startedAt  time.Time
}

func NewHeartbeatPublisher(store Store, machineID string, interval time.Duration, sup supervisor.Supervisor) *HeartbeatPublisher {
	return &HeartbeatPublisher{
		store:      store,
		machineID:  machineID,
		interval:   interval,
		supervisor: sup,
		startedAt:  time.Now(),
	}
}

// Start publishes heartbeats until the context is cancelled.
func (p *HeartbeatPublisher) Start(ctx context.Context) error {
	slog.Info("Heartbeat publisher starting", "machine_id", p.machineID, "interval", p.interval)

	p.Publish(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Heartbeat publisher shutting down", "machine_id", p.machineID)
			return nil
		case <-ticker.C:
			p.Publish(ctx)
		}
	}
}

// Publish writes one heartbeat record with a TTL worth several missed
// intervals.
func (p *HeartbeatPublisher) Publish(ctx context.Context) {
	processes, err := p.supervisor.List(ctx)
	if err != nil {
		slog.Warn("Failed to snapshot supervised processes for heartbeat",
			"machine_id", p.machineID,
			"error", err)
		processes = nil
	}

	online := 0
	for _, proc := range processes {
		if proc.Status == "online" {
			online++
		}
	}

	processesJSON, err := json.Marshal(processes)
	if err != nil {
		slog.Error("Failed to serialize process snapshot", "error", err)
		processesJSON = []byte("[]")
	}

	fields := map[string]string{
		"machine_id": p.machineID,
		"status":     "online",
		"last_seen":  time.Now().UTC().Format(time.RFC3339),
		"uptime_sec": strconv.FormatInt(int64(time.Since(p.startedAt).Seconds()), 10),
		"online":     strconv.Itoa(online),
		"total":      strconv.Itoa(len(processes)),
		"processes":  string(processesJSON),
	}

	key := HeartbeatKeyPrefix + p.machineID
	if err := p.store.HSet(ctx, key, fields, p.interval*heartbeatTTLFactor); err != nil {
		if !isUnavailable(err) {
			slog.Error("Failed to publish heartbeat",
				"layer", "coordination",
				"operation", "heartbeat_publish",
				"machine_id", p.machineID,
				"error", err)
		}
	}
}

// HeartbeatMonitor scans the fleet's heartbeat keys and alerts when a machine
// previously seen goes silent. The alert re-fires on every scan while the
// machine remains absent; reappearance clears the offline state.
type HeartbeatMonitor struct {
	store    Store
	selfID   string
	interval time.Duration

	// onOffline is invoked for each absent machine on each scan.
	onOffline func(machineID string)

	mu      sync.Mutex
	known   map[string]bool
	offline map[string]bool
}

func NewHeartbeatMonitor(store Store, selfID string, interval time.Duration, onOffline func(machineID string)) *HeartbeatMonitor {
	if onOffline == nil {
		onOffline = func(string) {}
	}
	return &HeartbeatMonitor{
		store:     store,
		selfID:    selfID,
		interval:  interval,
		onOffline: onOffline,
		known:     make(map[string]bool),
		offline:   make(map[string]bool),
	}
}

// Start scans until the context is cancelled.
func (m *HeartbeatMonitor) Start(ctx context.Context) error {
	slog.Info("Heartbeat monitor starting", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Heartbeat monitor shutting down")
			return nil
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan enumerates heartbeat keys and flags machines that went silent.
func (m *HeartbeatMonitor) Scan(ctx context.Context) {
	keys, err := m.store.ScanPrefix(ctx, HeartbeatKeyPrefix)
	if err != nil {
		if !isUnavailable(err) {
			slog.Error("Heartbeat scan failed",
				"layer", "coordination",
				"operation", "heartbeat_scan",
				"error", err)
		}
		return
	}

	present := make(map[string]bool, len(keys))
	for _, key := range keys {
		present[strings.TrimPrefix(key, HeartbeatKeyPrefix)] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for machineID := range m.known {
		if machineID == m.selfID {
			continue
		}
		if present[machineID] {
			if m.offline[machineID] {
				slog.Info("Machine back online", "machine_id", machineID)
				delete(m.offline, machineID)
			}
			continue
		}
		// Absent: alert on every scan until it reappears.
		m.offline[machineID] = true
		slog.Warn("Machine heartbeat missing, considered offline", "machine_id", machineID)
		m.onOffline(machineID)
	}

	for machineID := range present {
		m.known[machineID] = true
	}
}

// Fleet returns the currently visible heartbeats of all machines.
func (m *HeartbeatMonitor) Fleet(ctx context.Context) ([]*domain.MachineHeartbeat, error) {
	keys, err := m.store.ScanPrefix(ctx, HeartbeatKeyPrefix)
	if err != nil {
		return nil, err
	}

	heartbeats := make([]*domain.MachineHeartbeat, 0, len(keys))
	for _, key := range keys {
		fields, err := m.store.HGetAll(ctx, key)
		if err != nil || len(fields) == 0 {
			continue
		}
		heartbeats = append(heartbeats, parseHeartbeat(fields))
	}
	return heartbeats, nil
}

func parseHeartbeat(fields map[string]string) *domain.MachineHeartbeat {
	hb := &domain.MachineHeartbeat{
		MachineID: fields["machine_id"],
		Status:    fields["status"],
	}
	if t, err := time.Parse(time.RFC3339, fields["last_seen"]); err == nil {
		hb.LastSeen = t
	}
	hb.UptimeSec, _ = strconv.ParseInt(fields["uptime_sec"], 10, 64)
	hb.Online, _ = strconv.Atoi(fields["online"])
	hb.Total, _ = strconv.Atoi(fields["total"])
	if raw := fields["processes"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &hb.Processes); err != nil {
			slog.Debug("Failed to parse heartbeat process snapshot",
				"machine_id", hb.MachineID,
				"error", err)
		}
	}
	return hb
}
