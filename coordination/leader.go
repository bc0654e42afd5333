package coordination

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skiff-cd/skiff/domain"
)

// Elector elects one machine in the fleet to own a singleton duty, using the
// store's atomic set-if-absent with a TTL. There is no consensus protocol:
// leadership is best-effort and lapses silently when the TTL is not renewed
// in time.
type Elector struct {
	store     Store
	machineID string
	ttl       time.Duration
	interval  time.Duration

	// onGained/onLost toggle the singleton duty; both must be idempotent
	// because TTL lapses and re-acquisitions can race with slow ticks.
	onGained func()
	onLost   func()

	mu     sync.Mutex
	leader bool
}

func NewElector(store Store, machineID string, ttl, interval time.Duration, onGained, onLost func()) *Elector {
	if onGained == nil {
		onGained = func() {}
	}
	if onLost == nil {
		onLost = func() {}
	}
	return &Elector{
		store:     store,
		machineID: machineID,
		ttl:       ttl,
		interval:  interval,
		onGained:  onGained,
		onLost:    onLost,
	}
}

// IsLeader reports whether this machine currently believes it holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// Leader reads the current lock holder from the store. Returns (nil, nil)
// when no machine holds the lock or coordination is unavailable.
func (e *Elector) Leader(ctx context.Context) (*domain.LeadershipLock, error) {
	holder, err := e.store.Get(ctx, LeaderKey)
	if err != nil {
		if isUnavailable(err) || err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &domain.LeadershipLock{MachineID: holder}, nil
}

// Start runs the election loop until the context is cancelled. The duty is
// released on shutdown.
func (e *Elector) Start(ctx context.Context) error {
	slog.Info("Leader elector starting",
		"machine_id", e.machineID,
		"interval", e.interval,
		"ttl", e.ttl)

	e.Tick(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Leader elector shutting down", "machine_id", e.machineID)
			e.setLeader(false)
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one election round: try to take the lock, or renew it if we
// already hold it.
func (e *Elector) Tick(ctx context.Context) {
	acquired, err := e.store.SetNX(ctx, LeaderKey, e.machineID, e.ttl)
	if err != nil {
		if !isUnavailable(err) {
			slog.Error("Leader election failed",
				"layer", "coordination",
				"operation", "leader_acquire",
				"machine_id", e.machineID,
				"error", err)
		}
		e.setLeader(false)
		return
	}

	if acquired {
		e.setLeader(true)
		return
	}

	// Reentrant check: the key may already be ours from a previous round.
	holder, err := e.store.Get(ctx, LeaderKey)
	if err != nil || holder != e.machineID {
		e.setLeader(false)
		return
	}

	// Still leader; renew before the TTL expires or leadership silently
	// lapses.
	if _, err := e.store.Expire(ctx, LeaderKey, e.ttl); err != nil {
		slog.Error("Leadership renewal failed",
			"layer", "coordination",
			"operation", "leader_renew",
			"machine_id", e.machineID,
			"error", err)
		e.setLeader(false)
		return
	}
	e.setLeader(true)
}

func (e *Elector) setLeader(leader bool) {
	e.mu.Lock()
	changed := e.leader != leader
	e.leader = leader
	e.mu.Unlock()

	if !changed {
		return
	}

	if leader {
		slog.Info("Gained fleet leadership", "machine_id", e.machineID)
		e.onGained()
	} else {
		slog.Info("Lost fleet leadership", "machine_id", e.machineID)
		e.onLost()
	}
}
