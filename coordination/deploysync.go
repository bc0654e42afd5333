package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/skiff-cd/skiff/domain"
)

// DefaultSyncTTL bounds how long a deploy-sync record survives without being
// overwritten. Long enough for every machine's poller to observe it.
const DefaultSyncTTL = 10 * time.Minute

// DeploySync replicates "project X is now at commit Y on machine Z" records
// across the fleet. Records are overwritten by each successful deploy; there
// is no history and no conflict resolution, last writer wins.
type DeploySync struct {
	store     Store
	machineID string
	ttl       time.Duration
}

func NewDeploySync(store Store, machineID string, ttl time.Duration) *DeploySync {
	if ttl <= 0 {
		ttl = DefaultSyncTTL
	}
	return &DeploySync{store: store, machineID: machineID, ttl: ttl}
}

// Publish announces a successful deploy to the fleet. Unavailability of the
// store is not an error: the fleet simply won't converge until the
// remote-commit poll catches up.
func (s *DeploySync) Publish(ctx context.Context, projectID, commit string, trigger domain.Trigger) error {
	record := domain.DeploySyncRecord{
		ProjectID:   projectID,
		Commit:      commit,
		MachineID:   s.machineID,
		Timestamp:   time.Now().UTC(),
		TriggeredBy: trigger,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize deploy sync record: %w", err)
	}

	key := SyncKeyPrefix + projectID
	if err := s.store.Set(ctx, key, string(data), s.ttl); err != nil {
		if isUnavailable(err) {
			slog.Debug("Coordination store unavailable, deploy sync skipped", "project_id", projectID)
			return nil
		}
		slog.Error("Failed to publish deploy sync record",
			"layer", "coordination",
			"operation", "deploy_sync_publish",
			"project_id", projectID,
			"commit", commit,
			"error", err)
		return err
	}

	slog.Info("Deploy sync record published",
		"project_id", projectID,
		"commit", commit,
		"machine_id", s.machineID)
	return nil
}

// Get reads the current sync record for a project. Returns (nil, nil) when no
// record exists or the store is unavailable.
func (s *DeploySync) Get(ctx context.Context, projectID string) (*domain.DeploySyncRecord, error) {
	value, err := s.store.Get(ctx, SyncKeyPrefix+projectID)
	if err != nil {
		if isUnavailable(err) || err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var record domain.DeploySyncRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, fmt.Errorf("failed to parse deploy sync record for %s: %w", projectID, err)
	}
	return &record, nil
}

// NeedsDeploy decides whether a sync record requires a local deploy: the
// record must come from another machine and carry a different commit than
// what is running locally.
func (s *DeploySync) NeedsDeploy(record *domain.DeploySyncRecord, runningCommit string) bool {
	if record == nil {
		return false
	}
	if record.MachineID == s.machineID {
		return false
	}
	return record.Commit != runningCommit
}

// MachineID returns the identity this machine publishes under.
func (s *DeploySync) MachineID() string {
	return s.machineID
}
