// Package coordination implements the multi-machine coordination layer:
// a thin client over a Redis-compatible TTL key-value store, leader election,
// machine heartbeats and cross-machine deploy sync.
//
// When no store is configured, every component degrades to single-machine
// mode silently; coordination errors never reach deployment callers.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/skiff-cd/skiff/domain"
)

// Well-known key layout in the shared store.
const (
	KeyPrefix          = "skiff:"
	LeaderKey          = KeyPrefix + "leader"
	HeartbeatKeyPrefix = KeyPrefix + "heartbeat:"
	SyncKeyPrefix      = KeyPrefix + "deploysync:"
)

// ErrKeyNotFound is returned by Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

// Store is the coordination store client. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX atomically sets the key only if it is absent. Returns whether the
	// key was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Expire renews the key's TTL. Returns whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// ScanPrefix returns all keys under the given prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
	// Available reports whether the store is configured and reachable enough
	// to be worth calling.
	Available() bool
	Close() error
}

// RedisStore is the production Store backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the shared store and verifies it with a ping.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to coordination store: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return value, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.Expire(ctx, key, ttl).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return err
	}
	if ttl > 0 {
		return s.client.Expire(ctx, key, ttl).Err()
	}
	return nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisStore) Available() bool { return true }

func (s *RedisStore) Close() error { return s.client.Close() }

// NullStore is the store used when coordination is unconfigured. Every
// operation reports domain.ErrCoordinationUnavailable so call sites stay
// unconditional.
type NullStore struct{}

var _ Store = (*NullStore)(nil)

func NewNullStore() *NullStore { return &NullStore{} }

func (s *NullStore) Get(ctx context.Context, key string) (string, error) {
	return "", domain.ErrCoordinationUnavailable
}

func (s *NullStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return domain.ErrCoordinationUnavailable
}

func (s *NullStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, domain.ErrCoordinationUnavailable
}

func (s *NullStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, domain.ErrCoordinationUnavailable
}

func (s *NullStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return domain.ErrCoordinationUnavailable
}

func (s *NullStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, domain.ErrCoordinationUnavailable
}

func (s *NullStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	return nil, domain.ErrCoordinationUnavailable
}

func (s *NullStore) Available() bool { return false }

func (s *NullStore) Close() error { return nil }

// isUnavailable reports whether an error means the store cannot serve
// requests right now, which consumers treat as "single-machine mode".
func isUnavailable(err error) bool {
	return errors.Is(err, domain.ErrCoordinationUnavailable)
}
