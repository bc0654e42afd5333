package coordination

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memoryStore is an in-memory Store with TTL support for tests. Time is
// driven manually via advance().
type memoryStore struct {
	mu     sync.Mutex
	now    time.Time
	values map[string]memoryEntry
	hashes map[string]memoryHashEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryHashEntry struct {
	fields    map[string]string
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		now:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		values: map[string]memoryEntry{},
		hashes: map[string]memoryHashEntry{},
	}
}

func (s *memoryStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *memoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !s.now.Before(at)
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.values[key]
	if !ok || s.expired(entry.expiresAt) {
		return "", ErrKeyNotFound
	}
	return entry.value, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memoryEntry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *memoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.values[key]; ok && !s.expired(entry.expiresAt) {
		return false, nil
	}
	s.values[key] = memoryEntry{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *memoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.values[key]
	if !ok || s.expired(entry.expiresAt) {
		return false, nil
	}
	entry.expiresAt = s.deadline(ttl)
	s.values[key] = entry
	return true, nil
}

func (s *memoryStore) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.hashes[key] = memoryHashEntry{fields: copied, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *memoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.hashes[key]
	if !ok || s.expired(entry.expiresAt) {
		return map[string]string{}, nil
	}
	return entry.fields, nil
}

func (s *memoryStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key, entry := range s.values {
		if strings.HasPrefix(key, prefix) && !s.expired(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	for key, entry := range s.hashes {
		if strings.HasPrefix(key, prefix) && !s.expired(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memoryStore) Available() bool { return true }

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now.Add(ttl)
}
