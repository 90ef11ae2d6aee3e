package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptLimiter is the single-process fallback of RedisAttemptLimiter.
type MemoryAttemptLimiter struct {
	mu      sync.Mutex
	entries map[int64]*attemptEntry
	now     func() time.Time
}

type attemptEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryAttemptLimiter() *MemoryAttemptLimiter {
	return &MemoryAttemptLimiter{
		entries: make(map[int64]*attemptEntry),
		now:     time.Now,
	}
}

func (r *MemoryAttemptLimiter) CheckRateLimit(ctx context.Context, clientID int64, limit int, window time.Duration) (bool, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[clientID]
	if !ok || now.After(entry.expiresAt) {
		entry = &attemptEntry{expiresAt: now.Add(window)}
		r.entries[clientID] = entry
	}
	entry.count++

	return entry.count <= limit, nil
}

func (r *MemoryAttemptLimiter) Reset(ctx context.Context, clientID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, clientID)
	return nil
}
