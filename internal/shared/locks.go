package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PeriodLockKey builds redis keys for period close critical sections.
func PeriodLockKey(periodID int64) string {
	return fmt.Sprintf("ledger:period:%d:close", periodID)
}

// YearLockKey builds redis keys for fiscal year close critical sections.
func YearLockKey(yearID int64) string {
	return fmt.Sprintf("ledger:year:%d:close", yearID)
}

// ErrLockHeld indicates the critical section is already taken.
var ErrLockHeld = errors.New("shared: lock held")

// CloseLock provides coarse cross-instance mutual exclusion for period and
// year closing. Row locks in the database still serialize against in-flight
// posts; this keeps two close operations from racing across processes.
type CloseLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCloseLock constructs a CloseLock. A nil client disables distributed
// locking, leaving only the database row locks (single-instance deployments).
func NewCloseLock(client *redis.Client, ttl time.Duration) *CloseLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CloseLock{client: client, ttl: ttl}
}

// Acquire takes the named lock or fails fast with ErrLockHeld.
func (l *CloseLock) Acquire(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return fmt.Errorf("shared: acquire lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release frees the named lock. Safe to call after a failed Acquire.
func (l *CloseLock) Release(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	_ = l.client.Del(ctx, key).Err()
}
