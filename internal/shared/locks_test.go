package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestCloseLockMutualExclusion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := NewCloseLock(client, time.Minute)
	ctx := context.Background()

	key := PeriodLockKey(42)
	require.NoError(t, lock.Acquire(ctx, key))
	require.ErrorIs(t, lock.Acquire(ctx, key), ErrLockHeld)

	// Other periods are independent.
	require.NoError(t, lock.Acquire(ctx, PeriodLockKey(43)))

	lock.Release(ctx, key)
	require.NoError(t, lock.Acquire(ctx, key))
}

func TestCloseLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := NewCloseLock(client, time.Second)
	ctx := context.Background()

	key := YearLockKey(7)
	require.NoError(t, lock.Acquire(ctx, key))
	mr.FastForward(2 * time.Second)
	require.NoError(t, lock.Acquire(ctx, key))
}

func TestCloseLockNilClientIsNoop(t *testing.T) {
	lock := NewCloseLock(nil, 0)
	require.NoError(t, lock.Acquire(context.Background(), PeriodLockKey(1)))
	lock.Release(context.Background(), PeriodLockKey(1))
}
