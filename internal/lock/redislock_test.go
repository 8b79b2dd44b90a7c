package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/tracksync/internal/lock"
	"github.com/tournevent/tracksync/pkg/tracking"
)

var (
	_ tracking.Locker = (*lock.Locker)(nil)
	_ tracking.Locker = (*lock.Local)(nil)
)

func newRedisLocker(t *testing.T) (*lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &lock.Locker{R: client}, mr
}

func TestLocker_RunsAndReleases(t *testing.T) {
	locker, mr := newRedisLocker(t)

	called := false
	err := locker.TryWithLock(context.Background(), "tracksync:sync:team-1", time.Minute, func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists("tracksync:sync:team-1"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists("tracksync:sync:team-1"), "lock must be released")
}

func TestLocker_HeldKeyIsNotAcquired(t *testing.T) {
	locker, _ := newRedisLocker(t)

	err := locker.TryWithLock(context.Background(), "k", time.Minute, func(ctx context.Context) error {
		inner := locker.TryWithLock(ctx, "k", time.Minute, func(context.Context) error {
			t.Fatal("inner callback must not run")
			return nil
		})
		assert.ErrorIs(t, inner, lock.ErrNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestLocker_ReturnsCallbackError(t *testing.T) {
	locker, mr := newRedisLocker(t)
	boom := errors.New("boom")

	err := locker.TryWithLock(context.Background(), "k", time.Minute, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("k"))
}

func TestLocker_DoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t)

	err := locker.TryWithLock(context.Background(), "k", time.Minute, func(context.Context) error {
		// lock expired and was taken by another replica
		require.NoError(t, mr.Set("k", "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocker_ExpiresAfterTTL(t *testing.T) {
	locker, mr := newRedisLocker(t)

	err := locker.TryWithLock(context.Background(), "k", time.Second, func(ctx context.Context) error {
		mr.FastForward(2 * time.Second)
		return locker.TryWithLock(ctx, "k", time.Second, func(context.Context) error { return nil })
	})
	assert.NoError(t, err)
}

func TestLocker_ExtendsWhileHeld(t *testing.T) {
	locker, mr := newRedisLocker(t)
	locker.RefreshInterval = 10 * time.Millisecond

	err := locker.TryWithLock(context.Background(), "k", time.Minute, func(context.Context) error {
		mr.SetTTL("k", time.Second)
		require.Eventually(t, func() bool {
			return mr.TTL("k") > time.Second
		}, time.Second, 5*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("k"))
}

func TestLocker_DoesNotExtendForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t)
	locker.RefreshInterval = 10 * time.Millisecond

	err := locker.TryWithLock(context.Background(), "k", time.Minute, func(context.Context) error {
		require.NoError(t, mr.Set("k", "someone-else"))
		mr.SetTTL("k", time.Second)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, time.Second, mr.TTL("k"))
		return nil
	})
	require.NoError(t, err)
}

func TestLocal(t *testing.T) {
	l := lock.NewLocal()

	err := l.TryWithLock(context.Background(), "k", 0, func(ctx context.Context) error {
		return l.TryWithLock(ctx, "k", 0, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	assert.NoError(t, l.TryWithLock(context.Background(), "k", 0, func(context.Context) error { return nil }))
}
