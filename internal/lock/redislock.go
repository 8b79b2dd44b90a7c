// Package lock provides locks that keep two sync runs for the same tenant
// from overlapping.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is already held.
var ErrNotAcquired = errors.New("lock: already held")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

const extendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end`

// Locker is a Redis-backed lock shared by every replica.
type Locker struct {
	R *redis.Client
	// RefreshInterval is how often a held lock has its TTL pushed back.
	// Zero means a third of the TTL.
	RefreshInterval time.Duration
}

// NewLocker connects to the Redis server at url.
func NewLocker(ctx context.Context, url string) (*Locker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lock: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: pinging redis: %w", err)
	}
	return &Locker{R: client}, nil
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.R.Close()
}

// TryWithLock runs fn while holding key. It does not wait: when the key is
// held by someone else ErrNotAcquired is returned and fn is not called.
// While fn runs the TTL is extended periodically, so long syncs keep the
// lock; if this process dies the lock expires after ttl.
func (l *Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: acquiring %s: %w", key, err)
	}
	if !ok {
		return ErrNotAcquired
	}
	defer l.release(context.WithoutCancel(ctx), key, token)

	stop := l.keepAlive(context.WithoutCancel(ctx), key, token, ttl)
	defer stop()

	return fn(ctx)
}

// keepAlive extends key until the returned stop function is called or the
// token no longer owns the key.
func (l *Locker) keepAlive(ctx context.Context, key, token string, ttl time.Duration) func() {
	interval := l.RefreshInterval
	if interval <= 0 {
		interval = ttl / 3
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := l.R.Eval(ctx, extendScript, []string{key}, token, ttl.Milliseconds()).Int()
				if err == nil && n == 0 {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (l *Locker) release(ctx context.Context, key, token string) {
	_ = l.R.Eval(ctx, releaseScript, []string{key}, token).Err()
}

// Local is an in-process lock for single-replica deployments.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process lock.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryWithLock runs fn unless key is already held in this process.
func (l *Local) TryWithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	l.mu.Lock()
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return ErrNotAcquired
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
