package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("task lease held by another replica")
	ErrLockNotHeld     = errors.New("task lease not held")
)

// Both scripts act only when the key still carries our token, so a lease that expired and was
// taken by another replica is never touched.
var (
	releaseLease = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then return 0 end
return redis.call("del", KEYS[1])`)

	renewLease = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then return 0 end
return redis.call("pexpire", KEYS[1], ARGV[2])`)
)

// Lease is one replica's claim on a scheduled task.
type Lease struct {
	client *Client
	key    string
	token  string
}

func (l *Lease) Release(ctx context.Context) error {
	return l.run(ctx, releaseLease)
}

// Extend resets the lease TTL.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	return l.run(ctx, renewLease, ttl.Milliseconds())
}

func (l *Lease) run(ctx context.Context, script *redis.Script, args ...any) error {
	n, err := script.Run(ctx, l.client.rdb, []string{l.key}, append([]any{l.token}, args...)...).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Locker hands out task leases so that one replica runs each scheduler tick.
type Locker struct {
	client *Client
}

func NewLocker(client *Client) *Locker {
	return &Locker{client: client}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{
		client: l.client,
		key:    l.client.Key("lease", key),
		token:  uuid.NewString(),
	}

	ok, err := l.client.rdb.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return lease, nil
}

// WithLock runs fn under a lease for key and renews it every ttl/3 until fn returns, so a tick
// that outlives ttl keeps its claim. ErrLockNotAcquired means another replica is running it.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	log := l.client.logger.WithContext(ctx).WithField("lease", key)

	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := lease.Extend(context.WithoutCancel(ctx), ttl); err != nil {
					log.WithError(err).Warn("Failed to renew task lease")
					return
				}
			}
		}
	}()

	defer func() {
		close(done)
		wg.Wait()
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrLockNotHeld) {
			log.WithError(err).Warn("Failed to release task lease")
		}
	}()

	return fn()
}
