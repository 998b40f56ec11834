package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes the critical sections that span a read-then-commit window:
// booking a slot, renumbering a doctor's queue, allocating drug batches.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// DoctorDayKey scopes a lock to one doctor's schedule on one day.
func DoctorDayKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("lock:doctor:%s:%s", doctorID, date.Format("2006-01-02"))
}

// DrugKey scopes a lock to one drug's batch set.
func DrugKey(drugID uuid.UUID) string {
	return fmt.Sprintf("lock:drug:%s", drugID)
}

const (
	acquireAttempts = 10
	acquireBackoff  = 50 * time.Millisecond
)

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker backed by per-key Redis SETNX leases.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{client: client, ttl: ttl}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.acquire(ctx, key, token)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire polls SETNX with a short backoff so a caller that loses the race to
// a brief critical section still gets the lock instead of failing outright.
func (l *redisLocker) acquire(ctx context.Context, key, token string) (bool, error) {
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(acquireBackoff):
			}
		}
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// NoopLocker runs the critical section without any locking. Used in tests and
// single-process deployments where transaction isolation alone is acceptable.
type NoopLocker struct{}

func (NoopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
