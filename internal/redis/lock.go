package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockNotAcquired = errors.New("doctor booking lock not acquired")

// Locker serializes booking attempts per doctor before they reach the
// database. It only sheds contention: the store's transaction is what keeps
// the schedule consistent.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

// NopLocker runs fn directly.
type NopLocker struct{}

func (NopLocker) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type redisDoctorLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewRedisDoctorLocker creates a locker keyed lock:doctor:<id>. A caller
// polls for up to wait before giving up with ErrLockNotAcquired. The
// guarded function runs under a ttl deadline so the key never outlives it.
func NewRedisDoctorLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisDoctorLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   25 * time.Millisecond,
		logger: logger,
	}
}

func lockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:doctor:%s", doctorID.String())
}

func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(doctorID)
	token := uuid.NewString()

	acquired, err := l.acquire(ctx, key, token)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Redis being down must not stop bookings.
		l.logger.Warn("booking lock unavailable, continuing without it",
			zap.String("doctor_id", doctorID.String()),
			zap.Error(err),
		)
		return fn(ctx)
	}
	if !acquired {
		return ErrLockNotAcquired
	}

	defer func() {
		if err := l.release(context.WithoutCancel(ctx), key, token); err != nil {
			l.logger.Warn("release booking lock", zap.String("key", key), zap.Error(err))
		}
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisDoctorLocker) acquire(ctx context.Context, key, token string) (bool, error) {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("acquire doctor lock: %w", err)
		}
		if ok {
			return true, nil
		}
		if !time.Now().Add(l.poll).Before(deadline) {
			return false, nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}
