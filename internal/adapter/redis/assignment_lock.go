package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/realtydesk/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL       = 10 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	lockReleaseTimeout   = 2 * time.Second
	lockKeyPrefix        = "assignment:lock:"
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired holder never releases a lock someone else acquired since.
var releaseScript = goredis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// AssignmentLock implements domain.AssignmentLocker across instances with
// one Redis key per work kind. The TTL bounds how long a crashed holder can
// block assignment.
type AssignmentLock struct {
	rdb           *goredis.Client
	ttl           time.Duration
	retryInterval time.Duration
}

type LockOption func(*AssignmentLock)

func WithLockTTL(ttl time.Duration) LockOption {
	return func(l *AssignmentLock) { l.ttl = ttl }
}

func WithRetryInterval(d time.Duration) LockOption {
	return func(l *AssignmentLock) { l.retryInterval = d }
}

func NewAssignmentLock(rdb *goredis.Client, opts ...LockOption) *AssignmentLock {
	l := &AssignmentLock{
		rdb:           rdb,
		ttl:           defaultLockTTL,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func lockKey(kind domain.WorkKind) string {
	return lockKeyPrefix + string(kind)
}

// Lock polls SET NX PX until it wins or ctx ends.
func (l *AssignmentLock) Lock(ctx context.Context, kind domain.WorkKind) (func(), error) {
	key := lockKey(kind)
	token := uuid.NewString()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrLockTimeout, kind, ctx.Err())
		case <-timer.C:
		}

		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", domain.ErrLockTimeout, kind, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire assignment lock: %w", err)
		}
		if ok {
			break
		}
		timer.Reset(l.retryInterval)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			defer cancel()

			if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
				slog.Error("Failed to release assignment lock", "kind", kind, "error", err)
			}
		})
	}
	return unlock, nil
}
