package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// DefaultExpiry bounds how long a crashed holder can block a pair.
const DefaultExpiry = 5 * time.Minute

// Redis is a Locker shared by every process pointed at the same Redis.
type Redis struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedis(client goredislib.UniversalClient, expiry time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis lock: nil client")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Redis{rs: redsync.New(goredis.NewPool(client)), expiry: expiry}, nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (Handle, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(1),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		if isContention(err) {
			slog.DebugContext(ctx, "Lock already held", "lock_key", key)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	return &redisHandle{mutex: mutex}, true, nil
}

// redsync reports a held key as ErrFailed or ErrTaken depending on the
// node count, sometimes wrapped in a multi-error.
func isContention(err error) bool {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return true
	}
	return strings.Contains(err.Error(), "lock already taken")
}

type redisHandle struct {
	mutex *redsync.Mutex
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	if h == nil || h.mutex == nil {
		return ErrNilHandle
	}
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", h.mutex.Name(), err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
