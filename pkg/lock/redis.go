package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"main/pkg/exception"
)

const keyPrefix = "lock:"

// luaRelease frees the lock only when the caller still owns it.
// KEYS[1]: lock key
// ARGV[1]: owner token
const luaRelease = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// RedisLocker implements Locker with SET NX and a fencing token.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps a redis client as a lock backend.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error) {
	token := uuid.NewString()
	key := keyPrefix + name
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, exception.ErrLockUnavailable
	}
	if !ok {
		return nil, exception.ErrLockHeld
	}
	return &redisHandle{client: l.client, key: key, token: token}, nil
}

type redisHandle struct {
	client *redis.Client
	key    string
	token  string
}

func (h *redisHandle) Release(ctx context.Context) error {
	deleted, err := h.client.Eval(ctx, luaRelease, []string{h.key}, h.token).Int()
	if err != nil {
		return exception.ErrLockUnavailable
	}
	if deleted == 0 {
		return exception.ErrLockNotHeld
	}
	return nil
}
