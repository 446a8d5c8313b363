package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultLockKey = "market-pulse:cycle-lock"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type lockStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// CycleLock keeps two instances sharing an account from posting the same
// cycle. The lock expires on its own if the holder dies.
type CycleLock struct {
	store lockStore
	key   string
	ttl   time.Duration
}

func NewCycleLock(client *redis.Client, key string, ttl time.Duration) *CycleLock {
	return newCycleLock(client, key, ttl)
}

func newCycleLock(store lockStore, key string, ttl time.Duration) *CycleLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &CycleLock{store: store, key: key, ttl: ttl}
}

// Acquire tries once to take the lock. When another holder has it,
// acquired is false and err is nil.
func (l *CycleLock) Acquire(ctx context.Context) (token string, acquired bool, err error) {
	token = uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it.
func (l *CycleLock) Release(ctx context.Context, token string) error {
	if err := releaseScript.Run(ctx, l.store, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("release cycle lock: %w", err)
	}
	return nil
}
