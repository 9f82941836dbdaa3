package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "greenpm:lock:"

// Deletes the key only while it still holds our token, so a lock that
// expired and was taken by another replica is left alone.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockUnavailable = errors.New("lock_unavailable")
	ErrInvalidLockKey  = errors.New("invalid_lock_key")
	ErrInvalidLockTTL  = errors.New("invalid_lock_ttl")
)

// Locker is a single-holder redis lock shared by all replicas. A nil
// *Locker is valid and never grants a lock.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// TryLock returns the holder token and whether the lock was taken.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockUnavailable
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, ErrInvalidLockKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidLockTTL
	}

	holder := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, holder, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return holder, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, holder string) error {
	if l == nil || l.client == nil || holder == "" {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{lockKeyPrefix + key}, holder).Err()
}
