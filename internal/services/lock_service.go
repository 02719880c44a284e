package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const lockKeyPrefix = "lock:"

// Delete/refresh only when the stored token still belongs to the caller.
// A lock that expired and was re-acquired by another owner must not be
// touched.
const (
	luaReleaseLock = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	luaExtendLock  = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`
)

// LockService implements named, expiring, token-owned mutexes in Redis.
// The TTL is a safety net against crashed holders, not the correctness
// mechanism; callers must finish well within it.
type LockService struct {
	redis *redis.Client
}

func NewLockService(redisClient *redis.Client) *LockService {
	return &LockService{redis: redisClient}
}

// Acquire sets lock:<name> to a fresh token only if absent. It returns the
// token on success and "" when the lock is held by someone else.
func (s *LockService) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := fmt.Sprintf("%d:%s", time.Now().UnixNano(), uuid.NewString())

	ok, err := s.redis.SetNX(ctx, lockKeyPrefix+name, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Release deletes lock:<name> iff it still holds token. Errors are logged
// and swallowed; the TTL guarantees eventual release.
func (s *LockService) Release(ctx context.Context, name, token string) {
	if err := s.redis.Eval(ctx, luaReleaseLock, []string{lockKeyPrefix + name}, token).Err(); err != nil && err != redis.Nil {
		log.Printf("[LOCK] Failed to release lock %s: %v", name, err)
	}
}

// Extend refreshes the expiry of lock:<name> iff it still holds token.
func (s *LockService) Extend(ctx context.Context, name, token string, ttl time.Duration) error {
	res, err := s.redis.Eval(ctx, luaExtendLock, []string{lockKeyPrefix + name}, token, ttl.Milliseconds()).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if res == 0 {
		return fmt.Errorf("extend lock %s: no longer held", name)
	}
	return nil
}
