package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestLockService_Acquire(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	service := NewLockService(redisClient)
	ctx := context.Background()

	t.Run("acquires free lock", func(t *testing.T) {
		mock.Regexp().ExpectSetNX("lock:wallet:abc", `.+`, 30*time.Second).SetVal(true)

		token, err := service.Acquire(ctx, "wallet:abc", 30*time.Second)
		assert.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("contended lock returns empty token", func(t *testing.T) {
		mock.Regexp().ExpectSetNX("lock:wallet:abc", `.+`, 30*time.Second).SetVal(false)

		token, err := service.Acquire(ctx, "wallet:abc", 30*time.Second)
		assert.NoError(t, err)
		assert.Empty(t, token)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tokens are unique per acquisition", func(t *testing.T) {
		mock.Regexp().ExpectSetNX("lock:wallet:abc", `.+`, 30*time.Second).SetVal(true)
		mock.Regexp().ExpectSetNX("lock:wallet:abc", `.+`, 30*time.Second).SetVal(true)

		first, err := service.Acquire(ctx, "wallet:abc", 30*time.Second)
		assert.NoError(t, err)
		second, err := service.Acquire(ctx, "wallet:abc", 30*time.Second)
		assert.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestLockService_Release(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	service := NewLockService(redisClient)
	ctx := context.Background()

	t.Run("releases held lock", func(t *testing.T) {
		mock.ExpectEval(luaReleaseLock, []string{"lock:wallet:abc"}, "token-1").SetVal(int64(1))

		service.Release(ctx, "wallet:abc", "token-1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired lock is a no-op", func(t *testing.T) {
		mock.ExpectEval(luaReleaseLock, []string{"lock:wallet:abc"}, "stale-token").SetVal(int64(0))

		service.Release(ctx, "wallet:abc", "stale-token")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLockService_Extend(t *testing.T) {
	redisClient, mock := redismock.NewClientMock()
	service := NewLockService(redisClient)
	ctx := context.Background()

	t.Run("extends held lock", func(t *testing.T) {
		mock.ExpectEval(luaExtendLock, []string{"lock:wallet:abc"}, "token-1", int64(30000)).SetVal(int64(1))

		err := service.Extend(ctx, "wallet:abc", "token-1", 30*time.Second)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails when lock lost", func(t *testing.T) {
		mock.ExpectEval(luaExtendLock, []string{"lock:wallet:abc"}, "token-1", int64(30000)).SetVal(int64(0))

		err := service.Extend(ctx, "wallet:abc", "token-1", 30*time.Second)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no longer held")
	})
}
