package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/models"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	processingKeyPrefix  = "processing:"
)

// IdempotencyService caches request -> result bindings and a short-lived
// in-flight marker in Redis. The cache is advisory; the unique index on
// transactions.idempotency_key is the durable replay guard.
type IdempotencyService struct {
	redis      *redis.Client
	claimTTL   time.Duration
	successTTL time.Duration
	failureTTL time.Duration
}

func NewIdempotencyService(redisClient *redis.Client, cfg *config.EngineConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:      redisClient,
		claimTTL:   cfg.ClaimTTL,
		successTTL: cfg.SuccessResultTTL,
		failureTTL: cfg.FailureResultTTL,
	}
}

// Check returns the previously stored result for key, or nil on a miss.
func (s *IdempotencyService) Check(ctx context.Context, key string) (*models.TransactionResult, error) {
	data, err := s.redis.Get(ctx, idempotencyKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency check %s: %w", key, err)
	}

	var result models.TransactionResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		// A corrupt record is treated as a miss; the database index still
		// protects against replay.
		log.Printf("[IDEMPOTENCY] Corrupt cached result for key %s: %v", key, err)
		return nil, nil
	}
	return &result, nil
}

// Store persists result under key. Failures get a shorter TTL than
// successes so a corrected request is not blocked for a full day.
func (s *IdempotencyService) Store(ctx context.Context, key string, result *models.TransactionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency store %s: %w", key, err)
	}

	ttl := s.successTTL
	if result.Status == models.TransactionStatusFailed {
		ttl = s.failureTTL
	}

	if err := s.redis.Set(ctx, idempotencyKeyPrefix+key, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("idempotency store %s: %w", key, err)
	}
	return nil
}

// Claim sets the in-flight marker for key only if absent. It returns false
// when another execution already holds the claim.
func (s *IdempotencyService) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, processingKeyPrefix+key, "1", s.claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency claim %s: %w", key, err)
	}
	return ok, nil
}

// Unclaim removes the in-flight marker. Errors are logged and swallowed;
// the claim TTL bounds stuck markers.
func (s *IdempotencyService) Unclaim(ctx context.Context, key string) {
	if err := s.redis.Del(ctx, processingKeyPrefix+key).Err(); err != nil {
		log.Printf("[IDEMPOTENCY] Failed to unclaim key %s: %v", key, err)
	}
}
