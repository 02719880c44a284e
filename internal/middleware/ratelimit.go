package middleware

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter is a per-IP request counter backed by Redis, shared across all
// process instances. Every admitted request pushes the counter's expiry back
// to a full window, so the count resets only after one window passes with no
// admitted request; it is not a fixed window.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		key := fmt.Sprintf("ratelimit:%s", host)

		count, err := rl.redis.Get(r.Context(), key).Int()
		if err != nil && err != redis.Nil {
			// Fail open: a Redis hiccup must not take down the API.
			log.Printf("[RATELIMIT] Redis read failed: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if count >= rl.limit {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		pipe := rl.redis.Pipeline()
		pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, rl.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			log.Printf("[RATELIMIT] Redis increment failed: %v", err)
		}

		next.ServeHTTP(w, r)
	})
}
