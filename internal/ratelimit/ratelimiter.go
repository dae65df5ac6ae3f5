package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NoopLimiter allows all requests (no rate limiting). It is the
// executor's fallback when no limiter is configured.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	return true, nil
}

// RateLimiter implements distributed rate limiting using Redis sorted
// sets as a sliding one-minute window. Keys are credential ids, so each
// stored provider key honors the per-minute limit its tenant configured.
type RateLimiter struct {
	client *redis.Client
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow checks if a request should be allowed for the given key
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	allowed, _, _, err := rl.AllowWithDetails(ctx, key, limit)
	return allowed, err
}

// AllowWithDetails checks the limit and also reports the remaining
// allowance and when the window resets. A limit of zero or less means
// unlimited, reported as remaining -1 and a zero reset time.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := time.Now()
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowStart := now.Add(-1 * time.Minute)

	pipe := rl.client.Pipeline()

	// Drop entries that fell out of the window, then count what's left.
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, now, fmt.Errorf("rate limit check failed: %w", err)
	}

	current := int(countCmd.Val())
	resetAt := now.Add(1 * time.Minute)

	if current >= limit {
		return false, 0, resetAt, nil
	}

	// Record this request.
	err := rl.client.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d:%d", now.UnixMilli(), now.Nanosecond()),
	}).Err()
	if err != nil {
		return false, 0, resetAt, fmt.Errorf("rate limit record failed: %w", err)
	}
	rl.client.Expire(ctx, redisKey, 2*time.Minute)

	remaining := limit - current - 1
	return true, remaining, resetAt, nil
}

// GetCurrentUsage returns the number of requests in the current window.
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowStart := time.Now().Add(-1 * time.Minute)

	if err := rl.client.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("rate limit usage check failed: %w", err)
	}

	count, err := rl.client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit usage check failed: %w", err)
	}
	return count, nil
}

// Reset clears the window for a key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	if err := rl.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("rate limit reset failed: %w", err)
	}
	return nil
}
