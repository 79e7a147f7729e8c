package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted set of hit timestamps per contributor and
// scope. It returns the hits inside the window and the milliseconds until enough of
// them age out for the next hit to fit under ARGV[4].
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[4])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
redis.call("ZADD", KEYS[1], now, ARGV[3])
redis.call("PEXPIRE", KEYS[1], window)
local count = redis.call("ZCARD", KEYS[1])
local wait = window
if count > limit then
  local blocking = redis.call("ZRANGE", KEYS[1], count - limit, count - limit, "WITHSCORES")
  if blocking[2] then
    wait = tonumber(blocking[2]) + window - now
  end
end
return {count, wait}
`)

// RedisRateLimiter limits contributor actions on one campaign with a sliding window
// shared across replicas. Counters are keyed by campaign, so a new campaign starts
// with fresh limits.
type RedisRateLimiter struct {
	client     redis.UniversalClient
	prefix     string
	campaignID uuid.UUID
	now        func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, campaignID uuid.UUID) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "crowdfund:rate_limit"
	}

	return &RedisRateLimiter{
		client:     client,
		prefix:     trimmedPrefix,
		campaignID: campaignID,
		now:        time.Now,
	}
}

// ConsumeRateLimit records one hit for subject in scope and reports the hits in the
// trailing window along with the seconds until another hit would be allowed.
func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := r.key(scope, subject)
	args := []interface{}{r.now().UnixMilli(), windowMs, uuid.NewString(), limit}
	rawResult, err := slidingWindowScript.Run(ctx, r.client, []string{key}, args...).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit %s for %s: %w", scope, subject, err)
	}
	return parseRateLimitResult(rawResult, windowMs)
}

func (r *RedisRateLimiter) key(scope, subject string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, r.campaignID, scope, subject)
}

func parseRateLimitResult(rawResult interface{}, windowMs int64) (int, int, error) {
	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	hits, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	waitMs, ok := values[1].(int64)
	if !ok {
		return int(hits), 0, fmt.Errorf("unexpected redis limiter wait type: %T", values[1])
	}
	if waitMs <= 0 || waitMs > windowMs {
		waitMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(waitMs) / 1000.0))
	return int(hits), retryAfter, nil
}
