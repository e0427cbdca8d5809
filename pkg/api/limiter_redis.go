package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAllowScript runs the token-bucket update atomically in Redis.
// KEYS[1] bucket hash, ARGV[1] refill rate per second, ARGV[2] capacity,
// ARGV[3] cost, ARGV[4] current unix time (fractional seconds).
// Returns 1 when the spend fits, 0 otherwise.
var redisAllowScript = redis.NewScript(`
local bucket = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local level = tonumber(redis.call("HGET", bucket, "level"))
local at = tonumber(redis.call("HGET", bucket, "at"))
if level == nil or at == nil then
    level = capacity
    at = now
end

if now > at then
    level = math.min(capacity, level + (now - at) * rate)
end

local ok = 0
if level >= cost then
    level = level - cost
    ok = 1
end

redis.call("HSET", bucket, "level", level, "at", now)
redis.call("EXPIRE", bucket, 60)
return ok
`)

// RedisLimiterStore implements LimiterStore on Redis, so every replica of the
// admin API draws from the same per-tenant bucket. Idle buckets expire out of
// Redis on their own.
type RedisLimiterStore struct {
	client *redis.Client
}

// NewRedisLimiterStore connects to Redis at addr.
func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	return &RedisLimiterStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Allow spends cost tokens from key's bucket.
func (s *RedisLimiterStore) Allow(ctx context.Context, key string, policy LimitPolicy, cost int) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6

	ok, err := redisAllowScript.Run(ctx, s.client,
		[]string{"ratelimit:" + key},
		policy.ratePerSec(), policy.Burst, cost, now,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return ok == 1, nil
}

// Close releases the underlying Redis connection.
func (s *RedisLimiterStore) Close() error {
	return s.client.Close()
}
