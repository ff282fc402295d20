package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "messaging:ratelimit:"

// Reserve in one round trip: claim the slot only if the interval elapsed.
// Returns {allowed, remaining_ms, previous_ms}.
const reserveLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local last = tonumber(redis.call("GET", key) or "0")
if last > 0 and now - last < interval then
    return {0, interval - (now - last), last}
end

redis.call("SET", key, ARGV[1], "PX", ttl)
return {1, 0, last}
`

// Put the previous value back, but only if our claim is still the current
// value.
const releaseLuaScript = `
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
    return 0
end
if ARGV[2] == "0" then
    redis.call("DEL", KEYS[1])
else
    redis.call("SET", KEYS[1], ARGV[2], "PX", tonumber(ARGV[3]))
end
return 1
`

// RedisLimiter stores lastSentAt (unix ms) per sender.
type RedisLimiter struct {
	redis         *redis.Client
	interval      time.Duration
	reserveScript *redis.Script
	releaseScript *redis.Script
	now           func() time.Time
}

func NewRedisLimiter(client *redis.Client, interval time.Duration) *RedisLimiter {
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &RedisLimiter{
		redis:         client,
		interval:      interval,
		reserveScript: redis.NewScript(reserveLuaScript),
		releaseScript: redis.NewScript(releaseLuaScript),
		now:           time.Now,
	}
}

func (r *RedisLimiter) key(sender string) string { return redisKeyPrefix + normalize(sender) }

// ttl keeps the key a little longer than the interval; an expired key reads
// as "never sent", which is the correct answer by then.
func (r *RedisLimiter) ttl() time.Duration { return r.interval + time.Minute }

func (r *RedisLimiter) Check(ctx context.Context, sender string) (Decision, error) {
	v, err := r.redis.Get(ctx, r.key(sender)).Int64()
	if errors.Is(err, redis.Nil) {
		return decide(r.now(), time.Time{}, r.interval), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	return decide(r.now(), time.UnixMilli(v), r.interval), nil
}

func (r *RedisLimiter) Update(ctx context.Context, sender string) error {
	now := r.now().UnixMilli()
	if err := r.redis.Set(ctx, r.key(sender), now, r.ttl()).Err(); err != nil {
		return fmt.Errorf("rate limit update failed: %w", err)
	}
	return nil
}

func (r *RedisLimiter) Reserve(ctx context.Context, sender string) (Decision, Reservation, error) {
	now := r.now()
	claimed := strconv.FormatInt(now.UnixMilli(), 10)
	key := r.key(sender)

	result, err := r.reserveScript.Run(ctx, r.redis, []string{key},
		claimed, r.interval.Milliseconds(), r.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, nil, fmt.Errorf("rate limit reserve failed: %w", err)
	}

	var last time.Time
	if result[2] > 0 {
		last = time.UnixMilli(result[2])
	}
	d := Decision{Allowed: result[0] == 1, MinIntervalSeconds: int(r.interval / time.Second)}
	if !last.IsZero() {
		d.LastSentAt = &last
	}
	if !d.Allowed {
		d.WaitSeconds = ceilSeconds(time.Duration(result[1]) * time.Millisecond)
		return d, noopReservation{}, nil
	}
	return d, &redisReservation{r: r, key: key, claimed: claimed, prev: strconv.FormatInt(result[2], 10)}, nil
}

type redisReservation struct {
	r       *RedisLimiter
	key     string
	claimed string
	prev    string
}

func (res *redisReservation) Release(ctx context.Context) error {
	err := res.r.releaseScript.Run(ctx, res.r.redis, []string{res.key},
		res.claimed, res.prev, res.r.ttl().Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("rate limit release failed: %w", err)
	}
	return nil
}
