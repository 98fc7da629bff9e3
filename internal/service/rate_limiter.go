package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/session-server/internal/lifecycle"
	redisclient "github.com/mentorlink/session-server/internal/redis"
)

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

return {1, now + window}
`)

// RateLimiter is a Redis sliding window limiter shared by every instance.
type RateLimiter struct {
	client *redis.Client
	clock  lifecycle.Clock
}

func NewRateLimiter(client *redis.Client, clock lifecycle.Clock) *RateLimiter {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	return &RateLimiter{client: client, clock: clock}
}

// CheckLimit records one hit for subject within scope and reports whether it
// fits under limit. When Redis is unreachable the request is denied.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	scope, subject string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := rl.clock.Now()
	key := redisclient.RateLimitKey(scope, subject)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.Unix(),
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request")
		return false, now.Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying request")
		return false, now.Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}
