package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// SendGate bounds total outbound sends per second across all campaigns and
// manual sends. Wait blocks the calling item until a slot is available or
// the context is cancelled; it never blocks other campaigns' fetch-ahead
// because each dispatcher loop waits independently.
type SendGate interface {
	Wait(ctx context.Context) error
}

// NewSendGate returns a Redis-backed gate when a client is supplied
// (required when multiple process instances share the limit) and an
// in-process token bucket otherwise.
func NewSendGate(client *redis.Client, perSecond int) SendGate {
	if perSecond <= 0 {
		perSecond = 50
	}
	if client != nil {
		return newRedisGate(client, perSecond)
	}
	return &localGate{limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

// localGate wraps x/time/rate for single-process deployments and tests.
type localGate struct {
	limiter *rate.Limiter
}

func (g *localGate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// redisGate is an atomic Redis token bucket keyed per wall-clock second.
// The Lua script checks and increments in one round trip, so concurrent
// processes cannot race past the limit with a GET -> check -> INCR pattern.
type redisGate struct {
	client    *redis.Client
	perSecond int
	script    *redis.Script
}

const sendGateLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return 0
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, 2)
end
return 1
`

func newRedisGate(client *redis.Client, perSecond int) *redisGate {
	return &redisGate{
		client:    client,
		perSecond: perSecond,
		script:    redis.NewScript(sendGateLuaScript),
	}
}

func (g *redisGate) Wait(ctx context.Context) error {
	for {
		now := time.Now()
		key := fmt.Sprintf("ratelimit:send:%d", now.Unix())

		allowed, err := g.script.Run(ctx, g.client, []string{key}, g.perSecond).Int()
		if err != nil {
			return fmt.Errorf("rate limit check failed: %w", err)
		}
		if allowed == 1 {
			return nil
		}

		// Window exhausted; sleep into the next second and retry.
		wait := time.Until(now.Truncate(time.Second).Add(time.Second))
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
