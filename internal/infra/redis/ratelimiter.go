package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// defaultLimitPerSec is the Cloud API's default per-number throughput.
	defaultLimitPerSec int64 = 80
	window                   = time.Second
	minWindowWait            = 5 * time.Millisecond
	keyPrefix                = "ratelimit:"
)

// takeSlot increments the window counter and reports 1 when the call fits
// the limit. The counter expires with its window.
var takeSlot = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if used > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps provider calls per one-second window. The counter
// lives in Redis so the API and worker processes share one budget.
type RedisRateLimiter struct {
	client      goredis.Scripter
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client goredis.Scripter, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client goredis.Scripter,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

// Allow takes one slot of the current window for key.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	bucket := strings.ToLower(strings.TrimSpace(key))
	if bucket == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	now := r.now().UTC()
	windowKey := keyPrefix + bucket + ":" + fmt.Sprint(now.Unix())
	taken, err := takeSlot.Run(ctx, r.client, []string{windowKey}, r.limitPerSec, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return taken == 1, nil
}

// Wait blocks until key gets a slot. A denied call sleeps to the start of
// the next window rather than polling.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := r.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, r.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) untilNextWindow() time.Duration {
	now := r.now()
	wait := now.Truncate(window).Add(window).Sub(now)
	if wait < minWindowWait {
		wait = minWindowWait
	}
	return wait
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
