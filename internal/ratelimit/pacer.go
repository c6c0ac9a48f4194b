package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Pacer spaces outbound requests to a fixed per-minute rate, on top of the budget the
// remote API reports.
type Pacer interface {
	Wait(ctx context.Context) error
}

// LocalPacer paces requests within a single process.
type LocalPacer struct {
	limiter *rate.Limiter
}

// NewLocalPacer allows perMinute requests per minute with a burst of burst.
func NewLocalPacer(perMinute, burst int) *LocalPacer {
	if burst <= 0 {
		burst = 1
	}
	return &LocalPacer{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

// Wait blocks until a request slot is free or ctx is done.
func (p *LocalPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// RedisPacer paces requests across every process sharing the same Redis key, so several
// workers using one GitHub token draw from one allowance.
type RedisPacer struct {
	limiter *redis_rate.Limiter
	key     string
	limit   redis_rate.Limit
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRedisPacer creates a pacer allowing perMinute requests per minute (burst burst)
// under key.
func NewRedisPacer(rdb *redis.Client, key string, perMinute, burst int) *RedisPacer {
	limit := redis_rate.PerMinute(perMinute)
	if burst > 0 {
		limit.Burst = burst
	}
	return &RedisPacer{
		limiter: redis_rate.NewLimiter(rdb),
		key:     key,
		limit:   limit,
		sleep:   sleepContext,
	}
}

// Wait polls the shared limiter until a slot is granted or ctx is done.
func (p *RedisPacer) Wait(ctx context.Context) error {
	for {
		res, err := p.limiter.Allow(ctx, p.key, p.limit)
		if err != nil {
			return fmt.Errorf("redis rate limiter: %w", err)
		}
		if res.Allowed > 0 {
			return nil
		}
		retry := res.RetryAfter
		if retry <= 0 {
			retry = 100 * time.Millisecond
		}
		if err := p.sleep(ctx, retry); err != nil {
			return err
		}
	}
}
