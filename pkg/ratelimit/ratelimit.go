package ratelimit

import (
	"context"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(NewFixedWindow),
)

// Limiter guards the activation endpoint against brute-force key scanning.
type Limiter interface {
	// Allow reports whether the caller identified by ip may proceed.
	Allow(ctx context.Context, ip string) bool
}

type Params struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

type fixedWindow struct {
	rdb      *redis.Client
	requests int
	window   time.Duration
}

// NewFixedWindow builds a redis fixed-window counter limiter. Without a
// redis client it degrades to a no-op so the core stays runnable locally.
func NewFixedWindow(p Params) Limiter {
	if p.Redis == nil {
		zap.L().Warn("[RateLimit] no redis client, activation rate limiting disabled")
		return noop{}
	}
	rl := p.Config.Licensing.RateLimit
	return &fixedWindow{rdb: p.Redis, requests: rl.Requests, window: rl.Window}
}

// NewFixedWindowWith builds a limiter with explicit bounds; used where the
// licensing config is in hand.
func NewFixedWindowWith(rdb *redis.Client, requests int, window time.Duration) Limiter {
	if rdb == nil {
		return noop{}
	}
	return &fixedWindow{rdb: rdb, requests: requests, window: window}
}

func (l *fixedWindow) Allow(ctx context.Context, ip string) bool {
	key := rediskey.BuildActivateRateKey(ip)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: a degraded redis must not deny legitimate activations.
		zap.L().Warn("[RateLimit] counter unavailable", zap.Error(err))
		return true
	}

	if count == 1 {
		_ = l.rdb.Expire(ctx, key, l.window).Err()
	}

	return count <= int64(l.requests)
}

type noop struct{}

func (noop) Allow(context.Context, string) bool { return true }

// Noop returns a limiter that always allows; used by tests.
func Noop() Limiter { return noop{} }
