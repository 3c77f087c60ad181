// Package cache owns the shared redis client. Rate limiting and scheduler
// locks both ride on it; when REDIS_ADDR is unset the client is nil and
// those features degrade to no-ops.
package cache

import (
	"context"
	"strings"

	"github.com/bluefx/bluefx-server/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	LC     fx.Lifecycle
	Config config.Config
	Log    *zap.Logger
}

func NewRedis(p Params) *redis.Client {
	addr := strings.TrimSpace(p.Config.Redis.Addr)
	if addr == "" {
		p.Log.Named("cache.redis").Warn("redis not configured, rate limiting and scheduler locks disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Config.Redis.Password),
		DB:       p.Config.Redis.DB,
	})
	p.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

var Module = fx.Module("cache.redis",
	fx.Provide(NewRedis),
)
