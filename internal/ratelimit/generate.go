package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/bluefx/bluefx-server/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyGeneratePerUser = "generate:user:%s"

// GenerateLimiter throttles generation submissions per user. Disabled or
// unconfigured limiters allow everything; generation availability wins
// over throttling when redis is absent.
type GenerateLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewGenerateLimiter(cfg config.Config, client *redis.Client) *GenerateLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return &GenerateLimiter{}
	}
	if limitCfg.GenerateRate <= 0 || limitCfg.GenerateBurst <= 0 {
		return &GenerateLimiter{}
	}

	return &GenerateLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.GenerateRate,
		burst:   limitCfg.GenerateBurst,
	}
}

func (l *GenerateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *GenerateLimiter) AllowUser(ctx context.Context, userID snowflake.ID) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyGeneratePerUser, strings.TrimSpace(userID.String()))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
