package scheduler

import (
	"time"

	"github.com/bluefx/bluefx-server/internal/config"
)

type Config struct {
	Enabled     bool
	RunInterval time.Duration
	StaleAfter  time.Duration
	BatchSize   int
	LockTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.RunInterval
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		StaleAfter:  time.Duration(cfg.Scheduler.StaleAfterSecond) * time.Second,
		BatchSize:   cfg.Scheduler.BatchSize,
	}.withDefaults()
}
